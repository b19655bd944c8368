package p2pnftsd

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"p2pnfts/core/events"
	"p2pnfts/gateway/middleware"
	"p2pnfts/native/p2pnfts"
	"p2pnfts/services/indexer"
)

const serverSecret = "p2pnftsd-test-secret"

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
}

func writeToken(t *testing.T, subject, scope string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(serverSecret))
	require.NoError(t, err)
	return token
}

func TestServerHealthAndMarkets(t *testing.T) {
	f := newFixture(t)
	h := NewServer(f.node, ServerOptions{}).Handler()

	requireStatus(t, doJSON(t, h, http.MethodGet, "/healthz", nil, ""), http.StatusOK)

	rec := doJSON(t, h, http.MethodGet, "/v1/markets", nil, "")
	requireStatus(t, rec, http.StatusOK)
	var body struct {
		ChainID string       `json:"chain_id"`
		Markets []marketJSON `json:"markets"`
	}
	decodeInto(t, rec, &body)
	require.Equal(t, "1337", body.ChainID)
	require.Len(t, body.Markets, 2)
	require.Equal(t, "USDC", body.Markets[0].PaymentSymbol)
	require.Equal(t, "reset", body.Markets[0].BorrowerBrokerPolicy)

	rec = doJSON(t, h, http.MethodGet, "/v1/markets/eur", nil, "")
	requireStatus(t, rec, http.StatusNotFound)
	require.Contains(t, rec.Body.String(), "unknown market")

	requireStatus(t, doJSON(t, h, http.MethodPost, "/v1/dev/mint", mintRequest{Asset: "USDC"}, ""), http.StatusNotFound)
}

func TestServerLoanFlowThroughIndexer(t *testing.T) {
	f := newFixture(t)
	store, err := indexer.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	cache, err := NewLoanCache(128)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	f.index = store
	f.extra = []events.Emitter{store, cache}
	f.node = f.boot()
	h := NewServer(f.node, ServerOptions{Index: store, Cache: cache, DevEndpoints: true}).Handler()

	const principal, interest = 1_000_000_000, 50_000_000
	rec := doJSON(t, h, http.MethodPost, "/v1/dev/mint", mintRequest{Asset: "USDC", To: f.lender.Hex(), Amount: "1000.5"}, "")
	requireStatus(t, rec, http.StatusOK)
	var balance map[string]string
	decodeInto(t, rec, &balance)
	require.Equal(t, "1000500000", balance["balance"])
	require.Equal(t, "1000.5", balance["formatted"])

	requireStatus(t, doJSON(t, h, http.MethodPost, "/v1/dev/approve", approveRequest{
		Asset: "USDC", Owner: f.lender.Hex(), Spender: "usdc", Amount: "1000000000",
	}, ""), http.StatusOK)
	requireStatus(t, doJSON(t, h, http.MethodPost, "/v1/dev/nft/mint", nftRequest{
		Collection: "bayc", Owner: borrowerAddr.Hex(), TokenID: "7",
	}, ""), http.StatusCreated)
	requireStatus(t, doJSON(t, h, http.MethodPost, "/v1/dev/nft/approve", nftRequest{
		Collection: "bayc", Owner: borrowerAddr.Hex(), TokenID: "7", Market: "usdc",
	}, ""), http.StatusOK)

	signed := f.sign("usdc", f.usdcOffer(7, principal, interest))
	rec = doJSON(t, h, http.MethodPost, "/v1/markets/usdc/loans", createLoanRequest{
		CallJSON: CallJSON{Sender: borrowerAddr.Hex()},
		Offer:    SignedOfferToJSON(signed),
		TokenID:  "7",
	}, "")
	requireStatus(t, rec, http.StatusCreated)
	var created struct {
		Loan LoanJSON `json:"loan"`
	}
	decodeInto(t, rec, &created)

	rec = doJSON(t, h, http.MethodGet, "/v1/loans/"+created.Loan.ID, nil, "")
	requireStatus(t, rec, http.StatusOK)
	var indexed recordJSON
	decodeInto(t, rec, &indexed)
	require.Equal(t, string(indexer.StatusActive), indexed.Status)
	require.Equal(t, hashHex(signed.ID()), indexed.Loan.OfferID)
	require.Equal(t, created.Loan, indexed.Loan)

	requireStatus(t, doJSON(t, h, http.MethodPost, "/v1/dev/mint", mintRequest{Asset: "USDC", To: borrowerAddr.Hex(), Amount: "50000000"}, ""), http.StatusOK)
	requireStatus(t, doJSON(t, h, http.MethodPost, "/v1/dev/approve", approveRequest{
		Asset: "USDC", Owner: borrowerAddr.Hex(), Spender: "usdc", Amount: "1050000000",
	}, ""), http.StatusOK)
	f.now += 3600
	rec = doJSON(t, h, http.MethodPost, "/v1/markets/usdc/loans/settle", loanRequest{
		CallJSON: CallJSON{Sender: borrowerAddr.Hex()},
		Loan:     created.Loan,
	}, "")
	requireStatus(t, rec, http.StatusOK)

	rec = doJSON(t, h, http.MethodGet, "/v1/loans/"+created.Loan.ID, nil, "")
	requireStatus(t, rec, http.StatusOK)
	decodeInto(t, rec, &indexed)
	require.Equal(t, string(indexer.StatusRepaid), indexed.Status)

	rec = doJSON(t, h, http.MethodGet, "/v1/loans?borrower="+borrowerAddr.Hex(), nil, "")
	requireStatus(t, rec, http.StatusOK)
	var listed struct {
		Loans []recordJSON `json:"loans"`
	}
	decodeInto(t, rec, &listed)
	require.Len(t, listed.Loans, 1)

	rec = doJSON(t, h, http.MethodGet, "/v1/loans/"+created.Loan.ID+"/events", nil, "")
	requireStatus(t, rec, http.StatusOK)
	var history struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	decodeInto(t, rec, &history)
	require.Len(t, history.Events, 2)
	require.Equal(t, events.TypeLoanCreated, history.Events[0].Type)
	require.Equal(t, events.TypeLoanPaid, history.Events[1].Type)

	rec = doJSON(t, h, http.MethodPost, "/v1/markets/usdc/loans/settle", loanRequest{
		CallJSON: CallJSON{Sender: borrowerAddr.Hex()},
		Loan:     created.Loan,
	}, "")
	requireStatus(t, rec, http.StatusConflict)
}

func TestServerIndexerDisabled(t *testing.T) {
	f := newFixture(t)
	h := NewServer(f.node, ServerOptions{}).Handler()

	id := hashHex([32]byte{1})
	requireStatus(t, doJSON(t, h, http.MethodGet, "/v1/loans/"+id, nil, ""), http.StatusNotImplemented)
	requireStatus(t, doJSON(t, h, http.MethodGet, "/v1/loans?lender="+f.lender.Hex(), nil, ""), http.StatusNotImplemented)
}

func TestServerAuthBindsSender(t *testing.T) {
	f := newFixture(t)
	h := NewServer(f.node, ServerOptions{
		Auth: middleware.AuthConfig{Enabled: true, HMACSecret: serverSecret},
	}).Handler()
	path := "/v1/markets/usdc/pending/claim"
	token := writeToken(t, borrowerAddr.Hex(), scopeWrite)

	requireStatus(t, doJSON(t, h, http.MethodPost, path, CallJSON{}, ""), http.StatusUnauthorized)
	requireStatus(t, doJSON(t, h, http.MethodPost, path, CallJSON{Sender: strangerAddr.Hex()}, token), http.StatusForbidden)
	requireStatus(t, doJSON(t, h, http.MethodPost, path, CallJSON{}, token), http.StatusConflict)
	requireStatus(t, doJSON(t, h, http.MethodPost, path, CallJSON{}, writeToken(t, "ops", scopeWrite)), http.StatusBadRequest)

	admin := "/v1/markets/usdc/admin/fees"
	requireStatus(t, doJSON(t, h, http.MethodPost, admin, protocolFeeRequest{UpfrontBps: 5}, token), http.StatusForbidden)
	ownerToken := writeToken(t, f.owner.Hex(), scopeAdmin)
	rec := doJSON(t, h, http.MethodPost, admin, protocolFeeRequest{UpfrontBps: 5, SettlementBps: 100}, ownerToken)
	requireStatus(t, rec, http.StatusOK)
	var st map[string]interface{}
	decodeInto(t, rec, &st)
	require.EqualValues(t, 5, st["protocol_upfront_bps"])

	requireStatus(t, doJSON(t, h, http.MethodGet, "/v1/markets/usdc/state", nil, ""), http.StatusOK)
}

func TestServerOfferIdentityAndRevocation(t *testing.T) {
	f := newFixture(t)
	h := NewServer(f.node, ServerOptions{}).Handler()
	signed := f.sign("usdc", f.usdcOffer(3, 1_000, 10))
	wire := SignedOfferToJSON(signed)

	rec := doJSON(t, h, http.MethodPost, "/v1/markets/usdc/offers/id", offerIDRequest{Offer: wire}, "")
	requireStatus(t, rec, http.StatusOK)
	var ident map[string]interface{}
	decodeInto(t, rec, &ident)
	require.Equal(t, hashHex(signed.ID()), ident["offer_id"])
	require.Equal(t, f.lender.Hex(), ident["signer"])

	// The native market signs under another domain.
	rec = doJSON(t, h, http.MethodPost, "/v1/markets/native/offers/id", offerIDRequest{Offer: wire}, "")
	requireStatus(t, rec, http.StatusOK)
	var foreign map[string]interface{}
	decodeInto(t, rec, &foreign)
	require.Equal(t, hashHex(signed.ID()), foreign["offer_id"])
	require.NotEqual(t, ident["signing_hash"], foreign["signing_hash"])
	require.NotEqual(t, f.lender.Hex(), foreign["signer"])

	path := "/v1/markets/usdc/offers/revoke"
	requireStatus(t, doJSON(t, h, http.MethodPost, path, revokeRequest{CallJSON: CallJSON{Sender: strangerAddr.Hex()}, Offer: wire}, ""), http.StatusForbidden)
	requireStatus(t, doJSON(t, h, http.MethodPost, path, revokeRequest{CallJSON: CallJSON{Sender: f.lender.Hex()}, Offer: wire}, ""), http.StatusOK)
	requireStatus(t, doJSON(t, h, http.MethodPost, path, revokeRequest{CallJSON: CallJSON{Sender: f.lender.Hex()}, Offer: wire}, ""), http.StatusConflict)

	rec = doJSON(t, h, http.MethodGet, "/v1/markets/usdc/offers/"+hashHex(signed.ID()), nil, "")
	requireStatus(t, rec, http.StatusOK)
	var status map[string]interface{}
	decodeInto(t, rec, &status)
	require.Equal(t, true, status["revoked"])
}

func TestServerRejectsMalformedRequests(t *testing.T) {
	f := newFixture(t)
	h := NewServer(f.node, ServerOptions{}).Handler()
	path := "/v1/markets/usdc/loans"

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"sender":"`+borrowerAddr.Hex()+`","bogus":1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	requireStatus(t, rec, http.StatusBadRequest)

	wire := SignedOfferToJSON(f.sign("usdc", f.usdcOffer(3, 1_000, 10)))
	wire.Offer.OfferType = "bundle"
	rec = doJSON(t, h, http.MethodPost, path, createLoanRequest{CallJSON: CallJSON{Sender: borrowerAddr.Hex()}, Offer: wire, TokenID: "3"}, "")
	requireStatus(t, rec, http.StatusBadRequest)
	require.Contains(t, rec.Body.String(), p2pnfts.ErrInvalidOfferType.Error())

	wire = SignedOfferToJSON(f.sign("usdc", f.usdcOffer(3, 1_000, 10)))
	rec = doJSON(t, h, http.MethodPost, path, createLoanRequest{CallJSON: CallJSON{Sender: borrowerAddr.Hex()}, Offer: wire, TokenID: "-3"}, "")
	requireStatus(t, rec, http.StatusBadRequest)

	rec = doJSON(t, h, http.MethodPost, path, createLoanRequest{Offer: wire, TokenID: "3"}, "")
	requireStatus(t, rec, http.StatusBadRequest)
	require.Contains(t, rec.Body.String(), "sender required")
}

func TestServerControllerRoutes(t *testing.T) {
	f := newFixture(t)
	h := NewServer(f.node, ServerOptions{}).Handler()
	contract := f.network.Collections[0].Contract
	require.NoError(t, f.node.MintNFT("bayc", borrowerAddr, big.NewInt(5)))

	rec := doJSON(t, h, http.MethodPost, "/v1/controller/admin/whitelist", whitelistRequest{
		CallJSON: CallJSON{Sender: strangerAddr.Hex()},
		Records:  []whitelistRecordJSON{{Contract: contract.Hex()}},
	}, "")
	requireStatus(t, rec, http.StatusForbidden)

	rec = doJSON(t, h, http.MethodPost, "/v1/controller/locks", brokerLockRequest{
		CallJSON:   CallJSON{Sender: borrowerAddr.Hex()},
		Contract:   contract.Hex(),
		TokenID:    "5",
		Broker:     strangerAddr.Hex(),
		Expiration: uint64(f.now + 60),
	}, "")
	requireStatus(t, rec, http.StatusCreated)

	rec = doJSON(t, h, http.MethodGet, "/v1/controller/collateral/"+contract.Hex()+"/5", nil, "")
	requireStatus(t, rec, http.StatusOK)
	var status map[string]interface{}
	decodeInto(t, rec, &status)
	require.Equal(t, true, status["locked"])
	require.Equal(t, strangerAddr.Hex(), status["broker"])

	rec = doJSON(t, h, http.MethodGet, "/v1/controller", nil, "")
	requireStatus(t, rec, http.StatusOK)
	var ctrl struct {
		Owner       string                   `json:"owner"`
		Collections []map[string]interface{} `json:"collections"`
	}
	decodeInto(t, rec, &ctrl)
	require.Equal(t, f.owner.Hex(), ctrl.Owner)
	require.Len(t, ctrl.Collections, 2)
}

func TestServerStreamReplaysBacklog(t *testing.T) {
	f := newFixture(t)
	hub := NewHub()
	srv := httptest.NewServer(NewServer(f.node, ServerOptions{Hub: hub}).Handler())
	t.Cleanup(srv.Close)

	hub.Emit(events.PendingTransferPaid{Market: f.market("usdc").Address, Wallet: f.lender, Amount: big.NewInt(1)})
	hub.Emit(events.PendingTransferPaid{Market: f.market("usdc").Address, Wallet: f.lender, Amount: big.NewInt(2)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream?cursor=1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var update StreamUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	require.Equal(t, uint64(2), update.Sequence)
	require.Equal(t, events.TypePendingTransferPaid, update.Event.Type)
	require.Equal(t, "2", update.Event.Attributes["amount"])
}
