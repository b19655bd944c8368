package p2pnftsd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"nhooyr.io/websocket"

	"p2pnfts/config"
	"p2pnfts/gateway/middleware"
	"p2pnfts/native/control"
	"p2pnfts/native/p2pnfts"
	"p2pnfts/services/indexer"
)

const (
	groupRead  = "read"
	groupWrite = "write"

	scopeWrite = "markets:write"
	scopeAdmin = "markets:admin"

	requestLimit   = 1 << 20 // 1 MiB
	loanListLimit  = 50
	wsWriteTimeout = 10 * time.Second
)

// LoanIndex is the read side of the loan indexer.
type LoanIndex interface {
	Loan(id [32]byte) (*indexer.Record, error)
	LoansByBorrower(borrower common.Address, limit int) ([]*indexer.Record, error)
	LoansByLender(lender common.Address, limit int) ([]*indexer.Record, error)
	Events(loanID [32]byte) ([]indexer.Event, error)
}

// ServerOptions carries the collaborators of the HTTP API. A nil Index
// disables the loan lookup routes.
type ServerOptions struct {
	Hub          *Hub
	Index        LoanIndex
	Cache        *LoanCache
	Auth         middleware.AuthConfig
	RateLimits   map[string]middleware.RateLimit
	DevEndpoints bool
	Observer     middleware.RequestObserver
	Logger       *slog.Logger
}

// Server exposes a Node over HTTP.
type Server struct {
	node    *Node
	hub     *Hub
	index   LoanIndex
	cache   *LoanCache
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	opts    ServerOptions
	logger  *slog.Logger
	router  http.Handler
}

func NewServer(node *Node, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	s := &Server{
		node:    node,
		hub:     opts.Hub,
		index:   opts.Index,
		cache:   opts.Cache,
		auth:    middleware.NewAuthenticator(opts.Auth, opts.Logger),
		limiter: middleware.NewRateLimiter(opts.RateLimits, opts.Logger),
		opts:    opts,
		logger:  opts.Logger,
	}
	s.limiter.OnReject(func(group string) {
		s.logger.Warn("request throttled", slog.String("group", group))
	})
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		s.route(api, http.MethodGet, "/markets", groupRead, nil, s.listMarkets)
		s.route(api, http.MethodGet, "/markets/{market}", groupRead, nil, s.getMarket)
		s.route(api, http.MethodGet, "/markets/{market}/state", groupRead, nil, s.getMarketState)
		s.route(api, http.MethodPost, "/markets/{market}/loans", groupWrite, []string{scopeWrite}, s.createLoan)
		s.route(api, http.MethodPost, "/markets/{market}/loans/settle", groupWrite, []string{scopeWrite}, s.settleLoan)
		s.route(api, http.MethodPost, "/markets/{market}/loans/claim", groupWrite, []string{scopeWrite}, s.claimDefaulted)
		s.route(api, http.MethodPost, "/markets/{market}/loans/replace", groupWrite, []string{scopeWrite}, s.replaceLoan)
		s.route(api, http.MethodPost, "/markets/{market}/loans/quote", groupRead, nil, s.quoteReplacement)
		s.route(api, http.MethodPost, "/markets/{market}/loans/validate", groupRead, nil, s.validateLoan)
		s.route(api, http.MethodPost, "/markets/{market}/offers/id", groupRead, nil, s.offerID)
		s.route(api, http.MethodPost, "/markets/{market}/offers/revoke", groupWrite, []string{scopeWrite}, s.revokeOffer)
		s.route(api, http.MethodGet, "/markets/{market}/offers/{offerID}", groupRead, nil, s.offerStatus)
		s.route(api, http.MethodGet, "/markets/{market}/pending/{wallet}", groupRead, nil, s.pendingTransfers)
		s.route(api, http.MethodPost, "/markets/{market}/pending/claim", groupWrite, []string{scopeWrite}, s.claimPending)
		s.route(api, http.MethodGet, "/markets/{market}/proxies/{proxy}", groupRead, nil, s.proxyStatus)

		s.route(api, http.MethodPost, "/markets/{market}/admin/fees", groupWrite, []string{scopeAdmin}, s.setProtocolFee)
		s.route(api, http.MethodPost, "/markets/{market}/admin/wallet", groupWrite, []string{scopeAdmin}, s.changeProtocolWallet)
		s.route(api, http.MethodPost, "/markets/{market}/admin/proxy", groupWrite, []string{scopeAdmin}, s.setProxy)
		s.route(api, http.MethodPost, "/markets/{market}/admin/owner/propose", groupWrite, []string{scopeAdmin}, s.proposeMarketOwner)
		s.route(api, http.MethodPost, "/markets/{market}/admin/owner/claim", groupWrite, []string{scopeAdmin}, s.claimMarketOwner)

		s.route(api, http.MethodGet, "/controller", groupRead, nil, s.getController)
		s.route(api, http.MethodGet, "/controller/collateral/{contract}/{tokenID}", groupRead, nil, s.collateralStatus)
		s.route(api, http.MethodPost, "/controller/locks", groupWrite, []string{scopeWrite}, s.addBrokerLock)
		s.route(api, http.MethodPost, "/controller/locks/remove", groupWrite, []string{scopeWrite}, s.removeBrokerLock)
		s.route(api, http.MethodPost, "/controller/admin/contracts", groupWrite, []string{scopeAdmin}, s.changeContracts)
		s.route(api, http.MethodPost, "/controller/admin/whitelist", groupWrite, []string{scopeAdmin}, s.changeWhitelist)
		s.route(api, http.MethodPost, "/controller/admin/trait-roots", groupWrite, []string{scopeAdmin}, s.changeTraitRoots)
		s.route(api, http.MethodPost, "/controller/admin/max-lock", groupWrite, []string{scopeAdmin}, s.setMaxLock)
		s.route(api, http.MethodPost, "/controller/admin/owner/propose", groupWrite, []string{scopeAdmin}, s.proposeControllerOwner)
		s.route(api, http.MethodPost, "/controller/admin/owner/claim", groupWrite, []string{scopeAdmin}, s.claimControllerOwner)

		s.route(api, http.MethodGet, "/loans", groupRead, nil, s.listLoans)
		s.route(api, http.MethodGet, "/loans/{loanID}", groupRead, nil, s.getLoan)
		s.route(api, http.MethodGet, "/loans/{loanID}/events", groupRead, nil, s.loanEvents)

		// The stream hijacks the connection, so it skips request observation.
		api.With(s.limiter.Middleware(groupRead)).Get("/events/stream", s.streamEvents)

		if s.opts.DevEndpoints {
			s.route(api, http.MethodPost, "/dev/mint", groupWrite, []string{scopeAdmin}, s.devMint)
			s.route(api, http.MethodPost, "/dev/approve", groupWrite, []string{scopeAdmin}, s.devApprove)
			s.route(api, http.MethodPost, "/dev/wrap", groupWrite, []string{scopeAdmin}, s.devWrap)
			s.route(api, http.MethodPost, "/dev/nft/mint", groupWrite, []string{scopeAdmin}, s.devMintNFT)
			s.route(api, http.MethodPost, "/dev/nft/approve", groupWrite, []string{scopeAdmin}, s.devApproveNFT)
			s.route(api, http.MethodGet, "/dev/balance/{asset}/{holder}", groupRead, nil, s.devBalance)
			s.route(api, http.MethodGet, "/dev/nft/{collection}/{tokenID}", groupRead, nil, s.devOwnerOf)
		}
	})

	return otelhttp.NewHandler(r, "p2pnftsd")
}

// route mounts h behind the rate limiter, the scope check and request
// observation. Routes without scopes are public.
func (s *Server) route(r chi.Router, method, pattern, group string, scopes []string, h http.HandlerFunc) {
	chain := []func(http.Handler) http.Handler{s.limiter.Middleware(group)}
	if len(scopes) > 0 {
		chain = append(chain, s.auth.Middleware(scopes...))
	}
	if s.opts.Observer != nil {
		chain = append(chain, middleware.Observe("/v1"+pattern, s.opts.Observer))
	}
	r.With(chain...).Method(method, pattern, h)
}

// --- request plumbing ---

func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return badRequest("missing request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("decode request: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		s.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// caller resolves the acting address. When the bearer token subject is an
// address it is the default sender and any other sender is refused.
func (s *Server) caller(r *http.Request, raw string) (common.Address, error) {
	subject := strings.TrimSpace(middleware.Subject(r.Context()))
	bound := common.IsHexAddress(subject)
	if strings.TrimSpace(raw) == "" {
		if bound {
			return common.HexToAddress(subject), nil
		}
		return common.Address{}, badRequest("sender required")
	}
	addr, err := parseAddress("sender", raw)
	if err != nil {
		return common.Address{}, err
	}
	if bound && addr != common.HexToAddress(subject) {
		return common.Address{}, errSenderMismatch
	}
	return addr, nil
}

func (s *Server) call(r *http.Request, c CallJSON) (p2pnfts.Call, error) {
	sender, err := s.caller(r, c.Sender)
	if err != nil {
		return p2pnfts.Call{}, err
	}
	onBehalfOf, err := parseAddress("on_behalf_of", c.OnBehalfOf)
	if err != nil {
		return p2pnfts.Call{}, err
	}
	value, err := parseAmount("value", c.Value)
	if err != nil {
		return p2pnfts.Call{}, err
	}
	return p2pnfts.Call{Sender: sender, OnBehalfOf: onBehalfOf, Value: value}, nil
}

func pathAddress(r *http.Request, key string) (common.Address, error) {
	raw := chi.URLParam(r, key)
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, badRequest("%s required", key)
	}
	return parseAddress(key, raw)
}

func pathHash(r *http.Request, key string) ([32]byte, error) {
	raw := chi.URLParam(r, key)
	if strings.TrimSpace(raw) == "" {
		return [32]byte{}, badRequest("%s required", key)
	}
	return parseHash(key, raw)
}

// --- markets ---

type marketJSON struct {
	Name                     string `json:"name"`
	Address                  string `json:"address"`
	PaymentToken             string `json:"payment_token"`
	PaymentSymbol            string `json:"payment_symbol"`
	Decimals                 int32  `json:"decimals"`
	Native                   bool   `json:"native"`
	BorrowerBrokerPolicy     string `json:"borrower_broker_policy"`
	MaxProtocolUpfrontBps    uint64 `json:"max_protocol_upfront_bps"`
	MaxProtocolSettlementBps uint64 `json:"max_protocol_settlement_bps"`
}

func marketToJSON(info MarketInfo) marketJSON {
	return marketJSON{
		Name:                     info.Name,
		Address:                  info.Address.Hex(),
		PaymentToken:             info.PaymentToken.Hex(),
		PaymentSymbol:            info.PaymentSymbol,
		Decimals:                 info.Decimals,
		Native:                   info.Native,
		BorrowerBrokerPolicy:     info.BorrowerBrokerPolicy.String(),
		MaxProtocolUpfrontBps:    info.MaxProtocolFees.UpfrontBps,
		MaxProtocolSettlementBps: info.MaxProtocolFees.SettlementBps,
	}
}

func (s *Server) listMarkets(w http.ResponseWriter, _ *http.Request) {
	markets := s.node.Markets()
	out := make([]marketJSON, 0, len(markets))
	for _, info := range markets {
		out = append(out, marketToJSON(info))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain_id":   s.node.ChainID().String(),
		"controller": s.node.ControllerAddress().Hex(),
		"markets":    out,
	})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	info, err := s.node.Market(chi.URLParam(r, "market"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, marketToJSON(info))
}

func (s *Server) getMarketState(w http.ResponseWriter, r *http.Request) {
	st, err := s.node.MarketState(chi.URLParam(r, "market"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":                   st.Owner.Hex(),
		"proposed_owner":          addressHex(st.ProposedOwner),
		"protocol_upfront_bps":    st.ProtocolFees.UpfrontBps,
		"protocol_settlement_bps": st.ProtocolFees.SettlementBps,
		"protocol_wallet":         st.ProtocolWallet.Hex(),
	})
}

// --- lending ---

func (s *Server) createLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	call, err := s.call(r, req.CallJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signed, err := req.Offer.SignedOffer()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenID, err := parseAmount("token_id", req.TokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proof, err := parseProof(req.Proof)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	delegate, err := parseAddress("delegate", req.Delegate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	broker, err := req.BorrowerBroker.terms()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.node.CreateLoan(chi.URLParam(r, "market"), call, p2pnfts.CreateLoanRequest{
		Offer:          signed,
		TokenID:        tokenID,
		Proof:          proof,
		Delegate:       delegate,
		BorrowerBroker: broker,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"loan": LoanToJSON(loan)})
}

func (s *Server) decodeLoanRequest(r *http.Request) (p2pnfts.Call, *p2pnfts.Loan, error) {
	var req loanRequest
	if err := decodeJSON(r, &req); err != nil {
		return p2pnfts.Call{}, nil, err
	}
	call, err := s.call(r, req.CallJSON)
	if err != nil {
		return p2pnfts.Call{}, nil, err
	}
	loan, err := req.Loan.Loan()
	if err != nil {
		return p2pnfts.Call{}, nil, err
	}
	return call, loan, nil
}

func (s *Server) settleLoan(w http.ResponseWriter, r *http.Request) {
	call, loan, err := s.decodeLoanRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.SettleLoan(chi.URLParam(r, "market"), call, loan); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"loan_id": hashHex(loan.ID), "status": string(indexer.StatusRepaid)})
}

func (s *Server) claimDefaulted(w http.ResponseWriter, r *http.Request) {
	call, loan, err := s.decodeLoanRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.ClaimDefaulted(chi.URLParam(r, "market"), call, loan); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"loan_id": hashHex(loan.ID), "status": string(indexer.StatusClaimed)})
}

func (s *Server) replaceLoan(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	call, err := s.call(r, req.CallJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := req.Loan.Loan()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signed, err := req.Offer.SignedOffer()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proof, err := parseProof(req.Proof)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	next, err := s.node.ReplaceLoanLender(chi.URLParam(r, "market"), call, p2pnfts.ReplaceLoanRequest{Loan: loan, Offer: signed, Proof: proof})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"original_loan_id": hashHex(loan.ID),
		"loan":             LoanToJSON(next),
	})
}

func (s *Server) quoteReplacement(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := req.Loan.Loan()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, err := req.Offer.Offer()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.node.QuoteReplacement(chi.URLParam(r, "market"), loan, offer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteToJSON(quote))
}

func (s *Server) validateLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Loan LoanJSON `json:"loan"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := req.Loan.Loan()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.ValidateLoan(chi.URLParam(r, "market"), loan); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loan_id": hashHex(loan.ID), "valid": true})
}

// offerID returns the identity of a signed offer, its EIP-712 digest under
// the market's domain and the recovered signer.
func (s *Server) offerID(w http.ResponseWriter, r *http.Request) {
	var req offerIDRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	signed, err := req.Offer.SignedOffer()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.node.Market(chi.URLParam(r, "market"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	digest, err := p2pnfts.SigningHash(signed.Offer, info.Address, s.node.ChainID())
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	out := map[string]interface{}{
		"offer_id":     hashHex(signed.ID()),
		"signing_hash": hashHex(digest),
	}
	if signer, err := p2pnfts.VerifyOffer(signed, info.Address, s.node.ChainID()); err == nil {
		out["signer"] = signer.Hex()
		out["signed_by_lender"] = true
	} else {
		out["signed_by_lender"] = false
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) revokeOffer(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	call, err := s.call(r, req.CallJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signed, err := req.Offer.SignedOffer()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.RevokeOffer(chi.URLParam(r, "market"), call, signed); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offer_id": hashHex(signed.ID()), "revoked": true})
}

func (s *Server) offerStatus(w http.ResponseWriter, r *http.Request) {
	offerID, err := pathHash(r, "offerID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	count, revoked, err := s.node.OfferStatus(chi.URLParam(r, "market"), offerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"offer_id": hashHex(offerID),
		"used":     count,
		"revoked":  revoked,
	})
}

func (s *Server) pendingTransfers(w http.ResponseWriter, r *http.Request) {
	market := chi.URLParam(r, "market")
	wallet, err := pathAddress(r, "wallet")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.node.PendingTransfers(market, wallet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.amountBody(market, wallet, amount))
}

func (s *Server) claimPending(w http.ResponseWriter, r *http.Request) {
	var req CallJSON
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	call, err := s.call(r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	market := chi.URLParam(r, "market")
	amount, err := s.node.ClaimPendingTransfers(market, call)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.amountBody(market, call.Sender, amount))
}

// amountBody renders a payment amount with its human form in the market's
// payment asset.
func (s *Server) amountBody(market string, wallet common.Address, amount *big.Int) map[string]string {
	decimals := int32(config.NativeDecimals)
	if info, err := s.node.Market(market); err == nil {
		decimals = info.Decimals
	}
	return map[string]string{
		"wallet":    wallet.Hex(),
		"amount":    amountString(amount),
		"formatted": config.FormatAmount(amount, decimals),
	}
}

func (s *Server) proxyStatus(w http.ResponseWriter, r *http.Request) {
	proxy, err := pathAddress(r, "proxy")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	allowed, err := s.node.IsProxyAuthorized(chi.URLParam(r, "market"), proxy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proxy": proxy.Hex(), "authorized": allowed})
}

// --- market administration ---

func (s *Server) setProtocolFee(w http.ResponseWriter, r *http.Request) {
	var req protocolFeeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fees := p2pnfts.ProtocolFees{UpfrontBps: req.UpfrontBps, SettlementBps: req.SettlementBps}
	if err := s.node.SetProtocolFee(chi.URLParam(r, "market"), caller, fees); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getMarketState(w, r)
}

func (s *Server) changeProtocolWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wallet, err := parseAddress("wallet", req.Wallet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.ChangeProtocolWallet(chi.URLParam(r, "market"), caller, wallet); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getMarketState(w, r)
}

func (s *Server) setProxy(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proxy, err := parseAddress("proxy", req.Proxy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.SetProxyAuthorization(chi.URLParam(r, "market"), caller, proxy, req.Allowed); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proxy": proxy.Hex(), "authorized": req.Allowed})
}

func (s *Server) proposeMarketOwner(w http.ResponseWriter, r *http.Request) {
	var req proposeOwnerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proposed, err := parseAddress("proposed", req.Proposed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.ProposeMarketOwner(chi.URLParam(r, "market"), caller, proposed); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getMarketState(w, r)
}

func (s *Server) claimMarketOwner(w http.ResponseWriter, r *http.Request) {
	var req CallJSON
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.ClaimMarketOwnership(chi.URLParam(r, "market"), caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getMarketState(w, r)
}

// --- collateral controller ---

func (s *Server) getController(w http.ResponseWriter, r *http.Request) {
	st, err := s.node.ControllerState()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collections := make([]map[string]interface{}, 0, len(st.Collections))
	for _, c := range st.Collections {
		collections = append(collections, map[string]interface{}{
			"name":                c.Name,
			"collection_key_hash": hashHex(c.KeyHash),
			"contract":            addressHex(c.Contract),
			"kind":                c.Kind,
			"whitelisted":         c.Whitelisted,
			"trait_root":          hashHex(c.TraitRoot),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":                  s.node.ControllerAddress().Hex(),
		"owner":                    st.Owner.Hex(),
		"proposed_owner":           addressHex(st.ProposedOwner),
		"max_broker_lock_duration": st.MaxBrokerLockDuration,
		"collections":              collections,
	})
}

func (s *Server) collateralStatus(w http.ResponseWriter, r *http.Request) {
	contract, err := pathAddress(r, "contract")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenID, err := parseAmount("token_id", chi.URLParam(r, "tokenID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.node.CollateralStatus(contract, tokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contract":    contract.Hex(),
		"token_id":    tokenID.String(),
		"whitelisted": status.Whitelisted,
		"broker":      addressHex(status.BrokerLock.Broker),
		"expiration":  status.BrokerLock.Expiration,
		"locked":      status.BrokerLock.Live(s.node.Now()),
	})
}

func (s *Server) addBrokerLock(w http.ResponseWriter, r *http.Request) {
	var req brokerLockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, contract, tokenID, err := s.lockTarget(r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	broker, err := parseAddress("broker", req.Broker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.AddBrokerLock(caller, contract, tokenID, broker, req.Expiration); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"contract":   contract.Hex(),
		"token_id":   tokenID.String(),
		"broker":     broker.Hex(),
		"expiration": req.Expiration,
	})
}

func (s *Server) removeBrokerLock(w http.ResponseWriter, r *http.Request) {
	var req brokerLockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, contract, tokenID, err := s.lockTarget(r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.RemoveBrokerLock(caller, contract, tokenID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contract": contract.Hex(), "token_id": tokenID.String(), "removed": true})
}

func (s *Server) lockTarget(r *http.Request, req brokerLockRequest) (common.Address, common.Address, *big.Int, error) {
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	contract, err := parseAddress("contract", req.Contract)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	tokenID, err := parseAmount("token_id", req.TokenID)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	return caller, contract, tokenID, nil
}

func (s *Server) changeContracts(w http.ResponseWriter, r *http.Request) {
	var req contractsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	changes := make([]control.CollectionContract, 0, len(req.Changes))
	for i, c := range req.Changes {
		key, err := parseHash(fmt.Sprintf("changes[%d].collection_key_hash", i), c.CollectionKeyHash)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		contract, err := parseAddress(fmt.Sprintf("changes[%d].contract", i), c.Contract)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		changes = append(changes, control.CollectionContract{CollectionKeyHash: key, Contract: contract})
	}
	if err := s.node.ChangeCollectionsContracts(caller, changes); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getController(w, r)
}

func (s *Server) changeWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records := make([]control.WhitelistRecord, 0, len(req.Records))
	for i, rec := range req.Records {
		contract, err := parseAddress(fmt.Sprintf("records[%d].contract", i), rec.Contract)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		records = append(records, control.WhitelistRecord{Contract: contract, Whitelisted: rec.Whitelisted})
	}
	if err := s.node.ChangeWhitelistedCollections(caller, records); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getController(w, r)
}

func (s *Server) changeTraitRoots(w http.ResponseWriter, r *http.Request) {
	var req traitRootsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	roots := make([]control.TraitRoot, 0, len(req.Roots))
	for i, root := range req.Roots {
		key, err := parseHash(fmt.Sprintf("roots[%d].collection_key_hash", i), root.CollectionKeyHash)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		value, err := parseHash(fmt.Sprintf("roots[%d].root", i), root.Root)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		roots = append(roots, control.TraitRoot{CollectionKeyHash: key, Root: value})
	}
	if err := s.node.ChangeCollectionsTraitRoots(caller, roots); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getController(w, r)
}

func (s *Server) setMaxLock(w http.ResponseWriter, r *http.Request) {
	var req maxLockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.SetMaxBrokerLockDuration(caller, req.Duration); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getController(w, r)
}

func (s *Server) proposeControllerOwner(w http.ResponseWriter, r *http.Request) {
	var req proposeOwnerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proposed, err := parseAddress("proposed", req.Proposed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.ProposeControllerOwner(caller, proposed); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getController(w, r)
}

func (s *Server) claimControllerOwner(w http.ResponseWriter, r *http.Request) {
	var req CallJSON
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := s.caller(r, req.Sender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.ClaimControllerOwnership(caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getController(w, r)
}

// --- indexed loans ---

type recordJSON struct {
	Market     string   `json:"market"`
	Status     string   `json:"status"`
	ReplacedBy string   `json:"replaced_by,omitempty"`
	Loan       LoanJSON `json:"loan"`
}

func recordToJSON(rec *indexer.Record) recordJSON {
	return recordJSON{
		Market:     rec.Market.Hex(),
		Status:     string(rec.Status),
		ReplacedBy: rec.ReplacedBy,
		Loan:       LoanToJSON(rec.Loan),
	}
}

// lookupLoan reads through the cache. It holds the node lock so a read
// cannot repopulate an entry that a concurrent settlement just dropped.
func (s *Server) lookupLoan(id [32]byte) (*indexer.Record, error) {
	if s.index == nil {
		return nil, ErrIndexerDisabled
	}
	var rec *indexer.Record
	err := s.node.exec(func() error {
		if cached, ok := s.cache.get(id); ok {
			rec = cached
			return nil
		}
		var err error
		if rec, err = s.index.Loan(id); err != nil {
			return err
		}
		s.cache.set(id, rec)
		return nil
	})
	return rec, err
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "loanID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.lookupLoan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToJSON(rec))
}

func (s *Server) listLoans(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.writeError(w, r, ErrIndexerDisabled)
		return
	}
	query := r.URL.Query()
	limit := loanListLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, badRequest("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	var (
		records []*indexer.Record
		err     error
	)
	switch {
	case query.Get("borrower") != "":
		var addr common.Address
		if addr, err = parseAddress("borrower", query.Get("borrower")); err == nil {
			records, err = s.index.LoansByBorrower(addr, limit)
		}
	case query.Get("lender") != "":
		var addr common.Address
		if addr, err = parseAddress("lender", query.Get("lender")); err == nil {
			records, err = s.index.LoansByLender(addr, limit)
		}
	default:
		err = badRequest("borrower or lender required")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]recordJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, recordToJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loans": out})
}

func (s *Server) loanEvents(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.writeError(w, r, ErrIndexerDisabled)
		return
	}
	id, err := pathHash(r, "loanID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.index.Events(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		out = append(out, map[string]interface{}{
			"type":       row.Type,
			"market":     row.Market,
			"attributes": attrs,
			"created_at": row.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loan_id": hashHex(id), "events": out})
}

// --- event stream ---

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.stream(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog := s.hub.Subscribe(ctx, cursor)
	defer cancel()

	for _, update := range backlog {
		if err := writeUpdate(ctx, conn, update); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, update StreamUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// --- simulated ledgers ---

func (s *Server) devMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.devAmount(req.Asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Mint(req.Asset, to, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBalance(w, r, req.Asset, to)
}

func (s *Server) devApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := s.caller(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := s.devSpender(req.Spender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.devAmount(req.Asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Approve(req.Asset, owner, spender, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   req.Asset,
		"owner":   owner.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	})
}

func (s *Server) devWrap(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	holder, err := s.caller(r, req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.devAmount(config.NativeAsset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Wrap(holder, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBalance(w, r, s.node.network.Wrapped.Symbol, holder)
}

func (s *Server) devMintNFT(w http.ResponseWriter, r *http.Request) {
	var req nftRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenID, err := parseAmount("token_id", req.TokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.MintNFT(req.Collection, owner, tokenID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"collection": req.Collection, "token_id": tokenID.String(), "owner": owner.Hex()})
}

func (s *Server) devApproveNFT(w http.ResponseWriter, r *http.Request) {
	var req nftRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := s.caller(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenID, err := parseAmount("token_id", req.TokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.ApproveNFT(req.Collection, owner, tokenID, req.Market); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collection": req.Collection, "token_id": tokenID.String(), "market": req.Market})
}

func (s *Server) devBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := pathAddress(r, "holder")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBalance(w, r, chi.URLParam(r, "asset"), holder)
}

func (s *Server) devOwnerOf(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	tokenID, err := parseAmount("token_id", chi.URLParam(r, "tokenID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := s.node.OwnerOf(collection, tokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := map[string]interface{}{"collection": collection, "token_id": tokenID.String(), "owner": owner.Hex()}
	if market := strings.TrimSpace(r.URL.Query().Get("market")); market != "" {
		if delegate := strings.TrimSpace(r.URL.Query().Get("delegate")); delegate != "" {
			addr, err := parseAddress("delegate", delegate)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			ok, err := s.node.DelegatedTo(market, collection, addr, tokenID)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			out["delegated"] = ok
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// devAmount accepts either a base-unit integer or a decimal with a point,
// scaled by the asset's decimals.
func (s *Server) devAmount(asset, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, ".") {
		return parseAmount("amount", raw)
	}
	decimals, ok := s.node.network.Decimals(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	amount, err := config.ParseAmount(raw, decimals)
	if err != nil {
		return nil, badRequest("amount: %v", err)
	}
	return amount, nil
}

// devSpender takes an address or the name of a hosted market.
func (s *Server) devSpender(raw string) (common.Address, error) {
	if common.IsHexAddress(strings.TrimSpace(raw)) {
		return parseAddress("spender", raw)
	}
	info, err := s.node.Market(raw)
	if err != nil {
		return common.Address{}, err
	}
	return info.Address, nil
}

func (s *Server) writeBalance(w http.ResponseWriter, r *http.Request, asset string, holder common.Address) {
	balance, err := s.node.Balance(asset, holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	decimals, ok := s.node.network.Decimals(asset)
	if !ok {
		decimals = config.NativeDecimals
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     asset,
		"holder":    holder.Hex(),
		"balance":   balance.String(),
		"formatted": config.FormatAmount(balance, decimals),
	})
}
