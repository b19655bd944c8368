package p2pnftsd

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"p2pnfts/native/control"
	"p2pnfts/native/p2pnfts"
	"p2pnfts/observability"
	"p2pnfts/services/indexer"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{p2pnfts.ErrNotOwner, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", control.ErrNotBroker), http.StatusForbidden},
		{errSenderMismatch, http.StatusForbidden},
		{fmt.Errorf("%w: eur", ErrUnknownMarket), http.StatusNotFound},
		{indexer.ErrNotFound, http.StatusNotFound},
		{p2pnfts.ErrOfferFullyUtilized, http.StatusConflict},
		{p2pnfts.ErrInvalidLoan, http.StatusConflict},
		{p2pnfts.ErrProofInvalid, http.StatusBadRequest},
		{badRequest("token_id"), http.StatusBadRequest},
		{ErrIndexerDisabled, http.StatusNotImplemented},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, StatusFor(tc.err), "%v", tc.err)
	}
}

func TestClassify(t *testing.T) {
	require.Equal(t, observability.OutcomeSuccess, Classify(nil))
	require.Equal(t, observability.OutcomeRejected, Classify(p2pnfts.ErrOfferExpired))
	require.Equal(t, observability.OutcomeRejected, Classify(p2pnfts.ErrNotBorrower))
	require.Equal(t, observability.OutcomeError, Classify(errors.New("boom")))
}
