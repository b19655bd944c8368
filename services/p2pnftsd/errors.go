package p2pnftsd

import (
	"errors"
	"net/http"

	"p2pnfts/config"
	"p2pnfts/native/control"
	"p2pnfts/native/p2pnfts"
	"p2pnfts/native/token"
	"p2pnfts/observability"
	"p2pnfts/services/indexer"
)

var (
	ErrUnknownMarket     = errors.New("p2pnftsd: unknown market")
	ErrUnknownAsset      = errors.New("p2pnftsd: unknown asset")
	ErrUnknownCollection = errors.New("p2pnftsd: unknown collection")
	ErrIndexerDisabled   = errors.New("p2pnftsd: indexer disabled")
	errBadRequest        = errors.New("bad request")
	errSenderMismatch    = errors.New("sender does not match token subject")
)

var (
	forbiddenErrors = []error{
		p2pnfts.ErrNotOwner,
		p2pnfts.ErrNotProposedOwner,
		p2pnfts.ErrNotLender,
		p2pnfts.ErrNotBorrower,
		control.ErrNotCollateralOwner,
		control.ErrNotBroker,
		token.ErrNotTokenOwner,
		errSenderMismatch,
	}
	notFoundErrors = []error{
		ErrUnknownMarket,
		ErrUnknownAsset,
		ErrUnknownCollection,
		indexer.ErrNotFound,
		token.ErrUnknownToken,
		token.ErrUnknownCollection,
	}
	conflictErrors = []error{
		p2pnfts.ErrOfferExpired,
		p2pnfts.ErrOfferRevoked,
		p2pnfts.ErrOfferFullyUtilized,
		p2pnfts.ErrOfferAlreadyRevoked,
		p2pnfts.ErrCollateralLocked,
		p2pnfts.ErrInvalidLoan,
		p2pnfts.ErrLoanDefaulted,
		p2pnfts.ErrLoanNotDefaulted,
		p2pnfts.ErrLoanAlreadyExists,
		p2pnfts.ErrNoPendingTransfers,
		control.ErrLockExists,
		token.ErrTokenExists,
	}
	badRequestErrors = []error{
		errBadRequest,
		config.ErrInvalidGenesis,
		p2pnfts.ErrZeroAddress,
		p2pnfts.ErrSignatureInvalid,
		p2pnfts.ErrInvalidOfferType,
		p2pnfts.ErrCollateralNotWhitelisted,
		p2pnfts.ErrCollateralContractMismatch,
		p2pnfts.ErrTokenIDBelowRange,
		p2pnfts.ErrTokenIDAboveRange,
		p2pnfts.ErrTokenIDNotInOffer,
		p2pnfts.ErrProofInvalid,
		p2pnfts.ErrTransferNotApproved,
		p2pnfts.ErrOriginationFeeExceedsPrincipal,
		p2pnfts.ErrUpfrontFeesExceedPrincipal,
		p2pnfts.ErrBrokerFeeWithoutAddress,
		p2pnfts.ErrProtocolFeeExceedsMax,
		p2pnfts.ErrInvalidPaymentToken,
		p2pnfts.ErrInvalidSentValue,
		p2pnfts.ErrNativePaymentNotAllowed,
		p2pnfts.ErrInsufficientFunds,
		p2pnfts.ErrZeroWallet,
		p2pnfts.ErrTransferFailed,
		control.ErrExpirationTooFar,
		control.ErrBrokerIsZero,
		control.ErrBatchTooLarge,
		token.ErrInvalidAmount,
		token.ErrInsufficientBalance,
		token.ErrTransferNotApproved,
		token.ErrPunkNotForSale,
	}
)

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StatusFor maps an operation error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case matches(err, forbiddenErrors):
		return http.StatusForbidden
	case matches(err, notFoundErrors):
		return http.StatusNotFound
	case matches(err, conflictErrors):
		return http.StatusConflict
	case matches(err, badRequestErrors):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexerDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Classify labels an operation error for the operations counter. Any
// protocol rejection counts as rejected; everything else is an error.
func Classify(err error) string {
	switch StatusFor(err) {
	case http.StatusOK:
		return observability.OutcomeSuccess
	case http.StatusInternalServerError, http.StatusNotImplemented:
		return observability.OutcomeError
	default:
		return observability.OutcomeRejected
	}
}
