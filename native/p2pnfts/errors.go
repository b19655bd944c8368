package p2pnfts

import (
	"errors"

	"p2pnfts/native/ownership"
)

var (
	errNilState    = errors.New("p2pnfts: state not configured")
	errNilGateway  = errors.New("p2pnfts: collateral gateway not configured")
	errNilRails    = errors.New("p2pnfts: payment rails not configured")
	errNilEscrow   = errors.New("p2pnfts: collateral transfers not configured")
	errNilChainID  = errors.New("p2pnfts: chain id not configured")
	errAmountRange = errors.New("p2pnfts: amount out of uint256 range")
)

// Authorization.
var (
	ErrNotOwner         = ownership.ErrNotOwner
	ErrNotProposedOwner = ownership.ErrNotProposedOwner
	ErrZeroAddress      = ownership.ErrZeroAddress
	ErrNotLender        = errors.New("p2pnfts: not lender")
	ErrNotBorrower      = errors.New("p2pnfts: not borrower")
)

// Offer validity.
var (
	ErrSignatureInvalid    = errors.New("p2pnfts: offer not signed by lender")
	ErrOfferExpired        = errors.New("p2pnfts: offer expired")
	ErrOfferRevoked        = errors.New("p2pnfts: offer revoked")
	ErrOfferFullyUtilized  = errors.New("p2pnfts: offer fully utilized")
	ErrOfferAlreadyRevoked = errors.New("p2pnfts: offer already revoked")
	ErrInvalidOfferType    = errors.New("p2pnfts: invalid offer type")
)

// Collateral validity.
var (
	ErrCollateralNotWhitelisted   = errors.New("p2pnfts: collateral not whitelisted")
	ErrCollateralLocked           = errors.New("p2pnfts: collateral locked")
	ErrCollateralContractMismatch = errors.New("p2pnfts: collateral contract mismatch")
	ErrTokenIDBelowRange          = errors.New("p2pnfts: tokenid below offer range")
	ErrTokenIDAboveRange          = errors.New("p2pnfts: tokenid above offer range")
	ErrTokenIDNotInOffer          = errors.New("p2pnfts: token id not in offer")
	ErrProofInvalid               = errors.New("p2pnfts: proof invalid")
	ErrTransferNotApproved        = errors.New("p2pnfts: transfer is not approved")
)

// Economic validity.
var (
	ErrOriginationFeeExceedsPrincipal = errors.New("p2pnfts: origination fee gt principal")
	ErrUpfrontFeesExceedPrincipal     = errors.New("p2pnfts: upfront fees gt principal")
	ErrBrokerFeeWithoutAddress        = errors.New("p2pnfts: broker fee without address")
	ErrProtocolFeeExceedsMax          = errors.New("p2pnfts: protocol fee gt max")
	ErrInvalidPaymentToken            = errors.New("p2pnfts: invalid payment token")
	ErrInvalidSentValue               = errors.New("p2pnfts: invalid sent value")
	ErrNativePaymentNotAllowed        = errors.New("p2pnfts: native payment not allowed")
	ErrInsufficientFunds              = errors.New("p2pnfts: insufficient funds")
	ErrZeroWallet                     = errors.New("p2pnfts: wallet is the zero address")
)

// Loan state.
var (
	ErrInvalidLoan       = errors.New("p2pnfts: invalid loan")
	ErrLoanDefaulted     = errors.New("p2pnfts: loan defaulted")
	ErrLoanNotDefaulted  = errors.New("p2pnfts: loan not defaulted")
	ErrLoanAlreadyExists = errors.New("p2pnfts: loan already exists")
)

// Vault.
var (
	ErrNoPendingTransfers = errors.New("p2pnfts: no pending transfers")
	ErrTransferFailed     = errors.New("p2pnfts: transfer failed")
)
