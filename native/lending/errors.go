package lending

import "errors"

var (
	// ErrUnauthorized indicates the caller lacks the capability for the
	// requested mutation (admin update or pool update by a non-owner).
	ErrUnauthorized = errors.New("lending: caller not authorized")
	// ErrInvalidConfig indicates malformed admin settings.
	ErrInvalidConfig = errors.New("lending: invalid admin settings")
	// ErrUnsupportedCollection indicates a collateral collection outside the
	// relevant allow-list.
	ErrUnsupportedCollection = errors.New("lending: unsupported collection")
	// ErrInsufficientDeposit indicates a pool creation payment below the
	// configured minimum.
	ErrInsufficientDeposit = errors.New("lending: deposit below minimum")
	// ErrInsufficientLiquidity indicates the pool cannot cover the requested
	// principal.
	ErrInsufficientLiquidity = errors.New("lending: insufficient pool liquidity")
	// ErrInsufficientPayment indicates a repayment below the amount due.
	ErrInsufficientPayment = errors.New("lending: payment below amount due")
	// ErrInvalidParams indicates pool lending terms outside protocol bounds.
	ErrInvalidParams = errors.New("lending: invalid pool parameters")
	// ErrInvalidDuration rejects a borrow request without a duration.
	ErrInvalidDuration = errors.New("lending: requested duration required")
	// ErrDurationExceeded indicates a requested duration above the pool cap.
	ErrDurationExceeded = errors.New("lending: duration exceeds pool maximum")
	// ErrExceedsLoanToValue indicates a principal above the attested
	// floor-price LTV cap.
	ErrExceedsLoanToValue = errors.New("lending: amount exceeds loan-to-value cap")
	// ErrInvalidSignature indicates the attestation was not signed by the
	// trusted oracle account.
	ErrInvalidSignature = errors.New("lending: attestation signature invalid")
	// ErrStaleAttestation indicates the attestation sequence falls outside
	// the freshness window.
	ErrStaleAttestation = errors.New("lending: attestation outside freshness window")
	// ErrNotFound indicates a missing pool, loan or settings record.
	ErrNotFound = errors.New("lending: record not found")
	// ErrNotActive indicates an operation against a loan that already
	// reached its terminal state.
	ErrNotActive = errors.New("lending: loan not active")
	// ErrLoanExists guards the single-outstanding-loan invariant per
	// collateral and per borrower within a pool.
	ErrLoanExists = errors.New("lending: active loan already exists")
	// ErrInvalidAmount rejects zero or negative currency amounts.
	ErrInvalidAmount = errors.New("lending: amount must be positive")
)
