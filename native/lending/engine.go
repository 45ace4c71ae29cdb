package lending

import (
	"fmt"
	"math/big"
)

type engineState interface {
	AdminSettingsGet() (*AdminSettings, bool, error)
	PoolGet(id uint64) (*Pool, bool, error)
	PoolPut(*Pool) error
	LoanGet(poolID uint64, borrower [20]byte) (*Loan, bool, error)
	LoanPut(*Loan) error
	CollateralGet(collection string, tokenID *big.Int) (LoanKey, bool, error)
	CollateralPut(collection string, tokenID *big.Int, key LoanKey) error
	CollateralDelete(collection string, tokenID *big.Int) error
}

// Engine orchestrates the borrow and repay state transitions. Each
// operation runs to completion against a single writer: preconditions are
// checked first, external settlement runs second and ledger state is
// persisted last, so a failure at any step leaves no partial state.
type Engine struct {
	state         engineState
	vault         AssetVault
	verifier      *Verifier
	trustedSigner [20]byte
	sequenceFn    func() uint64
}

// NewEngine constructs a loan engine trusting the given oracle signer.
func NewEngine(trustedSigner [20]byte) *Engine {
	return &Engine{
		trustedSigner: trustedSigner,
		verifier:      NewVerifier(),
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault wires the engine to the settlement collaborator.
func (e *Engine) SetVault(vault AssetVault) { e.vault = vault }

// SetSequenceSource overrides the logical clock, primarily for
// deterministic testing.
func (e *Engine) SetSequenceSource(fn func() uint64) {
	if e == nil || fn == nil {
		return
	}
	e.sequenceFn = fn
}

// TrustedSigner returns the oracle account the engine accepts
// attestations from.
func (e *Engine) TrustedSigner() [20]byte { return e.trustedSigner }

// Borrow funds a loan from the pool against the attested collateral. The
// disbursed principal is capped by floorPrice * loanToValueBp / 10000 and
// by the pool's available liquidity.
func (e *Engine) Borrow(poolID uint64, borrower [20]byte, collection string, tokenID *big.Int, requestedDuration uint64, requestedAmount *big.Int, att *FloorAttestation) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if requestedAmount == nil || requestedAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if tokenID == nil || tokenID.Sign() < 0 {
		return nil, fmt.Errorf("lending engine: token id required")
	}
	normalized, err := NormalizeCollection(collection)
	if err != nil {
		return nil, err
	}

	pool, ok, err := e.state.PoolGet(poolID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !pool.Allows(normalized) {
		return nil, ErrUnsupportedCollection
	}
	if requestedDuration == 0 {
		return nil, ErrInvalidDuration
	}
	if requestedDuration > pool.MaxDuration {
		return nil, ErrDurationExceeded
	}

	settings, err := e.settings()
	if err != nil {
		return nil, err
	}
	if att == nil || att.Collection != normalized {
		return nil, ErrInvalidSignature
	}
	now := e.sequence()
	if err := e.verifier.Verify(att, e.trustedSigner, now, settings.OracleFreshnessWindow); err != nil {
		return nil, err
	}

	maxLoan := new(big.Int).Mul(att.FloorPrice, new(big.Int).SetUint64(pool.LoanToValueBp))
	maxLoan.Quo(maxLoan, basisPoints)
	if requestedAmount.Cmp(maxLoan) > 0 {
		return nil, ErrExceedsLoanToValue
	}

	if existing, ok, err := e.state.LoanGet(poolID, borrower); err != nil {
		return nil, err
	} else if ok && existing.Status == LoanActive {
		return nil, ErrLoanExists
	}
	if _, held, err := e.state.CollateralGet(normalized, tokenID); err != nil {
		return nil, err
	} else if held {
		return nil, ErrLoanExists
	}

	funded := pool.Clone()
	if err := reserveLiquidity(funded, requestedAmount); err != nil {
		return nil, err
	}

	if err := e.vault.TakeCustody(normalized, tokenID, borrower); err != nil {
		return nil, err
	}
	if err := e.vault.PayOut(borrower, requestedAmount); err != nil {
		// Undo the custody transfer so an aborted borrow releases the
		// collateral back to the borrower.
		_ = e.vault.ReleaseCustody(normalized, tokenID, borrower)
		return nil, err
	}

	loan := &Loan{
		PoolID:         poolID,
		Borrower:       borrower,
		Collection:     normalized,
		TokenID:        new(big.Int).Set(tokenID),
		Principal:      new(big.Int).Set(requestedAmount),
		AgreedDuration: requestedDuration,
		StartTime:      now,
		Status:         LoanActive,
	}
	if err := e.state.PoolPut(funded); err != nil {
		return nil, err
	}
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	if err := e.state.CollateralPut(normalized, tokenID, LoanKey{PoolID: poolID, Borrower: borrower}); err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// RepayReceipt reports the settlement breakdown of a completed repayment.
type RepayReceipt struct {
	Loan *Loan
	// Owed is the total amount due, principal plus accrued interest.
	Owed *big.Int
	// Interest is the accrued interest portion of Owed.
	Interest *big.Int
	// PlatformFee is the share of Interest routed to the fee recipient.
	PlatformFee *big.Int
	// LenderShare is the net-of-fee interest credited to the pool.
	LenderShare *big.Int
	// Refund is the part of the submitted payment above Owed. It is never
	// collected from the payer.
	Refund *big.Int
}

// Repay settles the active loan for (poolID, borrower). Any payer may
// settle; the collateral always returns to the original borrower. Only the
// owed amount is drawn from the payer, so an overpayment is refunded by
// construction.
func (e *Engine) Repay(poolID uint64, borrower, payer [20]byte, payment *big.Int) (*RepayReceipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if payment == nil || payment.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	loan, ok, err := e.state.LoanGet(poolID, borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if loan.Status != LoanActive {
		return nil, ErrNotActive
	}
	pool, ok, err := e.state.PoolGet(poolID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	settings, err := e.settings()
	if err != nil {
		return nil, err
	}

	now := e.sequence()
	var elapsed uint64
	if now > loan.StartTime {
		elapsed = now - loan.StartTime
	}
	owed := AmountDue(elapsed, pool.RateTier, pool.BaseRateBp, pool.PenaltyRateBp, loan.Principal)
	if payment.Cmp(owed) < 0 {
		return nil, ErrInsufficientPayment
	}

	interest := new(big.Int).Sub(owed, loan.Principal)
	fee := new(big.Int).Mul(interest, new(big.Int).SetUint64(settings.PlatformFeeBp))
	fee.Quo(fee, basisPoints)
	lenderShare := new(big.Int).Sub(interest, fee)

	if err := e.vault.PayIn(payer, owed); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.vault.PayOut(settings.FeeRecipient, fee); err != nil {
			return nil, err
		}
	}
	if err := e.vault.ReleaseCustody(loan.Collection, loan.TokenID, loan.Borrower); err != nil {
		return nil, err
	}

	settled := loan.Clone()
	settled.Status = LoanRepaid
	credited := pool.Clone()
	releaseLiquidity(credited, settled.Principal, lenderShare)

	if err := e.state.PoolPut(credited); err != nil {
		return nil, err
	}
	if err := e.state.LoanPut(settled); err != nil {
		return nil, err
	}
	if err := e.state.CollateralDelete(settled.Collection, settled.TokenID); err != nil {
		return nil, err
	}

	return &RepayReceipt{
		Loan:        settled.Clone(),
		Owed:        owed,
		Interest:    interest,
		PlatformFee: fee,
		LenderShare: lenderShare,
		Refund:      new(big.Int).Sub(payment, owed),
	}, nil
}

// GetLoan returns the most recent loan recorded for (poolID, borrower).
func (e *Engine) GetLoan(poolID uint64, borrower [20]byte) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("lending engine: state not configured")
	}
	loan, ok, err := e.state.LoanGet(poolID, borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return loan.Clone(), nil
}

// LoanByCollateral resolves the active loan holding the given collateral.
func (e *Engine) LoanByCollateral(collection string, tokenID *big.Int) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("lending engine: state not configured")
	}
	normalized, err := NormalizeCollection(collection)
	if err != nil {
		return nil, err
	}
	key, ok, err := e.state.CollateralGet(normalized, tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return e.GetLoan(key.PoolID, key.Borrower)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return fmt.Errorf("lending engine: state not configured")
	}
	if e.vault == nil {
		return fmt.Errorf("lending engine: vault not configured")
	}
	if e.sequenceFn == nil {
		return fmt.Errorf("lending engine: sequence source not configured")
	}
	return nil
}

func (e *Engine) settings() (*AdminSettings, error) {
	settings, ok, err := e.state.AdminSettingsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return settings, nil
}

func (e *Engine) sequence() uint64 {
	return e.sequenceFn()
}
