package lending

import (
	"fmt"
	"math/big"
	"strings"
)

// RateTier selects which repayment accrual regime applies to loans funded
// from a pool.
type RateTier uint8

const (
	// TierLinear accrues the penalty rate for every started day.
	TierLinear RateTier = iota
	// TierCurved accrues the penalty rate on a square-root day curve.
	TierCurved
)

// Valid reports whether the tier value is within the supported range.
func (t RateTier) Valid() bool {
	switch t {
	case TierLinear, TierCurved:
		return true
	default:
		return false
	}
}

// LoanStatus represents the lifecycle states of a loan. There is no
// defaulted state: an overdue loan simply keeps accruing until repaid.
type LoanStatus uint8

const (
	LoanActive LoanStatus = iota + 1
	LoanRepaid
)

// Valid reports whether the status value is within the supported range.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanActive, LoanRepaid:
		return true
	default:
		return false
	}
}

// MaxRateBp caps the per-pool basis-point parameters. Accrual math runs
// on arbitrary-precision integers, but terms above 100% per day are
// rejected as misconfiguration at write time.
const MaxRateBp = 10_000

// PoolParams groups the lender-tunable lending terms supplied on pool
// creation and replaced wholesale on every update.
type PoolParams struct {
	// LoanToValueBp caps the principal as basis points of the attested
	// collection floor price.
	LoanToValueBp uint64
	// RateTier selects the repayment formula branch.
	RateTier RateTier
	// BaseRateBp is the flat interest component in basis points.
	BaseRateBp uint64
	// PenaltyRateBp is the time-scaled interest component in basis points.
	PenaltyRateBp uint64
	// MaxDuration is the longest loan the pool will fund, in sequence units.
	MaxDuration uint64
	// AutoApprove is stored and forwarded unchanged; no manual approval
	// workflow exists in the engine.
	AutoApprove bool
}

// Validate checks the lending terms are within protocol bounds.
func (p PoolParams) Validate() error {
	if !p.RateTier.Valid() {
		return fmt.Errorf("%w: unknown rate tier %d", ErrInvalidParams, p.RateTier)
	}
	if p.LoanToValueBp == 0 || p.LoanToValueBp > MaxRateBp {
		return fmt.Errorf("%w: loan-to-value must be within (0, %d] basis points", ErrInvalidParams, MaxRateBp)
	}
	if p.BaseRateBp > MaxRateBp {
		return fmt.Errorf("%w: base rate above %d basis points", ErrInvalidParams, MaxRateBp)
	}
	if p.PenaltyRateBp > MaxRateBp {
		return fmt.Errorf("%w: penalty rate above %d basis points", ErrInvalidParams, MaxRateBp)
	}
	if p.MaxDuration == 0 {
		return fmt.Errorf("%w: max duration required", ErrInvalidParams)
	}
	return nil
}

// Pool is a lender-capitalized source of funds with its own lending terms
// and collateral allow-list. Pools are never destroyed, only depleted.
type Pool struct {
	ID    uint64
	Owner [20]byte
	PoolParams
	// AllowedCollections is the subset of globally verified collections the
	// pool accepts, snapshotted at creation/update time.
	AllowedCollections []string
	// DepositedAmount is total capital recorded for the pool including
	// credited interest.
	DepositedAmount *big.Int
	// AvailableAmount is the part of DepositedAmount not locked in active
	// loans. AvailableAmount <= DepositedAmount always holds.
	AvailableAmount *big.Int
}

// Clone returns a deep copy so callers can mutate freely before persisting.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AllowedCollections = append([]string(nil), p.AllowedCollections...)
	if p.DepositedAmount != nil {
		clone.DepositedAmount = new(big.Int).Set(p.DepositedAmount)
	} else {
		clone.DepositedAmount = big.NewInt(0)
	}
	if p.AvailableAmount != nil {
		clone.AvailableAmount = new(big.Int).Set(p.AvailableAmount)
	} else {
		clone.AvailableAmount = big.NewInt(0)
	}
	return &clone
}

// Allows reports whether the pool accepts the given canonical collection.
func (p *Pool) Allows(collection string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.AllowedCollections {
		if c == collection {
			return true
		}
	}
	return false
}

// Loan is an active borrowing against a pool collateralized by a single
// non-fungible token held in custody for the loan's lifetime.
type Loan struct {
	PoolID   uint64
	Borrower [20]byte
	// Collection and TokenID identify the collateral.
	Collection string
	TokenID    *big.Int
	// Principal is the currency disbursed to the borrower.
	Principal *big.Int
	// AgreedDuration is the duration negotiated at borrow time. Exceeding it
	// never expires the loan; it only feeds the repayment calculator.
	AgreedDuration uint64
	// StartTime is the sequence value at disbursement.
	StartTime uint64
	Status    LoanStatus
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.TokenID != nil {
		clone.TokenID = new(big.Int).Set(l.TokenID)
	} else {
		clone.TokenID = big.NewInt(0)
	}
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	return &clone
}

// Account tracks a currency balance held by the vault ledger.
type Account struct {
	Balance *big.Int
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}

// LoanKey identifies a loan by its owning pool and borrower.
type LoanKey struct {
	PoolID   uint64
	Borrower [20]byte
}

// NormalizeCollection canonicalizes a collateral collection identifier so
// allow-list membership and attestation matching are case-insensitive.
func NormalizeCollection(collection string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(collection))
	if trimmed == "" {
		return "", fmt.Errorf("lending: collection identifier required")
	}
	return trimmed, nil
}

// NormalizeCollections canonicalizes and de-duplicates a collection list,
// preserving first-seen order.
func NormalizeCollections(collections []string) ([]string, error) {
	out := make([]string, 0, len(collections))
	seen := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		normalized, err := NormalizeCollection(c)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}
