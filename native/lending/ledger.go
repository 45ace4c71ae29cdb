package lending

import (
	"bytes"
	"fmt"
	"math/big"
)

type ledgerState interface {
	AdminSettingsGet() (*AdminSettings, bool, error)
	NextPoolID() (uint64, error)
	PoolGet(id uint64) (*Pool, bool, error)
	PoolPut(*Pool) error
	PoolsByOwner(owner [20]byte) ([]*Pool, error)
}

// PoolLedger manages the set of lending pools: creation, owner updates,
// capital withdrawal and lookups. Loan-driven balance movements go through
// the loan engine, which shares the same persisted pool records.
type PoolLedger struct {
	state ledgerState
	vault AssetVault
}

// NewPoolLedger constructs an unwired pool ledger.
func NewPoolLedger() *PoolLedger { return &PoolLedger{} }

// SetState wires the ledger to the persistence layer.
func (l *PoolLedger) SetState(state ledgerState) { l.state = state }

// SetVault wires the ledger to the settlement collaborator.
func (l *PoolLedger) SetVault(vault AssetVault) { l.vault = vault }

// CreatePool validates the requested collections against the global
// allow-list and the payment against the configured minimum, collects the
// payment and allocates the next sequential pool.
func (l *PoolLedger) CreatePool(owner [20]byte, params PoolParams, collections []string, payment *big.Int) (*Pool, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	settings, err := l.settings()
	if err != nil {
		return nil, err
	}
	allowed, err := checkCollections(collections, settings)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if payment.Cmp(settings.MinDepositAmount) < 0 {
		return nil, ErrInsufficientDeposit
	}
	if err := l.vault.PayIn(owner, payment); err != nil {
		return nil, err
	}
	id, err := l.state.NextPoolID()
	if err != nil {
		return nil, err
	}
	pool := &Pool{
		ID:                 id,
		Owner:              owner,
		PoolParams:         params,
		AllowedCollections: allowed,
		DepositedAmount:    new(big.Int).Set(payment),
		AvailableAmount:    new(big.Int).Set(payment),
	}
	if err := l.state.PoolPut(pool); err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// UpdatePool replaces the pool's lending terms wholesale and tops up its
// balance with the optional payment. Only the pool owner may update.
func (l *PoolLedger) UpdatePool(poolID uint64, caller [20]byte, params PoolParams, collections []string, payment *big.Int) (*Pool, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	pool, ok, err := l.state.PoolGet(poolID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !bytes.Equal(caller[:], pool.Owner[:]) {
		return nil, ErrUnauthorized
	}
	settings, err := l.settings()
	if err != nil {
		return nil, err
	}
	allowed, err := checkCollections(collections, settings)
	if err != nil {
		return nil, err
	}
	if payment != nil && payment.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if payment != nil && payment.Sign() > 0 {
		if err := l.vault.PayIn(caller, payment); err != nil {
			return nil, err
		}
	}
	updated := pool.Clone()
	updated.PoolParams = params
	updated.AllowedCollections = allowed
	if payment != nil && payment.Sign() > 0 {
		updated.DepositedAmount.Add(updated.DepositedAmount, payment)
		updated.AvailableAmount.Add(updated.AvailableAmount, payment)
	}
	if err := l.state.PoolPut(updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// Withdraw releases idle liquidity back to the pool owner. The amount is
// bounded by AvailableAmount so capital locked in active loans stays put.
func (l *PoolLedger) Withdraw(poolID uint64, caller [20]byte, amount *big.Int) (*Pool, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pool, ok, err := l.state.PoolGet(poolID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !bytes.Equal(caller[:], pool.Owner[:]) {
		return nil, ErrUnauthorized
	}
	if pool.AvailableAmount == nil || pool.AvailableAmount.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := l.vault.PayOut(caller, amount); err != nil {
		return nil, err
	}
	updated := pool.Clone()
	updated.AvailableAmount.Sub(updated.AvailableAmount, amount)
	updated.DepositedAmount.Sub(updated.DepositedAmount, amount)
	if err := l.state.PoolPut(updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// GetByID returns the pool for the given id.
func (l *PoolLedger) GetByID(poolID uint64) (*Pool, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("lending ledger: state not configured")
	}
	pool, ok, err := l.state.PoolGet(poolID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return pool.Clone(), nil
}

// GetByOwner returns all pools created by the owner. An owner without
// pools yields an empty slice, not an error.
func (l *PoolLedger) GetByOwner(owner [20]byte) ([]*Pool, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("lending ledger: state not configured")
	}
	pools, err := l.state.PoolsByOwner(owner)
	if err != nil {
		return nil, err
	}
	out := make([]*Pool, 0, len(pools))
	for _, pool := range pools {
		out = append(out, pool.Clone())
	}
	return out, nil
}

func (l *PoolLedger) ready() error {
	if l == nil || l.state == nil {
		return fmt.Errorf("lending ledger: state not configured")
	}
	if l.vault == nil {
		return fmt.Errorf("lending ledger: vault not configured")
	}
	return nil
}

func (l *PoolLedger) settings() (*AdminSettings, error) {
	settings, ok, err := l.state.AdminSettingsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return settings, nil
}

// checkCollections canonicalizes the requested allow-list and rejects any
// entry missing from the global verified set. The membership check happens
// at write time only; later global removals do not shrink existing pools.
func checkCollections(collections []string, settings *AdminSettings) ([]string, error) {
	normalized, err := NormalizeCollections(collections)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCollection, err)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: at least one collection required", ErrUnsupportedCollection)
	}
	for _, c := range normalized {
		if !settings.Verified(c) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCollection, c)
		}
	}
	return normalized, nil
}

// reserveLiquidity locks principal for a new loan on a cloned pool record.
func reserveLiquidity(pool *Pool, amount *big.Int) error {
	if pool.AvailableAmount == nil || pool.AvailableAmount.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	pool.AvailableAmount.Sub(pool.AvailableAmount, amount)
	return nil
}

// releaseLiquidity returns principal and credits the lender's interest
// share. The interest grows both balances so AvailableAmount never exceeds
// DepositedAmount.
func releaseLiquidity(pool *Pool, principal, interest *big.Int) {
	pool.AvailableAmount.Add(pool.AvailableAmount, principal)
	if interest != nil && interest.Sign() > 0 {
		pool.AvailableAmount.Add(pool.AvailableAmount, interest)
		pool.DepositedAmount.Add(pool.DepositedAmount, interest)
	}
}
