package lending

import (
	"fmt"
	"math/big"
)

// AssetVault abstracts the settlement layer moving currency and
// non-fungible collateral between parties. Every call is treated as an
// atomic sub-step of the enclosing engine operation: a returned error
// aborts the operation before any ledger state is persisted.
type AssetVault interface {
	TakeCustody(collection string, tokenID *big.Int, from [20]byte) error
	ReleaseCustody(collection string, tokenID *big.Int, to [20]byte) error
	PayIn(from [20]byte, amount *big.Int) error
	PayOut(to [20]byte, amount *big.Int) error
}

type vaultState interface {
	AccountGet(addr [20]byte) (*Account, bool, error)
	AccountPut(addr [20]byte, account *Account) error
	CustodyGet(collection string, tokenID *big.Int) ([20]byte, bool, error)
	CustodyPut(collection string, tokenID *big.Int, owner [20]byte) error
	CustodyDelete(collection string, tokenID *big.Int) error
}

var (
	errVaultState       = fmt.Errorf("lending vault: state not configured")
	errVaultBalance     = fmt.Errorf("lending vault: insufficient balance")
	errCustodyHeld      = fmt.Errorf("lending vault: collateral already in custody")
	errCustodyNotHeld   = fmt.Errorf("lending vault: collateral not in custody")
	errVaultZeroAccount = fmt.Errorf("lending vault: account required")
)

// LedgerVault is the on-ledger AssetVault implementation: currency balances
// and custody records live in the same storage backend as the pools. Funds
// collected by PayIn accumulate on the treasury account and leave it again
// through PayOut.
type LedgerVault struct {
	state    vaultState
	treasury [20]byte
}

// NewLedgerVault constructs a vault settling against the given treasury
// account.
func NewLedgerVault(treasury [20]byte) *LedgerVault {
	return &LedgerVault{treasury: treasury}
}

// SetState wires the vault to the persistence layer.
func (v *LedgerVault) SetState(state vaultState) { v.state = state }

// Treasury returns the account holding pooled funds.
func (v *LedgerVault) Treasury() [20]byte { return v.treasury }

// BalanceOf reports the currency balance recorded for an account.
func (v *LedgerVault) BalanceOf(addr [20]byte) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errVaultState
	}
	account, ok, err := v.state.AccountGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || account.Balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(account.Balance), nil
}

// Credit mints balance onto an account. Deployments funding accounts
// through external settlement use this at genesis and in tests.
func (v *LedgerVault) Credit(addr [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errVaultState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	account, err := v.loadAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return v.state.AccountPut(addr, account)
}

// PayIn moves currency from an account into the treasury.
func (v *LedgerVault) PayIn(from [20]byte, amount *big.Int) error {
	return v.transfer(from, v.treasury, amount)
}

// PayOut moves currency from the treasury to an account.
func (v *LedgerVault) PayOut(to [20]byte, amount *big.Int) error {
	return v.transfer(v.treasury, to, amount)
}

// TakeCustody records the collateral as held by the vault. The previous
// owner is remembered only for auditability; release targets are explicit.
func (v *LedgerVault) TakeCustody(collection string, tokenID *big.Int, from [20]byte) error {
	if v == nil || v.state == nil {
		return errVaultState
	}
	if tokenID == nil {
		return fmt.Errorf("lending vault: token id required")
	}
	_, held, err := v.state.CustodyGet(collection, tokenID)
	if err != nil {
		return err
	}
	if held {
		return errCustodyHeld
	}
	return v.state.CustodyPut(collection, tokenID, from)
}

// ReleaseCustody returns the collateral to the given account.
func (v *LedgerVault) ReleaseCustody(collection string, tokenID *big.Int, to [20]byte) error {
	if v == nil || v.state == nil {
		return errVaultState
	}
	if tokenID == nil {
		return fmt.Errorf("lending vault: token id required")
	}
	_, held, err := v.state.CustodyGet(collection, tokenID)
	if err != nil {
		return err
	}
	if !held {
		return errCustodyNotHeld
	}
	return v.state.CustodyDelete(collection, tokenID)
}

// CustodyOwner reports the account that surrendered the collateral, when
// the vault currently holds it.
func (v *LedgerVault) CustodyOwner(collection string, tokenID *big.Int) ([20]byte, bool, error) {
	if v == nil || v.state == nil {
		return [20]byte{}, false, errVaultState
	}
	return v.state.CustodyGet(collection, tokenID)
}

func (v *LedgerVault) transfer(from, to [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errVaultState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	var zero [20]byte
	if from == zero || to == zero {
		return errVaultZeroAccount
	}
	source, err := v.loadAccount(from)
	if err != nil {
		return err
	}
	if source.Balance.Cmp(amount) < 0 {
		return errVaultBalance
	}
	dest, err := v.loadAccount(to)
	if err != nil {
		return err
	}
	source.Balance = new(big.Int).Sub(source.Balance, amount)
	dest.Balance = new(big.Int).Add(dest.Balance, amount)
	if err := v.state.AccountPut(from, source); err != nil {
		return err
	}
	return v.state.AccountPut(to, dest)
}

func (v *LedgerVault) loadAccount(addr [20]byte) (*Account, error) {
	account, ok, err := v.state.AccountGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || account == nil {
		return &Account{Balance: big.NewInt(0)}, nil
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}
