package lending

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/storage"
)

var (
	adminSettingsKey = []byte("lending/admin/settings")
	poolCounterKey   = []byte("lending/pool/counter")
	poolPrefix       = []byte("lending/pool/id/")
	poolOwnerPrefix  = []byte("lending/pool/owner/")
	loanPrefix       = []byte("lending/loan/")
	collateralPrefix = []byte("lending/collateral/")
	accountPrefix    = []byte("lending/account/")
	custodyPrefix    = []byte("lending/custody/")
)

func poolKey(id uint64) []byte {
	buf := make([]byte, len(poolPrefix)+8)
	copy(buf, poolPrefix)
	binary.BigEndian.PutUint64(buf[len(poolPrefix):], id)
	return buf
}

func poolOwnerKey(owner [20]byte) []byte {
	encoded := hex.EncodeToString(owner[:])
	buf := make([]byte, len(poolOwnerPrefix)+len(encoded))
	copy(buf, poolOwnerPrefix)
	copy(buf[len(poolOwnerPrefix):], encoded)
	return buf
}

func loanKey(poolID uint64, borrower [20]byte) []byte {
	suffix := fmt.Sprintf("%d/%s", poolID, hex.EncodeToString(borrower[:]))
	buf := make([]byte, len(loanPrefix)+len(suffix))
	copy(buf, loanPrefix)
	copy(buf[len(loanPrefix):], suffix)
	return buf
}

func collateralStorageKey(prefix []byte, collection string, tokenID *big.Int) []byte {
	suffix := fmt.Sprintf("%s/%s", collection, tokenID.String())
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

func accountKey(addr [20]byte) []byte {
	encoded := hex.EncodeToString(addr[:])
	buf := make([]byte, len(accountPrefix)+len(encoded))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], encoded)
	return buf
}

// State persists the lending ledger into a key-value backend. It is the
// production implementation of the narrow state interfaces declared by the
// registry, pool ledger, loan engine and vault.
type State struct {
	db storage.Database
}

// NewState constructs a state layer over the given database.
func NewState(db storage.Database) *State {
	return &State{db: db}
}

type storedAdminSettings struct {
	FeeRecipient          string   `json:"feeRecipient"`
	MinDepositAmount      string   `json:"minDepositAmount"`
	VerifiedCollections   []string `json:"verifiedCollections"`
	PlatformFeeBp         uint64   `json:"platformFeeBp"`
	OracleFreshnessWindow uint64   `json:"oracleFreshnessWindow"`
}

type storedPool struct {
	ID                 uint64   `json:"id"`
	Owner              string   `json:"owner"`
	LoanToValueBp      uint64   `json:"loanToValueBp"`
	RateTier           uint8    `json:"rateTier"`
	BaseRateBp         uint64   `json:"baseRateBp"`
	PenaltyRateBp      uint64   `json:"penaltyRateBp"`
	MaxDuration        uint64   `json:"maxDuration"`
	AutoApprove        bool     `json:"autoApprove"`
	AllowedCollections []string `json:"allowedCollections"`
	DepositedAmount    string   `json:"depositedAmount"`
	AvailableAmount    string   `json:"availableAmount"`
}

type storedLoan struct {
	PoolID         uint64 `json:"poolId"`
	Borrower       string `json:"borrower"`
	Collection     string `json:"collection"`
	TokenID        string `json:"tokenId"`
	Principal      string `json:"principal"`
	AgreedDuration uint64 `json:"agreedDuration"`
	StartTime      uint64 `json:"startTime"`
	Status         uint8  `json:"status"`
}

type storedLoanKey struct {
	PoolID   uint64 `json:"poolId"`
	Borrower string `json:"borrower"`
}

type storedAccount struct {
	Balance string `json:"balance"`
}

// --- registryState ---

func (s *State) AdminSettingsGet() (*AdminSettings, bool, error) {
	raw, ok, err := s.get(adminSettingsKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedAdminSettings
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("lending state: decode admin settings: %w", err)
	}
	recipient, err := decodeAddr(stored.FeeRecipient)
	if err != nil {
		return nil, false, fmt.Errorf("lending state: decode admin settings: %w", err)
	}
	minDeposit, err := decodeAmount(stored.MinDepositAmount)
	if err != nil {
		return nil, false, fmt.Errorf("lending state: decode admin settings: %w", err)
	}
	settings := &AdminSettings{
		FeeRecipient:          recipient,
		MinDepositAmount:      minDeposit,
		VerifiedCollections:   append([]string(nil), stored.VerifiedCollections...),
		PlatformFeeBp:         stored.PlatformFeeBp,
		OracleFreshnessWindow: stored.OracleFreshnessWindow,
	}
	return settings, true, nil
}

func (s *State) AdminSettingsPut(settings *AdminSettings) error {
	if settings == nil {
		return fmt.Errorf("lending state: nil admin settings")
	}
	stored := storedAdminSettings{
		FeeRecipient:          hex.EncodeToString(settings.FeeRecipient[:]),
		MinDepositAmount:      encodeAmount(settings.MinDepositAmount),
		VerifiedCollections:   append([]string(nil), settings.VerifiedCollections...),
		PlatformFeeBp:         settings.PlatformFeeBp,
		OracleFreshnessWindow: settings.OracleFreshnessWindow,
	}
	return s.put(adminSettingsKey, stored)
}

// --- ledgerState ---

func (s *State) NextPoolID() (uint64, error) {
	raw, ok, err := s.get(poolCounterKey)
	if err != nil {
		return 0, err
	}
	var next uint64
	if ok {
		if len(raw) != 8 {
			return 0, fmt.Errorf("lending state: malformed pool counter")
		}
		next = binary.BigEndian.Uint64(raw)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next+1)
	if err := s.db.Put(poolCounterKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *State) PoolGet(id uint64) (*Pool, bool, error) {
	raw, ok, err := s.get(poolKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedPool
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("lending state: decode pool %d: %w", id, err)
	}
	pool, err := stored.toPool()
	if err != nil {
		return nil, false, fmt.Errorf("lending state: decode pool %d: %w", id, err)
	}
	return pool, true, nil
}

func (s *State) PoolPut(pool *Pool) error {
	if pool == nil {
		return fmt.Errorf("lending state: nil pool")
	}
	stored := storedPool{
		ID:                 pool.ID,
		Owner:              hex.EncodeToString(pool.Owner[:]),
		LoanToValueBp:      pool.LoanToValueBp,
		RateTier:           uint8(pool.RateTier),
		BaseRateBp:         pool.BaseRateBp,
		PenaltyRateBp:      pool.PenaltyRateBp,
		MaxDuration:        pool.MaxDuration,
		AutoApprove:        pool.AutoApprove,
		AllowedCollections: append([]string(nil), pool.AllowedCollections...),
		DepositedAmount:    encodeAmount(pool.DepositedAmount),
		AvailableAmount:    encodeAmount(pool.AvailableAmount),
	}
	if err := s.put(poolKey(pool.ID), stored); err != nil {
		return err
	}
	return s.indexPoolOwner(pool.Owner, pool.ID)
}

func (s *State) PoolsByOwner(owner [20]byte) ([]*Pool, error) {
	ids, err := s.ownerPoolIDs(owner)
	if err != nil {
		return nil, err
	}
	pools := make([]*Pool, 0, len(ids))
	for _, id := range ids {
		pool, ok, err := s.PoolGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			pools = append(pools, pool)
		}
	}
	return pools, nil
}

func (s *State) indexPoolOwner(owner [20]byte, id uint64) error {
	ids, err := s.ownerPoolIDs(owner)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	return s.put(poolOwnerKey(owner), ids)
}

func (s *State) ownerPoolIDs(owner [20]byte) ([]uint64, error) {
	raw, ok, err := s.get(poolOwnerKey(owner))
	if err != nil || !ok {
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("lending state: decode owner index: %w", err)
	}
	return ids, nil
}

// --- engineState ---

func (s *State) LoanGet(poolID uint64, borrower [20]byte) (*Loan, bool, error) {
	raw, ok, err := s.get(loanKey(poolID, borrower))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedLoan
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("lending state: decode loan: %w", err)
	}
	loan, err := stored.toLoan()
	if err != nil {
		return nil, false, fmt.Errorf("lending state: decode loan: %w", err)
	}
	return loan, true, nil
}

func (s *State) LoanPut(loan *Loan) error {
	if loan == nil {
		return fmt.Errorf("lending state: nil loan")
	}
	stored := storedLoan{
		PoolID:         loan.PoolID,
		Borrower:       hex.EncodeToString(loan.Borrower[:]),
		Collection:     loan.Collection,
		TokenID:        encodeAmount(loan.TokenID),
		Principal:      encodeAmount(loan.Principal),
		AgreedDuration: loan.AgreedDuration,
		StartTime:      loan.StartTime,
		Status:         uint8(loan.Status),
	}
	return s.put(loanKey(loan.PoolID, loan.Borrower), stored)
}

func (s *State) CollateralGet(collection string, tokenID *big.Int) (LoanKey, bool, error) {
	raw, ok, err := s.get(collateralStorageKey(collateralPrefix, collection, tokenID))
	if err != nil || !ok {
		return LoanKey{}, false, err
	}
	var stored storedLoanKey
	if err := json.Unmarshal(raw, &stored); err != nil {
		return LoanKey{}, false, fmt.Errorf("lending state: decode collateral index: %w", err)
	}
	borrower, err := decodeAddr(stored.Borrower)
	if err != nil {
		return LoanKey{}, false, fmt.Errorf("lending state: decode collateral index: %w", err)
	}
	return LoanKey{PoolID: stored.PoolID, Borrower: borrower}, true, nil
}

func (s *State) CollateralPut(collection string, tokenID *big.Int, key LoanKey) error {
	stored := storedLoanKey{PoolID: key.PoolID, Borrower: hex.EncodeToString(key.Borrower[:])}
	return s.put(collateralStorageKey(collateralPrefix, collection, tokenID), stored)
}

func (s *State) CollateralDelete(collection string, tokenID *big.Int) error {
	return s.db.Delete(collateralStorageKey(collateralPrefix, collection, tokenID))
}

// --- vaultState ---

func (s *State) AccountGet(addr [20]byte) (*Account, bool, error) {
	raw, ok, err := s.get(accountKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedAccount
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("lending state: decode account: %w", err)
	}
	balance, err := decodeAmount(stored.Balance)
	if err != nil {
		return nil, false, fmt.Errorf("lending state: decode account: %w", err)
	}
	return &Account{Balance: balance}, true, nil
}

func (s *State) AccountPut(addr [20]byte, account *Account) error {
	if account == nil {
		return fmt.Errorf("lending state: nil account")
	}
	return s.put(accountKey(addr), storedAccount{Balance: encodeAmount(account.Balance)})
}

func (s *State) CustodyGet(collection string, tokenID *big.Int) ([20]byte, bool, error) {
	raw, ok, err := s.get(collateralStorageKey(custodyPrefix, collection, tokenID))
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return [20]byte{}, false, fmt.Errorf("lending state: decode custody record: %w", err)
	}
	owner, err := decodeAddr(encoded)
	if err != nil {
		return [20]byte{}, false, fmt.Errorf("lending state: decode custody record: %w", err)
	}
	return owner, true, nil
}

func (s *State) CustodyPut(collection string, tokenID *big.Int, owner [20]byte) error {
	return s.put(collateralStorageKey(custodyPrefix, collection, tokenID), hex.EncodeToString(owner[:]))
}

func (s *State) CustodyDelete(collection string, tokenID *big.Int) error {
	return s.db.Delete(collateralStorageKey(custodyPrefix, collection, tokenID))
}

// --- helpers ---

func (s *State) get(key []byte) ([]byte, bool, error) {
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *State) put(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("lending state: encode record: %w", err)
	}
	return s.db.Put(key, raw)
}

func (sp storedPool) toPool() (*Pool, error) {
	owner, err := decodeAddr(sp.Owner)
	if err != nil {
		return nil, err
	}
	deposited, err := decodeAmount(sp.DepositedAmount)
	if err != nil {
		return nil, err
	}
	available, err := decodeAmount(sp.AvailableAmount)
	if err != nil {
		return nil, err
	}
	return &Pool{
		ID:    sp.ID,
		Owner: owner,
		PoolParams: PoolParams{
			LoanToValueBp: sp.LoanToValueBp,
			RateTier:      RateTier(sp.RateTier),
			BaseRateBp:    sp.BaseRateBp,
			PenaltyRateBp: sp.PenaltyRateBp,
			MaxDuration:   sp.MaxDuration,
			AutoApprove:   sp.AutoApprove,
		},
		AllowedCollections: append([]string(nil), sp.AllowedCollections...),
		DepositedAmount:    deposited,
		AvailableAmount:    available,
	}, nil
}

func (sl storedLoan) toLoan() (*Loan, error) {
	borrower, err := decodeAddr(sl.Borrower)
	if err != nil {
		return nil, err
	}
	tokenID, err := decodeAmount(sl.TokenID)
	if err != nil {
		return nil, err
	}
	principal, err := decodeAmount(sl.Principal)
	if err != nil {
		return nil, err
	}
	return &Loan{
		PoolID:         sl.PoolID,
		Borrower:       borrower,
		Collection:     sl.Collection,
		TokenID:        tokenID,
		Principal:      principal,
		AgreedDuration: sl.AgreedDuration,
		StartTime:      sl.StartTime,
		Status:         LoanStatus(sl.Status),
	}, nil
}

func encodeAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func decodeAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func decodeAddr(value string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(value)
	if err != nil {
		return out, fmt.Errorf("invalid address %q", value)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
