package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/crypto"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/native/lending"
)

type adminSettingsPayload struct {
	FeeRecipient          string   `json:"feeRecipient"`
	MinDepositAmount      string   `json:"minDepositAmount"`
	VerifiedCollections   []string `json:"verifiedCollections"`
	PlatformFeeBp         uint64   `json:"platformFeeBp"`
	OracleFreshnessWindow uint64   `json:"oracleFreshnessWindow"`
}

type updateSettingsParams struct {
	Caller string `json:"caller"`
	adminSettingsPayload
}

type poolParamsPayload struct {
	LoanToValueBp uint64 `json:"loanToValueBp"`
	RateTier      uint8  `json:"rateTier"`
	BaseRateBp    uint64 `json:"baseRateBp"`
	PenaltyRateBp uint64 `json:"penaltyRateBp"`
	MaxDuration   uint64 `json:"maxDuration"`
	AutoApprove   bool   `json:"autoApprove"`
}

type createPoolParams struct {
	Owner       string   `json:"owner"`
	Payment     string   `json:"payment"`
	Collections []string `json:"collections"`
	poolParamsPayload
}

type updatePoolParams struct {
	PoolID      uint64   `json:"poolId"`
	Caller      string   `json:"caller"`
	Payment     string   `json:"payment,omitempty"`
	Collections []string `json:"collections"`
	poolParamsPayload
}

type withdrawParams struct {
	PoolID uint64 `json:"poolId"`
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type getPoolParams struct {
	PoolID uint64 `json:"poolId"`
}

type getPoolsByOwnerParams struct {
	Owner string `json:"owner"`
}

type borrowParams struct {
	PoolID          uint64 `json:"poolId"`
	Borrower        string `json:"borrower"`
	Collection      string `json:"collection"`
	TokenID         string `json:"tokenId"`
	Duration        uint64 `json:"duration"`
	Amount          string `json:"amount"`
	FloorPrice      string `json:"floorPrice"`
	OracleSequence  uint64 `json:"oracleSequence"`
	OracleSignature string `json:"oracleSignature"`
}

type repayParams struct {
	PoolID   uint64 `json:"poolId"`
	Borrower string `json:"borrower"`
	Payer    string `json:"payer,omitempty"`
	Payment  string `json:"payment"`
}

type getLoanParams struct {
	PoolID   uint64 `json:"poolId"`
	Borrower string `json:"borrower"`
}

type getLoanByCollateralParams struct {
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type creditParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type poolResult struct {
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

type loanResult struct {
	PoolID         uint64 `json:"poolId"`
	Borrower       string `json:"borrower"`
	Collection     string `json:"collection"`
	TokenID        string `json:"tokenId"`
	Principal      string `json:"principal"`
	AgreedDuration uint64 `json:"agreedDuration"`
	StartTime      uint64 `json:"startTime"`
	Status         string `json:"status"`
}

type repayResult struct {
	Loan        loanResult `json:"loan"`
	Owed        string     `json:"owed"`
	Interest    string     `json:"interest"`
	PlatformFee string     `json:"platformFee"`
	LenderShare string     `json:"lenderShare"`
	Refund      string     `json:"refund"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func poolToResult(pool *lending.Pool) poolResult {
	return poolResult{
		ID:                 pool.ID,
		Owner:              crypto.NewAddress(pool.Owner[:]).String(),
		LoanToValueBp:      pool.LoanToValueBp,
		RateTier:           uint8(pool.RateTier),
		BaseRateBp:         pool.BaseRateBp,
		PenaltyRateBp:      pool.PenaltyRateBp,
		MaxDuration:        pool.MaxDuration,
		AutoApprove:        pool.AutoApprove,
		AllowedCollections: pool.AllowedCollections,
		DepositedAmount:    pool.DepositedAmount.String(),
		AvailableAmount:    pool.AvailableAmount.String(),
	}
}

func loanToResult(loan *lending.Loan) loanResult {
	status := "active"
	if loan.Status == lending.LoanRepaid {
		status = "repaid"
	}
	return loanResult{
		PoolID:         loan.PoolID,
		Borrower:       crypto.NewAddress(loan.Borrower[:]).String(),
		Collection:     loan.Collection,
		TokenID:        loan.TokenID.String(),
		Principal:      loan.Principal.String(),
		AgreedDuration: loan.AgreedDuration,
		StartTime:      loan.StartTime,
		Status:         status,
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseOptionalAmount(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseAmount(value)
}

func decodeHexSignature(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("signature required")
	}
	return hex.DecodeString(trimmed)
}

// writeLendingError maps ledger errors onto stable RPC codes so clients
// can distinguish a rejection from an internal fault.
func writeLendingError(w http.ResponseWriter, id interface{}, err error) string {
	status := http.StatusBadRequest
	code := codeInvalidParams
	switch {
	case errors.Is(err, lending.ErrNotFound):
		status = http.StatusNotFound
		code = codeServerError
	case errors.Is(err, lending.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeUnauthorized
	case errors.Is(err, lending.ErrUnsupportedCollection),
		errors.Is(err, lending.ErrInsufficientDeposit),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientPayment),
		errors.Is(err, lending.ErrInvalidParams),
		errors.Is(err, lending.ErrInvalidDuration),
		errors.Is(err, lending.ErrDurationExceeded),
		errors.Is(err, lending.ErrExceedsLoanToValue),
		errors.Is(err, lending.ErrInvalidSignature),
		errors.Is(err, lending.ErrStaleAttestation),
		errors.Is(err, lending.ErrNotActive),
		errors.Is(err, lending.ErrLoanExists),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidConfig):
		// default mapping
	default:
		status = http.StatusInternalServerError
		code = codeServerError
	}
	writeError(w, status, id, code, err.Error(), nil)
	return outcomeError
}

func (s *Server) handleGetAdminSettings(w http.ResponseWriter, req *RPCRequest) string {
	settings, err := s.registry.Settings()
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, adminSettingsPayload{
		FeeRecipient:          crypto.NewAddress(settings.FeeRecipient[:]).String(),
		MinDepositAmount:      settings.MinDepositAmount.String(),
		VerifiedCollections:   settings.VerifiedCollections,
		PlatformFeeBp:         settings.PlatformFeeBp,
		OracleFreshnessWindow: settings.OracleFreshnessWindow,
	})
	return outcomeOK
}

func (s *Server) handleUpdateAdminSettings(w http.ResponseWriter, req *RPCRequest) string {
	var params updateSettingsParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return outcomeError
	}
	recipient, err := parseAddress(params.FeeRecipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid fee recipient", err.Error())
		return outcomeError
	}
	minDeposit, err := parseAmount(params.MinDepositAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid minimum deposit", err.Error())
		return outcomeError
	}
	settings := &lending.AdminSettings{
		FeeRecipient:          recipient,
		MinDepositAmount:      minDeposit,
		VerifiedCollections:   params.VerifiedCollections,
		PlatformFeeBp:         params.PlatformFeeBp,
		OracleFreshnessWindow: params.OracleFreshnessWindow,
	}
	if err := s.registry.UpdateSettings(caller, settings); err != nil {
		return writeLendingError(w, req.ID, err)
	}
	return s.handleGetAdminSettings(w, req)
}

func (s *Server) handleCreatePool(w http.ResponseWriter, req *RPCRequest) string {
	var params createPoolParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return outcomeError
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payment", err.Error())
		return outcomeError
	}
	pool, err := s.ledger.CreatePool(owner, poolParamsFrom(params.poolParamsPayload), params.Collections, payment)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, poolToResult(pool))
	return outcomeOK
}

func (s *Server) handleUpdatePool(w http.ResponseWriter, req *RPCRequest) string {
	var params updatePoolParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return outcomeError
	}
	payment, err := parseOptionalAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payment", err.Error())
		return outcomeError
	}
	pool, err := s.ledger.UpdatePool(params.PoolID, caller, poolParamsFrom(params.poolParamsPayload), params.Collections, payment)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, poolToResult(pool))
	return outcomeOK
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) string {
	var params withdrawParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return outcomeError
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return outcomeError
	}
	pool, err := s.ledger.Withdraw(params.PoolID, caller, amount)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, poolToResult(pool))
	return outcomeOK
}

func (s *Server) handleGetPool(w http.ResponseWriter, req *RPCRequest) string {
	var params getPoolParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	pool, err := s.ledger.GetByID(params.PoolID)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, poolToResult(pool))
	return outcomeOK
}

func (s *Server) handleGetPoolsByOwner(w http.ResponseWriter, req *RPCRequest) string {
	var params getPoolsByOwnerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return outcomeError
	}
	pools, err := s.ledger.GetByOwner(owner)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	results := make([]poolResult, 0, len(pools))
	for _, pool := range pools {
		results = append(results, poolToResult(pool))
	}
	writeResult(w, req.ID, results)
	return outcomeOK
}

func (s *Server) handleBorrow(w http.ResponseWriter, req *RPCRequest) string {
	var params borrowParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower address", err.Error())
		return outcomeError
	}
	tokenID, err := parseAmount(params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token id", err.Error())
		return outcomeError
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return outcomeError
	}
	floor, err := parseAmount(params.FloorPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid floor price", err.Error())
		return outcomeError
	}
	signature, err := decodeHexSignature(params.OracleSignature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid oracle signature", err.Error())
		return outcomeError
	}
	att, err := lending.NewFloorAttestation(params.Collection, floor, params.OracleSequence, signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid attestation", err.Error())
		return outcomeError
	}
	loan, err := s.engine.Borrow(params.PoolID, borrower, params.Collection, tokenID, params.Duration, amount, att)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, loanToResult(loan))
	return outcomeOK
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) string {
	var params repayParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower address", err.Error())
		return outcomeError
	}
	payer := borrower
	if strings.TrimSpace(params.Payer) != "" {
		payer, err = parseAddress(params.Payer)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer address", err.Error())
			return outcomeError
		}
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payment", err.Error())
		return outcomeError
	}
	receipt, err := s.engine.Repay(params.PoolID, borrower, payer, payment)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, repayResult{
		Loan:        loanToResult(receipt.Loan),
		Owed:        receipt.Owed.String(),
		Interest:    receipt.Interest.String(),
		PlatformFee: receipt.PlatformFee.String(),
		LenderShare: receipt.LenderShare.String(),
		Refund:      receipt.Refund.String(),
	})
	return outcomeOK
}

func (s *Server) handleGetLoan(w http.ResponseWriter, req *RPCRequest) string {
	var params getLoanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower address", err.Error())
		return outcomeError
	}
	loan, err := s.engine.GetLoan(params.PoolID, borrower)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, loanToResult(loan))
	return outcomeOK
}

func (s *Server) handleGetLoanByCollateral(w http.ResponseWriter, req *RPCRequest) string {
	var params getLoanByCollateralParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	tokenID, err := parseAmount(params.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token id", err.Error())
		return outcomeError
	}
	loan, err := s.engine.LoanByCollateral(params.Collection, tokenID)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, loanToResult(loan))
	return outcomeOK
}

// handleCredit mints balance onto an account. It sits behind the bearer
// token like every mutating method: deployments settling funds off-system
// drive it from their settlement bridge, and test networks use it to seed
// accounts.
func (s *Server) handleCredit(w http.ResponseWriter, req *RPCRequest) string {
	var params creditParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return outcomeError
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return outcomeError
	}
	if err := s.vault.Credit(addr, amount); err != nil {
		return writeLendingError(w, req.ID, err)
	}
	balance, err := s.vault.BalanceOf(addr)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, balanceResult{Address: params.Address, Balance: balance.String()})
	return outcomeOK
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) string {
	var params balanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return outcomeError
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return outcomeError
	}
	balance, err := s.vault.BalanceOf(addr)
	if err != nil {
		return writeLendingError(w, req.ID, err)
	}
	writeResult(w, req.ID, balanceResult{Address: params.Address, Balance: balance.String()})
	return outcomeOK
}

func poolParamsFrom(payload poolParamsPayload) lending.PoolParams {
	return lending.PoolParams{
		LoanToValueBp: payload.LoanToValueBp,
		RateTier:      lending.RateTier(payload.RateTier),
		BaseRateBp:    payload.BaseRateBp,
		PenaltyRateBp: payload.PenaltyRateBp,
		MaxDuration:   payload.MaxDuration,
		AutoApprove:   payload.AutoApprove,
	}
}
