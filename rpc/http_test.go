package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/crypto"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/native/lending"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/storage"
)

const testAuthToken = "test-token"

type testEnv struct {
	server   *Server
	ts       *httptest.Server
	vault    *lending.LedgerVault
	oracle   *crypto.PrivateKey
	admin    crypto.Address
	owner    crypto.Address
	borrower crypto.Address
	sequence uint64
}

func newAddress(t *testing.T) (crypto.Address, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address(), key
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	state := lending.NewState(storage.NewMemDB())

	admin, _ := newAddress(t)
	owner, _ := newAddress(t)
	borrower, _ := newAddress(t)
	treasury, _ := newAddress(t)
	feeRecipient, _ := newAddress(t)
	oracleAddr, oracleKey := newAddress(t)

	registry := lending.NewRegistry(admin.Raw())
	registry.SetState(state)
	require.NoError(t, registry.Initialize(&lending.AdminSettings{
		FeeRecipient:          feeRecipient.Raw(),
		MinDepositAmount:      big.NewInt(100),
		VerifiedCollections:   []string{"punks"},
		PlatformFeeBp:         250,
		OracleFreshnessWindow: 300,
	}))

	vault := lending.NewLedgerVault(treasury.Raw())
	vault.SetState(state)
	require.NoError(t, vault.Credit(owner.Raw(), big.NewInt(100_000)))

	ledger := lending.NewPoolLedger()
	ledger.SetState(state)
	ledger.SetVault(vault)

	env := &testEnv{
		vault:    vault,
		oracle:   oracleKey,
		admin:    admin,
		owner:    owner,
		borrower: borrower,
		sequence: 1_000_000,
	}

	engine := lending.NewEngine(oracleAddr.Raw())
	engine.SetState(state)
	engine.SetVault(vault)
	engine.SetSequenceSource(func() uint64 { return env.sequence })

	env.server = NewServer(registry, ledger, engine, vault, testAuthToken, slog.Default())
	env.ts = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) RPCResponse {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.ts.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out RPCResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func decodeResult(t *testing.T, res RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, res.Error)
	raw, err := json.Marshal(res.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (env *testEnv) signAttestation(t *testing.T, collection string, floor int64, sequence uint64) string {
	t.Helper()
	att, err := lending.NewFloorAttestation(collection, big.NewInt(floor), sequence, nil)
	require.NoError(t, err)
	hash, err := att.Hash()
	require.NoError(t, err)
	sig, err := env.oracle.Sign(hash)
	require.NoError(t, err)
	return hex.EncodeToString(sig)
}

func (env *testEnv) createPool(t *testing.T) poolResult {
	t.Helper()
	res := env.call(t, testAuthToken, "lending_createPool", createPoolParams{
		Owner:       env.owner.String(),
		Payment:     "10000",
		Collections: []string{"punks"},
		poolParamsPayload: poolParamsPayload{
			LoanToValueBp: 5_000,
			RateTier:      0,
			BaseRateBp:    500,
			PenaltyRateBp: 400,
			MaxDuration:   30 * 86_400,
			AutoApprove:   true,
		},
	})
	var pool poolResult
	decodeResult(t, res, &pool)
	return pool
}

func TestGetAdminSettingsNeedsNoAuth(t *testing.T) {
	env := newTestEnv(t)
	res := env.call(t, "", "lending_getAdminSettings", nil)
	var settings adminSettingsPayload
	decodeResult(t, res, &settings)
	require.Equal(t, uint64(250), settings.PlatformFeeBp)
	require.Equal(t, []string{"punks"}, settings.VerifiedCollections)
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	for _, method := range []string{"lending_createPool", "lending_updatePool", "lending_withdraw", "lending_borrow", "lending_repay", "lending_updateAdminSettings", "lending_credit"} {
		res := env.call(t, "", method, map[string]interface{}{})
		require.NotNil(t, res.Error, method)
		require.Equal(t, codeUnauthorized, res.Error.Code, method)
	}
}

func TestCreateAndFetchPool(t *testing.T) {
	env := newTestEnv(t)
	pool := env.createPool(t)
	require.Equal(t, uint64(0), pool.ID)
	require.Equal(t, "10000", pool.DepositedAmount)
	require.Equal(t, "10000", pool.AvailableAmount)
	require.Equal(t, env.owner.String(), pool.Owner)

	res := env.call(t, "", "lending_getPool", getPoolParams{PoolID: pool.ID})
	var fetched poolResult
	decodeResult(t, res, &fetched)
	require.Equal(t, pool, fetched)

	byOwner := env.call(t, "", "lending_getPoolsByOwner", getPoolsByOwnerParams{Owner: env.owner.String()})
	var pools []poolResult
	decodeResult(t, byOwner, &pools)
	require.Len(t, pools, 1)
}

func TestBorrowAndRepayOverRPC(t *testing.T) {
	env := newTestEnv(t)
	pool := env.createPool(t)

	res := env.call(t, testAuthToken, "lending_borrow", borrowParams{
		PoolID:          pool.ID,
		Borrower:        env.borrower.String(),
		Collection:      "punks",
		TokenID:         "7",
		Duration:        10 * 86_400,
		Amount:          "1000",
		FloorPrice:      "2000",
		OracleSequence:  env.sequence,
		OracleSignature: env.signAttestation(t, "punks", 2000, env.sequence),
	})
	var loan loanResult
	decodeResult(t, res, &loan)
	require.Equal(t, "active", loan.Status)
	require.Equal(t, "1000", loan.Principal)

	balRes := env.call(t, "", "lending_getBalance", balanceParams{Address: env.borrower.String()})
	var balance balanceResult
	decodeResult(t, balRes, &balance)
	require.Equal(t, "1000", balance.Balance)

	byCollateral := env.call(t, "", "lending_getLoanByCollateral", getLoanByCollateralParams{Collection: "punks", TokenID: "7"})
	var indexed loanResult
	decodeResult(t, byCollateral, &indexed)
	require.Equal(t, loan, indexed)

	require.NoError(t, env.vault.Credit(env.borrower.Raw(), big.NewInt(1_000)))
	repayRes := env.call(t, testAuthToken, "lending_repay", repayParams{
		PoolID:   pool.ID,
		Borrower: env.borrower.String(),
		Payment:  "1100",
	})
	var receipt repayResult
	decodeResult(t, repayRes, &receipt)
	require.Equal(t, "repaid", receipt.Loan.Status)
	require.Equal(t, "1050", receipt.Owed)
	require.Equal(t, "50", receipt.Interest)
	require.Equal(t, "50", receipt.Refund)
}

func TestBorrowRejectsUntrustedOracle(t *testing.T) {
	env := newTestEnv(t)
	pool := env.createPool(t)

	rogue, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	att, err := lending.NewFloorAttestation("punks", big.NewInt(2000), env.sequence, nil)
	require.NoError(t, err)
	hash, err := att.Hash()
	require.NoError(t, err)
	sig, err := rogue.Sign(hash)
	require.NoError(t, err)

	res := env.call(t, testAuthToken, "lending_borrow", borrowParams{
		PoolID:          pool.ID,
		Borrower:        env.borrower.String(),
		Collection:      "punks",
		TokenID:         "7",
		Duration:        10 * 86_400,
		Amount:          "1000",
		FloorPrice:      "2000",
		OracleSequence:  env.sequence,
		OracleSignature: hex.EncodeToString(sig),
	})
	require.NotNil(t, res.Error)
	require.Contains(t, res.Error.Message, "signature")
}

func TestUpdateAdminSettingsAuthorization(t *testing.T) {
	env := newTestEnv(t)
	stranger, _ := newAddress(t)

	params := updateSettingsParams{
		Caller: stranger.String(),
		adminSettingsPayload: adminSettingsPayload{
			FeeRecipient:          env.admin.String(),
			MinDepositAmount:      "200",
			VerifiedCollections:   []string{"punks", "apes"},
			PlatformFeeBp:         300,
			OracleFreshnessWindow: 600,
		},
	}
	res := env.call(t, testAuthToken, "lending_updateAdminSettings", params)
	require.NotNil(t, res.Error)
	require.Equal(t, codeUnauthorized, res.Error.Code)

	params.Caller = env.admin.String()
	res = env.call(t, testAuthToken, "lending_updateAdminSettings", params)
	var settings adminSettingsPayload
	decodeResult(t, res, &settings)
	require.Equal(t, uint64(300), settings.PlatformFeeBp)
	require.Equal(t, []string{"punks", "apes"}, settings.VerifiedCollections)
}

func TestCreditFundsAccount(t *testing.T) {
	env := newTestEnv(t)

	res := env.call(t, testAuthToken, "lending_credit", creditParams{Address: env.borrower.String(), Amount: "500"})
	var credited balanceResult
	decodeResult(t, res, &credited)
	require.Equal(t, "500", credited.Balance)

	balRes := env.call(t, "", "lending_getBalance", balanceParams{Address: env.borrower.String()})
	var balance balanceResult
	decodeResult(t, balRes, &balance)
	require.Equal(t, "500", balance.Balance)

	bad := env.call(t, testAuthToken, "lending_credit", creditParams{Address: env.borrower.String(), Amount: "-1"})
	require.NotNil(t, bad.Error)
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	res := env.call(t, "", "lending_selfDestruct", nil)
	require.NotNil(t, res.Error)
	require.Equal(t, codeMethodNotFound, res.Error.Code)
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.ts.Client().Post(env.ts.URL, "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer res.Body.Close()
	var out RPCResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	require.NotNil(t, out.Error)
	require.Equal(t, codeParseError, out.Error.Code)

	empty, err := env.ts.Client().Post(env.ts.URL, "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer empty.Body.Close()
	var emptyOut RPCResponse
	require.NoError(t, json.NewDecoder(empty.Body).Decode(&emptyOut))
	require.NotNil(t, emptyOut.Error)
	require.Equal(t, codeInvalidRequest, emptyOut.Error.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.ts.Client().Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}
