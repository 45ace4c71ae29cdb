package lending

import (
	"math/big"
	"testing"
)

func TestNextPoolIDMonotone(t *testing.T) {
	state := newTestState(t)
	for want := uint64(0); want < 5; want++ {
		id, err := state.NextPoolID()
		if err != nil {
			t.Fatalf("next pool id: %v", err)
		}
		if id != want {
			t.Fatalf("pool id = %d, want %d", id, want)
		}
	}
}

func TestOwnerIndexDeduplicatesRewrites(t *testing.T) {
	state := newTestState(t)
	owner := testAddr(0x10)
	pool := &Pool{
		ID:                 3,
		Owner:              owner,
		PoolParams:         defaultParams(),
		AllowedCollections: []string{"punks"},
		DepositedAmount:    big.NewInt(100),
		AvailableAmount:    big.NewInt(100),
	}
	for i := 0; i < 3; i++ {
		if err := state.PoolPut(pool); err != nil {
			t.Fatalf("pool put: %v", err)
		}
	}
	pools, err := state.PoolsByOwner(owner)
	if err != nil {
		t.Fatalf("pools by owner: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("indexed pools = %d, want 1", len(pools))
	}
	if pools[0].ID != 3 {
		t.Fatalf("indexed pool id = %d, want 3", pools[0].ID)
	}
}

func TestCollateralIndexLifecycle(t *testing.T) {
	state := newTestState(t)
	token := big.NewInt(7)
	key := LoanKey{PoolID: 2, Borrower: testAddr(0x20)}

	if _, ok, err := state.CollateralGet("punks", token); err != nil || ok {
		t.Fatalf("empty index reported a record: %v", err)
	}
	if err := state.CollateralPut("punks", token, key); err != nil {
		t.Fatalf("collateral put: %v", err)
	}
	got, ok, err := state.CollateralGet("punks", token)
	if err != nil || !ok {
		t.Fatalf("collateral get: %v", err)
	}
	if got != key {
		t.Fatalf("collateral key = %+v, want %+v", got, key)
	}
	if err := state.CollateralDelete("punks", token); err != nil {
		t.Fatalf("collateral delete: %v", err)
	}
	if _, ok, err := state.CollateralGet("punks", token); err != nil || ok {
		t.Fatalf("deleted record still readable: %v", err)
	}
}
