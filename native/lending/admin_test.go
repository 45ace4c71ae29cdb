package lending

import (
	"errors"
	"math/big"
	"testing"

	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/storage"
)

func testAddr(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func newTestState(t *testing.T) *State {
	t.Helper()
	return NewState(storage.NewMemDB())
}

func testSettings() *AdminSettings {
	return &AdminSettings{
		FeeRecipient:          testAddr(0xfe),
		MinDepositAmount:      big.NewInt(100),
		VerifiedCollections:   []string{"punks", "apes"},
		PlatformFeeBp:         250,
		OracleFreshnessWindow: 300,
	}
}

func newTestRegistry(t *testing.T, admin [20]byte) (*Registry, *State) {
	t.Helper()
	state := newTestState(t)
	registry := NewRegistry(admin)
	registry.SetState(state)
	if err := registry.Initialize(testSettings()); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	return registry, state
}

func TestRegistryInitializeOnce(t *testing.T) {
	registry, _ := newTestRegistry(t, testAddr(0x01))
	ok, err := registry.Initialized()
	if err != nil || !ok {
		t.Fatalf("initialized = %v, %v", ok, err)
	}
	if err := registry.Initialize(testSettings()); err == nil {
		t.Fatal("second initialize succeeded")
	}
}

func TestRegistryUpdateRequiresAdmin(t *testing.T) {
	admin := testAddr(0x01)
	registry, _ := newTestRegistry(t, admin)

	next := testSettings()
	next.PlatformFeeBp = 500
	if err := registry.UpdateSettings(testAddr(0x02), next); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin update = %v, want %v", err, ErrUnauthorized)
	}
	settings, err := registry.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.PlatformFeeBp != 250 {
		t.Fatalf("rejected update mutated settings: fee %d", settings.PlatformFeeBp)
	}

	if err := registry.UpdateSettings(admin, next); err != nil {
		t.Fatalf("admin update: %v", err)
	}
	settings, err = registry.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.PlatformFeeBp != 500 {
		t.Fatalf("update not visible: fee %d", settings.PlatformFeeBp)
	}
}

func TestRegistryRejectsInvalidSettings(t *testing.T) {
	admin := testAddr(0x01)
	registry, _ := newTestRegistry(t, admin)

	cases := []struct {
		name   string
		mutate func(*AdminSettings)
	}{
		{name: "zero fee recipient", mutate: func(s *AdminSettings) { s.FeeRecipient = [20]byte{} }},
		{name: "fee above ceiling", mutate: func(s *AdminSettings) { s.PlatformFeeBp = MaxPlatformFeeBp + 1 }},
		{name: "zero minimum deposit", mutate: func(s *AdminSettings) { s.MinDepositAmount = big.NewInt(0) }},
		{name: "nil minimum deposit", mutate: func(s *AdminSettings) { s.MinDepositAmount = nil }},
		{name: "blank collection", mutate: func(s *AdminSettings) { s.VerifiedCollections = []string{"punks", "  "} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broken := testSettings()
			tc.mutate(broken)
			if err := registry.UpdateSettings(admin, broken); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("update = %v, want %v", err, ErrInvalidConfig)
			}
		})
	}
}

func TestRegistryNormalizesCollections(t *testing.T) {
	admin := testAddr(0x01)
	registry, _ := newTestRegistry(t, admin)

	next := testSettings()
	next.VerifiedCollections = []string{" PUNKS", "Apes ", "punks"}
	if err := registry.UpdateSettings(admin, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	settings, err := registry.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if len(settings.VerifiedCollections) != 2 {
		t.Fatalf("collections = %v, want two entries", settings.VerifiedCollections)
	}
	if settings.VerifiedCollections[0] != "punks" || settings.VerifiedCollections[1] != "apes" {
		t.Fatalf("collections = %v, want canonical order", settings.VerifiedCollections)
	}
}

func TestRegistrySettingsReturnsCopy(t *testing.T) {
	registry, _ := newTestRegistry(t, testAddr(0x01))
	first, err := registry.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	first.VerifiedCollections[0] = "mutated"
	first.MinDepositAmount.SetInt64(1)

	second, err := registry.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if second.VerifiedCollections[0] != "punks" {
		t.Fatalf("caller mutation leaked into stored settings: %v", second.VerifiedCollections)
	}
	if second.MinDepositAmount.Int64() != 100 {
		t.Fatalf("caller mutation leaked into stored deposit: %s", second.MinDepositAmount)
	}
}
