package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/crypto"
)

func testAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address().String()
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "127.0.0.1:8651", cfg.ListenAddress)
	require.Equal(t, uint64(250), cfg.Genesis.PlatformFeeBp)
	require.Equal(t, uint64(300), cfg.Genesis.OracleFreshnessWindow)
	require.NoError(t, cfg.Validate())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.AdminAddress, reloaded.AdminAddress)
}

func TestLoadRejectsInvalidAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	addr := testAddress(t)
	raw := `
ListenAddress = "127.0.0.1:9000"
AdminAddress = "not-an-address"
OracleSigner = "` + addr + `"
TreasuryAddress = "` + addr + `"

[Genesis]
FeeRecipient = "` + addr + `"
MinDepositAmount = "100"
VerifiedCollections = ["punks"]
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "AdminAddress")
}

func TestLoadRejectsBadMinDeposit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	addr := testAddress(t)
	raw := `
AdminAddress = "` + addr + `"
OracleSigner = "` + addr + `"
TreasuryAddress = "` + addr + `"

[Genesis]
FeeRecipient = "` + addr + `"
MinDepositAmount = "-5"
VerifiedCollections = ["punks"]
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "MinDepositAmount")
}

func TestLoadRejectsEmptyCollections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	addr := testAddress(t)
	raw := `
AdminAddress = "` + addr + `"
OracleSigner = "` + addr + `"
TreasuryAddress = "` + addr + `"

[Genesis]
FeeRecipient = "` + addr + `"
MinDepositAmount = "100"
VerifiedCollections = []
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "VerifiedCollections")
}
