package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/crypto"
)

// GenesisSettings seeds the protocol's admin settings on first boot. Once
// the ledger is initialized these values are ignored; updates go through
// the admin RPC.
type GenesisSettings struct {
	FeeRecipient          string   `toml:"FeeRecipient"`
	MinDepositAmount      string   `toml:"MinDepositAmount"`
	PlatformFeeBp         uint64   `toml:"PlatformFeeBp"`
	OracleFreshnessWindow uint64   `toml:"OracleFreshnessWindow"`
	VerifiedCollections   []string `toml:"VerifiedCollections"`
}

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	LogLevel      string `toml:"LogLevel"`
	// AdminAddress is the only account allowed to update admin settings.
	AdminAddress string `toml:"AdminAddress"`
	// OracleSigner is the account whose floor-price attestations are trusted.
	OracleSigner string `toml:"OracleSigner"`
	// TreasuryAddress holds pooled funds inside the vault ledger.
	TreasuryAddress string `toml:"TreasuryAddress"`
	// RPCAuthToken, when set, is required as a bearer token on mutating
	// RPC methods.
	RPCAuthToken string `toml:"RPCAuthToken"`

	Genesis GenesisSettings `toml:"Genesis"`
}

// Load reads the configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address fields and genesis amounts without touching
// the ledger.
func (c *Config) Validate() error {
	for field, value := range map[string]string{
		"AdminAddress":         c.AdminAddress,
		"OracleSigner":         c.OracleSigner,
		"TreasuryAddress":      c.TreasuryAddress,
		"Genesis.FeeRecipient": c.Genesis.FeeRecipient,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("config: %s is required", field)
		}
		if _, err := crypto.DecodeAddress(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("config: invalid %s: %w", field, err)
		}
	}
	if _, err := c.MinDeposit(); err != nil {
		return err
	}
	if len(c.Genesis.VerifiedCollections) == 0 {
		return fmt.Errorf("config: Genesis.VerifiedCollections must not be empty")
	}
	return nil
}

// MinDeposit parses the genesis minimum deposit as a base-10 big integer.
func (c *Config) MinDeposit() (*big.Int, error) {
	raw := strings.TrimSpace(c.Genesis.MinDepositAmount)
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("config: Genesis.MinDepositAmount must be a positive integer, got %q", raw)
	}
	return amount, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8651"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lendd-data"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Genesis.PlatformFeeBp == 0 {
		cfg.Genesis.PlatformFeeBp = 250
	}
	if cfg.Genesis.OracleFreshnessWindow == 0 {
		cfg.Genesis.OracleFreshnessWindow = 300
	}
	if strings.TrimSpace(cfg.Genesis.MinDepositAmount) == "" {
		cfg.Genesis.MinDepositAmount = "100000000000000000"
	}
}

func createDefault(path string) (*Config, error) {
	adminKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	treasuryKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	admin := adminKey.PubKey().Address().String()

	cfg := &Config{
		AdminAddress:    admin,
		OracleSigner:    admin,
		TreasuryAddress: treasuryKey.PubKey().Address().String(),
		Genesis: GenesisSettings{
			FeeRecipient:        admin,
			VerifiedCollections: []string{"example-collection"},
		},
	}
	applyDefaults(cfg)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	// The generated admin key is printed once so the operator can keep it;
	// the daemon itself only ever needs the address.
	fmt.Fprintf(os.Stderr, "generated config at %s\nadmin address: %s\nadmin key (hex): %x\n", path, admin, adminKey.Bytes())
	return cfg, nil
}
