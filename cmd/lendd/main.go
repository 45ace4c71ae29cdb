package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/config"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/crypto"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/native/lending"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/observability/logging"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/rpc"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/storage"
)

const authTokenEnv = "LENDD_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("lendd", logging.ParseLevel(cfg.LogLevel))

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	registry, ledger, engine, vault, err := buildComponents(cfg, db)
	if err != nil {
		logger.Error("failed to assemble ledger", slog.Any("error", err))
		os.Exit(1)
	}

	authToken := os.Getenv(authTokenEnv)
	if authToken == "" {
		authToken = cfg.RPCAuthToken
	}
	if authToken == "" {
		logger.Warn("no RPC auth token configured; mutating methods are disabled")
	}

	server := rpc.NewServer(registry, ledger, engine, vault, authToken, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddress)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("rpc server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func buildComponents(cfg *config.Config, db storage.Database) (*lending.Registry, *lending.PoolLedger, *lending.Engine, *lending.LedgerVault, error) {
	admin, err := crypto.DecodeAddress(cfg.AdminAddress)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("admin address: %w", err)
	}
	oracle, err := crypto.DecodeAddress(cfg.OracleSigner)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("oracle signer: %w", err)
	}
	treasury, err := crypto.DecodeAddress(cfg.TreasuryAddress)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("treasury address: %w", err)
	}

	state := lending.NewState(db)

	registry := lending.NewRegistry(admin.Raw())
	registry.SetState(state)
	if err := ensureGenesis(cfg, registry); err != nil {
		return nil, nil, nil, nil, err
	}

	vault := lending.NewLedgerVault(treasury.Raw())
	vault.SetState(state)

	ledger := lending.NewPoolLedger()
	ledger.SetState(state)
	ledger.SetVault(vault)

	engine := lending.NewEngine(oracle.Raw())
	engine.SetState(state)
	engine.SetVault(vault)
	engine.SetSequenceSource(func() uint64 { return uint64(time.Now().Unix()) })

	return registry, ledger, engine, vault, nil
}

// ensureGenesis seeds the admin settings on first boot. An initialized
// ledger keeps its stored settings; the config genesis block is ignored
// from then on.
func ensureGenesis(cfg *config.Config, registry *lending.Registry) error {
	initialized, err := registry.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	recipient, err := crypto.DecodeAddress(cfg.Genesis.FeeRecipient)
	if err != nil {
		return fmt.Errorf("genesis fee recipient: %w", err)
	}
	minDeposit, err := cfg.MinDeposit()
	if err != nil {
		return err
	}
	return registry.Initialize(&lending.AdminSettings{
		FeeRecipient:          recipient.Raw(),
		MinDepositAmount:      minDeposit,
		VerifiedCollections:   cfg.Genesis.VerifiedCollections,
		PlatformFeeBp:         cfg.Genesis.PlatformFeeBp,
		OracleFreshnessWindow: cfg.Genesis.OracleFreshnessWindow,
	})
}
