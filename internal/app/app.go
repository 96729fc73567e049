// Package app assembles the process: one signing session, one ledger client,
// one content store and one event bus shared by every coordinator and view.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"medshare/config"
	"medshare/config/database"
	"medshare/internal/contentstore"
	"medshare/internal/devnet"
	"medshare/internal/document/repository"
	"medshare/internal/document/service"
	"medshare/internal/eventbus"
	"medshare/internal/ledger"
	"medshare/internal/wallet"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type App struct {
	Config   *config.Config
	Env      *wallet.KeyEnvironment
	Session  *wallet.Session
	Ledger   ledger.Client
	Store    contentstore.Store
	Bus      *eventbus.Bus
	Activity *repository.ActivityRepository
	Uploads  *service.UploadService
	Access   *service.AccessService

	// Blobs is set when content is stored locally.
	Blobs *devnet.Blobs
	// Pinata is set when content goes to Pinata.
	Pinata *contentstore.Pinata

	closers []func() error
}

// New wires the configured backends. The caller must Close the result.
func New(ctx context.Context, cfg *config.Config, approver wallet.Approver) (*App, error) {
	a := &App{Config: cfg, Bus: eventbus.New()}
	if err := a.init(ctx, approver); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, approver wallet.Approver) error {
	cfg := a.Config

	env, err := wallet.NewKeyEnvironment(cfg.Wallet.Keys, []wallet.Network{cfg.Network}, cfg.Network.ChainID, approver)
	if err != nil {
		if errors.Is(err, wallet.ErrNoAccounts) {
			return fault.New(fault.EnvironmentMissing, fault.StageWallet, "no signing keys configured; set MEDSHARE_SIGNER_KEYS")
		}
		return fault.Wrap(fault.EnvironmentMissing, fault.StageWallet, err)
	}
	a.Env = env
	a.Session = wallet.NewSession(env)
	a.closers = append(a.closers, func() error { a.Session.Close(); return nil })

	var ledgerStore *devnet.Storage
	switch cfg.Ledger.Backend {
	case config.BackendDevnet:
		ledgerStore, err = a.openDevnet(cfg.Ledger.Devnet.Path)
		if err != nil {
			return err
		}
		a.Ledger, err = devnet.NewLedger(ledgerStore, devnet.Config{
			ChainID:        cfg.Network.ChainIDBig(),
			Fee:            cfg.DevnetFee(),
			GenesisBalance: cfg.DevnetGenesisBalance(),
			GasPrice:       cfg.DevnetGasPrice(),
			GasLimit:       cfg.Ledger.GasLimit,
		}, a.Session)
		if err != nil {
			return err
		}
	case config.BackendEthereum:
		a.Ledger, err = ledger.DialEth(ctx, ledger.EthConfig{
			RPCURL:   cfg.Network.RPCURL,
			Contract: common.HexToAddress(cfg.Ledger.Contract),
			GasLimit: cfg.Ledger.GasLimit,
		}, a.Session)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	switch cfg.Store.Backend {
	case config.BackendDevnet:
		blobStore := ledgerStore
		if blobStore == nil || cfg.Store.DevnetPath != cfg.Ledger.Devnet.Path {
			if blobStore, err = a.openDevnet(cfg.Store.DevnetPath); err != nil {
				return err
			}
		}
		a.Blobs = devnet.NewBlobs(blobStore)
		a.Store = a.Blobs
	case config.BackendPinata:
		a.Pinata, err = contentstore.NewPinata(contentstore.PinataConfig{
			APIURL:    cfg.Store.APIURL,
			APIKey:    cfg.Store.APIKey,
			APISecret: cfg.Store.APISecret,
		})
		if err != nil {
			return err
		}
		a.Store = a.Pinata
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	journal := service.NopJournal
	if cfg.Database.DSN != "" {
		db, err := database.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := a.useJournal(ctx, db); err != nil {
			return err
		}
		journal = a.Activity
	}

	a.Uploads = service.NewUploadService(a.Session, a.Store, a.Ledger, a.Bus, journal, cfg.Network, cfg.Store.GatewayURL)
	a.Access = service.NewAccessService(a.Session, a.Ledger, a.Bus, journal, cfg.Network, cfg.Store.GatewayURL)

	logger.Log.Info("application wired",
		zap.String("ledger", cfg.Ledger.Backend),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("journal", cfg.Database.DSN != ""),
		zap.Uint64("chain_id", cfg.Network.ChainID),
	)
	return nil
}

func (a *App) openDevnet(path string) (*devnet.Storage, error) {
	s, err := devnet.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open devnet storage %q: %w", path, err)
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *App) useJournal(ctx context.Context, db *sql.DB) error {
	repo := repository.NewActivityRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("activity schema: %w", err)
	}
	a.Activity = repo
	return nil
}

// Connect authorizes the signing environment and moves it to the configured
// network.
func (a *App) Connect(ctx context.Context) (common.Address, error) {
	account, err := a.Session.Connect(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if err := a.Session.EnsureNetwork(ctx, a.Config.Network); err != nil {
		return common.Address{}, err
	}
	return account, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
