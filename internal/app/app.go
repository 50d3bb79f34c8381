// Package app wires configuration into repositories, chain clients and
// usecases. The API server and spvctl share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"spv-ledger/internal/adapter/evm"
	"spv-ledger/internal/adapter/ipfs"
	"spv-ledger/internal/adapter/repository/mysql"
	"spv-ledger/internal/config"
	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/infrastructure/cache"
	"spv-ledger/internal/infrastructure/db"
	"spv-ledger/internal/infrastructure/lock"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/internal/infrastructure/metrics"
	"spv-ledger/internal/usecase/distribution"
	ucInvestor "spv-ledger/internal/usecase/investor"
	ucLoan "spv-ledger/internal/usecase/loan"
	"spv-ledger/internal/usecase/position"
	"spv-ledger/internal/usecase/reconcile"
	"spv-ledger/pkg/retry"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type App struct {
	Cfg     *config.Config
	DB      *gorm.DB
	Redis   *redis.Client // nil when REDIS_ENABLED is off
	RPC     *ethclient.Client
	Metrics *metrics.Metrics
	Locker  lock.Locker
	Reader  *evm.Reader
	Writer  chain.Writer
	// Signer is nil when no key is configured.
	Signer *evm.Signer

	Loans        *ucLoan.Usecase
	Investors    *ucInvestor.Usecase
	Positions    *position.Usecase
	Distribution *distribution.Usecase
	Reconcile    *reconcile.Usecase
}

// New opens every backing service named by cfg. The caller owns Close.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg, Metrics: metrics.New()}

	gdb, err := db.OpenGorm(cfg.MySQLDSN(), cfg.SQLDebug)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	a.DB = gdb

	if cfg.RedisEnabled {
		rdb, err := cache.OpenRedis(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		a.Redis = rdb
		a.Locker = lock.NewRedisLocker(rdb)
	} else {
		logger.Warnf("app: redis disabled, locks are process-local", nil)
		a.Locker = lock.NewLocalLocker()
	}

	rpc, err := evm.Dial(ctx, cfg.RPCURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.RPC = rpc

	if err := a.wireChain(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.wireUsecases()
	return a, nil
}

func (a *App) policy() retry.Policy {
	return retry.Policy{Attempts: a.Cfg.RetryAttempts, Delay: a.Cfg.RetryDelay}
}

func (a *App) wireChain(ctx context.Context) error {
	cfg := a.Cfg
	chainID := big.NewInt(cfg.ChainID)
	if id, err := a.RPC.ChainID(ctx); err == nil && id.Cmp(chainID) != 0 {
		logger.Warnf("app: node reports chain %s, configured %d", logger.Fields{"RPC": cfg.RPCURL}, id, cfg.ChainID)
	}

	a.Reader = evm.NewReader(a.RPC, cfg.ContractAddress, a.policy())
	if !cfg.HasSigner() {
		logger.Warnf("app: no signing key configured, chain writes disabled", nil)
		a.Writer = evm.NewReadOnlyWriter(a.Reader)
		return nil
	}
	signer, err := evm.NewSigner(cfg.PrivateKey, cfg.Mnemonic, cfg.AccountIndex)
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}
	a.Signer = signer
	a.Writer = evm.NewWriter(a.RPC, signer, cfg.ContractAddress, evm.WriterOptions{
		ChainID:     chainID,
		USDCAddress: cfg.USDCAddress,
		TxTimeout:   cfg.TxTimeout,
		Retry:       a.policy(),
		Metrics:     a.Metrics,
	})
	logger.Infof("app: signer loaded", logger.Fields{"Address": a.Writer.Address()})
	return nil
}

func (a *App) source() chain.Source {
	cfg := a.Cfg
	if cfg.EventSource == config.SourceExplorer {
		return evm.NewExplorerSource(evm.ExplorerOptions{
			BaseURL: cfg.ExplorerURL,
			APIKey:  cfg.ExplorerAPIKey,
			Retry:   a.policy(),
		}, a.Reader)
	}
	return evm.NewLogSource(a.RPC, cfg.MaxBlockRange, a.policy())
}

func (a *App) wireUsecases() {
	cfg := a.Cfg
	store := ipfs.New(ipfs.Options{
		LocalAPI:            cfg.IPFSLocalAPI,
		PinataJWT:           cfg.PinataJWT,
		PinataGatewayDomain: cfg.PinataGatewayDomain,
		PinataGatewayKey:    cfg.PinataGatewayKey,
		PublicGateways:      cfg.PublicGateways,
		Timeout:             cfg.IPFSTimeout,
		Retry:               a.policy(),
		Metrics:             a.Metrics,
	})

	gormUoW := mysql.NewGormUoW(a.DB)
	loans := mysql.NewLoanRepository(a.DB)
	investors := mysql.NewInvestorRepository(a.DB)
	positions := mysql.NewPositionRepository(a.DB)
	adminPolicy := reconcile.AdminPolicy(cfg.AdminMintPolicy)

	gateway := "https://ipfs.io"
	if len(cfg.PublicGateways) > 0 {
		gateway = cfg.PublicGateways[0]
	}
	a.Loans = ucLoan.NewUsecase(ucLoan.Deps{
		UoW: gormUoW, Loans: loans, Specs: mysql.NewSpecRepository(a.DB),
		Store: store, Writer: a.Writer, Locker: a.Locker,
	}, ucLoan.Options{Contract: cfg.ContractAddress, ExternalURL: cfg.SiteBaseURL + "/loans", Gateway: gateway})

	a.Investors = ucInvestor.NewUsecase(investors, positions, mysql.NewCashflowRepository(a.DB))

	a.Positions = position.NewUsecase(position.Deps{
		UoW: gormUoW, Loans: loans, Investors: investors, Positions: positions,
		Writer: a.Writer, Locker: a.Locker,
	}, position.Options{Stream: cfg.SyncStream, Contract: cfg.ContractAddress, AdminPolicy: adminPolicy, LockTTL: cfg.LockTTL})

	a.Distribution = distribution.NewUsecase(distribution.Deps{
		UoW: gormUoW, Loans: loans, Positions: positions, Writer: a.Writer,
		Locker: a.Locker, Metrics: a.Metrics,
	}, distribution.Options{Stream: cfg.SyncStream, Contract: cfg.ContractAddress, LockTTL: cfg.LockTTL})

	a.Reconcile = reconcile.NewUsecase(reconcile.Deps{
		UoW: gormUoW, Loans: loans, Sync: mysql.NewSyncStateRepository(a.DB),
		Source: a.source(), Reader: a.Reader, Store: store, Locker: a.Locker, Metrics: a.Metrics,
	}, reconcile.Options{
		Contract:       cfg.ContractAddress,
		AdminAddresses: cfg.AdminAddresses,
		AdminPolicy:    adminPolicy,
		OnDataError:    reconcile.DataErrorPolicy(cfg.OnDataError),
		LockTTL:        cfg.LockTTL,
	})
}

// Migrate creates or updates the schema.
func (a *App) Migrate() error { return db.Migrate(a.DB) }

// Deploy publishes the token contract from the configured ABI and bytecode
// files and returns its address. args are the constructor arguments as text.
func (a *App) Deploy(ctx context.Context, args []string) (string, error) {
	w, ok := a.Writer.(*evm.Writer)
	if !ok {
		return "", chain.ErrReadOnly
	}
	if a.Cfg.BytecodePath == "" {
		return "", errors.New("CONTRACT_BYTECODE_PATH is not set")
	}
	abiJSON := evm.TokenABI
	if a.Cfg.ContractABIPath != "" {
		raw, err := os.ReadFile(a.Cfg.ContractABIPath)
		if err != nil {
			return "", fmt.Errorf("read abi: %w", err)
		}
		abiJSON = string(raw)
	}
	parsed, err := evm.ParseABI(abiJSON)
	if err != nil {
		return "", err
	}
	ctorArgs, err := evm.ConstructorArgs(parsed, args)
	if err != nil {
		return "", err
	}
	code, err := readBytecode(a.Cfg.BytecodePath)
	if err != nil {
		return "", err
	}
	addr, _, err := w.Deploy(ctx, abiJSON, code, ctorArgs...)
	return addr, err
}

func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *App) PingRedis(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Ping(ctx).Err()
}

func (a *App) PingRPC(ctx context.Context) error {
	_, err := a.RPC.BlockNumber(ctx)
	return err
}

func (a *App) Close() {
	if a.RPC != nil {
		a.RPC.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warnf("app: close redis: %v", nil, err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	logger.Flush(2 * time.Second)
}
