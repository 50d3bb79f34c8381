package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	AdminMintSkip  = "skip"
	AdminMintTrack = "track"

	OnDataErrorStop = "stop"
	OnDataErrorSkip = "skip"

	SourceRPC      = "rpc"
	SourceExplorer = "explorer"
)

type Config struct {
	AppPort     string
	Environment string
	LogLevel    string
	SentryDSN   string
	SiteBaseURL string

	MySQLHost string
	MySQLPort string
	MySQLDB   string
	MySQLUser string
	MySQLPass string
	SQLDebug  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisEnabled  bool

	IdempTTLSecs int

	// chain
	RPCURL          string
	ChainID         int64
	ContractAddress string
	USDCAddress     string
	AdminAddresses  []string
	PrivateKey      string
	Mnemonic        string
	AccountIndex    int
	EventSource     string
	ExplorerURL     string
	ExplorerAPIKey  string
	MaxBlockRange   uint64
	TxTimeout       time.Duration
	ContractABIPath string
	BytecodePath    string

	// content store
	IPFSLocalAPI        string
	PinataJWT           string
	PinataGatewayDomain string
	PinataGatewayKey    string
	PublicGateways      []string
	IPFSTimeout         time.Duration

	// reconcile
	SyncStream        string
	ReconcileInterval time.Duration
	AdminMintPolicy   string
	OnDataError       string
	RetryAttempts     int
	RetryDelay        time.Duration
	LockTTL           time.Duration
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SITE_BASE_URL", "http://localhost:8080")

	v.SetDefault("MYSQL_HOST", "mysql")
	v.SetDefault("MYSQL_PORT", "3306")
	v.SetDefault("MYSQL_DB", "spv")
	v.SetDefault("MYSQL_USER", "spv")
	v.SetDefault("MYSQL_PASS", "spv")

	v.SetDefault("REDIS_ADDR", "redis:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("IDEMPOTENCY_TTL_SECONDS", 300)

	v.SetDefault("RPC_URL", "http://127.0.0.1:8545")
	v.SetDefault("CHAIN_ID", 43113)
	v.SetDefault("EVENT_SOURCE", SourceRPC)
	v.SetDefault("EXPLORER_URL", "https://api.routescan.io/v2/network/testnet/evm/43113/etherscan")
	v.SetDefault("MAX_BLOCK_RANGE", 2000)
	v.SetDefault("TX_TIMEOUT", "2m")

	v.SetDefault("IPFS_LOCAL_API", "http://127.0.0.1:5001")
	v.SetDefault("IPFS_PUBLIC_GATEWAYS", "https://gateway.pinata.cloud,https://ipfs.io")
	v.SetDefault("IPFS_TIMEOUT", "30s")

	v.SetDefault("SYNC_STREAM", "hq_master_sync")
	v.SetDefault("RECONCILE_INTERVAL", "60s")
	v.SetDefault("ADMIN_MINT_POLICY", AdminMintSkip)
	v.SetDefault("ON_DATA_ERROR", OnDataErrorStop)
	v.SetDefault("RETRY_ATTEMPTS", 3)
	v.SetDefault("RETRY_DELAY", "1s")
	v.SetDefault("LOCK_TTL", "10m")
	return v
}

// Load reads the environment, plus the .env file named by ENV_FILE_PATH when present.
func Load() (*Config, error) {
	v := newViper()
	if path := os.Getenv("ENV_FILE_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		AppPort:     v.GetString("APP_PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		SentryDSN:   v.GetString("SENTRY_DSN"),
		SiteBaseURL: strings.TrimRight(v.GetString("SITE_BASE_URL"), "/"),

		MySQLHost: v.GetString("MYSQL_HOST"),
		MySQLPort: v.GetString("MYSQL_PORT"),
		MySQLDB:   v.GetString("MYSQL_DB"),
		MySQLUser: v.GetString("MYSQL_USER"),
		MySQLPass: v.GetString("MYSQL_PASS"),
		SQLDebug:  v.GetBool("SQL_DEBUG"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisEnabled:  v.GetBool("REDIS_ENABLED"),
		IdempTTLSecs:  v.GetInt("IDEMPOTENCY_TTL_SECONDS"),

		RPCURL:          v.GetString("RPC_URL"),
		ChainID:         v.GetInt64("CHAIN_ID"),
		ContractAddress: v.GetString("CONTRACT_ADDRESS"),
		USDCAddress:     v.GetString("USDC_ADDRESS"),
		AdminAddresses:  splitList(v.GetString("ADMIN_ADDRESSES")),
		PrivateKey:      strings.TrimPrefix(v.GetString("ADMIN_PRIVATE_KEY"), "0x"),
		Mnemonic:        v.GetString("HD_WALLET_MNEMONIC"),
		AccountIndex:    v.GetInt("HD_WALLET_ACCOUNT_INDEX"),
		EventSource:     strings.ToLower(v.GetString("EVENT_SOURCE")),
		ExplorerURL:     strings.TrimRight(v.GetString("EXPLORER_URL"), "/"),
		ExplorerAPIKey:  v.GetString("EXPLORER_API_KEY"),
		MaxBlockRange:   v.GetUint64("MAX_BLOCK_RANGE"),
		TxTimeout:       v.GetDuration("TX_TIMEOUT"),
		ContractABIPath: v.GetString("CONTRACT_ABI_PATH"),
		BytecodePath:    v.GetString("CONTRACT_BYTECODE_PATH"),

		IPFSLocalAPI:        strings.TrimRight(v.GetString("IPFS_LOCAL_API"), "/"),
		PinataJWT:           v.GetString("PINATA_JWT"),
		PinataGatewayDomain: v.GetString("PINATA_GATEWAY_DOMAIN"),
		PinataGatewayKey:    v.GetString("PINATA_GATEWAY_KEY"),
		PublicGateways:      splitList(v.GetString("IPFS_PUBLIC_GATEWAYS")),
		IPFSTimeout:         v.GetDuration("IPFS_TIMEOUT"),

		SyncStream:        v.GetString("SYNC_STREAM"),
		ReconcileInterval: v.GetDuration("RECONCILE_INTERVAL"),
		AdminMintPolicy:   strings.ToLower(v.GetString("ADMIN_MINT_POLICY")),
		OnDataError:       strings.ToLower(v.GetString("ON_DATA_ERROR")),
		RetryAttempts:     v.GetInt("RETRY_ATTEMPTS"),
		RetryDelay:        v.GetDuration("RETRY_DELAY"),
		LockTTL:           v.GetDuration("LOCK_TTL"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
		return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
	}
	// ensure port is valid
	if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
		return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
	}
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if c.ContractAddress != "" && !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("invalid CONTRACT_ADDRESS %q", c.ContractAddress)
	}
	if c.USDCAddress != "" && !common.IsHexAddress(c.USDCAddress) {
		return fmt.Errorf("invalid USDC_ADDRESS %q", c.USDCAddress)
	}
	for _, a := range c.AdminAddresses {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("invalid admin address %q", a)
		}
	}
	if c.Mnemonic != "" && !bip39.IsMnemonicValid(c.Mnemonic) {
		return errors.New("invalid HD_WALLET_MNEMONIC")
	}
	switch c.AdminMintPolicy {
	case AdminMintSkip, AdminMintTrack:
	default:
		return fmt.Errorf("ADMIN_MINT_POLICY must be %q or %q, got %q", AdminMintSkip, AdminMintTrack, c.AdminMintPolicy)
	}
	switch c.OnDataError {
	case OnDataErrorStop, OnDataErrorSkip:
	default:
		return fmt.Errorf("ON_DATA_ERROR must be %q or %q, got %q", OnDataErrorStop, OnDataErrorSkip, c.OnDataError)
	}
	switch c.EventSource {
	case SourceRPC, SourceExplorer:
	default:
		return fmt.Errorf("EVENT_SOURCE must be %q or %q, got %q", SourceRPC, SourceExplorer, c.EventSource)
	}
	if c.RetryAttempts < 1 {
		return errors.New("RETRY_ATTEMPTS must be >= 1")
	}
	if c.SyncStream == "" {
		return errors.New("missing SYNC_STREAM")
	}
	return nil
}

// HasSigner reports whether a write-path credential is configured.
func (c *Config) HasSigner() bool { return c.PrivateKey != "" || c.Mnemonic != "" }

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// parseTime needed for DATETIME
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?multiStatements=true&parseTime=true&charset=utf8mb4,utf8",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}
