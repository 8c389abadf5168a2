package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/retry"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Indexer    IndexerConfig    `mapstructure:"indexer"`
	Assets     AssetsConfig     `mapstructure:"assets"`
	Wallets    WalletsConfig    `mapstructure:"wallets"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Deposit    DepositConfig    `mapstructure:"deposit"`
	Redemption RedemptionConfig `mapstructure:"redemption"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Lock       LockConfig       `mapstructure:"lock"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// PostgresConfig enables the audit trail when DSN is set.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type LedgerConfig struct {
	GatewayURL       string        `mapstructure:"gateway_url"`
	APIKey           string        `mapstructure:"api_key"`
	IssuerPrivateKey string        `mapstructure:"issuer_private_key"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	// EVMRPCURL, when set, reads balances through the token's ERC-20 facade
	// instead of the gateway.
	EVMRPCURL string `mapstructure:"evm_rpc_url"`
}

type IndexerConfig struct {
	MirrorNodeURL  string        `mapstructure:"mirror_node_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ClockSkew      time.Duration `mapstructure:"clock_skew"`
}

type AssetConfig struct {
	Symbol   string         `mapstructure:"symbol"`
	Token    ledger.TokenID `mapstructure:"token"`
	Decimals int32          `mapstructure:"decimals"`
}

func (a AssetConfig) Asset() ledger.Asset {
	return ledger.Asset{Symbol: a.Symbol, Token: a.Token, Decimals: a.Decimals}
}

type AssetsConfig struct {
	Stable AssetConfig `mapstructure:"stable"`
	Yield  AssetConfig `mapstructure:"yield"`
}

type WalletsConfig struct {
	Custody        ledger.AccountID `mapstructure:"custody"`
	Treasury       ledger.AccountID `mapstructure:"treasury"`
	InstantPayout  ledger.AccountID `mapstructure:"instant_payout"`
	StandardPayout ledger.AccountID `mapstructure:"standard_payout"`
	// FeePayer pays schedule creation fees; defaults to Treasury.
	FeePayer ledger.AccountID `mapstructure:"fee_payer"`
}

type OracleConfig struct {
	TopicID  string        `mapstructure:"topic_id"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type DepositConfig struct {
	ScheduleTTL time.Duration `mapstructure:"schedule_ttl"`
	Retention   time.Duration `mapstructure:"retention"`
}

type RedemptionConfig struct {
	InstantMax    decimal.Decimal `mapstructure:"instant_max"`
	InstantFeeBps int64           `mapstructure:"instant_fee_bps"`
	LockPeriod    time.Duration   `mapstructure:"lock_period"`
	ScheduleTTL   time.Duration   `mapstructure:"schedule_ttl"`
	// VerifyDelays is the indexer polling schedule for inbound transfers.
	VerifyDelays []time.Duration `mapstructure:"verify_delays"`
	// SettleTimeout bounds payout, rollback and bookkeeping once a request
	// has been verified, independent of the caller.
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
}

type WorkerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int64         `mapstructure:"batch_size"`
}

type LockConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

type AlertingConfig struct {
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads defaults, an optional YAML file and the environment. An empty
// path searches config.yaml in . and /app.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                 "PORT",
		"server.grpc_port":            "GRPC_PORT",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"postgres.dsn":                "AUDIT_DATABASE_URL",
		"ledger.gateway_url":          "LEDGER_GATEWAY_URL",
		"ledger.api_key":              "LEDGER_API_KEY",
		"ledger.issuer_private_key":   "ISSUER_PRIVATE_KEY",
		"ledger.evm_rpc_url":          "LEDGER_EVM_RPC_URL",
		"indexer.mirror_node_url":     "MIRROR_NODE_URL",
		"assets.stable.token":         "STABLE_TOKEN_ID",
		"assets.yield.token":          "YIELD_TOKEN_ID",
		"wallets.custody":             "CUSTODY_ACCOUNT_ID",
		"wallets.treasury":            "TREASURY_ACCOUNT_ID",
		"wallets.instant_payout":      "INSTANT_PAYOUT_ACCOUNT_ID",
		"wallets.standard_payout":     "STANDARD_PAYOUT_ACCOUNT_ID",
		"oracle.topic_id":             "RATE_TOPIC_ID",
		"alerting.telegram.bot_token": "TELEGRAM_BOT_TOKEN",
		"alerting.telegram.chat_id":   "TELEGRAM_CHAT_ID",
		"admin.api_key":               "ADMIN_API_KEY",
		"log.level":                   "LOG_LEVEL",
		"redemption.instant_max":      "INSTANT_REDEMPTION_MAX",
		"redemption.lock_period":      "REDEMPTION_LOCK_PERIOD",
		"worker.interval":             "WORKER_INTERVAL",
		"alerting.telegram.enabled":   "TELEGRAM_ENABLED",
		"redemption.instant_fee_bps":  "INSTANT_FEE_BPS",
		"indexer.request_timeout":     "MIRROR_NODE_TIMEOUT",
		"ledger.request_timeout":      "LEDGER_TIMEOUT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Wallets.FeePayer == "" {
		cfg.Wallets.FeePayer = cfg.Wallets.Treasury
	}
	return cfg, cfg.validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("postgres.max_conns", 4)

	v.SetDefault("ledger.request_timeout", "30s")
	v.SetDefault("indexer.request_timeout", "10s")
	v.SetDefault("indexer.clock_skew", "1m")

	v.SetDefault("assets.stable.symbol", "USDC")
	v.SetDefault("assets.stable.decimals", 6)
	v.SetDefault("assets.yield.symbol", "yUSD")
	v.SetDefault("assets.yield.decimals", 6)

	v.SetDefault("oracle.cache_ttl", "10s")

	v.SetDefault("deposit.schedule_ttl", "1h")
	v.SetDefault("deposit.retention", "720h")

	v.SetDefault("redemption.instant_max", "10000")
	v.SetDefault("redemption.instant_fee_bps", 50)
	v.SetDefault("redemption.lock_period", "168h")
	v.SetDefault("redemption.schedule_ttl", "1h")
	v.SetDefault("redemption.verify_delays", joinDurations(retry.IndexerDelays, ","))
	v.SetDefault("redemption.settle_timeout", "2m")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.interval", "1m")
	v.SetDefault("worker.batch_size", 50)

	v.SetDefault("lock.ttl", "2m")
	v.SetDefault("lock.wait_timeout", "30s")

	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("log.level", "info")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			stringToDecimalHook(),
			stringToDurationSliceHook(","),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

var (
	decimalType   = reflect.TypeOf(decimal.Decimal{})
	durationsType = reflect.TypeOf([]time.Duration{})
)

func stringToDecimalHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		}
		return data, nil
	}
}

func stringToDurationSliceHook(sep string) mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		s, ok := data.(string)
		if !ok || to != durationsType {
			return data, nil
		}
		if strings.TrimSpace(s) == "" {
			return []time.Duration{}, nil
		}
		var out []time.Duration
		for _, part := range strings.Split(s, sep) {
			d, err := time.ParseDuration(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("duration list %q: %w", s, err)
			}
			out = append(out, d)
		}
		return out, nil
	}
}

func joinDurations(ds []time.Duration, sep string) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, sep)
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	var missing []string
	for _, r := range []req{
		{c.Ledger.GatewayURL, "LEDGER_GATEWAY_URL"},
		{c.Ledger.IssuerPrivateKey, "ISSUER_PRIVATE_KEY"},
		{c.Indexer.MirrorNodeURL, "MIRROR_NODE_URL"},
		{string(c.Assets.Stable.Token), "STABLE_TOKEN_ID"},
		{string(c.Assets.Yield.Token), "YIELD_TOKEN_ID"},
		{string(c.Wallets.Custody), "CUSTODY_ACCOUNT_ID"},
		{string(c.Wallets.Treasury), "TREASURY_ACCOUNT_ID"},
		{string(c.Wallets.InstantPayout), "INSTANT_PAYOUT_ACCOUNT_ID"},
		{string(c.Wallets.StandardPayout), "STANDARD_PAYOUT_ACCOUNT_ID"},
		{c.Oracle.TopicID, "RATE_TOPIC_ID"},
	} {
		if r.val == "" {
			missing = append(missing, r.name)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			missing = append(missing, "TELEGRAM_BOT_TOKEN")
		}
		if c.Alerting.Telegram.ChatID == "" {
			missing = append(missing, "TELEGRAM_CHAT_ID")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required config missing: %s", strings.Join(missing, ", "))
	}

	for name, id := range map[string]string{
		"wallets.custody":         string(c.Wallets.Custody),
		"wallets.treasury":        string(c.Wallets.Treasury),
		"wallets.instant_payout":  string(c.Wallets.InstantPayout),
		"wallets.standard_payout": string(c.Wallets.StandardPayout),
		"wallets.fee_payer":       string(c.Wallets.FeePayer),
		"assets.stable.token":     string(c.Assets.Stable.Token),
		"assets.yield.token":      string(c.Assets.Yield.Token),
	} {
		if _, err := ledger.ParseEntityID(id); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Redemption.InstantFeeBps < 0 || c.Redemption.InstantFeeBps >= 10_000 {
		return fmt.Errorf("redemption.instant_fee_bps must be in [0, 10000), got %d", c.Redemption.InstantFeeBps)
	}
	if c.Redemption.InstantMax.IsNegative() {
		return fmt.Errorf("redemption.instant_max cannot be negative")
	}
	if len(c.Redemption.VerifyDelays) == 0 {
		return fmt.Errorf("redemption.verify_delays must not be empty")
	}
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("worker.interval must be greater than zero")
	}
	return nil
}
