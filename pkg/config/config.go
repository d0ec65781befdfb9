package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "TLBD"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "TLBD_DB_DSN"
	EnvDBHost = "TLBD_DB_HOST"
	EnvDBUser = "TLBD_DB_USER"
	EnvDBName = "TLBD_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	Wallet        WalletConfig
	Bonus         BonusConfig
	AuthRateLimit AuthRateLimitConfig
	APIRateLimit  APIRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Gateway       GatewayConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TLBD_APP_ENV" required:"true"`
	Port         string `envconfig:"TLBD_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TLBD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TLBD_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TLBD_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TLBD_DB_DSN"`
	Driver string `envconfig:"TLBD_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TLBD_DB_HOST"`
	LegacyPort     int    `envconfig:"TLBD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TLBD_DB_USER"`
	LegacyPassword string `envconfig:"TLBD_DB_PASSWORD"`
	LegacyName     string `envconfig:"TLBD_DB_NAME"`
	LegacySSLMode  string `envconfig:"TLBD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TLBD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TLBD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TLBD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TLBD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TLBD_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TLBD_REDIS_ADDR"`
	Password     string        `envconfig:"TLBD_REDIS_PASSWORD"`
	DB           int           `envconfig:"TLBD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TLBD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TLBD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TLBD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TLBD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TLBD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"TLBD_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"TLBD_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"TLBD_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"TLBD_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"TLBD_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"TLBD_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"TLBD_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"TLBD_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"TLBD_ARGON_KEY_LEN" default:"32"`
}

type WalletConfig struct {
	DefaultDailyLimit string `envconfig:"TLBD_WALLET_DEFAULT_DAILY_LIMIT" default:"1000.00"`
	DefaultCurrency   string `envconfig:"TLBD_WALLET_DEFAULT_CURRENCY" default:"TLB"`
}

type BonusConfig struct {
	WelcomeAmount      string `envconfig:"TLBD_BONUS_WELCOME_AMOUNT" default:"10.00"`
	DefaultExpiryDays  int    `envconfig:"TLBD_BONUS_DEFAULT_EXPIRY_DAYS" default:"30"`
	DefaultMaxForwards int    `envconfig:"TLBD_BONUS_DEFAULT_MAX_FORWARDS" default:"3"`
	ExpirySweepBatch   int    `envconfig:"TLBD_BONUS_EXPIRY_SWEEP_BATCH" default:"500"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"TLBD_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"TLBD_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"TLBD_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"TLBD_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"TLBD_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"TLBD_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type APIRateLimitConfig struct {
	Window    time.Duration `envconfig:"TLBD_API_RATE_LIMIT_WINDOW" default:"1m"`
	UserLimit int           `envconfig:"TLBD_API_RATE_LIMIT_USER_LIMIT" default:"120"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TLBD_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig wires the external payment gateway used for top-ups.
type GatewayConfig struct {
	BaseURL        string        `envconfig:"TLBD_GATEWAY_BASE_URL"`
	APIKey         string        `envconfig:"TLBD_GATEWAY_API_KEY"`
	WebhookSecret  string        `envconfig:"TLBD_GATEWAY_WEBHOOK_SECRET"`
	Env            string        `envconfig:"TLBD_GATEWAY_ENV" default:"sandbox"`
	RequestTimeout time.Duration `envconfig:"TLBD_GATEWAY_REQUEST_TIMEOUT" default:"15s"`
	// ChargeTimeout bounds how long a top-up may sit in processing before the
	// timeout sweep fails it.
	ChargeTimeout time.Duration `envconfig:"TLBD_GATEWAY_CHARGE_TIMEOUT" default:"24h"`
}

// Environment returns the normalized gateway environment (sandbox/production).
func (g GatewayConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(g.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TLBD_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"TLBD_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TLBD_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	WalletTopic        string `envconfig:"TLBD_PUBSUB_WALLET_TOPIC" default:"tlbd-wallet-events"`
	WalletSubscription string `envconfig:"TLBD_PUBSUB_WALLET_SUBSCRIPTION"`
	BonusTopic         string `envconfig:"TLBD_PUBSUB_BONUS_TOPIC" default:"tlbd-bonus-events"`
	BonusSubscription  string `envconfig:"TLBD_PUBSUB_BONUS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"TLBD_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"TLBD_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"TLBD_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"TLBD_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"TLBD_CRON_INTERVAL" default:"1h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
