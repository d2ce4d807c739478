package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Invitation   InvitationConfig   `yaml:"invitation"`
	Account      AccountConfig      `yaml:"account"`
	Notification NotificationConfig `yaml:"notification"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Audit        AuditConfig        `yaml:"audit"`
	Auth         AuthConfig         `yaml:"auth"`
	CORS         CORSConfig         `yaml:"cors"`
	Security     SecurityConfig     `yaml:"security"`
	Log          LogConfig          `yaml:"log"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"                env:"SERVER_ADDR"                env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `yaml:"read_timeout"        env:"SERVER_READ_TIMEOUT"        env-default:"10s"`
	WriteTimeout      time.Duration `yaml:"write_timeout"       env:"SERVER_WRITE_TIMEOUT"       env-default:"30s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"        env:"SERVER_IDLE_TIMEOUT"        env-default:"60s"`
	RequestTimeout    time.Duration `yaml:"request_timeout"     env:"SERVER_REQUEST_TIMEOUT"     env-default:"20s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"    env:"SERVER_SHUTDOWN_TIMEOUT"    env-default:"15s"`
	TrustProxy        bool          `yaml:"trust_proxy"         env:"SERVER_TRUST_PROXY"         env-default:"false"`
	MetricsToken      string        `yaml:"metrics_token"       env:"SERVER_METRICS_TOKEN"`
}

// DatabaseConfig holds PostgreSQL settings. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"20"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"15m"`
	MigrationsDir   string        `yaml:"migrations_dir"     env:"DATABASE_MIGRATIONS_DIR"`
}

// RedisConfig holds Redis settings used by the redis rate-limit backend.
type RedisConfig struct {
	URL          string        `yaml:"url"            env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size"      env:"REDIS_POOL_SIZE"      env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout"   env:"REDIS_DIAL_TIMEOUT"   env-default:"2s"`
	ReadTimeout  time.Duration `yaml:"read_timeout"   env:"REDIS_READ_TIMEOUT"   env-default:"1s"`
	WriteTimeout time.Duration `yaml:"write_timeout"  env:"REDIS_WRITE_TIMEOUT"  env-default:"1s"`
}

// RateLimitConfig selects the window store and per-endpoint budgets.
type RateLimitConfig struct {
	Backend       string       `yaml:"backend"        env:"RATE_LIMIT_BACKEND"    env-default:"memory"`
	KeyPrefix     string       `yaml:"key_prefix"     env:"RATE_LIMIT_KEY_PREFIX" env-default:"agentgate:rl:"`
	Invite        PolicyConfig `yaml:"invite"         env-prefix:"RATE_LIMIT_INVITE_"`
	ValidateToken PolicyConfig `yaml:"validate_token" env-prefix:"RATE_LIMIT_VALIDATE_TOKEN_"`
	CreateAccount PolicyConfig `yaml:"create_account" env-prefix:"RATE_LIMIT_CREATE_ACCOUNT_"`
}

// PolicyConfig is one admission budget. Zero values are replaced by the
// endpoint defaults in WithDefaults.
type PolicyConfig struct {
	Window      time.Duration `yaml:"window"       env:"WINDOW"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	FailOpen    bool          `yaml:"fail_open"    env:"FAIL_OPEN"`
}

// InvitationConfig holds invitation token settings.
type InvitationConfig struct {
	TTL           time.Duration `yaml:"ttl"             env:"INVITATION_TTL"             env-default:"168h"`
	AcceptBaseURL string        `yaml:"accept_base_url" env:"INVITATION_ACCEPT_BASE_URL" env-default:"http://localhost:3000/accept-invite"`
}

// AccountConfig holds password policy and hashing settings.
type AccountConfig struct {
	MinPasswordLength int `yaml:"min_password_length" env:"ACCOUNT_MIN_PASSWORD_LENGTH" env-default:"12"`
	BcryptCost        int `yaml:"bcrypt_cost"         env:"ACCOUNT_BCRYPT_COST"         env-default:"12"`
}

// NotificationConfig holds dispatcher and transport settings.
type NotificationConfig struct {
	Transport      string         `yaml:"transport"       env:"NOTIFICATION_TRANSPORT"       env-default:"log"`
	FromAddress    string         `yaml:"from_address"    env:"NOTIFICATION_FROM_ADDRESS"    env-default:"no-reply@agentgate.local"`
	FromName       string         `yaml:"from_name"       env:"NOTIFICATION_FROM_NAME"       env-default:"Agent Onboarding"`
	ProductName    string         `yaml:"product_name"    env:"NOTIFICATION_PRODUCT_NAME"    env-default:"Agentgate"`
	LoginURL       string         `yaml:"login_url"       env:"NOTIFICATION_LOGIN_URL"       env-default:"http://localhost:3000/login"`
	MaxAttempts    int            `yaml:"max_attempts"    env:"NOTIFICATION_MAX_ATTEMPTS"    env-default:"3"`
	InlineAttempts int            `yaml:"inline_attempts" env:"NOTIFICATION_INLINE_ATTEMPTS"`
	Timeout        time.Duration  `yaml:"timeout"         env:"NOTIFICATION_TIMEOUT"         env-default:"15s"`
	AttemptTimeout time.Duration  `yaml:"attempt_timeout" env:"NOTIFICATION_ATTEMPT_TIMEOUT" env-default:"5s"`
	InitialBackoff time.Duration  `yaml:"initial_backoff" env:"NOTIFICATION_INITIAL_BACKOFF" env-default:"200ms"`
	MaxBackoff     time.Duration  `yaml:"max_backoff"     env:"NOTIFICATION_MAX_BACKOFF"     env-default:"2s"`
	SendGrid       SendGridConfig `yaml:"sendgrid"`
	Breaker        BreakerConfig  `yaml:"breaker"`
}

// SendGridConfig holds SendGrid API settings.
type SendGridConfig struct {
	APIKey string `yaml:"api_key" env:"SENDGRID_API_KEY"`
}

// BreakerConfig guards the provider: after Failures consecutive errors calls
// are skipped, with one probe per Cooldown.
type BreakerConfig struct {
	Failures int           `yaml:"failures" env:"NOTIFICATION_BREAKER_FAILURES" env-default:"5"`
	Cooldown time.Duration `yaml:"cooldown" env:"NOTIFICATION_BREAKER_COOLDOWN" env-default:"30s"`
}

// SweepConfig holds recovery sweep settings.
type SweepConfig struct {
	Schedule      string        `yaml:"schedule"       env:"SWEEP_SCHEDULE"       env-default:"0 */5 * * * *"`
	PurgeSchedule string        `yaml:"purge_schedule" env:"SWEEP_PURGE_SCHEDULE" env-default:"0 0 * * * *"`
	BatchSize     int           `yaml:"batch_size"     env:"SWEEP_BATCH_SIZE"     env-default:"50"`
	Timeout       time.Duration `yaml:"timeout"        env:"SWEEP_TIMEOUT"        env-default:"2m"`
	Concurrency   int           `yaml:"concurrency"    env:"SWEEP_CONCURRENCY"    env-default:"4"`
	Lease         time.Duration `yaml:"lease"          env:"SWEEP_LEASE"          env-default:"10m"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	DigestSecret string        `yaml:"digest_secret" env:"AUDIT_DIGEST_SECRET"`
	BufferSize   int           `yaml:"buffer_size"   env:"AUDIT_BUFFER_SIZE"   env-default:"0"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"AUDIT_WRITE_TIMEOUT" env-default:"3s"`
	KafkaBrokers []string      `yaml:"kafka_brokers" env:"AUDIT_KAFKA_BROKERS" env-separator:","`
	KafkaTopic   string        `yaml:"kafka_topic"   env:"AUDIT_KAFKA_TOPIC"   env-default:"agentgate.audit"`
}

// AuthConfig holds admin bearer token settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET" env-required:"true"`
	JWTIssuer string `yaml:"jwt_issuer" env:"AUTH_JWT_ISSUER" env-default:"agentgate"`
	AdminRole string `yaml:"admin_role" env:"AUTH_ADMIN_ROLE" env-default:"admin"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowed_origins"   env:"CORS_ALLOWED_ORIGINS"   env-default:"*"`
	AllowedMethods   string `yaml:"allowed_methods"   env:"CORS_ALLOWED_METHODS"   env-default:"POST,OPTIONS"`
	AllowedHeaders   string `yaml:"allowed_headers"   env:"CORS_ALLOWED_HEADERS"   env-default:"Authorization,Content-Type"`
	AllowCredentials bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"false"`
	MaxAge           int    `yaml:"max_age"           env:"CORS_MAX_AGE"           env-default:"600"`
}

// SecurityConfig holds response security header settings.
type SecurityConfig struct {
	HSTSMaxAge            time.Duration `yaml:"hsts_max_age"            env:"SECURITY_HSTS_MAX_AGE"            env-default:"8760h"`
	ContentSecurityPolicy string        `yaml:"content_security_policy" env:"SECURITY_CONTENT_SECURITY_POLICY" env-default:"default-src 'none'; frame-ancestors 'none'"`
	ReferrerPolicy        string        `yaml:"referrer_policy"         env:"SECURITY_REFERRER_POLICY"         env-default:"no-referrer"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// TracingConfig holds OTLP exporter settings. An empty endpoint leaves the
// global no-op tracer in place.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"     env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"           env-default:"agentgate"`
	SampleRatio float64 `yaml:"sample_ratio" env:"TRACING_SAMPLE_RATIO"        env-default:"1"`
}
