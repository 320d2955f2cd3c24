package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the dialer process.
// Values come from env, optionally overlaid by a config file (CONFIG_FILE or --config).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Twilio TwilioConfig
	Dialer DialerConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string

	// PublicBaseURL is where providers reach our webhooks, e.g. https://dialer.example.com.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	MaxOpenConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// APIBaseURL is overridable for tests and regional edges.
	APIBaseURL string
	// MediaStreamURL, when set, connects answered calls to the agent media stream.
	MediaStreamURL string
	// ValidateSignatures toggles X-Twilio-Signature checks on webhooks.
	ValidateSignatures bool
}

type DialerConfig struct {
	Provider        string // twilio | loopback
	OutcomeBus      string // memory | redis
	SweepInterval   time.Duration
	DefaultTimezone string
	LeaseTTL        time.Duration

	// CallerIDs is a comma list of "number:weight" pairs.
	CallerIDs string

	LoopbackCallDuration time.Duration
}

const (
	ProviderTwilio   = "twilio"
	ProviderLoopback = "loopback"

	OutcomeBusMemory = "memory"
	OutcomeBusRedis  = "redis"
)

// Load reads configuration from env and the optional CONFIG_FILE.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom reads configuration from env, overlaid on the config file at path (if any).
// Env always wins over the file.
func LoadFrom(path string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	src := source{v: v}

	c := Config{}
	var parseErrs []error

	c.App.Env = src.str("APP_ENV")
	c.App.Port, parseErrs = appendParseErr(parseErrs)(src.mustInt("APP_PORT"))
	c.App.LogLevel = src.str("LOG_LEVEL")
	c.App.PublicBaseURL = strings.TrimRight(src.str("PUBLIC_BASE_URL"), "/")

	c.DB.Host = src.str("DB_HOST")
	c.DB.Port, parseErrs = appendParseErr(parseErrs)(src.mustInt("DB_PORT"))
	c.DB.User = src.str("DB_USER")
	c.DB.Password = src.raw("DB_PASSWORD")
	c.DB.Name = src.str("DB_NAME")
	c.DB.SSLMode = src.str("DB_SSLMODE")
	c.DB.MaxOpenConns, parseErrs = appendParseErr(parseErrs)(src.optInt("DB_MAX_OPEN_CONNS"))

	c.Redis.Host = src.str("REDIS_HOST")
	c.Redis.Port, parseErrs = appendParseErr(parseErrs)(src.mustInt("REDIS_PORT"))
	c.Redis.Password = src.raw("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = appendParseErr(parseErrs)(src.optInt("REDIS_DB"))

	c.Auth.JWTSecret = src.raw("JWT_SECRET")
	c.Auth.JWTIssuer = src.str("JWT_ISSUER")
	c.Auth.JWTAudience = src.str("JWT_AUDIENCE")
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = src.duration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = src.duration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = src.str("TWILIO_ACCOUNT_SID")
	c.Twilio.AuthToken = src.raw("TWILIO_AUTH_TOKEN")
	c.Twilio.APIBaseURL = strings.TrimRight(src.str("TWILIO_API_BASE_URL"), "/")
	c.Twilio.MediaStreamURL = src.str("TWILIO_MEDIA_STREAM_URL")
	c.Twilio.ValidateSignatures = src.boolean("TWILIO_VALIDATE_SIGNATURES", true)

	c.Dialer.Provider = src.str("DIALER_PROVIDER")
	c.Dialer.OutcomeBus = src.str("DIALER_OUTCOME_BUS")
	c.Dialer.SweepInterval = src.duration("DIALER_SWEEP_INTERVAL")
	c.Dialer.DefaultTimezone = src.str("DIALER_DEFAULT_TIMEZONE")
	c.Dialer.LeaseTTL = src.duration("DIALER_LEASE_TTL")
	c.Dialer.CallerIDs = src.str("DIALER_CALLER_IDS")
	c.Dialer.LoopbackCallDuration = src.duration("DIALER_LOOPBACK_CALL_DURATION")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills env-dependent defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateDialer()...)

	return joinErrors(errs)
}

func (c *Config) validateDialer() []error {
	var errs []error

	if c.Dialer.Provider == "" {
		if c.IsLocal() {
			c.Dialer.Provider = ProviderLoopback
		} else {
			c.Dialer.Provider = ProviderTwilio
		}
	}
	switch c.Dialer.Provider {
	case ProviderLoopback:
		if c.IsProduction() {
			errs = append(errs, errors.New("DIALER_PROVIDER=loopback is not allowed in production"))
		}
	case ProviderTwilio:
		if c.Twilio.AccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required for the twilio provider"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required for the twilio provider"))
		}
		if c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required for the twilio provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("DIALER_PROVIDER must be one of twilio, loopback, got %q", c.Dialer.Provider))
	}
	if c.App.PublicBaseURL != "" {
		if u, err := url.Parse(c.App.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.App.PublicBaseURL))
		}
	}
	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com"
	}

	if c.Dialer.OutcomeBus == "" {
		c.Dialer.OutcomeBus = OutcomeBusMemory
	}
	if c.Dialer.OutcomeBus != OutcomeBusMemory && c.Dialer.OutcomeBus != OutcomeBusRedis {
		errs = append(errs, fmt.Errorf("DIALER_OUTCOME_BUS must be one of memory, redis, got %q", c.Dialer.OutcomeBus))
	}
	if c.Dialer.SweepInterval <= 0 {
		c.Dialer.SweepInterval = 5 * time.Second
	}
	if c.Dialer.LeaseTTL <= 0 {
		c.Dialer.LeaseTTL = 30 * time.Second
	}
	if c.Dialer.LeaseTTL < 3*c.Dialer.SweepInterval {
		errs = append(errs, errors.New("DIALER_LEASE_TTL must be at least three sweep intervals"))
	}
	if c.Dialer.DefaultTimezone == "" {
		c.Dialer.DefaultTimezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Dialer.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("DIALER_DEFAULT_TIMEZONE must be an IANA zone, got %q", c.Dialer.DefaultTimezone))
	}
	if c.Dialer.LoopbackCallDuration <= 0 {
		c.Dialer.LoopbackCallDuration = 20 * time.Second
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// MigrationURL is PostgresDSN in the URL form the migration driver expects.
func (c Config) MigrationURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     "/" + c.DB.Name,
		RawQuery: url.Values{"sslmode": {c.DB.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// StatusCallbackURL is the absolute URL providers post call status updates to.
func (c Config) StatusCallbackURL() string {
	return c.App.PublicBaseURL + "/webhooks/twilio/status"
}

type source struct {
	v *viper.Viper
}

func (s source) raw(key string) string { return s.v.GetString(key) }

func (s source) str(key string) string { return strings.TrimSpace(s.v.GetString(key)) }

func (s source) mustInt(key string) (int, error) {
	v := s.str(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func (s source) optInt(key string) (int, error) {
	if s.str(key) == "" {
		return 0, nil
	}
	return s.mustInt(key)
}

// duration returns 0 for missing or malformed values; Validate applies defaults.
func (s source) duration(key string) time.Duration {
	v := s.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func (s source) boolean(key string, def bool) bool {
	v := s.str(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func appendParseErr(errs []error) func(int, error) (int, []error) {
	return func(n int, err error) (int, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return n, errs
	}
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
