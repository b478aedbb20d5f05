package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the bridge process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Bridge    BridgeConfig
	Providers ProvidersConfig
	CallLog   CallLogConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base URL of this process,
	// advertised to providers as the webhook callback origin. Blank in
	// local/dev means providers are not told to call back.
	PublicURL string
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
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	ServiceTokenTTL time.Duration
}

// BridgeConfig tunes session lifecycle handling.
type BridgeConfig struct {
	// RingTimeout bounds how long a session may sit in dialing/ringing
	// before the watchdog gives up on the callee answering.
	RingTimeout time.Duration

	// BrowserJoinTimeout bounds how long an answered call may wait for the
	// operator's browser leg before the watchdog fails it.
	BrowserJoinTimeout time.Duration

	// WatchdogInterval is how often stuck sessions are scanned for.
	WatchdogInterval time.Duration

	// Retention keeps terminal session snapshots readable after ended_at.
	Retention time.Duration

	// MaxLifetime caps any snapshot's storage lifetime so crashed sessions
	// cannot leak keys forever.
	MaxLifetime time.Duration

	// MaxLiveSessions caps concurrently live bridges (0 = unlimited).
	MaxLiveSessions int

	// CallerIDPool is a weighted pool spec, e.g. "+15550100:3,+15550101:1".
	// Used when an initiate request does not pin a from number.
	CallerIDPool string
}

type ProvidersConfig struct {
	Conference ConferenceConfig
	Direct     DirectConfig
}

// ConferenceConfig targets the conference-bridging vendor (form-encoded
// REST, basic auth).
type ConferenceConfig struct {
	BaseURL       string
	AccountSID    string
	APIToken      string
	WebhookSecret string
}

// DirectConfig targets the direct-bridging vendor (JSON REST, bearer auth).
type DirectConfig struct {
	BaseURL       string
	APIToken      string
	WebhookSecret string
}

// CallLogConfig targets the downstream call-log collector.
// An empty URL disables HTTP delivery (records still land in the archive).
type CallLogConfig struct {
	URL        string
	AuthToken  string
	Timeout    time.Duration
	MaxRetries int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimSpace(os.Getenv("APP_PUBLIC_URL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.ServiceTokenTTL = optDuration("SERVICE_TOKEN_TTL")

	c.Bridge.RingTimeout = optDuration("BRIDGE_RING_TIMEOUT")
	c.Bridge.BrowserJoinTimeout = optDuration("BRIDGE_BROWSER_JOIN_TIMEOUT")
	c.Bridge.WatchdogInterval = optDuration("BRIDGE_WATCHDOG_INTERVAL")
	c.Bridge.Retention = optDuration("BRIDGE_RETENTION")
	c.Bridge.MaxLifetime = optDuration("BRIDGE_MAX_LIFETIME")
	c.Bridge.MaxLiveSessions = optInt("BRIDGE_MAX_LIVE_SESSIONS", 0)
	c.Bridge.CallerIDPool = strings.TrimSpace(os.Getenv("BRIDGE_CALLER_ID_POOL"))

	c.Providers.Conference.BaseURL = strings.TrimSpace(os.Getenv("CONFERENCE_API_URL"))
	c.Providers.Conference.AccountSID = strings.TrimSpace(os.Getenv("CONFERENCE_ACCOUNT_SID"))
	c.Providers.Conference.APIToken = os.Getenv("CONFERENCE_API_TOKEN")
	c.Providers.Conference.WebhookSecret = os.Getenv("CONFERENCE_WEBHOOK_SECRET")

	c.Providers.Direct.BaseURL = strings.TrimSpace(os.Getenv("DIRECT_API_URL"))
	c.Providers.Direct.APIToken = os.Getenv("DIRECT_API_TOKEN")
	c.Providers.Direct.WebhookSecret = os.Getenv("DIRECT_WEBHOOK_SECRET")

	c.CallLog.URL = strings.TrimSpace(os.Getenv("CALLLOG_URL"))
	c.CallLog.AuthToken = os.Getenv("CALLLOG_AUTH_TOKEN")
	c.CallLog.Timeout = optDuration("CALLLOG_TIMEOUT")
	c.CallLog.MaxRetries = optInt("CALLLOG_MAX_RETRIES", 0)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills optional fields so Validate can stay a pure check.
func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}

	if c.Auth.ServiceTokenTTL <= 0 {
		c.Auth.ServiceTokenTTL = time.Hour
	}

	if c.Bridge.RingTimeout <= 0 {
		c.Bridge.RingTimeout = 35 * time.Second
	}
	if c.Bridge.BrowserJoinTimeout <= 0 {
		c.Bridge.BrowserJoinTimeout = 90 * time.Second
	}
	if c.Bridge.WatchdogInterval <= 0 {
		c.Bridge.WatchdogInterval = 5 * time.Second
	}
	if c.Bridge.Retention <= 0 {
		c.Bridge.Retention = time.Hour
	}
	if c.Bridge.MaxLifetime <= 0 {
		c.Bridge.MaxLifetime = 6 * time.Hour
	}

	if c.CallLog.Timeout <= 0 {
		c.CallLog.Timeout = 5 * time.Second
	}
	if c.CallLog.MaxRetries <= 0 {
		c.CallLog.MaxRetries = 5
	}
}

func (c Config) Validate() error {
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
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
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

	if c.Bridge.MaxLiveSessions < 0 {
		errs = append(errs, fmt.Errorf("BRIDGE_MAX_LIVE_SESSIONS must be >= 0, got %d", c.Bridge.MaxLiveSessions))
	}
	if c.Bridge.RingTimeout < 5*time.Second {
		errs = append(errs, fmt.Errorf("BRIDGE_RING_TIMEOUT must be at least 5s, got %s", c.Bridge.RingTimeout))
	}

	// Provider credentials may be blank in local/dev (adapters run against
	// sandboxes or fakes), but production must carry them.
	if c.IsProduction() {
		if c.App.PublicURL == "" {
			errs = append(errs, errors.New("APP_PUBLIC_URL is required in production"))
		}
		if c.Providers.Conference.BaseURL == "" || c.Providers.Conference.AccountSID == "" || c.Providers.Conference.APIToken == "" {
			errs = append(errs, errors.New("CONFERENCE_API_URL, CONFERENCE_ACCOUNT_SID and CONFERENCE_API_TOKEN are required in production"))
		}
		if c.Providers.Conference.WebhookSecret == "" {
			errs = append(errs, errors.New("CONFERENCE_WEBHOOK_SECRET is required in production"))
		}
		if c.Providers.Direct.BaseURL == "" || c.Providers.Direct.APIToken == "" {
			errs = append(errs, errors.New("DIRECT_API_URL and DIRECT_API_TOKEN are required in production"))
		}
		if c.Providers.Direct.WebhookSecret == "" {
			errs = append(errs, errors.New("DIRECT_WEBHOOK_SECRET is required in production"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
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

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// WebhookURL is the absolute callback URL for one provider's events, or ""
// when no public URL is configured.
func (c Config) WebhookURL(provider string) string {
	if c.App.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(c.App.PublicURL, "/") + "/webhooks/" + provider + "/events"
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optInt returns def when the variable is unset or malformed.
func optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// optDuration returns 0 when the variable is unset or malformed; defaults
// are applied in applyDefaults.
func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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
