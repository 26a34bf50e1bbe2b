package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	Audit AuditConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// AuditConfig drives interception, persistence and retention of admin audit events.
type AuditConfig struct {
	RetentionDays     int
	URLPrefix         string
	SelfPrefix        string
	SensitivePrefixes []string
	CaptureIP         bool

	// RetentionRunTime is a wall-clock "HH:MM" in server local time.
	RetentionRunTime string
	DefaultRole      string
	PurgeNonMutating bool

	QueueSize    int
	Workers      int
	WriteTimeout time.Duration

	RoleLookup   bool
	RoleCacheTTL time.Duration
}

const (
	DefaultRetentionDays    = 30
	DefaultAuditURLPrefix   = "/api/admin/"
	DefaultAuditSelfPrefix  = "/api/admin/audit"
	DefaultRetentionRunTime = "03:15"
	DefaultAuditRole        = "UNKNOWN"
)

var DefaultSensitivePrefixes = []string{
	"/api/admin/racers",
	"/api/admin/races",
	"/api/admin/registrations",
	"/api/admin/results",
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
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	audit, errs := loadAudit()
	parseErrs = append(parseErrs, errs...)
	c.Audit = audit

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadAudit() (AuditConfig, []error) {
	var a AuditConfig
	var errs []error

	if n, err := optionalInt("AUDIT_RETENTION_DAYS"); err != nil {
		errs = append(errs, err)
	} else {
		a.RetentionDays = n
	}
	a.URLPrefix = strings.TrimSpace(os.Getenv("AUDIT_URL_PREFIX"))
	a.SelfPrefix = strings.TrimSpace(os.Getenv("AUDIT_SELF_PREFIX"))
	a.SensitivePrefixes = splitList(os.Getenv("AUDIT_SENSITIVE_PREFIXES"))
	a.RetentionRunTime = strings.TrimSpace(os.Getenv("AUDIT_RETENTION_RUN_TIME"))
	a.DefaultRole = strings.TrimSpace(os.Getenv("AUDIT_DEFAULT_ROLE"))

	var err error
	if a.CaptureIP, err = optionalBool("AUDIT_CAPTURE_IP", false); err != nil {
		errs = append(errs, err)
	}
	if a.PurgeNonMutating, err = optionalBool("AUDIT_PURGE_NON_MUTATING", false); err != nil {
		errs = append(errs, err)
	}
	if a.RoleLookup, err = optionalBool("AUDIT_ROLE_LOOKUP", true); err != nil {
		errs = append(errs, err)
	}
	if a.QueueSize, err = optionalInt("AUDIT_QUEUE_SIZE"); err != nil {
		errs = append(errs, err)
	}
	if a.Workers, err = optionalInt("AUDIT_WORKERS"); err != nil {
		errs = append(errs, err)
	}
	a.WriteTimeout = mustDuration("AUDIT_WRITE_TIMEOUT")
	a.RoleCacheTTL = mustDuration("AUDIT_ROLE_CACHE_TTL")
	return a, errs
}

// Validate applies defaults in place and reports every invalid setting at once.
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
		c.Auth.AccessTokenTTL = 24 * time.Hour
	}

	errs = append(errs, c.Audit.validate()...)

	return joinErrors(errs)
}

func (a *AuditConfig) validate() []error {
	var errs []error

	if a.RetentionDays == 0 {
		a.RetentionDays = DefaultRetentionDays
	}
	if a.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("AUDIT_RETENTION_DAYS must be >= 1, got %d", a.RetentionDays))
	}
	if a.URLPrefix == "" {
		a.URLPrefix = DefaultAuditURLPrefix
	}
	if a.SelfPrefix == "" {
		a.SelfPrefix = DefaultAuditSelfPrefix
	}
	if !strings.HasPrefix(a.URLPrefix, "/") {
		errs = append(errs, fmt.Errorf("AUDIT_URL_PREFIX must start with /, got %q", a.URLPrefix))
	}
	if !strings.HasPrefix(a.SelfPrefix, "/") {
		errs = append(errs, fmt.Errorf("AUDIT_SELF_PREFIX must start with /, got %q", a.SelfPrefix))
	}
	if len(a.SensitivePrefixes) == 0 {
		a.SensitivePrefixes = append([]string(nil), DefaultSensitivePrefixes...)
	}
	for _, p := range a.SensitivePrefixes {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("AUDIT_SENSITIVE_PREFIXES entries must start with /, got %q", p))
		}
	}
	if a.RetentionRunTime == "" {
		a.RetentionRunTime = DefaultRetentionRunTime
	}
	if _, _, err := ParseRunTime(a.RetentionRunTime); err != nil {
		errs = append(errs, err)
	}
	if a.DefaultRole == "" {
		a.DefaultRole = DefaultAuditRole
	}
	if a.QueueSize <= 0 {
		a.QueueSize = 1024
	}
	if a.Workers <= 0 {
		a.Workers = 2
	}
	if a.WriteTimeout <= 0 {
		a.WriteTimeout = 3 * time.Second
	}
	if a.RoleCacheTTL <= 0 {
		a.RoleCacheTTL = 30 * time.Second
	}
	return errs
}

// ParseRunTime parses a 24h "HH:MM" time-of-day.
func ParseRunTime(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("AUDIT_RETENTION_RUN_TIME must be HH:MM, got %q", v)
	}
	return t.Hour(), t.Minute(), nil
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

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func mustDuration(key string) time.Duration {
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

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
