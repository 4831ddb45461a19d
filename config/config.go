package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Firebase  FirebaseConfig  `mapstructure:"firebase"`
	Store     StoreConfig     `mapstructure:"store"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Export    ExportConfig    `mapstructure:"export"`
	Maps      MapsConfig      `mapstructure:"maps"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Host        string `mapstructure:"host"`
	Environment string `mapstructure:"environment"`
}

type JWTConfig struct {
	Secret                 string        `mapstructure:"secret"`
	Expiration             time.Duration `mapstructure:"expiration"`
	RefreshTokenExpiration time.Duration `mapstructure:"refresh_expiration"`
}

// FirebaseConfig selects the identity backend. AuthMode "firebase" uses Firebase
// Auth (WebAPIKey is needed for password sign-in); "local" keeps bcrypt hashes in the store.
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsPath string `mapstructure:"credentials_path"`
	WebAPIKey       string `mapstructure:"web_api_key"`
	AuthMode        string `mapstructure:"auth_mode"`
}

// StoreConfig selects the document store backend: firestore or memory.
type StoreConfig struct {
	Backend             string `mapstructure:"backend"`
	TransactionAttempts int    `mapstructure:"transaction_attempts"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig limits requests per client. X-Forwarded-For is only read
// from TrustedProxies (IPs or CIDRs).
type RateLimitConfig struct {
	Requests       int           `mapstructure:"requests"`
	Window         time.Duration `mapstructure:"window"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PubSubConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
}

type ExportConfig struct {
	Bucket    string        `mapstructure:"bucket"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

type MapsConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type SchedulerConfig struct {
	ReconcileSpec string `mapstructure:"reconcile_spec"`
}

var defaults = map[string]interface{}{
	"server.port":                "8080",
	"server.host":                "0.0.0.0",
	"server.environment":         "development",
	"jwt.secret":                 "dev-secret-key",
	"jwt.expiration":             "30m",
	"jwt.refresh_expiration":     "7d",
	"firebase.project_id":        "sealtrack-dev",
	"firebase.credentials_path":  "",
	"firebase.web_api_key":       "",
	"firebase.auth_mode":         "local",
	"store.backend":              "memory",
	"store.transaction_attempts": 5,
	"cors.allowed_origins":       "http://localhost:5173",
	"ratelimit.requests":         100,
	"ratelimit.window":           "60",
	"ratelimit.trusted_proxies":  "",
	"logging.level":              "info",
	"logging.format":             "json",
	"pubsub.enabled":             false,
	"pubsub.topic":               "seal-notifications",
	"export.bucket":              "",
	"export.url_expiry":          "15m",
	"maps.api_key":               "",
	"scheduler.reconcile_spec":   "@every 1h",
}

// Unprefixed variable names kept for existing deployments.
var legacyEnv = map[string]string{
	"server.port":               "PORT",
	"server.host":               "HOST",
	"server.environment":        "ENVIRONMENT",
	"jwt.secret":                "JWT_SECRET",
	"jwt.expiration":            "JWT_EXPIRATION",
	"jwt.refresh_expiration":    "REFRESH_TOKEN_EXPIRATION",
	"firebase.project_id":       "FIREBASE_PROJECT_ID",
	"firebase.credentials_path": "FIREBASE_CREDENTIALS_PATH",
	"firebase.web_api_key":      "FIREBASE_WEB_API_KEY",
	"cors.allowed_origins":      "ALLOWED_ORIGINS",
	"ratelimit.requests":        "RATE_LIMIT_REQUESTS",
	"ratelimit.window":          "RATE_LIMIT_WINDOW",
	"ratelimit.trusted_proxies": "TRUSTED_PROXIES",
	"logging.level":             "LOG_LEVEL",
	"logging.format":            "LOG_FORMAT",
	"maps.api_key":              "GOOGLE_MAPS_API_KEY",
}

// Load reads configuration from an optional config file and the environment.
// SEALTRACK_<SECTION>_<KEY> variables take precedence over the unprefixed names.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("SEALTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key := range defaults {
		names := []string{"SEALTRACK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)
	cfg.RateLimit.TrustedProxies = trimAll(cfg.RateLimit.TrustedProxies)
	return &cfg, nil
}

// durationHook accepts Go durations ("30m"), day counts ("7d") and bare seconds ("60").
func durationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			return parseDuration(data.(string))
		case reflect.Int, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		}
		return data, nil
	}
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if strings.HasSuffix(s, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	// If it's just a number, assume seconds
	if i, err := strconv.Atoi(s); err == nil {
		return time.Duration(i) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// UseFirestore reports whether the Firestore backend is selected.
func (c *Config) UseFirestore() bool {
	return c.Store.Backend == "firestore"
}

// UseFirebaseAuth reports whether Firebase Auth holds the identities.
func (c *Config) UseFirebaseAuth() bool {
	return c.Firebase.AuthMode == "firebase"
}

// Validate checks settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.JWT.Secret == "dev-secret-key" && c.IsProduction() {
		return errors.New("JWT_SECRET must be set in production")
	}
	switch c.Store.Backend {
	case "firestore", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Firebase.AuthMode {
	case "firebase", "local":
	default:
		return fmt.Errorf("unknown auth mode %q", c.Firebase.AuthMode)
	}
	if (c.UseFirestore() || c.UseFirebaseAuth() || c.PubSub.Enabled || c.Export.Bucket != "") && c.Firebase.ProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID must be set")
	}
	if c.UseFirebaseAuth() && c.Firebase.WebAPIKey == "" {
		return errors.New("FIREBASE_WEB_API_KEY is required for firebase auth mode")
	}
	if c.Firebase.CredentialsPath != "" {
		if _, err := os.Stat(c.Firebase.CredentialsPath); os.IsNotExist(err) {
			return fmt.Errorf("Firebase credentials file not found: %s", c.Firebase.CredentialsPath)
		}
	}
	if !c.UseFirebaseAuth() && !c.PubSub.Enabled && !c.IsDevelopment() {
		return errors.New("local auth mode needs pubsub enabled to deliver password reset tokens")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit requests and window must be positive")
	}
	if c.Store.TransactionAttempts <= 0 {
		return errors.New("store transaction attempts must be positive")
	}
	return nil
}
