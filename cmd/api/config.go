package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config is read from the environment; a .env file in the working directory
// is loaded first when present.
type Config struct {
	Port               int           `env:"PORT,default=8080"`
	GRPCPort           int           `env:"GRPC_PORT,default=50051"`
	StoreDriver        string        `env:"STORE_DRIVER,default=mongo"`
	MongoURI           string        `env:"MONGODB_URI"`
	MongoDatabase      string        `env:"MONGODB_DATABASE,default=chat_db"`
	BadgerFilepath     string        `env:"BADGER_FILEPATH,default=./data/badger"`
	JWTSecret          string        `env:"JWT_SECRET"`
	JWTKeys            string        `env:"JWT_KEYS"`
	JWTActiveKid       string        `env:"JWT_ACTIVE_KID"`
	AuthTokenDuration  time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	RateLimitRPM       int           `env:"RATE_LIMIT_RPM,default=10"`
	SendRateLimitRPM   int           `env:"SEND_RATE_LIMIT_RPM,default=120"`
	HealthRateLimitRPM int           `env:"HEALTH_RATE_LIMIT_RPM,default=600"`
	EgressBufferSize   int           `env:"EGRESS_BUFFER_SIZE,default=64"`
	AllowedOrigins     string        `env:"ALLOWED_ORIGINS"`
	TLSCert            string        `env:"TLS_CERT"`
	TLSKey             string        `env:"TLS_KEY"`
	RequireTLS         bool          `env:"REQUIRE_TLS,default=false"`
	LogLevel           string        `env:"LOG_LEVEL,default=INFO"`
}

func loadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case "mongo":
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI must be set when STORE_DRIVER=mongo")
		}
	case "badger", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTKeys == "" && c.JWTSecret == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("TLS_CERT and TLS_KEY must be set together")
	}
	if c.RequireTLS && c.TLSCert == "" {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return nil
}

// origins splits ALLOWED_ORIGINS on commas.
func (c Config) origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// parseJWTKeys reads JWT_KEYS in the form kid:secret,kid2:secret2.
func parseJWTKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	if len(keys) == 0 {
		return nil, errors.New("JWT_KEYS holds no keys")
	}
	return keys, nil
}
