package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	LogLevel     string `envconfig:"LOG_LEVEL"  default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	ServerConfig ServerConfig
	TLSConfig    TLSConfig
	Reassembly   ReassemblyConfig
	Gateway      GatewayConfig
	Auth         AuthConfig
	Admin        AdminConfig
}

// ServerConfig holds SMPP listener and session configuration.
type ServerConfig struct {
	Addr           string        `envconfig:"SMPP_ADDR"            default:"0.0.0.0:2775"`
	MaxConnections int           `envconfig:"SMPP_MAX_CONNECTIONS" default:"100"`
	ReadTimeout    time.Duration `envconfig:"SMPP_READ_TIMEOUT"    default:"90s"`
	WriteTimeout   time.Duration `envconfig:"SMPP_WRITE_TIMEOUT"   default:"10s"`
	BindTimeout    time.Duration `envconfig:"SMPP_BIND_TIMEOUT"    default:"5s"`
	CloseGrace     time.Duration `envconfig:"SMPP_CLOSE_GRACE"     default:"500ms"`
	MaxPDULength   uint32        `envconfig:"SMPP_MAX_PDU_LENGTH"  default:"65552"`
}

// TLSConfig enables the TLS listener when Addr is set.
type TLSConfig struct {
	Addr              string        `envconfig:"SMPP_TLS_ADDR"`
	CertFile          string        `envconfig:"SMPP_TLS_CERT_FILE"`
	KeyFile           string        `envconfig:"SMPP_TLS_KEY_FILE"`
	ClientCAFile      string        `envconfig:"SMPP_TLS_CLIENT_CA_FILE"`
	RequireClientCert bool          `envconfig:"SMPP_TLS_REQUIRE_CLIENT_CERT" default:"false"`
	AllowSelfSigned   bool          `envconfig:"SMPP_TLS_ALLOW_SELF_SIGNED"   default:"false"`
	ValidateChain     bool          `envconfig:"SMPP_TLS_VALIDATE_CHAIN"      default:"true"`
	HandshakeTimeout  time.Duration `envconfig:"SMPP_TLS_HANDSHAKE_TIMEOUT"   default:"10s"`
}

// Enabled reports whether a TLS listener should be started.
func (c TLSConfig) Enabled() bool {
	return c.Addr != ""
}

type ReassemblyConfig struct {
	CleanupInterval time.Duration `envconfig:"REASSEMBLY_CLEANUP_INTERVAL" default:"1m"`
	StaleTimeout    time.Duration `envconfig:"REASSEMBLY_STALE_TIMEOUT"    default:"5m"`
}

// GatewayConfig configures the downstream message sender. An empty URL selects
// the logging sender.
type GatewayConfig struct {
	URL              string        `envconfig:"GATEWAY_URL"`
	APIKey           string        `envconfig:"GATEWAY_API_KEY"`
	Timeout          time.Duration `envconfig:"GATEWAY_TIMEOUT"           default:"10s"`
	BreakerThreshold int           `envconfig:"GATEWAY_BREAKER_THRESHOLD" default:"5"`
	BreakerTimeout   time.Duration `envconfig:"GATEWAY_BREAKER_TIMEOUT"   default:"30s"`
}

// AuthConfig selects the credential source. DatabaseURL wins when set.
type AuthConfig struct {
	DatabaseURL string            `envconfig:"DATABASE_URL"`
	Credentials map[string]string `envconfig:"SMPP_CREDENTIALS"`
}

// AdminConfig enables the status API when Addr is set.
type AdminConfig struct {
	Addr         string        `envconfig:"ADMIN_ADDR"`
	ReadTimeout  time.Duration `envconfig:"ADMIN_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"ADMIN_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"ADMIN_IDLE_TIMEOUT"  default:"60s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	log.Println("Loading configuration from environment variables...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	} else {
		log.Println(".env loaded")
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	log.Printf("Configuration loaded successfully (SMPP Addr: %s, TLS: %v)", cfg.ServerConfig.Addr, cfg.TLSConfig.Enabled())
	return cfg, nil
}

// FromEnv processes the current environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
