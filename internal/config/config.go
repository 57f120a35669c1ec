// Package config reads the gateway's configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Defaults for the user-facing reply texts.
const (
	DefaultStartMessage     = "Send an image or file to get a link to download it"
	DefaultGroupChatMessage = "Sorry. But, I only work in private."
)

// Config is the full runtime configuration, threaded explicitly through
// the application instead of living in package globals.
type Config struct {
	APIID       int
	APIHash     string
	SessionName string

	Host      string
	Port      int
	PublicURL *url.URL

	TrustForwardHeaders bool
	Debug               bool
	LogConfig           string

	// RequestLimit is the per-user ongoing request cap. Read and
	// validated, but not yet enforced.
	RequestLimit    int
	ConnectionLimit int

	StartMessage     string
	GroupChatMessage string
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FromEnv builds a Config from environment variables, honoring a .env
// file when one is present. The returned error message is meant for
// stdout followed by exit code 1.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SessionName:      envOr("TG_SESSION_NAME", "tgfilestream"),
		Host:             envOr("HOST", "localhost"),
		LogConfig:        os.Getenv("LOG_CONFIG"),
		StartMessage:     envOr("TG_START_MESG", DefaultStartMessage),
		GroupChatMessage: envOr("TG_G_C_MESG", DefaultGroupChatMessage),
	}

	port, err := strconv.Atoi(envOr("PORT", "8080"))
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("please make sure the PORT environment variable is an integer between 1 and 65535")
	}
	cfg.Port = port

	apiID, err := strconv.Atoi(os.Getenv("TG_API_ID"))
	cfg.APIHash = os.Getenv("TG_API_HASH")
	if err != nil || apiID == 0 || cfg.APIHash == "" {
		return nil, fmt.Errorf("please set the TG_API_ID and TG_API_HASH environment variables correctly\n" +
			"You can get your own API keys at https://my.telegram.org/apps")
	}
	cfg.APIID = apiID

	cfg.TrustForwardHeaders = boolEnv("TRUST_FORWARD_HEADERS")
	cfg.Debug = boolEnv("DEBUG")

	rawURL := envOr("PUBLIC_URL", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port))
	publicURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("please make sure the PUBLIC_URL environment variable is a valid URL")
	}
	cfg.PublicURL = publicURL

	cfg.RequestLimit, err = strconv.Atoi(envOr("REQUEST_LIMIT", "5"))
	if err != nil {
		return nil, fmt.Errorf("please make sure the REQUEST_LIMIT environment variable is an integer")
	}

	cfg.ConnectionLimit, err = strconv.Atoi(envOr("CONNECTION_LIMIT", "20"))
	if err != nil {
		return nil, fmt.Errorf("please make sure the CONNECTION_LIMIT environment variable is an integer")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// boolEnv follows the original semantics: any non-empty value is true.
func boolEnv(key string) bool {
	return os.Getenv(key) != ""
}
