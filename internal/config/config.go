package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	OpenAI  OpenAIConfig
	Auth    AuthConfig
	MCP     MCPConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

type AuthConfig struct {
	JWTSecret string
}

type MCPConfig struct {
	LocalUser string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
		},
		MCP: MCPConfig{
			LocalUser: "local",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.rapport.app) and secrets
// fall back to macOS Keychain. On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/rapport/config.json and secrets fall back to a JSON file
// under $XDG_DATA_HOME/rapport.
//
// Environment variables (RAPPORT_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for anything still empty.
	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get("rapport", "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}
	if cfg.Auth.JWTSecret == "" {
		if secret, err := kc.Get("rapport", "jwt_secret"); err == nil && secret != "" {
			cfg.Auth.JWTSecret = secret
		}
	}

	if cfg.OpenAI.APIKey == "" {
		msg := "missing required config: OpenAI API key. " +
			"Set it via environment variable RAPPORT_OPENAI_API_KEY" +
			secretHint("openai_api_key")
		return Config{}, fmt.Errorf("%s", msg)
	}
	if cfg.Auth.JWTSecret == "" {
		msg := "missing required config: JWT signing secret. " +
			"Set it via environment variable RAPPORT_AUTH_JWT_SECRET" +
			secretHint("jwt_secret")
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
