package control

import (
	"fmt"
	"os"
)

// Config is the relay's environment-driven configuration. JETRELAY_PORT
// and RUNTIME_DIRECTORY are required; everything else has a fallback.
type Config struct {
	Port             string
	RuntimeDirectory string
	UpstreamURL      string
	LogLevel         string
	MetricsAddr      string
	EngineQueueDepth int
}

// Load reads Config from the environment, returning an error naming the
// first missing required variable.
func Load() (Config, error) {
	port, err := requireEnv("JETRELAY_PORT")
	if err != nil {
		return Config{}, err
	}
	dir, err := requireEnv("RUNTIME_DIRECTORY")
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:             port,
		RuntimeDirectory: dir,
		UpstreamURL:      getEnv("JETRELAY_UPSTREAM_URL", "wss://jetstream2.us-west.bsky.network/subscribe"),
		LogLevel:         getEnv("JETRELAY_LOG_LEVEL", "info"),
		MetricsAddr:      getEnv("JETRELAY_METRICS_ADDR", ":9090"),
		EngineQueueDepth: 1024,
	}, nil
}

func requireEnv(key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("control: required environment variable %s is not set", key)
	}
	return value, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
