package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mboyle/zonehub/internal/hub"
)

// Config holds the daemon configuration.
type Config struct {
	Host string
	Port string

	// GENA callback listener. 0 lets the OS pick.
	CallbackPort int
	// CallbackIP overrides local-IP autodetection for the NOTIFY callback.
	CallbackIP string

	SSDPPasses         int
	SSDPPassIntervalMs int
	SSDPResponseWaitMs int
	SSDPRescanSpec     string // cron spec for periodic rescans
	StaticDeviceIPs    []string

	SoapTimeoutMs       int
	SubscribeTimeoutSec int

	DataDir              string
	HistoryDBPath        string
	HistoryRetentionDays int
	WebhooksPath         string

	// JWTSecret enables the bearer-token hook when non-empty.
	JWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	dataDir := envString("DATA_DIR", "./data")

	cfg := Config{
		Host:                 envString("HOST", "0.0.0.0"),
		Port:                 envString("PORT", "5005"),
		CallbackPort:         envInt("CALLBACK_PORT", 3500),
		CallbackIP:           envString("CALLBACK_IP", ""),
		SSDPPasses:           envInt("SSDP_DISCOVERY_PASSES", 3),
		SSDPPassIntervalMs:   envInt("SSDP_PASS_INTERVAL_MS", 1000),
		SSDPResponseWaitMs:   envInt("SSDP_RESPONSE_WAIT_MS", 3000),
		SSDPRescanSpec:       envString("SSDP_RESCAN_CRON", "@every 10m"),
		StaticDeviceIPs:      envCSV("STATIC_DEVICE_IPS"),
		SoapTimeoutMs:        envInt("SOAP_TIMEOUT_MS", 5000),
		SubscribeTimeoutSec:  envInt("UPNP_SUBSCRIPTION_TIMEOUT", 600),
		DataDir:              dataDir,
		HistoryDBPath:        envString("HISTORY_DB_PATH", dataDir+"/history.db"),
		HistoryRetentionDays: envInt("HISTORY_RETENTION_DAYS", 30),
		WebhooksPath:         envString("WEBHOOKS_PATH", ""),
		JWTSecret:            envString("JWT_SECRET", ""),
	}

	if cfg.JWTSecret != "" && len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters when set")
	}

	return cfg, nil
}

type webhooksFile struct {
	Webhooks []hub.Webhook `yaml:"webhooks"`
}

// LoadWebhooks reads the webhook definitions file. A missing path or file
// means no webhooks.
func LoadWebhooks(path string) ([]hub.Webhook, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var file webhooksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, wh := range file.Webhooks {
		if wh.URL == "" {
			return nil, fmt.Errorf("%s: webhook %d has no url", path, i)
		}
	}
	return file.Webhooks, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return []string{}
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
