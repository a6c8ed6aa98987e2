package config

import (
	"os"
	"strings"
	"sync"
	"time"
)

type Config struct {
	HubWSURL          string
	HubHTTPURL        string
	Transport         string
	LogLevel          string
	LogFile           string
	ConfigDir         string
	DBDSN             string
	WorkspaceID       string
	EventCapacity     int
	ViewportWidth     int
	ViewportHeight    int
	ReconnectDelay    time.Duration
	RefetchInterval   time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	TickInterval      time.Duration
}

const (
	TransportWS   = "ws"
	TransportPoll = "poll"
)

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	wsURL := strings.TrimRight(envOrDefault("SYNAPSE_HUB_URL", "ws://localhost:3100"), "/")
	httpURL := strings.TrimRight(envOrDefault("SYNAPSE_HUB_HTTP_URL", "http://localhost:3100/api"), "/")

	transport := strings.ToLower(strings.TrimSpace(os.Getenv("SYNAPSE_TRANSPORT")))
	if transport != TransportPoll {
		transport = TransportWS
	}

	return Config{
		HubWSURL:          wsURL,
		HubHTTPURL:        httpURL,
		Transport:         transport,
		LogLevel:          envOrDefault("SYNAPSE_LOG_LEVEL", "info"),
		LogFile:           strings.TrimSpace(os.Getenv("SYNAPSE_LOG_FILE")),
		ConfigDir:         strings.TrimSpace(os.Getenv("SYNAPSE_CONFIG_DIR")),
		DBDSN:             strings.TrimSpace(os.Getenv("SYNAPSE_DB_DSN")),
		WorkspaceID:       strings.TrimSpace(os.Getenv("SYNAPSE_WORKSPACE")),
		EventCapacity:     atoiOrDefault(os.Getenv("SYNAPSE_EVENT_CAPACITY"), 100),
		ViewportWidth:     atoiOrDefault(os.Getenv("SYNAPSE_VIEWPORT_WIDTH"), 800),
		ViewportHeight:    atoiOrDefault(os.Getenv("SYNAPSE_VIEWPORT_HEIGHT"), 600),
		ReconnectDelay:    durationOrDefault(os.Getenv("SYNAPSE_RECONNECT_DELAY"), 3*time.Second),
		RefetchInterval:   durationOrDefault(os.Getenv("SYNAPSE_REFETCH_INTERVAL"), 5*time.Second),
		HeartbeatInterval: durationOrDefault(os.Getenv("SYNAPSE_HEARTBEAT_INTERVAL"), 15*time.Second),
		PollInterval:      durationOrDefault(os.Getenv("SYNAPSE_POLL_INTERVAL"), 2*time.Second),
		TickInterval:      durationOrDefault(os.Getenv("SYNAPSE_TICK_INTERVAL"), 16*time.Millisecond),
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}

// durationOrDefault accepts Go durations ("750ms") or bare milliseconds ("750").
func durationOrDefault(v string, fallback time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	if ms := atoiOrDefault(v, -1); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
