package config

import "os"

// Config holds all bridge settings, loaded once at startup.
type Config struct {
	DataDir      string // local state: secret file, sqlite database
	DBPath       string
	BrokerURL    string // pub/sub bus (MQTT) broker
	BrokerUser   string
	BrokerPass   string
	ServerURL    string // central server HTTPS base
	WebSocketURL string // central server WSS base (primary delivery channel)
	APIKey       string // onboarding endpoint API key
	StatusAddr   string // UI status WebSocket listen address
	NotifyURLs   string // comma-separated shoutrrr URLs, empty disables notifications
	InsecureTLS  bool   // accept the central server's self-signed certificate
}

// Load returns the bridge configuration from environment variables.
func Load() Config {
	dataDir := getEnv("BRIDGE_DATA_DIR", "data")
	return Config{
		DataDir:      dataDir,
		DBPath:       getEnv("BRIDGE_DB_PATH", dataDir+"/bridge.db"),
		BrokerURL:    getEnv("BRIDGE_BROKER_URL", "tcp://127.0.0.1:1883"),
		BrokerUser:   getEnv("BRIDGE_BROKER_USER", ""),
		BrokerPass:   getEnv("BRIDGE_BROKER_PASS", ""),
		ServerURL:    getEnv("BRIDGE_SERVER_URL", "https://127.0.0.1"),
		WebSocketURL: getEnv("BRIDGE_WS_URL", "wss://127.0.0.1"),
		APIKey:       getEnv("BRIDGE_API_KEY", ""),
		StatusAddr:   getEnv("BRIDGE_STATUS_ADDR", ":9091"),
		NotifyURLs:   getEnv("BRIDGE_NOTIFY_URLS", ""),
		InsecureTLS:  getEnv("BRIDGE_INSECURE_TLS", "true") == "true",
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
