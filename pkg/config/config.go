package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trading-gateway/pkg/crypto"
)

// Config holds environment-driven settings for the gateway.
type Config struct {
	Port string

	// Venue roster file (YAML).
	VenuesPath string

	// Smart order router service.
	RouterURL string
	RouterKey string

	// Database
	DBPath string

	// Fill stream handling
	ResubscribeInterval time.Duration
	FillQueueSize       int

	// Market data freshness bound for the ticker cache.
	TickerCacheTTL time.Duration

	// HTTP API
	RateLimitPerSec float64
	RateLimitBurst  int
	JWTSecret       string
	RequireAuth     bool
}

// Venue describes one configured venue in the roster file. Setting the API
// key to "emulator" swaps the live connector for the in-memory emulator
// while keeping the venue id.
type Venue struct {
	ID        string `yaml:"id"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
	BaseURL   string `yaml:"baseUrl"`
	StreamURL string `yaml:"streamUrl"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		VenuesPath:          getEnv("VENUES_PATH", "./venues.yaml"),
		RouterURL:           getEnv("ROUTER_URL", ""),
		RouterKey:           os.Getenv("ROUTER_KEY"),
		DBPath:              getEnv("DB_PATH", "./data/gateway.db"),
		ResubscribeInterval: getEnvDuration("RESUBSCRIBE_INTERVAL", time.Hour),
		FillQueueSize:       getEnvInt("FILL_QUEUE_SIZE", 1024),
		TickerCacheTTL:      getEnvDuration("TICKER_CACHE_TTL", 2*time.Second),
		RateLimitPerSec:     getEnvFloat("RATE_LIMIT_PER_SEC", 10),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 20),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		RequireAuth:         getEnv("REQUIRE_AUTH", "false") == "true",
	}, nil
}

// LoadVenues parses the venue roster file.
func LoadVenues(path string) ([]Venue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venue roster: %w", err)
	}

	var doc struct {
		Venues []Venue `yaml:"venues"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse venue roster: %w", err)
	}
	if len(doc.Venues) == 0 {
		return nil, fmt.Errorf("venue roster %s lists no venues", path)
	}

	seen := make(map[string]bool, len(doc.Venues))
	for _, v := range doc.Venues {
		if v.ID == "" {
			return nil, fmt.Errorf("venue roster %s: venue with empty id", path)
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("venue roster %s: duplicate venue %s", path, v.ID)
		}
		seen[v.ID] = true
	}
	if err := openSealedCredentials(doc.Venues); err != nil {
		return nil, fmt.Errorf("venue roster %s: %w", path, err)
	}
	return doc.Venues, nil
}

// openSealedCredentials decrypts ENC[vN]: credentials in place. The key
// manager is only constructed when the roster actually carries sealed
// values, so plaintext rosters need no CREDENTIAL_KEY.
func openSealedCredentials(venues []Venue) error {
	var km *crypto.KeyManager
	for i := range venues {
		for _, field := range []*string{&venues[i].APIKey, &venues[i].APISecret} {
			if !crypto.IsSealed(*field) {
				continue
			}
			if km == nil {
				var err error
				if km, err = crypto.NewKeyManager(); err != nil {
					return fmt.Errorf("sealed credentials present: %w", err)
				}
			}
			opened, err := km.Decrypt(*field)
			if err != nil {
				return fmt.Errorf("open credential for venue %s: %w", venues[i].ID, err)
			}
			*field = opened
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
