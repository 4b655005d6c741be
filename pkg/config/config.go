// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting.
type Config struct {
	Port   string
	DBPath string

	// Symbols maps pair -> starting price for the simulated walk.
	Symbols map[string]float64

	Tick          time.Duration
	FlushInterval time.Duration
	AggInterval   time.Duration
	JournalFlush  time.Duration

	TradeCap int
	EventCap int

	// Simulation profile tunables.
	WinRate       float64
	AvgR          float64
	MaxConcurrent int
	TradeEvery    time.Duration
	BaseHold      time.Duration
	Jitter        time.Duration
	FeeBps        float64
	OpenBias      float64

	// Live decision loop.
	EnableBrain    bool
	BrainInterval  time.Duration
	TpPct          float64
	SlPct          float64
	MomentumWindow int
	BotsConfig     string
}

// Load reads settings from the environment. A missing .env is fine.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("config: loaded .env")
	}

	return &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "data/botsim.db"),

		Symbols: parseSymbols(getEnv("SYMBOLS", "BTCUSDT:60000,ETHUSDT:2500,SOLUSDT:150,DOGEUSDT:0.2")),

		Tick:          time.Duration(getEnvInt("TICK_MS", 1000)) * time.Millisecond,
		FlushInterval: time.Duration(getEnvInt("FLUSH_MS", 30000)) * time.Millisecond,
		AggInterval:   time.Duration(getEnvInt("AGG_MS", 200)) * time.Millisecond,
		JournalFlush:  time.Duration(getEnvInt("JOURNAL_MS", 2000)) * time.Millisecond,

		TradeCap: getEnvInt("TRADE_CAP", 50),
		EventCap: getEnvInt("EVENT_CAP", 100),

		WinRate:       getEnvFloat("WIN_RATE", 0.62),
		AvgR:          getEnvFloat("AVG_R", 1.6),
		MaxConcurrent: getEnvInt("MAX_CONCURRENT", 3),
		TradeEvery:    time.Duration(getEnvInt("TRADE_EVERY_MS", 4000)) * time.Millisecond,
		BaseHold:      time.Duration(getEnvInt("BASE_HOLD_MS", 45000)) * time.Millisecond,
		Jitter:        time.Duration(getEnvInt("JITTER_MS", 20000)) * time.Millisecond,
		FeeBps:        getEnvFloat("FEE_BPS", 8),
		OpenBias:      getEnvFloat("OPEN_BIAS", 0.7),

		EnableBrain:    getEnvBool("ENABLE_BRAIN", false),
		BrainInterval:  time.Duration(getEnvInt("BRAIN_MS", 5000)) * time.Millisecond,
		TpPct:          getEnvFloat("TP_PCT", 1.1),
		SlPct:          getEnvFloat("SL_PCT", 0.8),
		MomentumWindow: getEnvInt("MOMENTUM_WINDOW", 30),
		BotsConfig:     getEnv("BOTS_CONFIG", "bots.yaml"),
	}
}

// parseSymbols parses "BTCUSDT:60000,ETHUSDT:2500" into a price map. Bad
// entries are skipped with a warning rather than failing startup.
func parseSymbols(s string) map[string]float64 {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			log.Printf("config: skipping malformed symbol entry %q", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil || price <= 0 {
			log.Printf("config: skipping symbol %q with bad price %q", kv[0], kv[1])
			continue
		}
		out[strings.TrimSpace(kv[0])] = price
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("config: invalid int for %s, using %d", key, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("config: invalid float for %s, using %g", key, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("config: invalid bool for %s, using %v", key, fallback)
	}
	return fallback
}
