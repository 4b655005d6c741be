package config

import (
	"testing"
	"time"
)

func TestParseSymbols(t *testing.T) {
	got := parseSymbols("BTCUSDT:60000, ETHUSDT:2500 ,DOGEUSDT:0.2")
	if len(got) != 3 {
		t.Fatalf("parsed %d symbols, want 3", len(got))
	}
	if got["BTCUSDT"] != 60000 || got["ETHUSDT"] != 2500 || got["DOGEUSDT"] != 0.2 {
		t.Fatalf("parsed map = %v", got)
	}
}

func TestParseSymbolsSkipsMalformed(t *testing.T) {
	got := parseSymbols("BTCUSDT:60000,BROKEN,ETHUSDT:abc,NEG:-5,,SOLUSDT:150")
	if len(got) != 2 {
		t.Fatalf("parsed %d symbols, want 2 (bad entries skipped): %v", len(got), got)
	}
	if _, ok := got["NEG"]; ok {
		t.Fatal("non-positive price accepted")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.Tick != time.Second {
		t.Fatalf("tick = %v", cfg.Tick)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Fatalf("flush = %v", cfg.FlushInterval)
	}
	if len(cfg.Symbols) != 4 {
		t.Fatalf("default symbols = %v", cfg.Symbols)
	}
	if cfg.EnableBrain {
		t.Fatal("brain should default off")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("TICK_MS", "500")
	t.Setenv("WIN_RATE", "0.75")
	t.Setenv("ENABLE_BRAIN", "true")
	t.Setenv("SYMBOLS", "BTCUSDT:50000")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.Tick != 500*time.Millisecond {
		t.Fatalf("tick = %v", cfg.Tick)
	}
	if cfg.WinRate != 0.75 {
		t.Fatalf("win rate = %v", cfg.WinRate)
	}
	if !cfg.EnableBrain {
		t.Fatal("brain flag not applied")
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols["BTCUSDT"] != 50000 {
		t.Fatalf("symbols = %v", cfg.Symbols)
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("TICK_MS", "not-a-number")
	t.Setenv("WIN_RATE", "soon")
	t.Setenv("ENABLE_BRAIN", "maybe")

	cfg := Load()
	if cfg.Tick != time.Second || cfg.WinRate != 0.62 || cfg.EnableBrain {
		t.Fatalf("invalid env did not fall back: %+v", cfg)
	}
}
