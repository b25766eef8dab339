package config

import "testing"

func TestDefaultSane(t *testing.T) {
	cfg := Default()
	if cfg.WindowSize <= 0 {
		t.Fatal("window size must be positive")
	}
	if cfg.ConfidenceThresh <= 0 || cfg.ConfidenceThresh > 1 {
		t.Fatalf("confidence threshold out of range: %v", cfg.ConfidenceThresh)
	}
	if cfg.KellyFraction <= 0 || cfg.KellyFraction > 1 {
		t.Fatalf("kelly fraction out of range: %v", cfg.KellyFraction)
	}
}

func TestLoadOverridesFlags(t *testing.T) {
	cfg, err := Load([]string{"-window-size=100", "-instrument=WIF-USD", "-confidence-threshold=0.9"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WindowSize != 100 {
		t.Fatalf("expected window size 100, got %d", cfg.WindowSize)
	}
	if cfg.Instrument != "WIF-USD" {
		t.Fatalf("expected instrument WIF-USD, got %s", cfg.Instrument)
	}
	if cfg.ConfidenceThresh != 0.9 {
		t.Fatalf("expected confidence threshold 0.9, got %v", cfg.ConfidenceThresh)
	}
}
