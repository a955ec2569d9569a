package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agilewatch/internal/rates"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.Schedule.PollInterval != 30*time.Minute || cfg.Schedule.Timezone != "Europe/London" {
		t.Fatalf("unexpected schedule defaults %+v", cfg.Schedule)
	}
	windows, err := cfg.WindowDurations()
	if err != nil || len(windows) != 4 || windows[3] != 3*time.Hour {
		t.Fatalf("unexpected windows %v %v", windows, err)
	}
	th := cfg.Thresholds()
	if th.VeryCheapBand != 0.25 || th.VeryExpensiveBand != 0.75 {
		t.Fatalf("unexpected bands %+v", th)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
schedule:
  timezone: UTC
  fetch_window_start: "15:30"
analysis:
  cheap_threshold: 5
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGILEWATCH_ANALYSIS_WINDOW_MINUTES", "30,90")
	t.Setenv("AGILEWATCH_SCHEDULE_RETRY_MAX", "1h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w, _ := cfg.FetchWindow()
	if w.Start.String() != "15:30" || w.End.String() != "20:00" {
		t.Fatalf("unexpected window %s-%s", w.Start, w.End)
	}
	if cfg.Analysis.CheapThreshold != 5 {
		t.Fatalf("file value not applied: %v", cfg.Analysis.CheapThreshold)
	}
	if len(cfg.Analysis.WindowMinutes) != 2 || cfg.Analysis.WindowMinutes[1] != 90 {
		t.Fatalf("env window override not applied: %v", cfg.Analysis.WindowMinutes)
	}
	if cfg.Schedule.RetryMax != time.Hour {
		t.Fatalf("env duration override not applied: %v", cfg.Schedule.RetryMax)
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	return cfg
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown timezone":   func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
		"inverted window":    func(c *Config) { c.Schedule.FetchWindowStart = "21:00" },
		"bad window format":  func(c *Config) { c.Schedule.FetchWindowEnd = "8pm" },
		"retry max < base":   func(c *Config) { c.Schedule.RetryMax = time.Minute },
		"unaligned duration": func(c *Config) { c.Analysis.WindowMinutes = []int{45} },
		"zero duration":      func(c *Config) { c.Analysis.WindowMinutes = []int{0} },
		"duplicate duration": func(c *Config) { c.Analysis.WindowMinutes = []int{60, 60} },
		"inverted thresholds": func(c *Config) {
			c.Analysis.CheapThreshold = 40
		},
		"band out of range": func(c *Config) { c.Analysis.VeryCheapBand = 1.5 },
		"telegram without token": func(c *Config) {
			c.Alerting.Telegram.Enabled = true
		},
		"kafka without brokers": func(c *Config) {
			c.Alerting.Kafka.Enabled = true
			c.Alerting.Kafka.Brokers = nil
		},
		"missing tariff": func(c *Config) { c.Provider.TariffCode = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWindowDurationsConfigError(t *testing.T) {
	cfg := validConfig(t)
	cfg.Analysis.WindowMinutes = []int{45}
	if _, err := cfg.WindowDurations(); !errors.Is(err, rates.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
