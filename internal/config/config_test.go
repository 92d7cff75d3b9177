package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		ServiceName:        "gmp",
		MinFee:             1.0,
		MaxDispatch:        2,
		IncExpire:          30 * time.Second,
		BaseExpire:         2 * time.Minute,
		StoreTimeout:       3 * time.Second,
		CandidateScanLimit: 100,
		APIEnabled:         true,
		APIPort:            4202,
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServiceName == "" {
		t.Error("ServiceName should not be empty")
	}
	if cfg.MaxDispatch < 1 {
		t.Errorf("MaxDispatch = %d, want >= 1", cfg.MaxDispatch)
	}
	if cfg.MinFee < 0 {
		t.Errorf("MinFee = %f, want >= 0", cfg.MinFee)
	}
	if cfg.BaseExpire <= 0 {
		t.Errorf("BaseExpire = %v, want > 0", cfg.BaseExpire)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GMP_MIN_FEE", "2.5")
	t.Setenv("GMP_MAX_DISPATCH", "5")
	t.Setenv("GMP_VERIFY_SIGN", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MinFee != 2.5 {
		t.Errorf("MinFee = %f, want 2.5", cfg.MinFee)
	}
	if cfg.MaxDispatch != 5 {
		t.Errorf("MaxDispatch = %d, want 5", cfg.MaxDispatch)
	}
	if cfg.VerifySign {
		t.Error("VerifySign should be overridden to false")
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Errorf("validate() should not fail for valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"negative min fee", func(c *Config) { c.MinFee = -0.1 }},
		{"zero max dispatch", func(c *Config) { c.MaxDispatch = 0 }},
		{"negative inc expire", func(c *Config) { c.IncExpire = -time.Second }},
		{"zero base expire", func(c *Config) { c.BaseExpire = 0 }},
		{"zero store timeout", func(c *Config) { c.StoreTimeout = 0 }},
		{"zero scan limit", func(c *Config) { c.CandidateScanLimit = 0 }},
		{"bad api port", func(c *Config) { c.APIPort = 99999 }},
		{"notify without admins", func(c *Config) { c.NotifyEnabled = true; c.Admins = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate() should fail")
			}
		})
	}
}

func TestValidateAllowsZeroIncExpire(t *testing.T) {
	cfg := validConfig()
	cfg.IncExpire = 0
	if err := cfg.validate(); err != nil {
		t.Errorf("inc_expire = 0 is a valid no-op setting, got %v", err)
	}
}

func TestSender(t *testing.T) {
	cfg := validConfig()
	cfg.Admins = []string{"ops@pool.example", "alice@pool.example"}

	if got := cfg.Sender(); got != "ops@pool.example" {
		t.Errorf("Sender() = %q, want first admin", got)
	}

	cfg.Admins = nil
	if got := cfg.Sender(); got != "" {
		t.Errorf("Sender() = %q, want empty", got)
	}
}
