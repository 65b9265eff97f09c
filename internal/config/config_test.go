package config_test

import (
	"strings"
	"testing"

	"foiadesk/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default("foiadesk")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Service.ReplyDomain == "" {
		t.Fatal("default config lost the reply domain")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("testsvc")))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.Name != "testsvc" {
		t.Fatalf("expected service name testsvc, got %s", cfg.Service.Name)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []struct {
		yaml string
		want string
	}{
		{"service:\n  name: x\n", "reply_domain"},
		{"service:\n  name: x\n  reply_domain: r.example\nembargo:\n  expire_days: 0\n", "expire_days"},
		{"service:\n  name: x\n  reply_domain: r.example\nembargo:\n  expire_days: 30\nstale:\n  default_days: -1\n", "default_days"},
		{"service:\n  name: x\n  reply_domain: r.example\nembargo:\n  expire_days: 30\nstale:\n  default_days: 45\n  jurisdictions:\n    ny: 0\n", "ny"},
		{"service:\n  name: x\n  reply_domain: r.example\nembargo:\n  expire_days: 30\nstale:\n  default_days: 45\nquota:\n  monthly_by_tier:\n    pro: -5\n", "pro"},
	}
	for _, c := range cases {
		_, err := config.FromYAML([]byte(c.yaml))
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("expected error mentioning %q, got %v", c.want, err)
		}
	}
}

func TestStaleDaysFallsBack(t *testing.T) {
	cfg := config.Default("foiadesk")
	if got := cfg.StaleDays("federal"); got != 60 {
		t.Fatalf("expected federal override, got %d", got)
	}
	if got := cfg.StaleDays("nowhere"); got != cfg.Stale.DefaultDays {
		t.Fatalf("expected default fallback, got %d", got)
	}
}

func TestMonthlyQuotaFallsBack(t *testing.T) {
	cfg := config.Default("foiadesk")
	if got := cfg.MonthlyQuota("org"); got != 50 {
		t.Fatalf("expected org quota, got %d", got)
	}
	if got := cfg.MonthlyQuota("unknown"); got != cfg.Quota.MonthlyByTier["basic"] {
		t.Fatalf("expected basic fallback, got %d", got)
	}
}
