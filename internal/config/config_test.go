package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaultsTaxRateAndFallsBackOnBadIntegers(t *testing.T) {
	t.Setenv("TAX_RATE", "")
	t.Setenv("SALE_CACHE_TTL_SECONDS", "abc")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")
	t.Setenv("INVOICE_PREFIX", " inv ")

	cfg := Load()
	rate, err := cfg.ParsedTaxRate()
	if err != nil {
		t.Fatalf("expected default tax rate to parse, got %v", err)
	}
	if rate.String() != "0.07" {
		t.Fatalf("expected 0.07, got %s", rate)
	}
	if cfg.SaleCacheTTLSeconds != 30 {
		t.Fatalf("expected cache ttl fallback 30, got %d", cfg.SaleCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token ttl fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.InvoicePrefix != "INV" {
		t.Fatalf("expected normalized prefix INV, got %q", cfg.InvoicePrefix)
	}
}

func TestParsedTaxRateRejectsOutOfRange(t *testing.T) {
	for _, raw := range []string{"-0.01", "1.5", "seven"} {
		if _, err := (Config{TaxRate: raw}).ParsedTaxRate(); err == nil {
			t.Fatalf("expected TAX_RATE %q to be rejected", raw)
		}
	}
}
