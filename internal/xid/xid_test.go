package xid

import (
	"strings"
	"testing"
	"time"
)

func TestInvoiceNumber(t *testing.T) {
	day := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	if got := InvoiceNumber("POS", day, 12); got != "POS-20260307-0012" {
		t.Fatalf("unexpected invoice number %q", got)
	}
	if got := InvoiceNumber("", day, 1); got != "POS-20260307-0001" {
		t.Fatalf("expected default prefix, got %q", got)
	}
}

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a, b := New("req"), New("req")
	if !strings.HasPrefix(a, "req-") {
		t.Fatalf("expected req- prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}
