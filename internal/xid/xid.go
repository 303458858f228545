package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier, e.g. "req-3f0c...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// InvoiceNumber formats the per-day invoice sequence as PREFIX-YYYYMMDD-NNNN.
func InvoiceNumber(prefix string, day time.Time, seq int) string {
	if prefix == "" {
		prefix = "POS"
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day.UTC().Format("20060102"), seq)
}
