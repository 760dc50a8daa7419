package bulk

import (
	"context"
	"testing"
	"time"

	"mailcheck/internal/config"
)

func TestRunInvalidSyntaxAddressesComplete(t *testing.T) {
	cfg := config.Default()
	cfg.BulkConcurrency = 2
	cfg.DNSLookupTimeout = 200 * time.Millisecond
	cfg.TCPConnectTimeout = 200 * time.Millisecond

	emails := []string{"not-an-email", "also-bad", "still@bad@two-at-signs"}

	var seen int
	items := Run(context.Background(), cfg, emails, func(done, total int, email string) {
		seen++
	})

	if len(items) != len(emails) {
		t.Fatalf("expected %d items, got %d", len(emails), len(items))
	}
	if seen != len(emails) {
		t.Fatalf("expected %d progress callbacks, got %d", len(emails), seen)
	}
	for i, item := range items {
		if item.Email != emails[i] {
			t.Errorf("item %d: expected email %q, got %q", i, emails[i], item.Email)
		}
		if item.Result == nil {
			t.Fatalf("item %d: expected a result (invalid syntax still produces a Public result), got error %q", i, item.Error)
		}
		if item.Result.IsDeliverable {
			t.Errorf("item %d: expected non-deliverable for malformed address", i)
		}
	}
}
