// Package bulk fans a batch of addresses out across up to N concurrent
// verifications, turning per-item panics/errors into records rather than
// aborting the run.
package bulk

import (
	"context"

	"golang.org/x/sync/semaphore"

	"mailcheck/internal/config"
	"mailcheck/internal/result"
	"mailcheck/internal/verify"
)

// Item is one bulk verification outcome: either a populated Public result
// or an Error string.
type Item struct {
	Email  string        `json:"email"`
	Result *result.Public `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// ProgressFunc is called after each item completes, for console progress
// logging.
type ProgressFunc func(done, total int, email string)

// Run verifies every address in emails with up to cfg.BulkConcurrency
// verifications in flight at once (ceiling enforced by config.FromEnv/
// Default already). Results preserve input order; ordering across
// concurrent completions is not otherwise guaranteed.
func Run(ctx context.Context, cfg config.Config, emails []string, progress ProgressFunc) []Item {
	items := make([]Item, len(emails))
	sem := semaphore.NewWeighted(int64(cfg.BulkConcurrency))
	v := verify.New(cfg, nil)

	done := make(chan string, len(emails))
	for i, email := range emails {
		i, email := i, email
		if err := sem.Acquire(ctx, 1); err != nil {
			items[i] = Item{Email: email, Error: err.Error()}
			done <- email
			continue
		}
		go func() {
			defer sem.Release(1)
			items[i] = verifyOne(ctx, v, email)
			done <- email
		}()
	}

	for i := 0; i < len(emails); i++ {
		email := <-done
		if progress != nil {
			progress(i+1, len(emails), email)
		}
	}

	return items
}

func verifyOne(ctx context.Context, v *verify.Verifier, email string) (item Item) {
	defer func() {
		if r := recover(); r != nil {
			item = Item{Email: email, Error: "internal error during verification"}
		}
	}()
	verdict := v.Verify(ctx, email)
	pub := verdict.Public()
	return Item{Email: email, Result: &pub}
}
