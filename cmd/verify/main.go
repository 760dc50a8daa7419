// Command verify runs a single email deliverability check: one argument
// in, one JSON object on stdout, exit code communicates success.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"mailcheck/internal/config"
	"mailcheck/internal/verify"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: verify <email>")
		return 1
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	out := verifyWithRecovery(context.Background(), config.FromEnv(), logger.Sugar(), args[0])

	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to marshal result:", err)
		return 1
	}
	fmt.Println(string(enc))
	return 0
}

// verifyWithRecovery runs one verification and returns a map with the five
// public booleans. If the pipeline panics, it returns a catastrophic-error
// shape instead: an "error" field plus can_connect_smtp and is_deliverable,
// both false.
func verifyWithRecovery(ctx context.Context, cfg config.Config, log *zap.SugaredLogger, email string) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("verification panicked", "email", email, "panic", r)
			out = map[string]any{
				"error":            fmt.Sprintf("%v", r),
				"can_connect_smtp": false,
				"is_deliverable":   false,
			}
		}
	}()

	v := verify.New(cfg, log)
	verdict := v.Verify(ctx, email)
	pub := verdict.Public()

	return map[string]any{
		"can_connect_smtp": pub.CanConnectSMTP,
		"is_deliverable":   pub.IsDeliverable,
		"is_catch_all":     pub.IsCatchAll,
		"has_full_inbox":   pub.HasFullInbox,
		"is_disabled":      pub.IsDisabled,
	}
}
