// Command bulkverify reads a list of addresses from a file and verifies
// them concurrently, writing one results.json per run.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailcheck/internal/bulk"
	"mailcheck/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: bulkverify <path>")
		return 1
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	log := logger.Sugar()

	runID := uuid.New().String()
	log.Infow("starting bulk verification run", "run_id", runID, "input", args[0])

	emails, err := readEmails(args[0])
	if err != nil {
		log.Errorw("failed to read input file", "error", err)
		return 1
	}
	log.Infow("loaded addresses", "run_id", runID, "count", len(emails))

	cfg := config.FromEnv()
	items := bulk.Run(context.Background(), cfg, emails, func(done, total int, email string) {
		log.Infow("verification complete", "run_id", runID, "progress", fmt.Sprintf("%d/%d", done, total), "email", email)
	})

	enc, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		log.Errorw("failed to marshal results", "error", err)
		return 1
	}
	if err := os.WriteFile("results.json", enc, 0o644); err != nil {
		log.Errorw("failed to write results.json", "error", err)
		return 1
	}

	log.Infow("bulk verification run complete", "run_id", runID, "output", "results.json")
	return 0
}

// readEmails reads path line by line, keeping lines containing '@' after
// trimming.
func readEmails(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var emails []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.Contains(line, "@") {
			emails = append(emails, line)
		}
	}
	return emails, scanner.Err()
}
