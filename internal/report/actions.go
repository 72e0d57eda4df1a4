// Package report implements the "report" and "gc" commands over an
// existing progress database.
package report

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/drive-ocr/internal/common"
	"github.com/dtnitsch/drive-ocr/models"
	"github.com/dtnitsch/drive-ocr/pkg/progress"
)

var statusOrder = []models.Status{
	models.StatusPending,
	models.StatusOcrDone,
	models.StatusExtracted,
	models.StatusFailed,
	models.StatusSkipped,
}

func Action(c *cli.Context) error {
	logger := common.NewLogger(c.Bool("quiet"))

	store, err := openExisting(c.String("db"))
	if err != nil {
		logger.Error("failed to open progress store", "error", err)
		return cli.Exit("", 1)
	}
	defer store.Close()

	counts, err := store.Summary()
	if err != nil {
		logger.Error("failed to summarize progress", "error", err)
		return cli.Exit("", 2)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("Progress database: %s (%d documents)\n", store.Path(), total)
	for _, st := range statusOrder {
		if n := counts[st]; n > 0 {
			fmt.Printf("  %-10s %d\n", st, n)
		}
	}

	if c.Bool("failures") {
		failures, err := store.Failures()
		if err != nil {
			logger.Error("failed to list failures", "error", err)
			return cli.Exit("", 2)
		}
		if len(failures) > 0 {
			fmt.Println("\nFailures:")
			for _, r := range failures {
				fmt.Printf("  %s (%s, %d attempts): %s\n", r.Path, r.FileID, r.Attempts, r.LastError)
			}
		}
	}
	return nil
}

func GCAction(c *cli.Context) error {
	logger := common.NewLogger(c.Bool("quiet"))

	store, err := openExisting(c.String("db"))
	if err != nil {
		logger.Error("failed to open progress store", "error", err)
		return cli.Exit("", 1)
	}
	defer store.Close()

	cutoff := time.Now().Add(-c.Duration("older-than"))
	deleted, err := store.DeleteStale(cutoff)
	if err != nil {
		logger.Error("failed to delete stale records", "error", err)
		return cli.Exit("", 2)
	}
	fmt.Printf("Deleted %d terminal records last touched before %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}

// openExisting refuses to create a fresh database, which would only ever
// report an empty run.
func openExisting(path string) (*progress.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no progress database at %s", path)
	}
	return progress.Open(path)
}
