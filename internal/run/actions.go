// Package run implements the "run" command: walk a Drive folder and drive
// every document through OCR and translate+extract.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/drive-ocr/internal/common"
	"github.com/dtnitsch/drive-ocr/internal/pipeline"
	"github.com/dtnitsch/drive-ocr/models"
	"github.com/dtnitsch/drive-ocr/pkg/drivetree"
	"github.com/dtnitsch/drive-ocr/pkg/llm"
	"github.com/dtnitsch/drive-ocr/pkg/ocr"
	"github.com/dtnitsch/drive-ocr/pkg/progress"
	"github.com/dtnitsch/drive-ocr/pkg/ratelimit"
	"github.com/dtnitsch/drive-ocr/pkg/retry"
	"github.com/dtnitsch/drive-ocr/pkg/sink"
)

func Action(c *cli.Context) error {
	logger := common.NewLogger(c.Bool("quiet"))

	rootID := c.Args().First()
	if rootID == "" {
		fmt.Fprintln(os.Stderr, "Error: no root folder ID provided")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  drive-ocr run <folder-id> --out out")
		fmt.Fprintln(os.Stderr, "  drive-ocr run <folder-id> --dry-run   # list without processing")
		return cli.Exit("", 1)
	}

	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return cli.Exit("", 1)
	}
	if c.IsSet("workers") {
		cfg.Pipeline.Workers = c.Int("workers")
	}
	if c.IsSet("target-language") {
		cfg.LLM.TargetLanguage = c.String("target-language")
	}
	if c.IsSet("ocr-engine") {
		cfg.OCR.Engine = c.String("ocr-engine")
	}

	// One cancellation signal for the whole run; Ctrl-C stops claiming new
	// documents and the store stays valid for a future resume.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree, err := drivetree.NewDriveStore(ctx)
	if err != nil {
		logger.Error("failed to create drive client", "error", err)
		return cli.Exit("", 2)
	}
	walker := drivetree.NewWalker(tree, retry.DefaultPolicy(cfg.Walker.MaxAttempts), c.Int("max-depth"), logger)

	deps := pipeline.Deps{
		Tree:   tree,
		Walker: walker,
		Config: cfg,
		Logger: logger,
		RunID:  uuid.NewString(),
		DryRun: c.Bool("dry-run"),
	}

	if !deps.DryRun {
		store, err := progress.Open(c.String("db"))
		if err != nil {
			logger.Error("failed to open progress store", "error", err)
			return cli.Exit("", 2)
		}
		defer store.Close()

		out, err := sink.New(c.String("out"))
		if err != nil {
			logger.Error("failed to create output sink", "error", err)
			return cli.Exit("", 2)
		}

		ocrLimiter, err := ratelimit.New("ocr", cfg.OCR.Rate)
		if err != nil {
			logger.Error("invalid OCR rate budget", "error", err)
			return cli.Exit("", 1)
		}
		llmLimiter, err := ratelimit.New("llm", cfg.LLM.Rate)
		if err != nil {
			logger.Error("invalid LLM rate budget", "error", err)
			return cli.Exit("", 1)
		}

		projectID := common.GetEnv("PROJECT_ID", "")
		region := common.GetEnv("VERTEX_AI_REGION", "us-central1")
		llmClient, baseClient, err := llm.NewVertexClient(ctx, projectID, region, cfg.LLM.Model, cfg.Schema)
		if err != nil {
			logger.Error("failed to create vertex client", "error", err)
			return cli.Exit("", 2)
		}
		defer baseClient.Close()

		var engine ocr.Engine
		switch cfg.OCR.Engine {
		case "gemini":
			engine = ocr.NewGeminiEngine(baseClient, cfg.OCR.Model)
		case "tesseract":
			engine = &ocr.TesseractEngine{}
		default:
			logger.Error("unknown OCR engine", "engine", cfg.OCR.Engine)
			return cli.Exit("", 1)
		}

		deps.Progress = store
		deps.Router = ocr.NewRouter(engine)
		deps.LLM = llmClient
		deps.Detector = llm.NewDetector()
		deps.OCRLimiter = ocrLimiter
		deps.LLMLimiter = llmLimiter
		deps.Sink = out
	}

	logger.Info("Starting run",
		"root", rootID,
		"workers", cfg.Pipeline.Workers,
		"ocr_engine", cfg.OCR.Engine,
		"target_language", cfg.LLM.TargetLanguage,
		"dry_run", deps.DryRun,
	)

	summary, runErr := pipeline.New(deps).Run(ctx, rootID)

	fmt.Printf("Walked %d documents: extracted=%d failed=%d skipped=%d already_done=%d unclassified=%d\n",
		summary.Walked, summary.Extracted, summary.Failed, summary.Skipped, summary.AlreadyDone, summary.Unclassified)
	if summary.Failed > 0 {
		fmt.Println("Failure reasons per document: drive-ocr report --failures")
	}

	if runErr != nil {
		if errors.Is(runErr, pipeline.ErrCircuitOpen) {
			logger.Error("circuit breaker tripped", "failed", summary.Failed)
		} else {
			logger.Error("run aborted", "error", runErr)
		}
		return cli.Exit("", 2)
	}
	return nil
}
