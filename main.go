package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/drive-ocr/internal/report"
	"github.com/dtnitsch/drive-ocr/internal/run"
	"github.com/dtnitsch/drive-ocr/pkg/progress"
)

func main() {
	dbFlag := &cli.StringFlag{
		Name:  "db",
		Value: progress.DefaultDBName,
		Usage: "path to the progress database",
	}
	quietFlag := &cli.BoolFlag{
		Name:  "quiet",
		Usage: "suppress log output",
	}

	app := &cli.App{
		Name:  "drive-ocr",
		Usage: "walk a Drive folder, OCR every document and extract translated metadata",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "process all documents under a root folder",
				ArgsUsage: "<folder-id>",
				Flags: []cli.Flag{
					dbFlag,
					quietFlag,
					&cli.StringFlag{
						Name:  "out",
						Value: "out",
						Usage: "output directory for extracted documents",
					},
					&cli.StringFlag{
						Name:  "config",
						Value: "config.yaml",
						Usage: "path to the YAML config file",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "number of concurrent document workers",
					},
					&cli.IntFlag{
						Name:  "max-depth",
						Usage: "maximum folder depth to descend, 0 for unlimited",
					},
					&cli.StringFlag{
						Name:  "target-language",
						Usage: "language documents are translated into",
					},
					&cli.StringFlag{
						Name:  "ocr-engine",
						Usage: "OCR engine to use (gemini or tesseract)",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "list discovered documents without processing them",
					},
				},
				Action: run.Action,
			},
			{
				Name:  "report",
				Usage: "summarize the progress database from previous runs",
				Flags: []cli.Flag{
					dbFlag,
					quietFlag,
					&cli.BoolFlag{
						Name:  "failures",
						Usage: "list failed documents with their last error",
					},
				},
				Action: report.Action,
			},
			{
				Name:  "gc",
				Usage: "delete terminal records not touched within a retention window",
				Flags: []cli.Flag{
					dbFlag,
					quietFlag,
					&cli.DurationFlag{
						Name:  "older-than",
						Value: 30 * 24 * time.Hour,
						Usage: "delete terminal records last updated longer ago than this",
					},
				},
				Action: report.GCAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return 1
}
