// Package pipeline schedules documents from the walker through the OCR
// and translate+extract stages under shared rate limits, with durable
// per-fingerprint progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dtnitsch/drive-ocr/models"
	"github.com/dtnitsch/drive-ocr/pkg/drivetree"
	"github.com/dtnitsch/drive-ocr/pkg/llm"
	"github.com/dtnitsch/drive-ocr/pkg/ocr"
	"github.com/dtnitsch/drive-ocr/pkg/progress"
	"github.com/dtnitsch/drive-ocr/pkg/ratelimit"
	"github.com/dtnitsch/drive-ocr/pkg/retry"
	"github.com/dtnitsch/drive-ocr/pkg/sink"
)

// ErrCircuitOpen aborts a run whose failure rate exceeded the configured
// threshold, protecting external quota from a systemically broken root.
var ErrCircuitOpen = errors.New("failure rate exceeded threshold, aborting run")

// Summary is the end-of-run report.
type Summary struct {
	Walked       int
	Extracted    int
	Failed       int
	Skipped      int
	AlreadyDone  int
	Unclassified int
}

// LanguageDetector identifies the language of OCR text. Satisfied by
// llm.Detector.
type LanguageDetector interface {
	Detect(text string) (language string, ok bool)
}

// Scheduler owns one run of the pipeline.
type Scheduler struct {
	tree       drivetree.Store
	walker     *drivetree.Walker
	progress   *progress.Store
	router     *ocr.Router
	llmClient  llm.Client
	detector   LanguageDetector
	ocrLimiter *ratelimit.Limiter
	llmLimiter *ratelimit.Limiter
	sink       *sink.Sink
	cfg        *models.Config
	logger     *slog.Logger
	runID      string
	dryRun     bool

	mu      sync.Mutex
	summary Summary
}

// Deps wires the scheduler's collaborators.
type Deps struct {
	Tree       drivetree.Store
	Walker     *drivetree.Walker
	Progress   *progress.Store
	Router     *ocr.Router
	LLM        llm.Client
	Detector   LanguageDetector
	OCRLimiter *ratelimit.Limiter
	LLMLimiter *ratelimit.Limiter
	Sink       *sink.Sink
	Config     *models.Config
	Logger     *slog.Logger
	RunID      string
	DryRun     bool
}

func New(d Deps) *Scheduler {
	return &Scheduler{
		tree:       d.Tree,
		walker:     d.Walker,
		progress:   d.Progress,
		router:     d.Router,
		llmClient:  d.LLM,
		detector:   d.Detector,
		ocrLimiter: d.OCRLimiter,
		llmLimiter: d.LLMLimiter,
		sink:       d.Sink,
		cfg:        d.Config,
		logger:     d.Logger,
		runID:      d.RunID,
		dryRun:     d.DryRun,
	}
}

// Run walks rootID and drives every discovered document through the
// stages. Per-document failures are recorded and do not abort the run;
// only a walker failure or a circuit-breaker trip does.
func (s *Scheduler) Run(ctx context.Context, rootID string) (Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan models.Descriptor, s.cfg.Pipeline.Workers*2)

	g.Go(func() error {
		defer close(jobs)
		if err := s.walker.Walk(gctx, rootID, jobs); err != nil {
			return fmt.Errorf("fatal walk error: %w", err)
		}
		return nil
	})

	for w := 1; w <= s.cfg.Pipeline.Workers; w++ {
		workerID := w
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case desc, ok := <-jobs:
					if !ok {
						return nil
					}
					if err := s.process(gctx, workerID, desc); err != nil {
						return err
					}
				}
			}
		})
	}

	err := g.Wait()
	s.mu.Lock()
	s.summary.Unclassified = s.walker.Unclassified()
	out := s.summary
	s.mu.Unlock()
	return out, err
}

// process drives one descriptor through claim, OCR and extract. It
// returns an error only for failures that must abort the whole run.
func (s *Scheduler) process(ctx context.Context, workerID int, desc models.Descriptor) error {
	log := s.logger.With("worker_id", workerID, "file_id", desc.ID, "name", desc.Name)

	s.tally(func(sum *Summary) { sum.Walked++ })

	if s.dryRun {
		log.Info("Dry run, found document", "path", desc.DisplayPath(), "mime_type", desc.MimeType, "size", desc.Size)
		return nil
	}

	fp := models.FingerprintOf(desc)
	if err := s.progress.Register(fp, desc); err != nil {
		return retry.Fatal("progress.register", err)
	}
	rec, claimed, err := s.progress.Claim(fp, s.runID)
	if err != nil {
		return retry.Fatal("progress.claim", err)
	}
	if !claimed {
		log.Info("Already processed or claimed, skipping", "status", rec.Status)
		s.tally(func(sum *Summary) { sum.AlreadyDone++ })
		return nil
	}

	ocrText := rec.OcrText
	if rec.Status == models.StatusPending {
		text, done, err := s.runOCR(ctx, log, fp, desc)
		if err != nil {
			return err
		}
		if done { // failed or skipped, already recorded
			return nil
		}
		ocrText = text
	} else {
		log.Info("Resuming at extract stage", "status", rec.Status)
	}

	return s.runExtract(ctx, log, fp, desc, ocrText)
}

// runOCR fetches the document bytes and extracts text. done is true when
// the document reached a terminal state here (failed, or skipped for
// having no text).
func (s *Scheduler) runOCR(ctx context.Context, log *slog.Logger, fp models.Fingerprint, desc models.Descriptor) (text string, done bool, err error) {
	data, cached := s.sink.Original(desc.ID, desc.Name)
	if !cached {
		fetchPolicy := retry.DefaultPolicy(s.cfg.Walker.MaxAttempts)
		attempts, ferr := fetchPolicy.Do(ctx, log, "drive.fetch", func() error {
			var e error
			data, e = s.tree.FetchBytes(ctx, desc.ID)
			return e
		})
		if ferr != nil {
			return "", true, s.recordFailure(ctx, log, fp, models.StatusPending, attempts, ferr)
		}
		if err := s.sink.WriteOriginal(desc.ID, desc.Name, data); err != nil {
			log.Warn("Failed to cache original bytes", "error", err)
		}
	}

	engine, rerr := s.router.Route(desc.MimeType)
	if rerr == nil {
		rerr = s.router.Preflight(data, desc.MimeType)
	}
	if rerr != nil {
		return "", true, s.recordFailure(ctx, log, fp, models.StatusPending, 0, rerr)
	}

	var result ocr.Result
	policy := retry.DefaultPolicy(s.cfg.OCR.MaxAttempts)
	attempts, oerr := policy.Do(ctx, log, "ocr."+engine.Name(), func() error {
		if engine.External() {
			if err := s.ocrLimiter.Acquire(ctx, 1); err != nil {
				return retry.Fatal("ratelimit.ocr", err)
			}
		}
		var e error
		result, e = engine.Recognize(ctx, data, desc.MimeType)
		return e
	})
	if oerr != nil {
		return "", true, s.recordFailure(ctx, log, fp, models.StatusPending, attempts, oerr)
	}

	if strings.TrimSpace(result.Text) == "" {
		log.Info("No recognizable text, skipping document")
		if err := s.progress.Advance(fp, models.StatusPending, models.StatusSkipped, progress.Mutation{
			Attempts:  attempts,
			LastError: "no translatable content",
		}); err != nil {
			return "", true, retry.Fatal("progress.advance", err)
		}
		s.tally(func(sum *Summary) { sum.Skipped++ })
		return "", true, nil
	}

	if err := s.progress.Advance(fp, models.StatusPending, models.StatusOcrDone, progress.Mutation{
		Attempts: attempts,
		OcrText:  result.Text,
	}); err != nil {
		return "", true, retry.Fatal("progress.advance", err)
	}
	if err := s.sink.WriteText(desc.ID, result.Text); err != nil {
		log.Warn("Failed to write OCR text artifact", "error", err)
	}
	log.Info("OCR complete", "engine", engine.Name(), "attempts", attempts, "chars", len(result.Text))
	return result.Text, false, nil
}

// runExtract translates the OCR text and extracts schema-validated
// metadata. Schema-invalid model output is retried as transient; once
// attempts are exhausted it becomes a permanent per-document failure with
// the offending payload preserved.
func (s *Scheduler) runExtract(ctx context.Context, log *slog.Logger, fp models.Fingerprint, desc models.Descriptor, text string) error {
	if strings.TrimSpace(text) == "" {
		if err := s.progress.Advance(fp, models.StatusOcrDone, models.StatusSkipped, progress.Mutation{
			LastError: "no translatable content",
		}); err != nil {
			return retry.Fatal("progress.advance", err)
		}
		s.tally(func(sum *Summary) { sum.Skipped++ })
		return nil
	}

	var detected string
	if s.detector != nil {
		if lang, ok := s.detector.Detect(text); ok {
			detected = lang
		}
	}

	var result llm.Result
	policy := retry.DefaultPolicy(s.cfg.LLM.MaxAttempts)
	attempts, err := policy.Do(ctx, log, "llm.extract", func() error {
		if err := s.llmLimiter.Acquire(ctx, 1); err != nil {
			return retry.Fatal("ratelimit.llm", err)
		}
		var e error
		result, e = s.llmClient.TranslateExtract(ctx, llm.Request{
			Text:           text,
			TargetLanguage: s.cfg.LLM.TargetLanguage,
			Schema:         s.cfg.Schema,
		})
		if e != nil {
			return e
		}
		if verr := s.cfg.Schema.Validate(result.Metadata); verr != nil {
			return retry.Transient("llm.validate", fmt.Errorf("%w; payload: %s", verr, truncate(string(result.Raw), 2000)))
		}
		// An empty translation is only acceptable when the text is already
		// in the target language; otherwise the model dropped the document.
		if result.Translation == "" && !llm.Matches(detected, s.cfg.LLM.TargetLanguage) {
			return retry.Transient("llm.validate", fmt.Errorf("empty translation for text not detected as %s", s.cfg.LLM.TargetLanguage))
		}
		return nil
	})
	if err != nil {
		return s.recordFailure(ctx, log, fp, models.StatusOcrDone, attempts, err)
	}

	translation := result.Translation
	if translation == "" && llm.Matches(detected, s.cfg.LLM.TargetLanguage) {
		// Already in the target language; the transcription is the
		// translation.
		translation = text
	}

	metadataYAML, err := models.MarshalMetadata(s.cfg.Schema, result.Metadata)
	if err != nil {
		return s.recordFailure(ctx, log, fp, models.StatusOcrDone, attempts, retry.Permanent("metadata.marshal", err))
	}

	if err := s.progress.Advance(fp, models.StatusOcrDone, models.StatusExtracted, progress.Mutation{
		Attempts:     attempts,
		Language:     detected,
		Translation:  translation,
		MetadataYAML: metadataYAML,
	}); err != nil {
		return retry.Fatal("progress.advance", err)
	}

	if translation != "" && translation != text {
		if err := s.sink.WriteTranslation(desc.ID, translation); err != nil {
			log.Warn("Failed to write translation artifact", "error", err)
		}
	}
	if err := s.sink.WriteMetadata(desc.ID, metadataYAML); err != nil {
		log.Warn("Failed to write metadata artifact", "error", err)
	}

	log.Info("Extraction complete", "attempts", attempts, "language", detected)
	s.tally(func(sum *Summary) { sum.Extracted++ })
	return nil
}

// recordFailure marks the document failed and trips the circuit breaker
// when the run's failure rate crosses the configured threshold. Fatal
// errors propagate instead of being absorbed.
func (s *Scheduler) recordFailure(ctx context.Context, log *slog.Logger, fp models.Fingerprint, from models.Status, attempts int, cause error) error {
	if ctx.Err() != nil {
		// The run is shutting down, not the document failing. Leave the
		// record at its last completed stage so a resumed run retries it.
		return cause
	}
	if retry.ClassOf(cause) == retry.ClassFatal {
		return cause
	}

	log.Error("Document failed", "status_from", from, "attempts", attempts, "error", cause)
	if err := s.progress.Advance(fp, from, models.StatusFailed, progress.Mutation{
		Attempts:  attempts,
		LastError: cause.Error(),
	}); err != nil {
		return retry.Fatal("progress.advance", err)
	}

	var trip bool
	s.tally(func(sum *Summary) {
		sum.Failed++
		done := sum.Extracted + sum.Failed + sum.Skipped
		if done >= s.cfg.Pipeline.MinFailureSample {
			trip = float64(sum.Failed)/float64(done) > s.cfg.Pipeline.FailureRateThreshold
		}
	})
	if trip {
		return ErrCircuitOpen
	}
	return nil
}

func (s *Scheduler) tally(fn func(*Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.summary)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
