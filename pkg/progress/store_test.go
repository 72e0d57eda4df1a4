package progress

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dtnitsch/drive-ocr/models"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testDescriptor(id string) models.Descriptor {
	return models.Descriptor{
		ID:           id,
		Name:         id + ".pdf",
		Path:         []string{"archive", "2023"},
		MimeType:     "application/pdf",
		Size:         1024,
		ModifiedTime: time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	store := setupTestStore(t)

	d := testDescriptor("doc-1")
	fp := models.FingerprintOf(d)

	if err := store.Register(fp, d); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	// Registering again must not reset anything.
	if err := store.Advance(fp, models.StatusPending, models.StatusOcrDone, Mutation{OcrText: "hello", Attempts: 1}); err != nil {
		t.Fatalf("Advance() failed: %v", err)
	}
	if err := store.Register(fp, d); err != nil {
		t.Fatalf("second Register() failed: %v", err)
	}

	rec, err := store.Lookup(fp)
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if rec.Status != models.StatusOcrDone {
		t.Errorf("status after re-register = %q, want %q", rec.Status, models.StatusOcrDone)
	}
	if rec.OcrText != "hello" {
		t.Errorf("ocr_text after re-register = %q, want %q", rec.OcrText, "hello")
	}
}

func TestClaimAtMostOnce(t *testing.T) {
	store := setupTestStore(t)

	d := testDescriptor("doc-1")
	fp := models.FingerprintOf(d)
	if err := store.Register(fp, d); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	rec, claimed, err := store.Claim(fp, "run-A")
	if err != nil {
		t.Fatalf("first Claim() failed: %v", err)
	}
	if !claimed {
		t.Fatal("first Claim() should win")
	}
	if rec.Status != models.StatusPending {
		t.Errorf("claimed record status = %q, want %q", rec.Status, models.StatusPending)
	}

	// Same run claiming again loses but still sees the record.
	rec, claimed, err = store.Claim(fp, "run-A")
	if err != nil {
		t.Fatalf("second Claim() failed: %v", err)
	}
	if claimed {
		t.Error("second Claim() in the same run should lose")
	}
	if rec == nil {
		t.Fatal("losing Claim() should still return the record")
	}
}

func TestClaimConcurrent(t *testing.T) {
	store := setupTestStore(t)

	d := testDescriptor("doc-1")
	fp := models.FingerprintOf(d)
	if err := store.Register(fp, d); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := store.Claim(fp, "run-A")
			if err != nil {
				t.Errorf("Claim() failed: %v", err)
				return
			}
			if claimed {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if n := len(wins); n != 1 {
		t.Errorf("winners = %d, want exactly 1", n)
	}
}

func TestClaimAcrossRuns(t *testing.T) {
	store := setupTestStore(t)

	tests := []struct {
		name      string
		status    models.Status
		wantClaim bool
	}{
		{name: "pending is reclaimable", status: models.StatusPending, wantClaim: true},
		{name: "ocr_done is reclaimable", status: models.StatusOcrDone, wantClaim: true},
		{name: "extracted is not", status: models.StatusExtracted, wantClaim: false},
		{name: "failed is not", status: models.StatusFailed, wantClaim: false},
		{name: "skipped is not", status: models.StatusSkipped, wantClaim: false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor(fmt.Sprintf("doc-%d", i))
			fp := models.FingerprintOf(d)
			if err := store.Register(fp, d); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}
			if _, claimed, err := store.Claim(fp, "run-A"); err != nil || !claimed {
				t.Fatalf("setup claim failed: claimed=%v err=%v", claimed, err)
			}
			if tt.status != models.StatusPending {
				m := Mutation{Attempts: 1}
				if tt.status == models.StatusExtracted {
					// extracted requires passing through ocr_done
					if err := store.Advance(fp, models.StatusPending, models.StatusOcrDone, m); err != nil {
						t.Fatalf("Advance() to ocr_done failed: %v", err)
					}
					if err := store.Advance(fp, models.StatusOcrDone, tt.status, m); err != nil {
						t.Fatalf("Advance() failed: %v", err)
					}
				} else if err := store.Advance(fp, models.StatusPending, tt.status, m); err != nil {
					t.Fatalf("Advance() failed: %v", err)
				}
			}

			_, claimed, err := store.Claim(fp, "run-B")
			if err != nil {
				t.Fatalf("Claim() by second run failed: %v", err)
			}
			if claimed != tt.wantClaim {
				t.Errorf("second run claimed = %v, want %v", claimed, tt.wantClaim)
			}
		})
	}
}

func TestAdvanceForwardOnly(t *testing.T) {
	store := setupTestStore(t)

	tests := []struct {
		name    string
		from    models.Status
		to      models.Status
		wantErr bool
	}{
		{name: "pending to ocr_done", from: models.StatusPending, to: models.StatusOcrDone},
		{name: "pending to extracted", from: models.StatusPending, to: models.StatusExtracted},
		{name: "pending to failed", from: models.StatusPending, to: models.StatusFailed},
		{name: "pending to skipped", from: models.StatusPending, to: models.StatusSkipped},
		{name: "ocr_done to extracted", from: models.StatusOcrDone, to: models.StatusExtracted},
		{name: "ocr_done to pending regresses", from: models.StatusOcrDone, to: models.StatusPending, wantErr: true},
		{name: "extracted is terminal", from: models.StatusExtracted, to: models.StatusFailed, wantErr: true},
		{name: "failed is terminal", from: models.StatusFailed, to: models.StatusPending, wantErr: true},
		{name: "skipped is terminal", from: models.StatusSkipped, to: models.StatusExtracted, wantErr: true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor(fmt.Sprintf("doc-%d", i))
			fp := models.FingerprintOf(d)
			if err := store.Register(fp, d); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}
			seedStatus(t, store, fp, tt.from)

			err := store.Advance(fp, tt.from, tt.to, Mutation{})
			if (err != nil) != tt.wantErr {
				t.Errorf("Advance(%s -> %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("Advance() error = %v, want ErrIllegalTransition", err)
			}
		})
	}
}

// seedStatus walks a fresh pending record into the given status through
// legal transitions only.
func seedStatus(t *testing.T, store *Store, fp models.Fingerprint, status models.Status) {
	t.Helper()
	switch status {
	case models.StatusPending:
	case models.StatusOcrDone, models.StatusFailed, models.StatusSkipped:
		if err := store.Advance(fp, models.StatusPending, status, Mutation{}); err != nil {
			t.Fatalf("seed to %s failed: %v", status, err)
		}
	case models.StatusExtracted:
		if err := store.Advance(fp, models.StatusPending, models.StatusOcrDone, Mutation{}); err != nil {
			t.Fatalf("seed to ocr_done failed: %v", err)
		}
		if err := store.Advance(fp, models.StatusOcrDone, status, Mutation{}); err != nil {
			t.Fatalf("seed to extracted failed: %v", err)
		}
	}
}

func TestAdvanceStaleFromStatus(t *testing.T) {
	store := setupTestStore(t)

	d := testDescriptor("doc-1")
	fp := models.FingerprintOf(d)
	if err := store.Register(fp, d); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := store.Advance(fp, models.StatusPending, models.StatusOcrDone, Mutation{}); err != nil {
		t.Fatalf("Advance() failed: %v", err)
	}

	// A second caller still holding the pending view must not regress.
	err := store.Advance(fp, models.StatusPending, models.StatusFailed, Mutation{LastError: "stale"})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("Advance() with stale from-status error = %v, want ErrIllegalTransition", err)
	}
}

func TestAdvanceSetsAttemptsPerStage(t *testing.T) {
	store := setupTestStore(t)

	d := testDescriptor("doc-1")
	fp := models.FingerprintOf(d)
	if err := store.Register(fp, d); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if err := store.Advance(fp, models.StatusPending, models.StatusOcrDone, Mutation{Attempts: 2, OcrText: "text"}); err != nil {
		t.Fatalf("Advance() to ocr_done failed: %v", err)
	}
	if err := store.Advance(fp, models.StatusOcrDone, models.StatusExtracted, Mutation{Attempts: 3, Translation: "text"}); err != nil {
		t.Fatalf("Advance() to extracted failed: %v", err)
	}

	rec, err := store.Lookup(fp)
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (attempts of the last stage, not a running total)", rec.Attempts)
	}
	if rec.OcrText != "text" {
		t.Errorf("ocr_text = %q, want preserved through extract", rec.OcrText)
	}
}

func TestResumeFromOcrDone(t *testing.T) {
	store := setupTestStore(t)

	d := testDescriptor("doc-1")
	fp := models.FingerprintOf(d)
	if err := store.Register(fp, d); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if _, _, err := store.Claim(fp, "run-A"); err != nil {
		t.Fatalf("Claim() failed: %v", err)
	}
	if err := store.Advance(fp, models.StatusPending, models.StatusOcrDone, Mutation{Attempts: 1, OcrText: "recovered text"}); err != nil {
		t.Fatalf("Advance() failed: %v", err)
	}

	// A later run claims the interrupted record and finds the OCR text
	// already present, so the first stage does not need to repeat.
	rec, claimed, err := store.Claim(fp, "run-B")
	if err != nil {
		t.Fatalf("Claim() by run-B failed: %v", err)
	}
	if !claimed {
		t.Fatal("run-B should reclaim an ocr_done record")
	}
	if rec.Status != models.StatusOcrDone {
		t.Errorf("status = %q, want %q", rec.Status, models.StatusOcrDone)
	}
	if rec.OcrText != "recovered text" {
		t.Errorf("ocr_text = %q, want %q", rec.OcrText, "recovered text")
	}
}

func TestSummaryCounts(t *testing.T) {
	store := setupTestStore(t)

	statuses := []models.Status{
		models.StatusPending,
		models.StatusOcrDone,
		models.StatusExtracted,
		models.StatusFailed,
		models.StatusFailed,
		models.StatusSkipped,
	}
	for i, st := range statuses {
		d := testDescriptor(fmt.Sprintf("doc-%d", i))
		fp := models.FingerprintOf(d)
		if err := store.Register(fp, d); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		seedStatus(t, store, fp, st)
	}

	counts, err := store.Summary()
	if err != nil {
		t.Fatalf("Summary() failed: %v", err)
	}
	want := map[models.Status]int{
		models.StatusPending:   1,
		models.StatusOcrDone:   1,
		models.StatusExtracted: 1,
		models.StatusFailed:    2,
		models.StatusSkipped:   1,
	}
	for st, n := range want {
		if counts[st] != n {
			t.Errorf("count[%s] = %d, want %d", st, counts[st], n)
		}
	}
}

func TestFailuresKeepLastError(t *testing.T) {
	store := setupTestStore(t)

	d := testDescriptor("doc-1")
	fp := models.FingerprintOf(d)
	if err := store.Register(fp, d); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := store.Advance(fp, models.StatusPending, models.StatusFailed, Mutation{Attempts: 3, LastError: "ocr quota exhausted"}); err != nil {
		t.Fatalf("Advance() failed: %v", err)
	}

	failures, err := store.Failures()
	if err != nil {
		t.Fatalf("Failures() failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if failures[0].LastError != "ocr quota exhausted" {
		t.Errorf("last_error = %q, want %q", failures[0].LastError, "ocr quota exhausted")
	}
	if failures[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", failures[0].Attempts)
	}
}

func TestDeleteStale(t *testing.T) {
	store := setupTestStore(t)

	terminal := testDescriptor("doc-old")
	fpTerminal := models.FingerprintOf(terminal)
	if err := store.Register(fpTerminal, terminal); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	seedStatus(t, store, fpTerminal, models.StatusExtracted)

	pending := testDescriptor("doc-pending")
	fpPending := models.FingerprintOf(pending)
	if err := store.Register(fpPending, pending); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	// Cutoff in the future catches everything terminal, but a pending
	// record survives regardless of age.
	deleted, err := store.DeleteStale(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteStale() failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	rec, err := store.Lookup(fpPending)
	if err != nil || rec == nil {
		t.Fatalf("pending record should survive gc: rec=%v err=%v", rec, err)
	}
	rec, err = store.Lookup(fpTerminal)
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if rec != nil {
		t.Error("terminal record should be deleted")
	}

	// Nothing left to delete; second gc is a no-op.
	deleted, err = store.DeleteStale(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("second DeleteStale() failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("second gc deleted = %d, want 0", deleted)
	}
}

func TestSchemaVersionGuard(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/progress.db"

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE meta SET value = ? WHERE key = 'schema_version'`, SchemaVersion+1); err != nil {
		t.Fatalf("failed to bump schema version: %v", err)
	}
	store.Close()

	if _, err := Open(path); err == nil {
		t.Error("Open() should refuse a database from a newer schema version")
	}
}
