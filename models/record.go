package models

import "time"

// Status is the lifecycle state of a processing record. Transitions only
// move forward through pending -> ocr_done -> extracted, or sideways to
// failed/skipped, which are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusOcrDone   Status = "ocr_done"
	StatusExtracted Status = "extracted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// rank orders the forward lattice. Terminal sideways states have no rank.
var rank = map[Status]int{
	StatusPending:   0,
	StatusOcrDone:   1,
	StatusExtracted: 2,
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusExtracted || s == StatusFailed || s == StatusSkipped
}

// CanAdvanceTo reports whether moving from s to next respects the lattice.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed || next == StatusSkipped {
		return true
	}
	from, okFrom := rank[s]
	to, okTo := rank[next]
	return okFrom && okTo && to > from
}

// Record is one row in the progress store, keyed by fingerprint. It is
// owned by the store and mutated only through its API.
type Record struct {
	Fingerprint  Fingerprint
	FileID       string
	Name         string
	Path         string
	MimeType     string
	Size         int64
	ModifiedTime time.Time
	Status       Status
	Attempts     int
	LastError    string
	OcrText      string
	Language     string
	Translation  string
	MetadataYAML string
	ClaimRun     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
