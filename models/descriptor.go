// Package models defines data structures shared across the pipeline.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const FolderMimeType = "application/vnd.google-apps.folder"

// Descriptor identifies one discoverable document in the remote tree.
// It is produced by the walker and never persisted beyond a run.
type Descriptor struct {
	ID           string
	Name         string
	Path         []string // ancestry of folder names, root first
	MimeType     string
	Size         int64
	ModifiedTime time.Time
	ParentID     string
}

// DisplayPath renders the ancestry plus the file name for humans.
func (d Descriptor) DisplayPath() string {
	if len(d.Path) == 0 {
		return d.Name
	}
	return strings.Join(d.Path, "/") + "/" + d.Name
}

// Fingerprint is the idempotency key derived from a descriptor's identity
// and content version. Two descriptors with equal fingerprints are the same
// processed unit of work.
type Fingerprint string

// FingerprintOf derives the fingerprint from (id, modifiedTime, size).
// Drive bumps modifiedTime on every content revision, so a re-uploaded file
// gets a fresh fingerprint while an untouched one keeps its old record.
func FingerprintOf(d Descriptor) Fingerprint {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", d.ID, d.ModifiedTime.UTC().Format(time.RFC3339), d.Size)))
	return Fingerprint(hex.EncodeToString(h[:]))
}
