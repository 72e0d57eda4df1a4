// Package sink persists enriched records to the output directory, one
// sub-directory per document like the layout Drive users expect to browse:
//
//	<out>/<fileID>/<original name>
//	<out>/<fileID>/text.md
//	<out>/<fileID>/translated.md
//	<out>/<fileID>/metadata.yaml
package sink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	TextFile        = "text.md"
	TranslationFile = "translated.md"
	MetadataFile    = "metadata.yaml"
)

type Sink struct {
	baseDir string
}

func New(baseDir string) (*Sink, error) {
	if baseDir == "" {
		baseDir = "out"
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Sink{baseDir: baseDir}, nil
}

// DocDir returns the directory holding one document's artifacts.
func (s *Sink) DocDir(fileID string) string {
	return filepath.Join(s.baseDir, fileID)
}

// WriteOriginal caches the fetched source bytes so a resumed run does not
// re-download them.
func (s *Sink) WriteOriginal(fileID, name string, data []byte) error {
	return s.write(fileID, sanitizeName(name), data)
}

// Original returns previously cached source bytes, if any.
func (s *Sink) Original(fileID, name string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Join(s.DocDir(fileID), sanitizeName(name)))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Sink) WriteText(fileID, text string) error {
	return s.write(fileID, TextFile, []byte(text))
}

func (s *Sink) WriteTranslation(fileID, text string) error {
	return s.write(fileID, TranslationFile, []byte(text))
}

func (s *Sink) WriteMetadata(fileID, metadataYAML string) error {
	return s.write(fileID, MetadataFile, []byte(metadataYAML))
}

// write is idempotent: an existing file with identical content is left
// untouched, so re-sinking a fingerprint after a retry is safe.
func (s *Sink) write(fileID, name string, data []byte) error {
	dir := s.DocDir(fileID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

var unsafeFilenameChar = regexp.MustCompile(`[^a-zA-Z0-9._\-]+`)

// sanitizeName keeps original filenames filesystem-safe without losing
// their extension.
func sanitizeName(name string) string {
	safe := unsafeFilenameChar.ReplaceAllString(name, "_")
	safe = strings.Trim(safe, "._")
	if safe == "" {
		return "original"
	}
	return safe
}
