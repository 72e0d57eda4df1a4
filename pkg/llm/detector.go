package llm

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// Detector identifies the language of OCR text so documents already in
// the target language skip the translation round trip.
type Detector struct {
	detector lingua.LanguageDetector
}

// NewDetector builds a detector over all languages lingua knows. Building
// is expensive; share one detector per run.
func NewDetector() *Detector {
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build(),
	}
}

// Detect returns the English name of the text's language ("English",
// "German", ...) and whether detection was confident enough to use.
func (d *Detector) Detect(text string) (string, bool) {
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return lang.String(), true
}

// Matches reports whether a detected language equals the configured
// target, comparing case-insensitively so config can say "english".
func Matches(detected, target string) bool {
	return detected != "" && strings.EqualFold(detected, target)
}
