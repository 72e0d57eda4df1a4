// Package llm is the boundary to the language model that translates OCR
// text and extracts structured metadata from it.
package llm

import (
	"context"

	"github.com/dtnitsch/drive-ocr/models"
)

// Request asks for a translation into TargetLanguage plus metadata shaped
// by the declared schema.
type Request struct {
	Text           string
	TargetLanguage string
	Schema         models.MetadataSchema
}

// Result is the model's structured answer. Raw preserves the exact payload
// for diagnosis when validation rejects it.
type Result struct {
	Translation string
	Metadata    map[string]any
	Raw         []byte
}

// Client is implemented by the production Vertex client and by the test
// mock.
type Client interface {
	TranslateExtract(ctx context.Context, req Request) (Result, error)
}
