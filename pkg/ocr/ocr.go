// Package ocr turns document bytes into plain text. Engines implement one
// recognition backend each; the Router picks an engine by mime type and
// preflights inputs so obviously broken documents never burn an external
// call.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dtnitsch/drive-ocr/pkg/retry"
)

// Result is the outcome of one recognition.
type Result struct {
	Text       string
	Confidence float64 // 0 when the engine does not report one
}

// Engine is one OCR backend.
type Engine interface {
	// Recognize extracts plain text from the document bytes. Failures are
	// classified through the retry taxonomy.
	Recognize(ctx context.Context, data []byte, mimeType string) (Result, error)
	// Name identifies the engine in logs and records.
	Name() string
	// External reports whether Recognize calls a rate-limited remote
	// service. Local engines bypass the OCR limiter.
	External() bool
}

// Router selects an engine per mime type. Images and PDFs go to the
// primary engine; HTML and plain text are handled locally.
type Router struct {
	primary Engine
	html    Engine
	plain   Engine
}

func NewRouter(primary Engine) *Router {
	return &Router{primary: primary, html: &ReadabilityEngine{}, plain: &PlainEngine{}}
}

// Route returns the engine responsible for mimeType. An unsupported type
// is a permanent failure for that document.
func (r *Router) Route(mimeType string) (Engine, error) {
	switch {
	case strings.HasPrefix(mimeType, "image/"), mimeType == "application/pdf":
		return r.primary, nil
	case mimeType == "text/html", mimeType == "application/xhtml+xml":
		return r.html, nil
	case strings.HasPrefix(mimeType, "text/"):
		return r.plain, nil
	}
	return nil, retry.Permanent("ocr.route", fmt.Errorf("unsupported mime type %q", mimeType))
}

// Preflight rejects documents that cannot possibly OCR: empty bytes, and
// PDFs that are corrupt or have no pages.
func (r *Router) Preflight(data []byte, mimeType string) error {
	if len(data) == 0 {
		return retry.Permanent("ocr.preflight", fmt.Errorf("empty document"))
	}
	if mimeType != "application/pdf" {
		return nil
	}
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return retry.Permanent("ocr.preflight", fmt.Errorf("corrupt PDF: %w", err))
	}
	if pages == 0 {
		return retry.Permanent("ocr.preflight", fmt.Errorf("PDF has no pages"))
	}
	return nil
}
