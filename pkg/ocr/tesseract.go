package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/dtnitsch/drive-ocr/pkg/retry"
)

// TesseractEngine runs OCR locally through Tesseract. It only understands
// raster images; route PDFs to a vision model or rasterize them first.
// Useful when the run must not send document content to a remote service.
type TesseractEngine struct {
	// Languages passed to Tesseract, e.g. "eng+deu". Empty means "eng".
	Languages string
}

func (e *TesseractEngine) Name() string   { return "tesseract" }
func (e *TesseractEngine) External() bool { return false }

func (e *TesseractEngine) Recognize(_ context.Context, data []byte, mimeType string) (Result, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return Result{}, retry.Permanent("ocr.tesseract", fmt.Errorf("tesseract engine cannot read %q", mimeType))
	}

	// gosseract clients are not safe for concurrent use; one per call.
	client := gosseract.NewClient()
	defer client.Close()

	if e.Languages != "" {
		if err := client.SetLanguage(strings.Split(e.Languages, "+")...); err != nil {
			return Result{}, retry.Permanent("ocr.tesseract", fmt.Errorf("unknown language %q: %w", e.Languages, err))
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return Result{}, retry.Permanent("ocr.tesseract", fmt.Errorf("unreadable image: %w", err))
	}
	text, err := client.Text()
	if err != nil {
		return Result{}, retry.Permanent("ocr.tesseract", fmt.Errorf("recognition failed: %w", err))
	}
	return Result{Text: strings.TrimSpace(text)}, nil
}
