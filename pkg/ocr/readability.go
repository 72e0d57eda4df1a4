package ocr

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/dtnitsch/drive-ocr/pkg/retry"
)

// ReadabilityEngine extracts the readable text of an HTML document. No
// external service is involved, so it needs no rate token.
type ReadabilityEngine struct{}

func (e *ReadabilityEngine) Name() string   { return "readability" }
func (e *ReadabilityEngine) External() bool { return false }

// syntheticURL satisfies readability's need for a page URL; documents from
// the tree store have none.
var syntheticURL = &url.URL{Scheme: "file", Path: "/document.html"}

func (e *ReadabilityEngine) Recognize(_ context.Context, data []byte, _ string) (Result, error) {
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(data), syntheticURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		text := article.TextContent
		if article.Title != "" {
			text = article.Title + "\n\n" + text
		}
		return Result{Text: strings.TrimSpace(text)}, nil
	}

	// Readability gives up on pages without an article body. Fall back to
	// the raw text of the document.
	doc, qerr := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if qerr != nil {
		return Result{}, retry.Permanent("ocr.readability", fmt.Errorf("unparseable HTML: %w", qerr))
	}
	doc.Find("script,style,noscript").Remove()
	return Result{Text: strings.TrimSpace(doc.Text())}, nil
}

// PlainEngine passes text documents through untouched.
type PlainEngine struct{}

func (e *PlainEngine) Name() string   { return "plain" }
func (e *PlainEngine) External() bool { return false }

func (e *PlainEngine) Recognize(_ context.Context, data []byte, _ string) (Result, error) {
	return Result{Text: strings.TrimSpace(string(data))}, nil
}
