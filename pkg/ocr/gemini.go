package ocr

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/dtnitsch/drive-ocr/pkg/retry"
)

const geminiSystemPrompt = "You are a precise OCR engine. You transcribe scanned documents faithfully, preserving structure as Markdown. You never summarize, never omit content, and never add commentary."

const geminiUserPrompt = `Transcribe the attached document into Markdown.

Rules:
- Transcribe ALL legible text faithfully, in the original language.
- Preserve headings, lists and tables as Markdown structure.
- Mark illegible passages as [illegible].
- Return ONLY the transcription, with no preamble and no code fences.`

// Phrases that indicate the model refused instead of transcribing. A
// refusal will not improve on retry with identical input.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// GeminiEngine performs OCR through a Vertex AI vision model. It handles
// both images and PDFs natively.
type GeminiEngine struct {
	model *genai.GenerativeModel
}

// NewGeminiEngine configures a generative model for transcription work.
func NewGeminiEngine(client *genai.Client, modelName string) *GeminiEngine {
	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	return &GeminiEngine{model: model}
}

func (e *GeminiEngine) Name() string   { return "gemini" }
func (e *GeminiEngine) External() bool { return true }

func (e *GeminiEngine) Recognize(ctx context.Context, data []byte, mimeType string) (Result, error) {
	resp, err := e.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(geminiUserPrompt),
	)
	if err != nil {
		// Network and quota failures dominate here; classification
		// defaults to transient so they get retried.
		return Result{}, fmt.Errorf("gemini transcription: %w", err)
	}

	text := responseText(resp)
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return Result{}, retry.Permanent("ocr.gemini", fmt.Errorf("model refused to transcribe: %q", firstLine(text)))
		}
	}
	return Result{Text: text}, nil
}

// responseText concatenates the text parts of the first candidate and
// strips any code fence the model wrapped the output in.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.TrimPrefix(out, "```markdown")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
