package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/dtnitsch/drive-ocr/models"
	"github.com/dtnitsch/drive-ocr/pkg/retry"
)

const systemPrompt = "You are a document translator and archivist. You translate historical documents faithfully and catalogue them with precise metadata. You answer only with JSON matching the requested schema."

const userPromptTemplate = `Below is the OCR transcription of a document, in Markdown.

1. Translate the full transcription into %s, preserving the Markdown structure. If the document is already in %s, return the transcription unchanged as the translation.
2. Fill in the metadata fields. Use null for fields that do not apply or cannot be determined.

Transcription:
---
%s`

// VertexClient drives a Gemini model whose responses are constrained to
// the declared metadata schema via a JSON response schema.
type VertexClient struct {
	model *genai.GenerativeModel
}

// NewVertexClient connects to Vertex AI and configures the generative
// model for deterministic, schema-constrained JSON output.
func NewVertexClient(ctx context.Context, projectID, region, modelName string, schema models.MetadataSchema) (*VertexClient, *genai.Client, error) {
	if projectID == "" || region == "" {
		return nil, nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(schema),
		Temperature:      genai.Ptr[float32](0.0),
	}
	return &VertexClient{model: model}, baseClient, nil
}

func (c *VertexClient) TranslateExtract(ctx context.Context, req Request) (Result, error) {
	prompt := fmt.Sprintf(userPromptTemplate, req.TargetLanguage, req.TargetLanguage, req.Text)
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Result{}, fmt.Errorf("gemini extraction: %w", err)
	}

	raw := []byte(candidateText(resp))
	if len(raw) == 0 {
		return Result{Raw: raw}, retry.Transient("llm.extract", fmt.Errorf("empty model response"))
	}

	var payload struct {
		Translation string         `json:"translation"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Malformed JSON despite the response schema; model
		// non-determinism may self-correct on retry.
		return Result{Raw: raw}, retry.Transient("llm.extract", fmt.Errorf("response is not valid JSON: %w", err))
	}
	return Result{Translation: payload.Translation, Metadata: payload.Metadata, Raw: raw}, nil
}

// responseSchema maps the declared metadata schema onto a genai response
// schema: a translation string plus one property per declared field.
func responseSchema(s models.MetadataSchema) *genai.Schema {
	meta := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{},
	}
	for _, f := range s.Fields {
		prop := &genai.Schema{
			Type:        genai.TypeString,
			Description: f.Description,
			Nullable:    !f.Required,
		}
		switch f.Type {
		case models.FieldDate:
			prop.Description = strings.TrimSpace(prop.Description + " (ISO 8601 date)")
		case models.FieldEnum:
			prop.Enum = f.Values
		}
		meta.Properties[f.Name] = prop
		if f.Required {
			meta.Required = append(meta.Required, f.Name)
		}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"translation": {Type: genai.TypeString, Description: "full translated document in Markdown"},
			"metadata":    meta,
		},
		Required: []string{"translation", "metadata"},
	}
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
