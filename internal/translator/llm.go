package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
)

// llmEndpoint sends batches to an OpenAI-compatible chat completion API.
type llmEndpoint struct {
	client *llm.Client
}

func NewLLMEndpoint(client *llm.Client) Endpoint {
	return &llmEndpoint{client: client}
}

func (e *llmEndpoint) Translate(ctx context.Context, req Request) (string, error) {
	userMessage, err := buildUserMessage(req)
	if err != nil {
		return "", err
	}

	opts := []llm.CallOption{
		llm.WithSystemPrompt(buildSystemPrompt(req.SourceLanguage, req.TargetLanguage, len(req.Glossary) > 0)),
		llm.WithAPIKey(req.Credentials),
		llm.WithModel(req.Model.Name),
		llm.WithMaxTokens(req.Model.MaxTokens),
	}
	if req.Model.Temperature > 0 {
		opts = append(opts, llm.WithTemperature(req.Model.Temperature))
	}

	resp, err := e.client.ChatCompletion(ctx, []llm.Message{{Role: llm.RoleUser, Content: userMessage}}, opts...)
	if err != nil {
		return "", err
	}
	return resp.Content()
}

func buildUserMessage(req Request) (string, error) {
	payload := struct {
		SourceLanguage string            `json:"source_language"`
		TargetLanguage string            `json:"target_language"`
		Glossary       map[string]string `json:"glossary,omitempty"`
		Items          []Item            `json:"items"`
	}{
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Glossary:       req.Glossary,
		Items:          req.Items,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode translation items: %w", err)
	}
	return string(data), nil
}

func buildSystemPrompt(sourceLanguage, targetLanguage string, withGlossary bool) string {
	var prompt strings.Builder

	source := LanguageName(sourceLanguage)
	if sourceLanguage == "" || sourceLanguage == AutoLanguage {
		source = "the detected source language"
	}
	target := LanguageName(targetLanguage)

	prompt.WriteString("You are a professional subtitle translator. Translate every item from " + source + " to " + target + ".\n\n")

	prompt.WriteString("=== TRANSLATION GUIDELINES ===\n")
	prompt.WriteString("1. Keep each subtitle short enough for screen reading\n")
	prompt.WriteString("2. Ensure " + target + " flows naturally while preserving meaning and tone\n")
	prompt.WriteString("3. Preserve " + inlineBreakerPlaceholder + " inline break markers\n")
	prompt.WriteString("4. Do NOT merge, split, or drop items\n")
	prompt.WriteString("5. If an input text is empty, output an empty string for that id\n")
	if withGlossary {
		prompt.WriteString("6. The \"glossary\" object maps source terms to their required translation; always use it for those terms\n")
	}

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("The input is a JSON object with an \"items\" array of {\"id\", \"text\"}.\n")
	prompt.WriteString("Return ONLY a JSON array of objects {\"id\": <same id>, \"text\": <translation>}.\n")
	prompt.WriteString("Do not include any explanations, notes, or Markdown.\n")

	return prompt.String()
}

// LanguageName renders a BCP 47 code as an English name for prompts. Unknown
// codes are returned unchanged.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// ResolveSourceLanguage returns lang unless it is empty or "auto", in which
// case the language is detected from the lines. Undetectable text stays auto.
func ResolveSourceLanguage(lines []subtitle.Line, lang string) string {
	if lang != "" && lang != AutoLanguage {
		return lang
	}
	texts := make([]string, 0, len(lines))
	for _, line := range lines {
		texts = append(texts, line.OriginalText)
	}
	tag := subtitle.DetectLanguage(texts)
	if tag == language.Und {
		return AutoLanguage
	}
	return tag.String()
}
