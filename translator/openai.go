package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/errors"
	"github.com/opensubs-io/subsync/subtitle"
)

// segmentTranslation is the shape the model is asked to return for each
// chunk: a JSON array of {segment_id, translated_text} (§4.3 step 6).
type segmentTranslation struct {
	SegmentID      int    `json:"segment_id"`
	TranslatedText string `json:"translated_text"`
}

// Translator is the LLM-backed collaborator the chunk worker calls once per
// chunk. Kept as an interface so tests substitute a fake instead of making
// real API calls.
type Translator interface {
	TranslateChunk(ctx context.Context, chunk Chunk, sourceLang, targetLang string) ([]string, error)
}

// OpenAITranslator wraps the openai-go chat completions API.
type OpenAITranslator struct {
	client openai.Client
	model  string
}

func NewOpenAITranslator(cfg *config.Config, apiKey string) *OpenAITranslator {
	return &OpenAITranslator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  cfg.TranslationModel,
	}
}

// TranslateChunk asks the model to translate every segment in chunk,
// preserving segment_id so the result can be matched back to source order
// even though the model can return entries in any order.
func (t *OpenAITranslator) TranslateChunk(ctx context.Context, chunk Chunk, sourceLang, targetLang string) ([]string, error) {
	prompt, err := buildPrompt(chunk, sourceLang, targetLang)
	if err != nil {
		return nil, err
	}

	completion, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: t.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a professional subtitle translator. Respond with JSON only, no commentary."),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, classifyOpenAIError(chunk.Index, err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.NewTranslationChunkError(chunk.Index, "empty completion", nil)
	}

	return parseTranslations(chunk, completion.Choices[0].Message.Content)
}

func buildPrompt(chunk Chunk, sourceLang, targetLang string) (string, error) {
	type item struct {
		SegmentID int    `json:"segment_id"`
		Text      string `json:"text"`
	}
	items := make([]item, len(chunk.Segments))
	for i, seg := range chunk.Segments {
		items[i] = item{SegmentID: seg.ID, Text: seg.Text}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding chunk %d prompt: %w", chunk.Index, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Translate the following subtitle segments from %s to %s.\n", sourceLang, targetLang)
	sb.WriteString("Preserve meaning, tone, and line breaks where natural. ")
	sb.WriteString("Respond with a JSON array of objects shaped exactly like ")
	sb.WriteString(`{"segment_id": <int>, "translated_text": "<string>"}`)
	sb.WriteString(", one per input segment, in any order.\n\n")
	sb.Write(payload)
	return sb.String(), nil
}

// parseTranslations strips optional markdown code fences, parses the JSON
// array, and reorders the result to match the chunk's original segment
// order. Missing ids surface as a chunk-level error naming them, per §4.3
// step 6; entries whose ids are not in the chunk are ignored.
func parseTranslations(chunk Chunk, raw string) ([]string, error) {
	cleaned := stripCodeFences(raw)

	var entries []segmentTranslation
	if err := json.Unmarshal([]byte(cleaned), &entries); err != nil {
		return nil, errors.NewTranslationChunkError(chunk.Index, "invalid JSON response", err)
	}

	byID := make(map[int]string, len(entries))
	for _, e := range entries {
		byID[e.SegmentID] = e.TranslatedText
	}

	out := make([]string, len(chunk.Segments))
	var missing []int
	for i, seg := range chunk.Segments {
		text, ok := byID[seg.ID]
		if !ok {
			missing = append(missing, seg.ID)
			continue
		}
		out[i] = text
	}
	if len(missing) > 0 {
		return nil, errors.NewTranslationChunkError(chunk.Index, fmt.Sprintf("missing segment ids: %v", missing), nil)
	}

	return out, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "json" || firstLine == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// classifyOpenAIError distinguishes retryable transient failures (timeout,
// 429, 5xx) from immediate 4xx failures, per §4.3's retry policy.
func classifyOpenAIError(chunkIndex int, err error) error {
	var apiErr *openai.Error
	if ok := asOpenAIError(err, &apiErr); ok {
		switch {
		case apiErr.StatusCode == 429:
			return errors.NewTransientInfraError(fmt.Sprintf("chunk %d rate limited", chunkIndex), err)
		case apiErr.StatusCode >= 500:
			return errors.NewTransientInfraError(fmt.Sprintf("chunk %d upstream error", chunkIndex), err)
		default:
			return errors.NewTranslationChunkError(chunkIndex, fmt.Sprintf("model request failed (%d)", apiErr.StatusCode), err)
		}
	}
	return errors.NewTransientInfraError(fmt.Sprintf("chunk %d request failed", chunkIndex), err)
}

func asOpenAIError(err error, target **openai.Error) bool {
	apiErr, ok := err.(*openai.Error)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
