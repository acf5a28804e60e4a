package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

const sentimentSchema = `{
  "type": "object",
  "required": ["sentiment_score", "label", "confidence", "response_strategy"],
  "properties": {
    "sentiment_score": {"type": "number", "minimum": -1, "maximum": 1},
    "label": {"type": "string", "enum": ["negative", "neutral", "positive"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "emotions": {"type": "object", "additionalProperties": {"type": "number"}},
    "response_strategy": {"type": "string", "enum": ["empathetic", "promotional", "informational"]}
  }
}`

const sentimentInstructions = `You classify the sentiment of a restaurant customer's WhatsApp message.
Answer with one JSON object and nothing else:
{"sentiment_score": number from -1 to 1, "label": "negative"|"neutral"|"positive", "confidence": number from 0 to 1,
 "emotions": {"joy": n, "anger": n, "frustration": n, "satisfaction": n}, "response_strategy": "empathetic"|"promotional"|"informational"}`

var compiledSentimentSchema = mustSchema(sentimentSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// SentimentAnalyzer scores customer messages with one JSON-mode completion.
type SentimentAnalyzer struct {
	ai interfaces.AIClient
}

func NewSentimentAnalyzer(ai interfaces.AIClient) *SentimentAnalyzer {
	return &SentimentAnalyzer{ai: ai}
}

func (s *SentimentAnalyzer) Analyze(ctx context.Context, agent *entities.Agent, text string) (*entities.SentimentResult, error) {
	raw, err := s.ai.Complete(ctx, interfaces.CompletionRequest{
		Model: agent.LLMModel,
		Messages: []interfaces.ChatMessage{
			{Role: "system", Content: sentimentInstructions},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   200,
		JSONOutput:  true,
		Purpose:     "sentiment",
	})
	if err != nil {
		return nil, err
	}
	return ParseSentiment(raw)
}

// ParseSentiment validates a classifier answer. Markdown code fences around
// the object are tolerated.
func ParseSentiment(raw string) (*entities.SentimentResult, error) {
	doc := stripCodeFence(raw)
	result, err := compiledSentimentSchema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("sentiment is not JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("sentiment does not match schema: %s", strings.Join(msgs, "; "))
	}

	var out entities.SentimentResult
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return nil, fmt.Errorf("decode sentiment: %w", err)
	}
	if out.Emotions == nil {
		out.Emotions = map[string]float64{}
	}
	return &out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
