package usecases

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restobot/internal/entities"
)

func TestBuildPrompt(t *testing.T) {
	until := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	in := PromptInput{
		AgentName:    "Bia",
		Personality:  "friendly",
		Instructions: "Offer dessert.",
		CustomerName: "Ana",
		Message:      "Tem pizza?",
		Inventory: []entities.Product{
			{Name: "Margherita", Price: 42, Stock: 2, LowStockThreshold: 5, Description: "tomato and basil"},
			{Name: "Calabresa", Price: 45, Stock: 0},
		},
		Promotions: []entities.Promotion{
			{Title: "Terça em dobro", DiscountPercent: 50, ValidUntil: &until},
		},
		Patterns: []entities.LearningPattern{
			{PatternType: entities.InteractionOrder, PatternKey: "quero", Frequency: 7},
		},
		History: []entities.Message{
			{SenderType: entities.SenderCustomer, Content: "Oi"},
			{SenderType: entities.SenderHuman, Content: "Olá, aqui é o João"},
		},
		Sentiment: &entities.SentimentResult{Score: -0.2, Label: "neutral", ResponseStrategy: entities.StrategyEmpathetic},
	}

	p := BuildPrompt(in)
	assert.Equal(t, "Tem pizza?", p.User)
	assert.Contains(t, p.System, "You are Bia")
	assert.Contains(t, p.System, "Personality: friendly")
	assert.Contains(t, p.System, "Instructions:\nOffer dessert.")
	assert.Contains(t, p.System, "You are talking to Ana.")
	assert.Contains(t, p.System, "- Margherita (R$ 42.00): low_stock, 2 in stock | tomato and basil")
	assert.Contains(t, p.System, "- Calabresa (R$ 45.00): out_of_stock\n")
	assert.Contains(t, p.System, "- Terça em dobro (50% off) until 2026-02-01")
	assert.Contains(t, p.System, "- order: quero (seen 7 times)")
	assert.Contains(t, p.System, "Use an empathetic tone.")
	assert.Contains(t, p.System, "Customer: Oi\nAssistant: Olá, aqui é o João\n")
	assert.NotContains(t, p.System, "Tem pizza?")

	assert.Equal(t, p, BuildPrompt(in), "prompt must be deterministic")
}

func TestBuildPromptMinimal(t *testing.T) {
	p := BuildPrompt(PromptInput{Message: "oi"})
	assert.Contains(t, p.System, "You are the assistant")
	assert.Contains(t, p.System, "No products registered.")
	assert.NotContains(t, p.System, "Active promotions")
	assert.NotContains(t, p.System, "Conversation so far")
	assert.NotContains(t, p.System, "Customer mood")
}

func TestChronological(t *testing.T) {
	newestFirst := []entities.Message{{ID: "3"}, {ID: "2"}, {ID: "1"}}
	got := Chronological(newestFirst)
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[2].ID)
	assert.Equal(t, "3", newestFirst[0].ID)
	assert.Empty(t, Chronological(nil))
}

func TestRenderHistory(t *testing.T) {
	out := RenderHistory([]entities.Message{
		{SenderType: entities.SenderCustomer, Content: "a"},
		{SenderType: entities.SenderAgent, Content: "b"},
		{SenderType: entities.SenderHuman, Content: "c"},
	})
	assert.Equal(t, "Customer: a\nAssistant: b\nAssistant: c\n", out)
	assert.Equal(t, 3, strings.Count(out, "\n"))
}

func TestClassifyInteraction(t *testing.T) {
	tests := []struct {
		text string
		kind entities.InteractionType
		key  string
	}{
		{"Quero pedir uma pizza", entities.InteractionOrder, "pedir"},
		{"O pedido chegou frio", entities.InteractionComplaint, "frio"},
		{"Obrigado, estava delicioso", entities.InteractionCompliment, "obrigad"},
		{"Vocês abrem domingo?", entities.InteractionQuestion, "general"},
		{"THANK YOU", entities.InteractionCompliment, "thank"},
		{"Quero um bolo de chocolate", entities.InteractionOrder, "quero"},
		{"Quero pedir uma pizza, está frio hoje", entities.InteractionComplaint, "frio"},
		{"The delivery was late", entities.InteractionComplaint, "late"},
		{"I want to order two pizzas", entities.InteractionOrder, "order"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c := ClassifyInteraction(tt.text)
			assert.Equal(t, tt.kind, c.Type)
			assert.Equal(t, tt.key, c.Key)
		})
	}
	assert.Equal(t, []string{}, ClassifyInteraction("hmm").Keywords)
}

func TestPickVariant(t *testing.T) {
	variants := []entities.ABTestVariant{
		{ID: "a", Weight: 1},
		{ID: "off", Weight: 0},
		{ID: "b", Weight: 3},
	}
	assert.Equal(t, "a", PickVariant(variants, 0).ID)
	assert.Equal(t, "a", PickVariant(variants, 0.2499).ID)
	assert.Equal(t, "b", PickVariant(variants, 0.25).ID)
	assert.Equal(t, "b", PickVariant(variants, 0.999999).ID)

	assert.Nil(t, PickVariant(nil, 0.5))
	assert.Nil(t, PickVariant([]entities.ABTestVariant{{ID: "x"}}, 0.5))
}

func TestParseSentiment(t *testing.T) {
	got, err := ParseSentiment("```json\n{\"sentiment_score\": -0.4, \"label\": \"negative\", \"confidence\": 0.7, \"response_strategy\": \"empathetic\"}\n```")
	require.NoError(t, err)
	assert.InDelta(t, -0.4, got.Score, 1e-9)
	assert.Equal(t, entities.StrategyEmpathetic, got.ResponseStrategy)
	assert.NotNil(t, got.Emotions)

	_, err = ParseSentiment(`{"sentiment_score": -3, "label": "negative", "confidence": 0.7, "response_strategy": "empathetic"}`)
	assert.Error(t, err)

	_, err = ParseSentiment(`{"sentiment_score": 0.1, "label": "meh", "confidence": 0.7, "response_strategy": "empathetic"}`)
	assert.Error(t, err)

	_, err = ParseSentiment(`{"label": "neutral"}`)
	assert.Error(t, err)

	_, err = ParseSentiment(`not json`)
	assert.Error(t, err)
}
