package usecases

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"restobot/internal/apperrors"
	"restobot/internal/config"
	"restobot/internal/entities"
	"restobot/internal/logger"
)

type harness struct {
	agents      *fakeAgents
	convs       *fakeConversations
	messages    *fakeMessages
	catalog     *fakeCatalog
	fallbacks   *fakeFallbacks
	learning    *fakeLearning
	experiments *fakeExperiments
	usage       *fakeUsage
	ai          *fakeAI
	messenger   *fakeMessenger
	notifier    *fakeNotifier
	locker      *fakeLocker
	deps        MessageServiceDeps
}

func testAgent() entities.Agent {
	return entities.Agent{
		ID:                  "agent-1",
		RestaurantID:        "rest-1",
		Name:                "Bia",
		Instructions:        "Always greet the customer.",
		IsActive:            true,
		EvolutionInstanceID: "pizzaria",
		WhatsAppNumber:      "5511900000000",
		GatewayKind:         entities.GatewayEvolution,
		LLMModel:            "gpt-test",
		Temperature:         0.4,
		MaxTokens:           300,
	}
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		agents:   &fakeAgents{agents: []entities.Agent{testAgent()}},
		convs:    &fakeConversations{},
		messages: &fakeMessages{},
		catalog: &fakeCatalog{products: []entities.Product{
			{Name: "Margherita", Price: 42, Stock: 10, LowStockThreshold: 3, IsAvailable: true},
		}},
		fallbacks:   &fakeFallbacks{},
		learning:    &fakeLearning{},
		experiments: &fakeExperiments{},
		usage:       &fakeUsage{},
		ai:          &fakeAI{reply: "Olá! Temos Margherita hoje."},
		messenger:   &fakeMessenger{},
		notifier:    &fakeNotifier{},
		locker:      &fakeLocker{},
	}
	h.deps = MessageServiceDeps{
		Agents:        h.agents,
		Conversations: h.convs,
		Messages:      h.messages,
		Catalog:       h.catalog,
		Fallbacks:     h.fallbacks,
		Learning:      h.learning,
		Experiments:   h.experiments,
		Usage:         h.usage,
		AI:            h.ai,
		Messenger:     h.messenger,
		Notifier:      h.notifier,
		Locker:        h.locker,
		Logger:        logger.NewTestLogger(t),
		Config:        config.PipelineConfig{},
		Now:           func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) },
		Rand:          func() float64 { return 0 },
	}
	return h
}

func (h *harness) service() *MessageService {
	return NewMessageService(h.deps)
}

func inbound(text string) *entities.InboundMessage {
	return &entities.InboundMessage{
		Instance:          "pizzaria",
		SenderPhone:       "5511988887777",
		PushName:          "Ana",
		Text:              text,
		ProviderMessageID: "wamid-" + text,
	}
}

func TestProcessIgnoresEmptyMessages(t *testing.T) {
	h := newHarness(t)
	svc := h.service()

	for _, in := range []*entities.InboundMessage{
		nil,
		{Instance: "pizzaria", SenderPhone: "5511988887777"},
		{Instance: "pizzaria", Text: "oi"},
		{Instance: "pizzaria", SenderPhone: "5511988887777", Text: "   "},
	} {
		status, err := svc.Process(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, StatusIgnored, status)
	}
	assert.Empty(t, h.convs.convs)
	assert.Empty(t, h.messages.all())
	assert.Empty(t, h.ai.requests)
}

func TestProcessUnknownTenant(t *testing.T) {
	h := newHarness(t)
	svc := h.service()

	in := inbound("oi")
	in.Instance = "other"
	in.SenderPhone = "5599999999999"

	status, err := svc.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusNoAgent, status)
	assert.Empty(t, h.convs.convs)
	assert.Empty(t, h.messages.all())
}

func TestProcessFirstMessageCreatesConversation(t *testing.T) {
	h := newHarness(t)
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("Quero uma pizza"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)

	require.Len(t, h.convs.convs, 1)
	conv := h.convs.convs[0]
	assert.Equal(t, entities.ConversationActive, conv.Status)
	assert.Equal(t, "Ana", conv.CustomerName)
	assert.Equal(t, "5511988887777", conv.CustomerPhone)

	customer := h.messages.bySender(entities.SenderCustomer)
	require.Len(t, customer, 1)
	assert.Equal(t, "Quero uma pizza", customer[0].Content)
	require.NotNil(t, customer[0].ProviderMessageID)
	assert.Equal(t, "wamid-Quero uma pizza", *customer[0].ProviderMessageID)

	replies := h.messages.bySender(entities.SenderAgent)
	require.Len(t, replies, 1)
	assert.Equal(t, "Olá! Temos Margherita hoje.", replies[0].Content)

	calls := h.ai.calls("reply")
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-test", calls[0].Model)
	assert.Equal(t, 300, calls[0].MaxTokens)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, "system", calls[0].Messages[0].Role)
	assert.Contains(t, calls[0].Messages[0].Content, "Margherita (R$ 42.00): available")
	assert.Equal(t, "Quero uma pizza", calls[0].Messages[1].Content)

	require.Len(t, h.messenger.sent, 1)
	assert.Equal(t, "5511988887777", h.messenger.sent[0].Phone)
	assert.Equal(t, 1, h.usage.received)
	assert.Equal(t, 1, h.usage.sent)
	assert.Equal(t, []string{"agent-1:5511988887777"}, h.locker.keys)

	require.Len(t, h.learning.interactions, 1)
	assert.Equal(t, entities.InteractionOrder, h.learning.interactions[0].InteractionType)
	assert.Equal(t, 1, h.learning.patterns["order/quero"])
}

func TestProcessReusesOpenConversation(t *testing.T) {
	h := newHarness(t)
	svc := h.service()

	_, err := svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	status, err := svc.Process(context.Background(), inbound("Tem calabresa?"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)

	require.Len(t, h.convs.convs, 1)
	for _, m := range h.messages.all() {
		assert.Equal(t, "conv-1", m.ConversationID)
	}

	calls := h.ai.calls("reply")
	require.Len(t, calls, 2)
	system := calls[1].Messages[0].Content
	assert.Contains(t, system, "Customer: Oi\nAssistant: Olá! Temos Margherita hoje.\n")
	assert.NotContains(t, system, "Customer: Tem calabresa?")
}

func TestProcessEndedConversationStartsNewOne(t *testing.T) {
	h := newHarness(t)
	svc := h.service()

	_, err := svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	h.convs.setStatus("conv-1", entities.ConversationEnded)

	_, err = svc.Process(context.Background(), inbound("Oi de novo"))
	require.NoError(t, err)
	assert.Len(t, h.convs.convs, 2)
}

func TestProcessSentimentFallback(t *testing.T) {
	h := newHarness(t)
	h.agents.agents[0].SentimentAnalysisEnabled = true
	h.agents.agents[0].FallbackEnabled = true
	h.fallbacks.scenarios = []entities.FallbackScenario{
		{Name: "Cliente insatisfeito", SentimentThreshold: -0.5, AutoTrigger: true, IsActive: true, Priority: 10},
	}
	h.ai.sentiment = `{"sentiment_score": -0.9, "label": "negative", "confidence": 0.95,
		"emotions": {"anger": 0.8}, "response_strategy": "empathetic"}`
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("Pedido atrasado, que horror"))
	require.NoError(t, err)
	assert.Equal(t, StatusFallbackTriggered, status)

	assert.Empty(t, h.ai.calls("reply"), "no reply completion after escalation")
	assert.Len(t, h.ai.calls("sentiment"), 1)
	assert.Equal(t, entities.ConversationHumanHandoff, h.convs.get("conv-1").Status)

	replies := h.messages.bySender(entities.SenderAgent)
	require.Len(t, replies, 1)
	assert.Equal(t, defaultHandoffMessage, replies[0].Content)
	require.Len(t, h.messenger.sent, 1)
	assert.Equal(t, defaultHandoffMessage, h.messenger.sent[0].Text)

	require.Len(t, h.learning.sentiments, 1)
	assert.InDelta(t, -0.9, h.learning.sentiments[0].Score, 1e-9)
	assert.JSONEq(t, `{"anger":0.8}`, string(h.learning.sentiments[0].Emotions))
	require.Len(t, h.notifier.reasons, 1)
	assert.Contains(t, h.notifier.reasons[0], "Cliente insatisfeito")

	// the next message reaches a conversation in human hands
	status, err = svc.Process(context.Background(), inbound("Alô?"))
	require.NoError(t, err)
	assert.Equal(t, StatusHumanHandoff, status)
	assert.Empty(t, h.ai.calls("reply"))
}

func TestProcessEscalationFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	core, logs := observer.New(zap.WarnLevel)
	h.deps.Logger = logger.NewZapAdapter(zap.New(core))
	h.agents.agents[0].SentimentAnalysisEnabled = true
	h.agents.agents[0].FallbackEnabled = true
	h.fallbacks.scenarios = []entities.FallbackScenario{
		{Name: "angry", SentimentThreshold: -0.5, AutoTrigger: true, IsActive: true},
	}
	h.ai.sentiment = `{"sentiment_score": -0.9, "label": "negative", "confidence": 0.9,
		"emotions": {"anger": 0.7}, "response_strategy": "empathetic"}`
	h.convs.statusErr = apperrors.ErrInvalidTransition
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("Que horror"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)
	assert.Len(t, h.ai.calls("reply"), 1)

	entries := logs.FilterMessage("escalation failed, assistant keeps answering").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "angry", fields["scenario"])
	assert.Equal(t, "conv-1", fields["conversation_id"])
}

func TestProcessSentimentAboveThresholdAnswers(t *testing.T) {
	h := newHarness(t)
	h.agents.agents[0].SentimentAnalysisEnabled = true
	h.agents.agents[0].FallbackEnabled = true
	h.fallbacks.scenarios = []entities.FallbackScenario{
		{Name: "angry", SentimentThreshold: -0.5, AutoTrigger: true, IsActive: true, CustomMessage: "Um momento"},
	}
	h.ai.sentiment = `{"sentiment_score": 0.6, "label": "positive", "confidence": 0.9, "response_strategy": "promotional"}`
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("Adorei a pizza"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)

	calls := h.ai.calls("reply")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Messages[0].Content, "The customer seems positive")
	require.Len(t, h.learning.interactions, 1)
	require.NotNil(t, h.learning.interactions[0].SentimentScore)
	assert.InDelta(t, 0.6, *h.learning.interactions[0].SentimentScore, 1e-9)
}

func TestProcessBrokenSentimentIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.agents.agents[0].SentimentAnalysisEnabled = true
	h.agents.agents[0].FallbackEnabled = true
	h.fallbacks.scenarios = []entities.FallbackScenario{
		{Name: "angry", SentimentThreshold: 1, AutoTrigger: true, IsActive: true},
	}
	h.ai.sentiment = `I think the customer is upset`
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("oi"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)
	assert.Empty(t, h.learning.sentiments)
	assert.Equal(t, entities.ConversationActive, h.convs.get("conv-1").Status)
}

func TestProcessPausedConversation(t *testing.T) {
	h := newHarness(t)
	svc := h.service()

	_, err := svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	h.convs.setStatus("conv-1", entities.ConversationPaused)

	status, err := svc.Process(context.Background(), inbound("Ainda aí?"))
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, status)
	assert.Len(t, h.messages.bySender(entities.SenderCustomer), 2, "inbound is stored while paused")
	assert.Len(t, h.ai.calls("reply"), 1)
}

func TestProcessGatewayFailureKeepsReply(t *testing.T) {
	h := newHarness(t)
	h.messenger.err = errors.New("connection refused")
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)

	replies := h.messages.bySender(entities.SenderAgent)
	require.Len(t, replies, 1)
	assert.Equal(t, "Olá! Temos Margherita hoje.", replies[0].Content)
	assert.Equal(t, 0, h.usage.sent)
	assert.Len(t, h.learning.interactions, 1)
}

func TestProcessLLMFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.ai.replyErr = apperrors.ErrLLMTimeout
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("Oi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrLLMTimeout)
	assert.Equal(t, Status(""), status)
	assert.True(t, strings.HasPrefix(err.Error(), "generate_reply"))
	assert.Len(t, h.messages.bySender(entities.SenderCustomer), 1)
	assert.Empty(t, h.messages.bySender(entities.SenderAgent))
}

func TestProcessEmptyCompletionAborts(t *testing.T) {
	h := newHarness(t)
	h.ai.reply = "  "
	svc := h.service()

	_, err := svc.Process(context.Background(), inbound("Oi"))
	assert.ErrorIs(t, err, apperrors.ErrLLMFailed)
}

func TestProcessOptionalFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.usage.receivedErr = errors.New("usage table locked")
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)
	assert.Len(t, h.messenger.sent, 1)
}

func TestProcessPersistFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.messages.err = errors.New("disk full")
	svc := h.service()

	_, err := svc.Process(context.Background(), inbound("Oi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist_inbound")
	assert.Empty(t, h.ai.requests)
}

func TestProcessDropsRedeliveries(t *testing.T) {
	h := newHarness(t)
	h.deps.Dedup = &fakeDedup{}
	svc := h.service()

	status, err := svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)

	status, err = svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, status)
	assert.Len(t, h.messages.bySender(entities.SenderCustomer), 1)
}

func TestProcessRetriesRedeliveryAfterFailure(t *testing.T) {
	h := newHarness(t)
	dedup := &fakeDedup{}
	h.deps.Dedup = dedup
	h.ai.replyErr = apperrors.ErrLLMTimeout
	svc := h.service()

	_, err := svc.Process(context.Background(), inbound("Oi"))
	require.ErrorIs(t, err, apperrors.ErrLLMTimeout)
	assert.Empty(t, dedup.seen)

	h.ai.replyErr = nil
	status, err := svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)
	assert.Len(t, h.messages.bySender(entities.SenderAgent), 1)
	assert.Len(t, h.messenger.sent, 1)

	status, err = svc.Process(context.Background(), inbound("Oi"))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, status)
}

func TestProcessNativeSessionUsesAgentID(t *testing.T) {
	h := newHarness(t)
	svc := h.service()

	status, err := svc.Process(context.Background(), &entities.InboundMessage{
		AgentID:     "agent-1",
		SenderPhone: "5511988887777",
		Text:        "Oi",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, status)
	assert.Equal(t, "Cliente", h.convs.convs[0].CustomerName)

	status, err = svc.Process(context.Background(), &entities.InboundMessage{
		AgentID:     "missing",
		SenderPhone: "5511988887777",
		Text:        "Oi",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNoAgent, status)
}

func TestProcessVariantOverridesInstructions(t *testing.T) {
	h := newHarness(t)
	h.experiments.test = &entities.ABTest{ID: "test-1", IsRunning: true}
	h.experiments.variants = []entities.ABTestVariant{
		{ID: "v-a", Name: "formal", Instructions: "Be formal.", Weight: 1},
		{ID: "v-b", Name: "casual", Instructions: "Be casual.", Weight: 1},
	}
	h.deps.Rand = func() float64 { return 0.75 }
	svc := h.service()

	_, err := svc.Process(context.Background(), inbound("Obrigado!"))
	require.NoError(t, err)

	calls := h.ai.calls("reply")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Messages[0].Content, "Be casual.")
	assert.NotContains(t, calls[0].Messages[0].Content, "Always greet the customer.")

	require.Len(t, h.experiments.results, 1)
	assert.Equal(t, "v-b", h.experiments.results[0].VariantID)
	assert.Equal(t, entities.InteractionCompliment, h.experiments.results[0].InteractionType)
}
