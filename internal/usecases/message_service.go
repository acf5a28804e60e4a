package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"restobot/internal/apperrors"
	"restobot/internal/config"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
	"restobot/internal/logger"
	"restobot/internal/metrics"
)

const (
	defaultCustomerName   = "Cliente"
	defaultHandoffMessage = config.DefaultHandoffMessage
	defaultMemoryTurns    = 10
	defaultPatternLimit   = 5
)

// Locker serialises work per key. Lock blocks and returns the unlock func.
type Locker interface {
	Lock(key string) func()
}

// AssembledContext is what the reply prompt is built from.
type AssembledContext struct {
	Inventory  []entities.Product
	Promotions []entities.Promotion
	Patterns   []entities.LearningPattern
	History    []entities.Message
}

// MessageServiceDeps wires the message pipeline. Notifier and Dedup are
// optional; leave them nil to skip staff alerts and redelivery checks.
type MessageServiceDeps struct {
	Agents        interfaces.AgentStore
	Conversations interfaces.ConversationStore
	Messages      interfaces.MessageStore
	Catalog       interfaces.CatalogReader
	Fallbacks     interfaces.FallbackStore
	Learning      interfaces.LearningStore
	Experiments   interfaces.ExperimentStore
	Usage         interfaces.UsageStore
	AI            interfaces.AIClient
	Messenger     interfaces.Messenger
	Notifier      interfaces.HandoffNotifier
	Dedup         interfaces.Deduplicator
	Locker        Locker
	Tracer        trace.Tracer
	Logger        logger.Logger
	Config        config.PipelineConfig
	Now           func() time.Time
	Rand          func() float64
}

// MessageService answers inbound WhatsApp messages on behalf of a
// restaurant's agent.
type MessageService struct {
	deps      MessageServiceDeps
	sentiment *SentimentAnalyzer
	pipeline  *Pipeline
	log       logger.Logger
}

func NewMessageService(deps MessageServiceDeps) *MessageService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.Float64
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("restobot/pipeline")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Config.DefaultMemoryTurns <= 0 {
		deps.Config.DefaultMemoryTurns = defaultMemoryTurns
	}
	if deps.Config.PatternLimit <= 0 {
		deps.Config.PatternLimit = defaultPatternLimit
	}
	if deps.Config.DefaultCustomer == "" {
		deps.Config.DefaultCustomer = defaultCustomerName
	}
	if deps.Config.HandoffMessage == "" {
		deps.Config.HandoffMessage = defaultHandoffMessage
	}

	s := &MessageService{
		deps:      deps,
		sentiment: NewSentimentAnalyzer(deps.AI),
		log:       deps.Logger.With(map[string]interface{}{"component": "message_service"}),
	}
	s.pipeline = NewPipeline(deps.Tracer, s.log,
		Step{Name: "dedup", Run: s.dedup},
		Step{Name: "resolve_agent", Required: true, Run: s.resolveAgent},
		Step{Name: "resolve_conversation", Required: true, Run: s.resolveConversation},
		Step{Name: "persist_inbound", Required: true, Run: s.persistInbound},
		Step{Name: "count_received", Run: s.countReceived},
		Step{Name: "state_guard", Required: true, Run: s.stateGuard},
		Step{Name: "analyze_sentiment", Run: s.analyzeSentiment},
		Step{Name: "check_fallback", Run: s.checkFallback},
		Step{Name: "select_variant", Run: s.selectVariant},
		Step{Name: "assemble_context", Required: true, Run: s.assembleContext},
		Step{Name: "generate_reply", Required: true, Run: s.generateReply},
		Step{Name: "persist_reply", Required: true, Run: s.persistReply},
		Step{Name: "deliver_reply", Run: s.deliverReply},
		Step{Name: "record_interaction", Run: s.recordInteraction},
	)
	return s
}

// Process runs one inbound message through the pipeline and returns the
// outcome reported to the gateway.
func (s *MessageService) Process(ctx context.Context, in *entities.InboundMessage) (Status, error) {
	if in == nil || strings.TrimSpace(in.Text) == "" || in.SenderPhone == "" {
		metrics.WebhookEvents.WithLabelValues(string(StatusIgnored)).Inc()
		return StatusIgnored, nil
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = s.deps.Now()
	}

	st := &RunState{Inbound: in}
	status, err := s.pipeline.Run(ctx, st)
	if err != nil {
		s.forgetDelivery(ctx, st)
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		s.log.Error("message pipeline failed", map[string]interface{}{
			"instance": in.Instance,
			"phone":    in.SenderPhone,
			"error":    err.Error(),
		})
		return "", err
	}
	metrics.WebhookEvents.WithLabelValues(string(status)).Inc()
	return status, nil
}

func (s *MessageService) dedup(ctx context.Context, st *RunState) error {
	if s.deps.Dedup == nil || st.Inbound.ProviderMessageID == "" {
		return nil
	}
	scope := st.Inbound.Instance
	if scope == "" {
		scope = st.Inbound.AgentID
	}
	first, err := s.deps.Dedup.FirstSeen(ctx, scope+":"+st.Inbound.ProviderMessageID)
	if err != nil {
		return err
	}
	if !first {
		st.Halt(StatusIgnored)
		return nil
	}
	st.dedupKey = scope + ":" + st.Inbound.ProviderMessageID
	return nil
}

// forgetDelivery releases the dedup key of a failed run so the gateway's
// redelivery is processed instead of ignored.
func (s *MessageService) forgetDelivery(ctx context.Context, st *RunState) {
	if st.dedupKey == "" {
		return
	}
	if err := s.deps.Dedup.Forget(context.WithoutCancel(ctx), st.dedupKey); err != nil {
		s.log.Warn("dedup key not released", map[string]interface{}{"key": st.dedupKey, "error": err.Error()})
	}
}

func (s *MessageService) resolveAgent(ctx context.Context, st *RunState) error {
	if st.Inbound.AgentID != "" {
		agent, err := s.deps.Agents.AgentByID(ctx, st.Inbound.AgentID)
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			st.Halt(StatusNoAgent)
			return nil
		}
		if err != nil {
			return err
		}
		if !agent.IsActive {
			st.Halt(StatusNoAgent)
			return nil
		}
		st.Agent = agent
		return nil
	}

	agent, err := s.deps.Agents.FindActiveForInbound(ctx, st.Inbound.Instance, st.Inbound.SenderPhone)
	if err != nil {
		return err
	}
	if agent == nil {
		st.Halt(StatusNoAgent)
		return nil
	}
	st.Agent = agent
	return nil
}

func (s *MessageService) resolveConversation(ctx context.Context, st *RunState) error {
	if s.deps.Locker != nil {
		st.Defer(s.deps.Locker.Lock(st.Agent.ID + ":" + st.Inbound.SenderPhone))
	}

	name := strings.TrimSpace(st.Inbound.PushName)
	if name == "" {
		name = s.deps.Config.DefaultCustomer
	}
	conv, created, err := s.deps.Conversations.ResolveOpen(ctx, st.Agent, st.Inbound.SenderPhone, name)
	if err != nil {
		return err
	}
	if created {
		s.log.Info("conversation started", map[string]interface{}{
			"conversation_id": conv.ID,
			"agent_id":        st.Agent.ID,
		})
	}
	st.Conversation = conv
	return nil
}

func (s *MessageService) persistInbound(ctx context.Context, st *RunState) error {
	msg := &entities.Message{
		ConversationID: st.Conversation.ID,
		SenderType:     entities.SenderCustomer,
		Content:        st.Inbound.Text,
	}
	if id := st.Inbound.ProviderMessageID; id != "" {
		msg.ProviderMessageID = &id
	}
	if err := s.deps.Messages.Create(ctx, msg); err != nil {
		return err
	}
	st.Stored = msg
	s.touch(ctx, st.Conversation.ID)
	return nil
}

func (s *MessageService) countReceived(ctx context.Context, st *RunState) error {
	return s.deps.Usage.IncrementReceived(ctx, st.Agent.RestaurantID)
}

func (s *MessageService) stateGuard(_ context.Context, st *RunState) error {
	switch st.Conversation.Status {
	case entities.ConversationActive:
	case entities.ConversationPaused:
		st.Halt(StatusPaused)
	case entities.ConversationHumanHandoff:
		st.Halt(StatusHumanHandoff)
	default:
		return fmt.Errorf("conversation %s is %s", st.Conversation.ID, st.Conversation.Status)
	}
	return nil
}

func (s *MessageService) analyzeSentiment(ctx context.Context, st *RunState) error {
	if !st.Agent.SentimentAnalysisEnabled {
		return nil
	}
	result, err := s.sentiment.Analyze(ctx, st.Agent, st.Inbound.Text)
	if err != nil {
		return err
	}
	st.Sentiment = result

	emotions, err := json.Marshal(result.Emotions)
	if err != nil {
		return fmt.Errorf("encode emotions: %w", err)
	}
	return s.deps.Learning.SaveSentiment(ctx, &entities.SentimentAnalytics{
		RestaurantID:     st.Agent.RestaurantID,
		AgentID:          st.Agent.ID,
		ConversationID:   st.Conversation.ID,
		MessageID:        st.Stored.ID,
		Score:            result.Score,
		Label:            result.Label,
		Confidence:       result.Confidence,
		Emotions:         emotions,
		ResponseStrategy: result.ResponseStrategy,
	})
}

func (s *MessageService) checkFallback(ctx context.Context, st *RunState) error {
	if !st.Agent.FallbackEnabled || st.Sentiment == nil {
		return nil
	}
	scenarios, err := s.deps.Fallbacks.ActiveForAgent(ctx, st.Agent.ID)
	if err != nil {
		return err
	}
	scenario := entities.FirstMatchingScenario(scenarios, st.Sentiment.Score)
	if scenario == nil {
		return nil
	}

	from := st.Conversation.Status
	if err := s.deps.Conversations.UpdateStatus(ctx, st.Conversation.ID, from, entities.ConversationHumanHandoff); err != nil {
		s.log.Warn("escalation failed, assistant keeps answering", map[string]interface{}{
			"conversation_id": st.Conversation.ID,
			"scenario":        scenario.Name,
			"score":           st.Sentiment.Score,
			"error":           err.Error(),
		})
		return fmt.Errorf("escalate conversation: %w", err)
	}
	st.Conversation.Status = entities.ConversationHumanHandoff
	st.Halt(StatusFallbackTriggered)

	s.log.Info("fallback triggered", map[string]interface{}{
		"conversation_id": st.Conversation.ID,
		"scenario":        scenario.Name,
		"score":           st.Sentiment.Score,
	})

	text := scenario.MessageOr(s.deps.Config.HandoffMessage)
	handoff := &entities.Message{
		ConversationID: st.Conversation.ID,
		SenderType:     entities.SenderAgent,
		Content:        text,
	}
	if err := s.deps.Messages.Create(ctx, handoff); err != nil {
		s.log.Warn("handoff message not stored", map[string]interface{}{"error": err.Error()})
	} else {
		st.ReplyStored = handoff
	}
	s.relay(ctx, st, text)

	if s.deps.Notifier != nil {
		reason := fmt.Sprintf("%s (sentiment %.2f)", scenario.Name, st.Sentiment.Score)
		if err := s.deps.Notifier.NotifyHandoff(ctx, st.Agent.RestaurantID, st.Conversation, reason); err != nil {
			s.log.Warn("staff alert failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

func (s *MessageService) selectVariant(ctx context.Context, st *RunState) error {
	test, variants, err := s.deps.Experiments.RunningTest(ctx, st.Agent.ID)
	if err != nil {
		return err
	}
	if test == nil {
		return nil
	}
	st.Test = test
	st.Variant = PickVariant(variants, s.deps.Rand())
	return nil
}

func (s *MessageService) assembleContext(ctx context.Context, st *RunState) error {
	var (
		out   AssembledContext
		rid   = st.Agent.RestaurantID
		turns = st.Agent.MemoryTurns(s.deps.Config.DefaultMemoryTurns)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		inv, err := s.deps.Catalog.Inventory(gctx, rid)
		out.Inventory = inv
		return err
	})
	g.Go(func() error {
		promos, err := s.deps.Catalog.RunningPromotions(gctx, rid, s.deps.Now())
		out.Promotions = promos
		return err
	})
	g.Go(func() error {
		patterns, err := s.deps.Learning.TopPatterns(gctx, st.Agent.ID, s.deps.Config.PatternLimit)
		out.Patterns = patterns
		return err
	})
	g.Go(func() error {
		recent, err := s.deps.Messages.Recent(gctx, st.Conversation.ID, turns, st.Stored.ID)
		out.History = Chronological(recent)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	st.Context = &out
	return nil
}

func (s *MessageService) generateReply(ctx context.Context, st *RunState) error {
	instructions := st.Agent.Instructions
	if st.Variant != nil && strings.TrimSpace(st.Variant.Instructions) != "" {
		instructions = st.Variant.Instructions
	}

	prompt := BuildPrompt(PromptInput{
		AgentName:    st.Agent.Name,
		Personality:  st.Agent.Personality,
		Instructions: instructions,
		CustomerName: st.Conversation.CustomerName,
		Message:      st.Inbound.Text,
		Inventory:    st.Context.Inventory,
		Promotions:   st.Context.Promotions,
		Patterns:     st.Context.Patterns,
		History:      st.Context.History,
		Sentiment:    st.Sentiment,
	})

	reply, err := s.deps.AI.Complete(ctx, interfaces.CompletionRequest{
		Model: st.Agent.LLMModel,
		Messages: []interfaces.ChatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature: st.Agent.Temperature,
		MaxTokens:   st.Agent.MaxTokens,
		Purpose:     "reply",
	})
	if err != nil {
		return err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return fmt.Errorf("empty completion: %w", apperrors.ErrLLMFailed)
	}
	st.Reply = reply
	return nil
}

func (s *MessageService) persistReply(ctx context.Context, st *RunState) error {
	msg := &entities.Message{
		ConversationID: st.Conversation.ID,
		SenderType:     entities.SenderAgent,
		Content:        st.Reply,
	}
	if err := s.deps.Messages.Create(ctx, msg); err != nil {
		return err
	}
	st.ReplyStored = msg
	s.touch(ctx, st.Conversation.ID)
	return nil
}

func (s *MessageService) deliverReply(ctx context.Context, st *RunState) error {
	if err := s.deps.Messenger.Send(ctx, entities.OutboundMessage{
		Agent: st.Agent,
		Phone: st.Conversation.CustomerPhone,
		Text:  st.Reply,
	}); err != nil {
		return err
	}
	return s.deps.Usage.IncrementSent(ctx, st.Agent.RestaurantID)
}

func (s *MessageService) recordInteraction(ctx context.Context, st *RunState) error {
	class := ClassifyInteraction(st.Inbound.Text)
	var score *float64
	if st.Sentiment != nil {
		v := st.Sentiment.Score
		score = &v
	}

	var errs []error
	errs = append(errs, s.deps.Learning.SaveInteraction(ctx, &entities.LearningInteraction{
		RestaurantID:    st.Agent.RestaurantID,
		AgentID:         st.Agent.ID,
		ConversationID:  st.Conversation.ID,
		InteractionType: class.Type,
		CustomerMessage: st.Inbound.Text,
		AIResponse:      st.Reply,
		SentimentScore:  score,
	}))
	errs = append(errs, s.deps.Learning.BumpPattern(ctx, st.Agent.ID, class.Type, class.Key, class.Keywords))
	if st.Test != nil && st.Variant != nil {
		errs = append(errs, s.deps.Experiments.RecordResult(ctx, &entities.ABTestResult{
			TestID:          st.Test.ID,
			VariantID:       st.Variant.ID,
			ConversationID:  st.Conversation.ID,
			InteractionType: class.Type,
			SentimentScore:  score,
		}))
	}
	return errors.Join(errs...)
}

// relay sends text to the customer and logs failures; the caller has
// already stored the message.
func (s *MessageService) relay(ctx context.Context, st *RunState, text string) {
	err := s.deps.Messenger.Send(ctx, entities.OutboundMessage{
		Agent: st.Agent,
		Phone: st.Conversation.CustomerPhone,
		Text:  text,
	})
	if err != nil {
		s.log.Warn("relay failed", map[string]interface{}{
			"conversation_id": st.Conversation.ID,
			"error":           err.Error(),
		})
		return
	}
	if err := s.deps.Usage.IncrementSent(ctx, st.Agent.RestaurantID); err != nil {
		s.log.Warn("usage not counted", map[string]interface{}{"error": err.Error()})
	}
}

func (s *MessageService) touch(ctx context.Context, conversationID string) {
	if err := s.deps.Conversations.Touch(ctx, conversationID, s.deps.Now()); err != nil {
		s.log.Warn("last_message_at not updated", map[string]interface{}{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
	}
}
