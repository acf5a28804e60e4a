package usecases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

type fakeAgents struct {
	agents []entities.Agent
}

func (f *fakeAgents) FindActiveForInbound(_ context.Context, instance, phone string) (*entities.Agent, error) {
	for i := range f.agents {
		a := f.agents[i]
		if a.IsActive && instance != "" && a.EvolutionInstanceID == instance {
			return &a, nil
		}
	}
	for i := range f.agents {
		a := f.agents[i]
		if a.IsActive && phone != "" && a.WhatsAppNumber == phone {
			return &a, nil
		}
	}
	return nil, nil
}

func (f *fakeAgents) AgentByID(_ context.Context, id string) (*entities.Agent, error) {
	for i := range f.agents {
		if f.agents[i].ID == id {
			a := f.agents[i]
			return &a, nil
		}
	}
	return nil, apperrors.NotFound("fakeAgents.AgentByID", "agent")
}

type fakeConversations struct {
	mu        sync.Mutex
	convs     []*entities.Conversation
	touched   int
	statusErr error
}

func (f *fakeConversations) ResolveOpen(_ context.Context, agent *entities.Agent, phone, name string) (*entities.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.AgentID == agent.ID && c.CustomerPhone == phone && c.Status.Open() {
			cp := *c
			return &cp, false, nil
		}
	}
	c := &entities.Conversation{
		ID:            fmt.Sprintf("conv-%d", len(f.convs)+1),
		RestaurantID:  agent.RestaurantID,
		AgentID:       agent.ID,
		CustomerPhone: phone,
		CustomerName:  name,
		Status:        entities.ConversationActive,
	}
	f.convs = append(f.convs, c)
	cp := *c
	return &cp, true, nil
}

func (f *fakeConversations) UpdateStatus(_ context.Context, id string, from, to entities.ConversationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	for _, c := range f.convs {
		if c.ID != id {
			continue
		}
		if c.Status != from {
			return apperrors.ErrInvalidTransition
		}
		next, err := from.Transition(to)
		if err != nil {
			return err
		}
		c.Status = next
		return nil
	}
	return apperrors.NotFound("fakeConversations.UpdateStatus", "conversation")
}

func (f *fakeConversations) Touch(_ context.Context, _ string, _ time.Time) error {
	f.mu.Lock()
	f.touched++
	f.mu.Unlock()
	return nil
}

func (f *fakeConversations) get(id string) *entities.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.ID == id {
			cp := *c
			return &cp
		}
	}
	return nil
}

func (f *fakeConversations) setStatus(id string, status entities.ConversationStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.ID == id {
			c.Status = status
		}
	}
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []entities.Message
	err  error
}

func (f *fakeMessages) Create(_ context.Context, msg *entities.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	msg.ID = fmt.Sprintf("msg-%d", len(f.msgs)+1)
	msg.CreatedAt = time.Date(2026, 1, 1, 12, 0, len(f.msgs), 0, time.UTC)
	f.msgs = append(f.msgs, *msg)
	return nil
}

func (f *fakeMessages) Recent(_ context.Context, conversationID string, limit int, excludeID string) ([]entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entities.Message{}
	for i := len(f.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.msgs[i]
		if m.ConversationID == conversationID && m.ID != excludeID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessages) all() []entities.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entities.Message(nil), f.msgs...)
}

func (f *fakeMessages) bySender(sender entities.SenderType) []entities.Message {
	var out []entities.Message
	for _, m := range f.all() {
		if m.SenderType == sender {
			out = append(out, m)
		}
	}
	return out
}

type fakeCatalog struct {
	products   []entities.Product
	promotions []entities.Promotion
	err        error
}

func (f *fakeCatalog) Inventory(context.Context, string) ([]entities.Product, error) {
	return f.products, f.err
}

func (f *fakeCatalog) RunningPromotions(_ context.Context, _ string, now time.Time) ([]entities.Promotion, error) {
	var out []entities.Promotion
	for _, p := range f.promotions {
		if p.Running(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeFallbacks struct {
	scenarios []entities.FallbackScenario
}

func (f *fakeFallbacks) ActiveForAgent(context.Context, string) ([]entities.FallbackScenario, error) {
	return f.scenarios, nil
}

type fakeLearning struct {
	mu           sync.Mutex
	sentiments   []entities.SentimentAnalytics
	interactions []entities.LearningInteraction
	patterns     map[string]int
}

func (f *fakeLearning) SaveSentiment(_ context.Context, row *entities.SentimentAnalytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentiments = append(f.sentiments, *row)
	return nil
}

func (f *fakeLearning) SaveInteraction(_ context.Context, row *entities.LearningInteraction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions = append(f.interactions, *row)
	return nil
}

func (f *fakeLearning) BumpPattern(_ context.Context, _ string, kind entities.InteractionType, key string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patterns == nil {
		f.patterns = map[string]int{}
	}
	f.patterns[string(kind)+"/"+key]++
	return nil
}

func (f *fakeLearning) TopPatterns(context.Context, string, int) ([]entities.LearningPattern, error) {
	return nil, nil
}

type fakeExperiments struct {
	test     *entities.ABTest
	variants []entities.ABTestVariant
	mu       sync.Mutex
	results  []entities.ABTestResult
}

func (f *fakeExperiments) RunningTest(context.Context, string) (*entities.ABTest, []entities.ABTestVariant, error) {
	return f.test, f.variants, nil
}

func (f *fakeExperiments) RecordResult(_ context.Context, row *entities.ABTestResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, *row)
	return nil
}

type fakeUsage struct {
	mu          sync.Mutex
	sent        int
	received    int
	receivedErr error
}

func (f *fakeUsage) IncrementReceived(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receivedErr != nil {
		return f.receivedErr
	}
	f.received++
	return nil
}

func (f *fakeUsage) IncrementSent(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

// fakeAI answers by purpose and records every request.
type fakeAI struct {
	mu        sync.Mutex
	requests  []interfaces.CompletionRequest
	reply     string
	replyErr  error
	sentiment string
}

func (f *fakeAI) Complete(_ context.Context, req interfaces.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if req.Purpose == "sentiment" {
		if f.sentiment == "" {
			return "", errors.New("no sentiment configured")
		}
		return f.sentiment, nil
	}
	return f.reply, f.replyErr
}

func (f *fakeAI) calls(purpose string) []interfaces.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interfaces.CompletionRequest
	for _, r := range f.requests {
		if r.Purpose == purpose {
			out = append(out, r)
		}
	}
	return out
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []entities.OutboundMessage
	err  error
}

func (f *fakeMessenger) Send(_ context.Context, msg entities.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeNotifier) NotifyHandoff(_ context.Context, _ string, _ *entities.Conversation, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeDedup struct {
	seen map[string]bool
}

func (f *fakeDedup) FirstSeen(_ context.Context, key string) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeDedup) Forget(_ context.Context, key string) error {
	delete(f.seen, key)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeLocker) Lock(key string) func() {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	return func() {}
}
