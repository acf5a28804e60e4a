package entities

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restobot/internal/apperrors"
)

func TestConversationTransitions(t *testing.T) {
	tests := []struct {
		from, to ConversationStatus
		ok       bool
	}{
		{ConversationActive, ConversationHumanHandoff, true},
		{ConversationActive, ConversationPaused, true},
		{ConversationPaused, ConversationActive, true},
		{ConversationHumanHandoff, ConversationActive, true},
		{ConversationHumanHandoff, ConversationPaused, false},
		{ConversationEnded, ConversationActive, false},
		{ConversationActive, ConversationActive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			next, err := tt.from.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, next)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
			assert.Equal(t, tt.from, next)
		})
	}
}

func TestConversationUnknownStatus(t *testing.T) {
	_, err := ConversationActive.Transition("archived")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidArgument))
}

func TestConversationOpenStates(t *testing.T) {
	assert.True(t, ConversationActive.Open())
	assert.True(t, ConversationPaused.Open())
	assert.True(t, ConversationHumanHandoff.Open())
	assert.False(t, ConversationEnded.Open())
	assert.True(t, ConversationActive.AIEnabled())
	assert.False(t, ConversationHumanHandoff.AIEnabled())
}

func TestOrderTransitions(t *testing.T) {
	status := OrderPending
	for _, next := range []OrderStatus{OrderConfirmed, OrderPreparing, OrderReady, OrderDelivered} {
		var err error
		status, err = status.Transition(next)
		require.NoError(t, err)
	}
	assert.True(t, status.Terminal())

	_, err := OrderPreparing.Transition(OrderCancelled)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	next, err := OrderConfirmed.Transition(OrderCancelled)
	require.NoError(t, err)
	assert.Equal(t, OrderCancelled, next)

	_, err = OrderPending.Transition(OrderReady)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestInventoryStatusFor(t *testing.T) {
	assert.Equal(t, InventoryOutOfStock, InventoryStatusFor(0, 5))
	assert.Equal(t, InventoryLowStock, InventoryStatusFor(5, 5))
	assert.Equal(t, InventoryLowStock, InventoryStatusFor(1, 5))
	assert.Equal(t, InventoryAvailable, InventoryStatusFor(6, 5))
}

func TestOrderComputeTotals(t *testing.T) {
	o := Order{
		DeliveryFee: 5,
		Items: []OrderItem{
			{Quantity: 2, UnitPrice: 10.5, ModifierTotal: 1},
			{Quantity: 1, UnitPrice: 3.33},
		},
	}
	o.ComputeTotals()
	assert.InDelta(t, 26.33, o.Subtotal, 0.001)
	assert.InDelta(t, 31.33, o.Total, 0.001)
}

func TestFirstMatchingScenario(t *testing.T) {
	scenarios := []FallbackScenario{
		{Name: "mild", SentimentThreshold: -0.2, AutoTrigger: true, IsActive: true, Priority: 1},
		{Name: "angry", SentimentThreshold: -0.5, AutoTrigger: true, IsActive: true, Priority: 10},
		{Name: "manual", SentimentThreshold: 1, AutoTrigger: false, IsActive: true, Priority: 99},
	}

	got := FirstMatchingScenario(scenarios, -0.8)
	require.NotNil(t, got)
	assert.Equal(t, "angry", got.Name)

	got = FirstMatchingScenario(scenarios, -0.3)
	require.NotNil(t, got)
	assert.Equal(t, "mild", got.Name)

	assert.Nil(t, FirstMatchingScenario(scenarios, 0.4))
	assert.Equal(t, "mild", scenarios[0].Name, "input slice must not be reordered")
}

func TestPromotionRunning(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&Promotion{IsActive: true}).Running(now))
	assert.True(t, (&Promotion{IsActive: true, ValidUntil: &future}).Running(now))
	assert.False(t, (&Promotion{IsActive: true, ValidUntil: &past}).Running(now))
	assert.False(t, (&Promotion{IsActive: false}).Running(now))
}

func TestAgentMemoryTurns(t *testing.T) {
	assert.Equal(t, 10, (&Agent{}).MemoryTurns(10))
	assert.Equal(t, 4, (&Agent{ContextMemoryTurns: 4}).MemoryTurns(10))
}
