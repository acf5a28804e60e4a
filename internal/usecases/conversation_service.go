package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
	"restobot/internal/logger"
	"restobot/internal/repository"
)

type ConversationReader interface {
	Get(ctx context.Context, restaurantID, id string) (*entities.Conversation, error)
	ByID(ctx context.Context, id string) (*entities.Conversation, error)
	List(ctx context.Context, restaurantID string, opts repository.ListOptions) ([]entities.Conversation, error)
	UpdateStatus(ctx context.Context, id string, from, to entities.ConversationStatus) error
	Touch(ctx context.Context, id string, at time.Time) error
}

type MessageHistory interface {
	Create(ctx context.Context, msg *entities.Message) error
	ForConversation(ctx context.Context, conversationID string, limit, offset int) ([]entities.Message, error)
}

type TelegramChats interface {
	TelegramChat(ctx context.Context, restaurantID string) (*int64, error)
}

// Staff actions arriving from Telegram buttons.
const (
	StaffResume = "resume"
	StaffEnd    = "end"
)

// ConversationService is the staff side of a conversation: status changes,
// human replies and Telegram button actions.
type ConversationService struct {
	convs     ConversationReader
	messages  MessageHistory
	agents    interfaces.AgentStore
	messenger interfaces.Messenger
	usage     interfaces.UsageStore
	chats     TelegramChats
	log       logger.Logger
	now       func() time.Time
}

func NewConversationService(
	convs ConversationReader,
	messages MessageHistory,
	agents interfaces.AgentStore,
	messenger interfaces.Messenger,
	usage interfaces.UsageStore,
	chats TelegramChats,
	log logger.Logger,
) *ConversationService {
	return &ConversationService{
		convs:     convs,
		messages:  messages,
		agents:    agents,
		messenger: messenger,
		usage:     usage,
		chats:     chats,
		log:       log,
		now:       time.Now,
	}
}

func (s *ConversationService) List(ctx context.Context, restaurantID string, opts repository.ListOptions) ([]entities.Conversation, error) {
	return s.convs.List(ctx, restaurantID, opts)
}

func (s *ConversationService) Get(ctx context.Context, restaurantID, id string) (*entities.Conversation, error) {
	return s.convs.Get(ctx, restaurantID, id)
}

func (s *ConversationService) Messages(ctx context.Context, restaurantID, id string, limit, offset int) ([]entities.Message, error) {
	if _, err := s.convs.Get(ctx, restaurantID, id); err != nil {
		return nil, err
	}
	return s.messages.ForConversation(ctx, id, limit, offset)
}

// SetStatus applies a staff status change through the state machine.
func (s *ConversationService) SetStatus(ctx context.Context, restaurantID, id string, next entities.ConversationStatus) (*entities.Conversation, error) {
	conv, err := s.convs.Get(ctx, restaurantID, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, conv, next)
}

func (s *ConversationService) transition(ctx context.Context, conv *entities.Conversation, next entities.ConversationStatus) (*entities.Conversation, error) {
	if _, err := conv.Status.Transition(next); err != nil {
		return nil, err
	}
	if err := s.convs.UpdateStatus(ctx, conv.ID, conv.Status, next); err != nil {
		return nil, err
	}
	s.log.Info("conversation status changed", map[string]interface{}{
		"conversation_id": conv.ID,
		"from":            string(conv.Status),
		"to":              string(next),
	})
	conv.Status = next
	return conv, nil
}

// ReplyResult reports a stored staff message and whether it reached the
// customer.
type ReplyResult struct {
	Message   *entities.Message `json:"message"`
	Delivered bool              `json:"delivered"`
}

// Reply stores a staff message and relays it. A staff reply on an active
// conversation takes it over from the assistant.
func (s *ConversationService) Reply(ctx context.Context, restaurantID, id, text string) (*ReplyResult, error) {
	op := "ConversationService.Reply"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.Invalid(op, "message is empty")
	}

	conv, err := s.convs.Get(ctx, restaurantID, id)
	if err != nil {
		return nil, err
	}
	if !conv.Status.Open() {
		return nil, apperrors.Invalid(op, "conversation has ended")
	}
	if conv.Status == entities.ConversationActive {
		if conv, err = s.transition(ctx, conv, entities.ConversationHumanHandoff); err != nil {
			return nil, err
		}
	}

	msg := &entities.Message{
		ConversationID: conv.ID,
		SenderType:     entities.SenderHuman,
		Content:        text,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.convs.Touch(ctx, conv.ID, s.now()); err != nil {
		s.log.Warn("last_message_at not updated", map[string]interface{}{"error": err.Error()})
	}

	result := &ReplyResult{Message: msg}
	agent, err := s.agents.AgentByID(ctx, conv.AgentID)
	if err != nil {
		s.log.Warn("staff reply not relayed", map[string]interface{}{"conversation_id": conv.ID, "error": err.Error()})
		return result, nil
	}
	err = s.messenger.Send(ctx, entities.OutboundMessage{Agent: agent, Phone: conv.CustomerPhone, Text: text})
	if err != nil {
		s.log.Warn("staff reply not relayed", map[string]interface{}{"conversation_id": conv.ID, "error": err.Error()})
		return result, nil
	}
	result.Delivered = true
	if err := s.usage.IncrementSent(ctx, conv.RestaurantID); err != nil {
		s.log.Warn("usage not counted", map[string]interface{}{"error": err.Error()})
	}
	return result, nil
}

// HandleStaffAction applies a Telegram button press. The chat must be the
// one linked to the conversation's restaurant.
func (s *ConversationService) HandleStaffAction(ctx context.Context, chatID int64, action, conversationID string) error {
	op := "ConversationService.HandleStaffAction"
	conv, err := s.convs.ByID(ctx, conversationID)
	if err != nil {
		return err
	}
	linked, err := s.chats.TelegramChat(ctx, conv.RestaurantID)
	if err != nil {
		return err
	}
	if linked == nil || *linked != chatID {
		return apperrors.E(apperrors.CodeForbidden, op, "chat is not linked to this restaurant", nil)
	}

	var next entities.ConversationStatus
	switch action {
	case StaffResume:
		next = entities.ConversationActive
	case StaffEnd:
		next = entities.ConversationEnded
	default:
		return apperrors.Invalid(op, fmt.Sprintf("unknown action %q", action))
	}
	_, err = s.transition(ctx, conv, next)
	return err
}
