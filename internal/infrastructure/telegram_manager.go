package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"restobot/internal/entities"
	"restobot/internal/logger"
)

// TelegramBot is the part of tgbotapi.BotAPI the notifier uses.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ChatLookup returns the staff chat linked to a restaurant, or nil.
type ChatLookup func(ctx context.Context, restaurantID string) (*int64, error)

// StaffActionHandler applies a button press from a staff chat.
type StaffActionHandler func(ctx context.Context, chatID int64, action StaffAction, conversationID string) error

type StaffAction string

const (
	ActionResume StaffAction = "resume"
	ActionEnd    StaffAction = "end"
)

// TelegramNotifier alerts restaurant staff about handoffs through the
// platform bot and turns their button presses into conversation actions.
type TelegramNotifier struct {
	bot    TelegramBot
	chats  ChatLookup
	log    logger.Logger
	mu     sync.Mutex
	cancel context.CancelFunc

	OnAction StaffActionHandler
}

func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram token: %w", err)
	}
	return bot, nil
}

func NewTelegramNotifier(bot TelegramBot, chats ChatLookup, log logger.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chats: chats, log: log}
}

// NotifyHandoff posts an alert with resume/end buttons. Restaurants without
// a linked chat are skipped silently.
func (n *TelegramNotifier) NotifyHandoff(ctx context.Context, restaurantID string, conv *entities.Conversation, reason string) error {
	chatID, err := n.chats(ctx, restaurantID)
	if err != nil {
		return err
	}
	if chatID == nil {
		return nil
	}

	text := fmt.Sprintf("🙋 *Atendimento humano solicitado*\n\nCliente: %s (%s)\nMotivo: %s",
		escapeMarkdown(conv.CustomerName), conv.CustomerPhone, escapeMarkdown(reason))
	msg := tgbotapi.NewMessage(*chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = HandoffKeyboard(conv.ID)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// SendTest posts a plain message to verify a chat link.
func (n *TelegramNotifier) SendTest(chatID int64) error {
	_, err := n.bot.Send(tgbotapi.NewMessage(chatID, "✅ Alertas do restobot ativados neste chat."))
	return err
}

// Start polls for updates until Stop or ctx cancellation.
func (n *TelegramNotifier) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := n.bot.GetUpdatesChan(u)
	n.log.Info("telegram polling started", nil)

	for {
		select {
		case <-ctx.Done():
			n.bot.StopReceivingUpdates()
			n.log.Info("telegram polling stopped", nil)
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			n.handleUpdate(ctx, update)
		}
	}
}

func (n *TelegramNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *TelegramNotifier) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		n.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand() && update.Message.Command() == "start":
		chatID := update.Message.Chat.ID
		reply := tgbotapi.NewMessage(chatID, fmt.Sprintf(
			"Olá! Para receber alertas, cadastre este chat no painel.\nChat ID: `%d`", chatID))
		reply.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.bot.Send(reply); err != nil {
			n.log.Warn("telegram reply failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (n *TelegramNotifier) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, convID, ok := ParseCallbackData(cb.Data)
	if !ok || cb.Message == nil {
		n.bot.Request(tgbotapi.NewCallback(cb.ID, "Ação desconhecida"))
		return
	}

	answer := "Feito"
	if n.OnAction == nil {
		answer = "Indisponível"
	} else if err := n.OnAction(ctx, cb.Message.Chat.ID, action, convID); err != nil {
		n.log.Warn("staff action failed", map[string]interface{}{
			"action":          string(action),
			"conversation_id": convID,
			"error":           err.Error(),
		})
		answer = "Não foi possível aplicar"
	}
	if _, err := n.bot.Request(tgbotapi.NewCallback(cb.ID, answer)); err != nil {
		n.log.Debug("callback ack failed", map[string]interface{}{"error": err.Error()})
	}
}

// ParseCallbackData decodes "conv:<action>:<conversation id>".
func ParseCallbackData(data string) (StaffAction, string, bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "conv" || parts[2] == "" {
		return "", "", false
	}
	switch StaffAction(parts[1]) {
	case ActionResume, ActionEnd:
		return StaffAction(parts[1]), parts[2], true
	}
	return "", "", false
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[").Replace(s)
}
