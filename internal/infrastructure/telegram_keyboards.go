package infrastructure

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// HandoffKeyboard lets staff hand a conversation back to the assistant or
// close it.
func HandoffKeyboard(conversationID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🤖 Devolver ao assistente", "conv:resume:"+conversationID),
			tgbotapi.NewInlineKeyboardButtonData("✅ Encerrar", "conv:end:"+conversationID),
		),
	)
}
