package usecases

import (
	"fmt"
	"strings"
	"time"

	"restobot/internal/entities"
)

// PromptInput is everything the assistant knows when it answers one message.
type PromptInput struct {
	AgentName    string
	Personality  string
	Instructions string
	CustomerName string
	Message      string
	Inventory    []entities.Product
	Promotions   []entities.Promotion
	Patterns     []entities.LearningPattern
	// History is chronological and excludes Message.
	History   []entities.Message
	Sentiment *entities.SentimentResult
}

// Prompt is one system turn and one user turn.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt renders the input. It has no side effects and the same input
// always yields the same prompt.
func BuildPrompt(in PromptInput) Prompt {
	var b strings.Builder

	name := in.AgentName
	if name == "" {
		name = "the assistant"
	}
	fmt.Fprintf(&b, "You are %s, the WhatsApp assistant of a restaurant. You take orders and answer questions about the menu.\n", name)
	if p := strings.TrimSpace(in.Personality); p != "" {
		fmt.Fprintf(&b, "Personality: %s\n", p)
	}
	if instr := strings.TrimSpace(in.Instructions); instr != "" {
		fmt.Fprintf(&b, "\nInstructions:\n%s\n", instr)
	}
	if in.CustomerName != "" {
		fmt.Fprintf(&b, "\nYou are talking to %s.\n", in.CustomerName)
	}

	b.WriteString("\n## Menu and stock\n")
	if len(in.Inventory) == 0 {
		b.WriteString("No products registered.\n")
	}
	for _, p := range in.Inventory {
		fmt.Fprintf(&b, "- %s (R$ %.2f): %s", p.Name, p.Price, p.InventoryStatus())
		if p.Stock > 0 {
			fmt.Fprintf(&b, ", %d in stock", p.Stock)
		}
		if d := strings.TrimSpace(p.Description); d != "" {
			fmt.Fprintf(&b, " | %s", d)
		}
		b.WriteString("\n")
	}

	if len(in.Promotions) > 0 {
		b.WriteString("\n## Active promotions\n")
		for _, p := range in.Promotions {
			fmt.Fprintf(&b, "- %s", p.Title)
			if p.DiscountPercent > 0 {
				fmt.Fprintf(&b, " (%.0f%% off)", p.DiscountPercent)
			}
			if p.ValidUntil != nil {
				fmt.Fprintf(&b, " until %s", p.ValidUntil.UTC().Format(time.DateOnly))
			}
			if d := strings.TrimSpace(p.Description); d != "" {
				fmt.Fprintf(&b, ": %s", d)
			}
			b.WriteString("\n")
		}
	}

	if len(in.Patterns) > 0 {
		b.WriteString("\n## Frequent customer topics\n")
		for _, p := range in.Patterns {
			fmt.Fprintf(&b, "- %s: %s (seen %d times)\n", p.PatternType, p.PatternKey, p.Frequency)
		}
	}

	if s := in.Sentiment; s != nil {
		b.WriteString("\n## Customer mood\n")
		fmt.Fprintf(&b, "The customer seems %s (score %.2f). Use a%s tone.\n", s.Label, s.Score, strategyTone(s.ResponseStrategy))
	}

	if len(in.History) > 0 {
		b.WriteString("\n## Conversation so far\n")
		b.WriteString(RenderHistory(in.History))
	}

	b.WriteString("\nOnly offer products that are in stock. Never invent prices. Reply in the customer's language, briefly.")

	return Prompt{System: b.String(), User: in.Message}
}

func strategyTone(s entities.ResponseStrategy) string {
	switch s {
	case entities.StrategyEmpathetic:
		return "n empathetic"
	case entities.StrategyPromotional:
		return " warm, promotional"
	default:
		return " clear, informational"
	}
}

// RenderHistory renders chronological messages one per line. Staff replies
// are shown as the assistant's.
func RenderHistory(msgs []entities.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		speaker := "Assistant"
		if m.SenderType == entities.SenderCustomer {
			speaker = "Customer"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	return b.String()
}

// Chronological reverses a newest-first page of messages.
func Chronological(newestFirst []entities.Message) []entities.Message {
	out := make([]entities.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out
}
