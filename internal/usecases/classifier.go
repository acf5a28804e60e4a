package usecases

import (
	"strings"
	"unicode"

	"restobot/internal/entities"
)

// Keyword lists for interaction tagging. Stems match as lowercase substrings,
// so "reclam" covers "reclamar" and "reclamação". Words must match a whole
// token ("late" does not hit "chocolate").
var interactionKeywords = []struct {
	kind  entities.InteractionType
	stems []string
	words []string
}{
	{
		kind:  entities.InteractionComplaint,
		stems: []string{"reclam", "ruim", "péssim", "pessim", "atrasad", "demor", "frio", "errad", "problema", "horrível"},
		words: []string{"complaint", "terrible", "late", "cold", "wrong"},
	},
	{
		kind:  entities.InteractionOrder,
		stems: []string{"pedido", "pedir", "quero", "encomend", "entrega", "delivery", "comprar"},
		words: []string{"order", "buy"},
	},
	{
		kind:  entities.InteractionCompliment,
		stems: []string{"obrigad", "ótim", "otim", "excelente", "delicios", "parabéns", "parabens", "adorei", "perfeito"},
		words: []string{"thank", "thanks", "great", "delicious"},
	},
}

// Classification is the analytics tag of one customer message.
type Classification struct {
	Type     entities.InteractionType
	Key      string
	Keywords []string
}

// ClassifyInteraction tags text. Complaints win over orders ("o pedido chegou
// frio" is a complaint), orders over compliments; anything else is a
// question. Key is the first keyword hit.
func ClassifyInteraction(text string) Classification {
	lower := strings.ToLower(text)
	tokens := map[string]bool{}
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) }) {
		tokens[tok] = true
	}

	for _, group := range interactionKeywords {
		var hits []string
		for _, stem := range group.stems {
			if strings.Contains(lower, stem) {
				hits = append(hits, stem)
			}
		}
		for _, w := range group.words {
			if tokens[w] {
				hits = append(hits, w)
			}
		}
		if len(hits) > 0 {
			return Classification{Type: group.kind, Key: hits[0], Keywords: hits}
		}
	}
	return Classification{Type: entities.InteractionQuestion, Key: "general", Keywords: []string{}}
}
