package usecases

import "restobot/internal/entities"

// PickVariant chooses a variant with probability proportional to its
// weight. r must be in [0, 1). Returns nil when no variant has weight.
func PickVariant(variants []entities.ABTestVariant, r float64) *entities.ABTestVariant {
	var total float64
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return nil
	}

	target := r * total
	var cumulative float64
	for i := range variants {
		if variants[i].Weight <= 0 {
			continue
		}
		cumulative += variants[i].Weight
		if target < cumulative {
			return &variants[i]
		}
	}
	// r close to 1 can miss through rounding
	for i := len(variants) - 1; i >= 0; i-- {
		if variants[i].Weight > 0 {
			return &variants[i]
		}
	}
	return nil
}
