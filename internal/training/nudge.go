package training

import (
	"gonum.org/v1/gonum/floats"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/feedback"
	"github.com/kalambet/ocky/internal/vector"
)

// SiblingFactor scales the learning rate applied to the other responses in
// the reinforced response's category.
const SiblingFactor = 0.5

// Nudge moves embeddings toward (positive score) or away from (negative
// score) each feedback item's input embedding, in item order. The reinforced
// response moves by lr times the difference; every other response in its
// category moves by lr*SiblingFactor. Neutral items and items for responses
// no longer in emb are skipped. emb is updated in place and the number of
// items applied is returned.
func Nudge(emb map[catalog.ResponseID]vector.Vector, items []feedback.Item, lr float64) int {
	byCategory := make(map[string][]catalog.ResponseID)
	for id := range emb {
		byCategory[id.Category] = append(byCategory[id.Category], id)
	}

	applied := 0
	for _, it := range items {
		if it.Score == feedback.NeutralScore {
			continue
		}
		cur, ok := emb[it.ResponseID]
		if !ok || len(cur) != len(it.Input) {
			continue
		}
		sign := 1.0
		if it.Score < 0 {
			sign = -1.0
		}

		move(cur, it.Input, sign*lr)
		for _, other := range byCategory[it.ResponseID.Category] {
			if other == it.ResponseID {
				continue
			}
			if sib := emb[other]; len(sib) == len(it.Input) {
				move(sib, it.Input, sign*lr*SiblingFactor)
			}
		}
		applied++
	}
	return applied
}

// move sets v += rate*(target - v).
func move(v, target vector.Vector, rate float64) {
	diff := make([]float64, len(v))
	floats.SubTo(diff, target, v)
	floats.AddScaled(v, rate, diff)
}
