// Package feedback owns the interaction log the learners are trained from
// and the rule that folds emoji reactions into a response's score.
package feedback

// Reaction emoji with a feedback value.
const (
	StrongPositive = "🟩"
	Positive       = "👍"
	Negative       = "👎"
	StrongNegative = "🟥"
)

// NeutralScore is the score of a response nobody has reacted to. Training
// skips examples at this score.
const NeutralScore = 0.0

var emojiValues = map[string]float64{
	StrongPositive: 1.5,
	Positive:       1.0,
	Negative:       -1.0,
	StrongNegative: -1.5,
}

// Value returns the signed magnitude of a feedback emoji.
func Value(emoji string) (float64, bool) {
	v, ok := emojiValues[emoji]
	return v, ok
}

// FeedbackEmoji lists the feedback emoji from strongest positive to
// strongest negative.
func FeedbackEmoji() []string {
	return []string{StrongPositive, Positive, Negative, StrongNegative}
}

// Combine folds a reaction with value v into score. Adding pulls the score
// halfway toward v. Removing applies the algebraic inverse of one add, which
// only restores the previous score when exactly one add preceded it.
func Combine(score, v float64, add bool) float64 {
	if add {
		return 0.5 * (score + v)
	}
	return 2*score - v
}
