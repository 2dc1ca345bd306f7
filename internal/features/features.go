// Package features turns an inbound message and its channel context into the
// fixed-order numeric vector consumed by the response gate.
package features

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Positions within a Vector. Trained gate coefficients are bound to this
// order; changing it requires retraining from scratch.
const (
	Length = iota
	Words
	SinceLastResponse
	RecentActivity
	Question
	Mention
	Short
	Weekend

	Count
)

// Names labels each position, in order.
var Names = [Count]string{
	"length",
	"words",
	"since_last_response",
	"recent_activity",
	"question",
	"mention",
	"short",
	"weekend",
}

// ShortLength is the character count below which a message is short.
const ShortLength = 10

// questionMarkers are matched case-insensitively as substrings.
var questionMarkers = []string{
	"?", "what", "how", "why", "when", "where",
	"wat", "hoe", "waarom", "wanneer", "waar",
}

// Vector is one message's features in the fixed order above.
type Vector [Count]float64

// Slice returns the features as a new slice.
func (v Vector) Slice() []float64 {
	out := make([]float64, Count)
	copy(out, v[:])
	return out
}

// Message is the inbound message as delivered by the chat layer.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id"`
	ChannelID string    `json:"channel_id"`
	Mentions  []string  `json:"mentions,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelContext is the externally maintained state of the message's channel.
type ChannelContext struct {
	// LastBotResponse is zero when the bot never responded in the channel.
	LastBotResponse time.Time
	// RecentMessages counts messages seen in the channel within ActivityWindow.
	RecentMessages int
}

// Extract computes the feature vector for msg. It has no side effects.
func Extract(msg Message, cc ChannelContext, botID string) Vector {
	var v Vector

	length := utf8.RuneCountInString(msg.Text)
	v[Length] = float64(length)
	v[Words] = float64(len(strings.Fields(msg.Text)))

	// Never having responded counts from the Unix epoch.
	var last int64
	if !cc.LastBotResponse.IsZero() {
		last = cc.LastBotResponse.UnixNano()
	}
	v[SinceLastResponse] = float64(msg.Timestamp.UnixNano()-last) / float64(time.Second)
	v[RecentActivity] = float64(cc.RecentMessages)

	v[Question] = flag(hasQuestionMarker(msg.Text))
	v[Mention] = flag(botID != "" && slices.Contains(msg.Mentions, botID))
	v[Short] = flag(length < ShortLength)

	wd := msg.Timestamp.Weekday()
	v[Weekend] = flag(wd == time.Saturday || wd == time.Sunday)
	return v
}

func hasQuestionMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range questionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
