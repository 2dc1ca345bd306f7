package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RespondExample is one inbound message logged for training the gate.
type RespondExample struct {
	ID         string
	MessageRef string
	ChannelID  string
	AuthorID   string
	Text       string
	Features   []float64 // JSON array stored as text
	Label      int
	CreatedAt  time.Time
}

// FeedbackExample is one emitted bot response and the score its reactions
// have accumulated.
type FeedbackExample struct {
	ID             string
	Category       string
	ResponseHash   string
	InputEmbedding []float64 // little-endian float64 blob
	Score          float64
	BotMessageRef  string
	ChannelID      string
	OriginalText   string
	CreatedAt      time.Time
}

// ExampleCounts summarizes the training log.
type ExampleCounts struct {
	Respond         int `json:"respond"`
	RespondPositive int `json:"respond_positive"`
	Feedback        int `json:"feedback"`
	FeedbackScored  int `json:"feedback_scored"`
}
