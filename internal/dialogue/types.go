package dialogue

import (
	"context"
	"errors"

	"github.com/lexiqai/dialogue-gateway/internal/audio"
)

// Input errors, returned wrapped in a *failure.Failure with stage "input"
var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrSessionBusy   = errors.New("session already has a question in flight")
	ErrSessionClosed = errors.New("session is closed")
	ErrShuttingDown  = errors.New("orchestrator is shutting down")
)

// Generator is the pair of remote stages a question runs through
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateSpeech(ctx context.Context, text, voice string) (*audio.Payload, error)
}

// Result is the terminal delivery for one question
type Result struct {
	Text  string
	Audio *audio.DecodedAudio // nil when speech synthesis or decoding failed
}

// HasAudio reports whether the result carries playable audio
func (r Result) HasAudio() bool {
	return r.Audio != nil
}

// DeliveryFunc receives exactly one Result per accepted question.
// It is called from the question's goroutine; deliveries for one session never overlap.
type DeliveryFunc func(Result)

// State is the lifecycle position of a session's current question
type State int

const (
	StateIdle State = iota
	StateTextPending
	StateSpeechPending
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTextPending:
		return "text_pending"
	case StateSpeechPending:
		return "speech_pending"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// busy reports whether a question is in flight
func (s State) busy() bool {
	return s == StateTextPending || s == StateSpeechPending
}
