package gateway

import "github.com/lexiqai/dialogue-gateway/internal/audio"

// Client message types
const (
	MessageStart  = "start"  // Open a conversation with an NPC
	MessageAsk    = "ask"    // Ask the NPC a question
	MessageCancel = "cancel" // Abandon the in-flight question
)

// Server event types
const (
	EventSession  = "session"  // Conversation opened
	EventThinking = "thinking" // Question accepted, reply pending
	EventDialogue = "dialogue" // Terminal reply for a question
	EventRejected = "rejected" // Message refused, nothing else will follow for it
)

// Audio encodings for dialogue events
const (
	EncodingSamples = "samples" // Normalized float samples inline
	EncodingWAV     = "wav"     // Base64 WAV file
)

// Rejection reasons. These are the only failure details sent to players.
const (
	ReasonEmptyQuestion = "empty_question"
	ReasonBusy          = "busy"
	ReasonNoSession     = "no_session"
	ReasonUnknownNPC    = "unknown_npc"
	ReasonNoPersona     = "no_persona"
	ReasonBadMessage    = "bad_message"
	ReasonAlreadyOpen   = "session_open"
)

// ClientMessage is any message a client sends
type ClientMessage struct {
	Type          string `json:"type"`
	NPC           string `json:"npc,omitempty"`            // start: catalog NPC id
	Persona       string `json:"persona,omitempty"`        // start: explicit persona
	Voice         string `json:"voice,omitempty"`          // start: explicit voice
	AudioEncoding string `json:"audio_encoding,omitempty"` // start: samples or wav
	Question      string `json:"question,omitempty"`       // ask
}

// ServerEvent is any event the gateway sends
type ServerEvent struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	NPC       string              `json:"npc,omitempty"`
	Voice     string              `json:"voice,omitempty"`
	Text      string              `json:"text,omitempty"`
	Audio     *audio.DecodedAudio `json:"audio,omitempty"`
	AudioWAV  string              `json:"audio_wav,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}
