package generation

import (
	"context"

	"github.com/lexiqai/dialogue-gateway/internal/audio"
)

// Client defines the interface for the two remote generation stages.
// Implementations hold only configuration and are safe for concurrent use.
type Client interface {
	// GenerateText returns the trimmed reply for a prompt
	GenerateText(ctx context.Context, prompt string) (string, error)

	// GenerateSpeech synthesizes text with a prebuilt voice
	GenerateSpeech(ctx context.Context, text, voice string) (*audio.Payload, error)

	// Close releases any resources held by the client
	Close() error
}

// Text request: {"contents":[{"parts":[{"text":...}]}]}
type textRequest struct {
	Contents []requestContent `json:"contents"`
}

// Speech request: "contents" is a single object, not a list
type speechRequest struct {
	Contents         requestContent   `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// generateResponse covers both text and speech responses
type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content *responseContent `json:"content"`
}

type responseContent struct {
	Parts []responsePart `json:"parts"`
}

type responsePart struct {
	Text       *string        `json:"text,omitempty"`
	InlineData *audio.Payload `json:"inlineData,omitempty"`
}

// firstPart returns candidates[0].content.parts[0], or nil
func (r *generateResponse) firstPart() *responsePart {
	if len(r.Candidates) == 0 {
		return nil
	}
	content := r.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return nil
	}
	return &content.Parts[0]
}

func newTextRequest(prompt string) textRequest {
	return textRequest{
		Contents: []requestContent{{Parts: []requestPart{{Text: prompt}}}},
	}
}

func newSpeechRequest(text, voice string) speechRequest {
	return speechRequest{
		Contents: requestContent{Parts: []requestPart{{Text: text}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}
}
