package audio

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/dialogue-gateway/internal/failure"
)

// DefaultSampleRate is used when the payload MIME type carries no usable rate
const DefaultSampleRate = 24000

// Payload is the inline audio returned by the speech synthesis service
type Payload struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // Base64 of little-endian 16-bit PCM, mono
}

// DecodedAudio is a playable mono sample buffer
type DecodedAudio struct {
	SampleRate   int       `json:"sample_rate"`
	ChannelCount int       `json:"channel_count"`
	Samples      []float32 `json:"samples"` // Normalized to [-1.0, 1.0)
}

// Duration returns the playback length of the buffer
func (d *DecodedAudio) Duration() time.Duration {
	if d == nil || d.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(d.Samples)) * time.Second / time.Duration(d.SampleRate)
}

// Decoder turns synthesis payloads into sample buffers.
// It holds no mutable state and is safe for concurrent use.
type Decoder struct {
	defaultSampleRate int
}

// NewDecoder creates a decoder that falls back to defaultSampleRate
func NewDecoder(defaultSampleRate int) *Decoder {
	if defaultSampleRate <= 0 {
		defaultSampleRate = DefaultSampleRate
	}
	return &Decoder{defaultSampleRate: defaultSampleRate}
}

// Decode converts a payload into normalized samples.
// Only invalid base64 is an error; a malformed rate falls back to the default
// and an odd trailing byte is dropped.
func (d *Decoder) Decode(payload Payload) (*DecodedAudio, error) {
	sampleRate := ParseSampleRate(payload.MIMEType, d.defaultSampleRate)

	pcm, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, failure.Decode("invalid base64 audio data", err)
	}

	return &DecodedAudio{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Samples:      Int16ToFloat32(BytesToInt16(pcm)),
	}, nil
}

// Decode decodes a payload with the package default sample rate
func Decode(payload Payload) (*DecodedAudio, error) {
	return NewDecoder(DefaultSampleRate).Decode(payload)
}

// ParseSampleRate extracts the rate parameter from a MIME type such as
// "audio/L16;codec=pcm;rate=24000". Missing or unparseable rates yield defaultRate.
func ParseSampleRate(mimeType string, defaultRate int) int {
	for _, segment := range strings.Split(mimeType, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(segment), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || rate <= 0 {
			return defaultRate
		}
		return rate
	}
	return defaultRate
}
