package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/lexiqai/dialogue-gateway/internal/audio"
	"github.com/lexiqai/dialogue-gateway/internal/config"
	"github.com/lexiqai/dialogue-gateway/internal/failure"
	"google.golang.org/genai"
)

// SDKClient implements Client on top of the genai SDK
type SDKClient struct {
	client      *genai.Client
	textModel   string
	speechModel string
}

// NewSDKClient creates a genai-backed generation client
func NewSDKClient(ctx context.Context, cfg *config.Config) (*SDKClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.GeminiAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout()},
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.SDKBaseURL,
		},
	})
	if err != nil {
		return nil, err
	}

	return &SDKClient{
		client:      client,
		textModel:   cfg.TextModel,
		speechModel: cfg.SpeechModel,
	}, nil
}

// GenerateText sends the prompt to the text model
func (c *SDKClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	res, err := c.client.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), nil)
	if err != nil {
		return "", sdkFailure(failure.StageText, err)
	}

	part := firstSDKPart(res)
	if part == nil || part.InlineData != nil {
		return "", failure.Structural(failure.StageText, "no candidate")
	}
	return strings.TrimSpace(part.Text), nil
}

// GenerateSpeech synthesizes text with the speech model
func (c *SDKClient) GenerateSpeech(ctx context.Context, text, voice string) (*audio.Payload, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	res, err := c.client.Models.GenerateContent(ctx, c.speechModel, genai.Text(text), cfg)
	if err != nil {
		return nil, sdkFailure(failure.StageSpeech, err)
	}

	part := firstSDKPart(res)
	if part == nil || part.InlineData == nil {
		return nil, failure.Structural(failure.StageSpeech, "no audio")
	}

	// The SDK hands back raw bytes; the decoder expects the wire form
	return &audio.Payload{
		MIMEType: part.InlineData.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
	}, nil
}

// Close is a no-op; the SDK client holds no closable resources
func (c *SDKClient) Close() error {
	return nil
}

func firstSDKPart(res *genai.GenerateContentResponse) *genai.Part {
	if res == nil || len(res.Candidates) == 0 {
		return nil
	}
	content := res.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return nil
	}
	return content.Parts[0]
}

// sdkFailure maps SDK errors onto transport failures, keeping HTTP status codes
func sdkFailure(stage failure.Stage, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return statusFailure(stage, apiErr.Code, err)
	}
	return failure.Transport(stage, "request failed", err)
}

var _ Client = (*SDKClient)(nil)
