package generation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/lexiqai/dialogue-gateway/internal/audio"
	"github.com/lexiqai/dialogue-gateway/internal/config"
	"github.com/lexiqai/dialogue-gateway/internal/failure"
)

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 32 << 20

// RESTClient implements Client with hand-built JSON requests
type RESTClient struct {
	apiKey     string
	textURL    string
	speechURL  string
	httpClient *http.Client
}

// NewRESTClient creates a new REST generation client
func NewRESTClient(cfg *config.Config) *RESTClient {
	return &RESTClient{
		apiKey:    cfg.GeminiAPIKey,
		textURL:   cfg.TextAPIURL,
		speechURL: cfg.SpeechAPIURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

// GenerateText sends the prompt to the text endpoint
func (c *RESTClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	var resp generateResponse
	if err := c.post(ctx, failure.StageText, c.textURL, newTextRequest(prompt), &resp); err != nil {
		return "", err
	}

	part := resp.firstPart()
	if part == nil || part.Text == nil {
		return "", failure.Structural(failure.StageText, "no candidate")
	}
	return strings.TrimSpace(*part.Text), nil
}

// GenerateSpeech sends text to the speech endpoint with the given voice
func (c *RESTClient) GenerateSpeech(ctx context.Context, text, voice string) (*audio.Payload, error) {
	var resp generateResponse
	if err := c.post(ctx, failure.StageSpeech, c.speechURL, newSpeechRequest(text, voice), &resp); err != nil {
		return nil, err
	}

	part := resp.firstPart()
	if part == nil || part.InlineData == nil {
		return nil, failure.Structural(failure.StageSpeech, "no audio")
	}
	return part.InlineData, nil
}

// Close releases idle connections
func (c *RESTClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// post marshals body, sends it and decodes a 2xx response into out
func (c *RESTClient) post(ctx context.Context, stage failure.Stage, endpoint string, body interface{}, out interface{}) error {
	jsonData, err := sonic.Marshal(body)
	if err != nil {
		return failure.Transport(stage, "failed to marshal request", err)
	}

	target, err := c.withKey(endpoint)
	if err != nil {
		return failure.Transport(stage, "invalid endpoint", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(jsonData))
	if err != nil {
		return failure.Transport(stage, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure.Transport(stage, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return statusFailure(stage, resp.StatusCode, nil)
	}

	respData, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failure.Transport(stage, "failed to read response", err)
	}

	if err := sonic.Unmarshal(respData, out); err != nil {
		return &failure.Failure{
			Stage:  stage,
			Kind:   failure.KindStructural,
			Detail: "malformed response",
			Err:    err,
		}
	}
	return nil
}

// withKey appends the API key as the key query parameter
func (c *RESTClient) withKey(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

var _ Client = (*RESTClient)(nil)

func (c *RESTClient) String() string {
	return fmt.Sprintf("rest(text=%s, speech=%s)", redact(c.textURL), redact(c.speechURL))
}

// redact strips the query string from an endpoint for logging
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
