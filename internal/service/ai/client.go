package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"foliochat/internal/models"
)

// ProbePrompt is the placeholder prompt sent by connection probes.
const ProbePrompt = "test"

const maxErrorBody = 64 << 10

type generateRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// generateResponse only declares the field we rely on; Response is nil when absent.
type generateResponse struct {
	Response *string `json:"response"`
}

// Client talks to an Ollama style /api/generate endpoint with non-streaming requests.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// NewClient builds a generate client. A nil httpClient uses a client without its own
// timeout: deadlines come from the caller's context.
func NewClient(httpClient *http.Client, logger logrus.FieldLogger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{httpClient: httpClient, logger: logger}
}

// Generate sends prompt to cfg.Endpoint and returns the generated text.
func (c *Client) Generate(ctx context.Context, prompt string, cfg models.EndpointConfig) (string, error) {
	temp := cfg.Temperature
	resp, err := c.post(ctx, cfg.Endpoint, generateRequest{
		Model:       cfg.Model,
		Prompt:      prompt,
		Stream:      false,
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RequestError{Kind: KindTransport, Cause: fmt.Errorf("read response: %w", err)}
	}
	var body generateResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", &RequestError{Kind: KindMalformedResponse, Detail: fmt.Sprintf("decode body: %v", err), Cause: err}
	}
	if body.Response == nil {
		return "", &RequestError{Kind: KindMalformedResponse, Detail: `missing "response" field`}
	}
	return *body.Response, nil
}

// Probe issues the synthetic health request. A nil error means the endpoint answered 2xx.
func (c *Client) Probe(ctx context.Context, cfg models.EndpointConfig) error {
	resp, err := c.post(ctx, cfg.Endpoint, generateRequest{
		Model:  cfg.Model,
		Prompt: ProbePrompt,
		Stream: false,
	})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// post sends the request and converts non-2xx answers into protocol errors. The caller
// owns the body of a successful response.
func (c *Client) post(ctx context.Context, endpoint string, payload generateRequest) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &RequestError{Kind: KindTransport, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Kind: KindTransport, Cause: unwrapURLError(err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		reqErr := &RequestError{
			Kind:       KindProtocol,
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       strings.TrimSpace(string(body)),
		}
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"model":    payload.Model,
			"status":   resp.StatusCode,
		}).Warn("inference endpoint returned an error")
		return nil, reqErr
	}
	return resp, nil
}

// statusText is the reason phrase the server sent, or the standard one when it sent none.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

// unwrapURLError shortens context errors; the result still matches errors.Is.
func unwrapURLError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", context.DeadlineExceeded)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request canceled: %w", context.Canceled)
	}
	return err
}
