package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"restobot/internal/apperrors"
	"restobot/internal/config"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
	"restobot/internal/logger"
	"restobot/internal/metrics"
)

// LLMClient talks to an OpenAI-compatible chat completions endpoint.
type LLMClient struct {
	baseURL      string
	apiKey       string
	defaultModel string
	maxRetries   int
	client       *http.Client
	logger       logger.Logger
}

func NewLLMClient(cfg config.LLMConfig, log logger.Logger) *LLMClient {
	return &LLMClient{
		baseURL:      strings.TrimRight(cfg.APIURL, "/"),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		client:       &http.Client{Timeout: cfg.Timeout},
		logger:       log,
	}
}

type chatRequest struct {
	Model          string                  `json:"model"`
	Messages       []interfaces.ChatMessage `json:"messages"`
	Temperature    float64                 `json:"temperature"`
	MaxTokens      int                     `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat         `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// retryableStatus is true for responses worth another attempt.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Complete returns the first choice's message content. Deadline expiry maps
// to apperrors.ErrLLMTimeout, every other failure to apperrors.ErrLLMFailed.
func (c *LLMClient) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	payload := chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONOutput {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrLLMFailed, err)
	}

	var (
		respBody []byte
		lastErr  error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.observe(req.Purpose, "timeout")
				return "", apperrors.ErrLLMTimeout
			}
		}

		var retry bool
		respBody, retry, lastErr = c.do(ctx, body)
		if lastErr == nil || !retry {
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("LLM request failed, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"purpose": req.Purpose,
			"error":   lastErr.Error(),
		})
	}

	if lastErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(lastErr) {
			c.observe(req.Purpose, "timeout")
			return "", apperrors.ErrLLMTimeout
		}
		c.observe(req.Purpose, "error")
		return "", fmt.Errorf("%w: %v", apperrors.ErrLLMFailed, lastErr)
	}

	content := gjson.GetBytes(respBody, "choices.0.message.content")
	if !content.Exists() {
		c.observe(req.Purpose, "error")
		return "", fmt.Errorf("%w: response has no choices", apperrors.ErrLLMFailed)
	}
	c.observe(req.Purpose, "ok")
	return content.String(), nil
}

func (c *LLMClient) do(ctx context.Context, body []byte) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retryableStatus(resp.StatusCode), fmt.Errorf("status %d: %s", resp.StatusCode, gjson.GetBytes(data, "error.message").String())
	}
	return data, false, nil
}

func (c *LLMClient) observe(purpose, result string) {
	metrics.LLMRequests.WithLabelValues(purpose, result).Inc()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// EvolutionClient relays text messages through an Evolution API server.
// Agents may override the server URL and key; the configured values are the
// platform defaults.
type EvolutionClient struct {
	defaultURL string
	defaultKey string
	client     *http.Client
}

func NewEvolutionClient(cfg config.GatewayConfig) *EvolutionClient {
	return &EvolutionClient{
		defaultURL: strings.TrimRight(cfg.EvolutionURL, "/"),
		defaultKey: cfg.EvolutionKey,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

type sendTextRequest struct {
	Number      string      `json:"number"`
	TextMessage textMessage `json:"textMessage"`
}

type textMessage struct {
	Text string `json:"text"`
}

func (e *EvolutionClient) Send(ctx context.Context, msg entities.OutboundMessage) error {
	if msg.Agent == nil {
		return fmt.Errorf("%w: no agent", apperrors.ErrGatewayFailed)
	}
	baseURL, apiKey := e.defaultURL, e.defaultKey
	if msg.Agent.EvolutionAPIURL != "" {
		baseURL = strings.TrimRight(msg.Agent.EvolutionAPIURL, "/")
	}
	if msg.Agent.EvolutionAPIKey != "" {
		apiKey = msg.Agent.EvolutionAPIKey
	}
	if baseURL == "" || msg.Agent.EvolutionInstanceID == "" {
		return fmt.Errorf("%w: agent %s has no evolution instance", apperrors.ErrGatewayFailed, msg.Agent.ID)
	}

	data, err := json.Marshal(sendTextRequest{Number: msg.Phone, TextMessage: textMessage{Text: msg.Text}})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/message/sendText/%s", baseURL, msg.Agent.EvolutionInstanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrGatewayFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: evolution status %d", apperrors.ErrGatewayFailed, resp.StatusCode)
	}
	return nil
}

// NativeSender delivers through an in-process WhatsApp session.
type NativeSender interface {
	SendText(ctx context.Context, agentID, phone, text string) error
}

// GatewayRouter picks the transport configured on the agent.
type GatewayRouter struct {
	evolution *EvolutionClient
	native    NativeSender
	logger    logger.Logger
}

func NewGatewayRouter(evolution *EvolutionClient, native NativeSender, log logger.Logger) *GatewayRouter {
	return &GatewayRouter{evolution: evolution, native: native, logger: log}
}

func (g *GatewayRouter) Send(ctx context.Context, msg entities.OutboundMessage) error {
	transport := string(entities.GatewayEvolution)
	var err error
	if msg.Agent != nil && msg.Agent.GatewayKind == entities.GatewayNative {
		transport = string(entities.GatewayNative)
		if g.native == nil {
			err = fmt.Errorf("%w: native gateway disabled", apperrors.ErrGatewayFailed)
		} else {
			err = g.native.SendText(ctx, msg.Agent.ID, msg.Phone, msg.Text)
		}
	} else {
		err = g.evolution.Send(ctx, msg)
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GatewayRelays.WithLabelValues(transport, result).Inc()
	return err
}
