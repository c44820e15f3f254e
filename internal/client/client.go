// Package client implements the intent backend wire contract: JSON over
// HTTP(S) with an API key on every request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/intent-sensor/internal/config"
	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// APIKeyHeader carries the API key.
	APIKeyHeader = "X-API-Key"
	// RequestIDHeader carries a per-request correlation id.
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 4 << 10
	tracerName   = "github.com/ashureev/intent-sensor/internal/client"
)

// ErrMissingConversation is returned when a chat call has no conversation id.
var ErrMissingConversation = errors.New("conversation id required")

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// ChatStart is the result of starting a conversation.
type ChatStart struct {
	ConversationID string
	InitialMessage string
}

// Reply is a bot reply to a visitor message.
type Reply struct {
	Text    string
	Buttons []domain.Button
}

// Client talks to the intent backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracerProvider sets the tracer provider used for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// New creates a client for the backend at baseURL.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// NewFromConfig creates a client from application configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	base := []Option{WithHTTPClient(&http.Client{Timeout: cfg.API.RequestTimeout})}
	return New(cfg.API.BaseURL, cfg.API.Key, append(base, opts...)...)
}

// InitSession announces a session to the backend.
func (c *Client) InitSession(ctx context.Context, sessionID string, pageType domain.PageType) error {
	return c.do(ctx, http.MethodPost, "tracking_init", "/tracking/init", InitRequest{
		SessionID: sessionID,
		PageType:  pageType,
		Timestamp: c.timestamp(),
	}, nil)
}

// SendSignal ships one behavioral signal.
func (c *Client) SendSignal(ctx context.Context, sig domain.Signal) error {
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	data := sig.Data
	if data == nil {
		data = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, "tracking_signal", "/tracking/signal", SignalRequest{
		SessionID:  sig.SessionID,
		SignalType: sig.Type,
		Data:       data,
		PageType:   sig.PageType,
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
	}, nil)
}

// CheckIntentStatus fetches the latest intent status of a session.
func (c *Client) CheckIntentStatus(ctx context.Context, sessionID string) (domain.IntentStatus, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "tracking_status", "/tracking/status/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return domain.IntentStatus{}, err
	}
	return domain.IntentStatus{
		ThresholdCrossed: resp.ThresholdCrossed,
		IntentType:       resp.IntentType,
		Confidence:       resp.Confidence,
	}.Normalize(), nil
}

// StartChat creates the conversation of a session.
func (c *Client) StartChat(ctx context.Context, sessionID string, intentType domain.IntentType) (ChatStart, error) {
	var resp StartChatResponse
	if err := c.do(ctx, http.MethodPost, "chat_start", "/chat/start", StartChatRequest{
		SessionID:  sessionID,
		IntentType: intentType,
	}, &resp); err != nil {
		return ChatStart{}, err
	}
	if resp.ConversationID == "" {
		return ChatStart{}, fmt.Errorf("chat_start: %w", ErrMissingConversation)
	}
	return ChatStart{ConversationID: resp.ConversationID, InitialMessage: resp.InitialMessage}, nil
}

// SendMessage forwards a visitor message and returns the bot reply.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string, isButton bool) (Reply, error) {
	if conversationID == "" {
		return Reply{}, ErrMissingConversation
	}
	var resp MessageResponse
	if err := c.do(ctx, http.MethodPost, "chat_message", "/chat/message", MessageRequest{
		ConversationID: conversationID,
		Message:        text,
		IsButton:       isButton,
		Timestamp:      c.timestamp(),
	}, &resp); err != nil {
		return Reply{}, err
	}
	return Reply{Text: resp.Reply, Buttons: resp.Buttons}, nil
}

// GetConversation returns the full history of a conversation.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	if conversationID == "" {
		return domain.Conversation{}, ErrMissingConversation
	}
	var conv domain.Conversation
	if err := c.do(ctx, http.MethodGet, "chat_conversation", "/chat/conversation/"+url.PathEscape(conversationID), nil, &conv); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// GetContext returns the session and conversation context of a session.
func (c *Client) GetContext(ctx context.Context, sessionID string) (ChatContext, error) {
	var out ChatContext
	if err := c.do(ctx, http.MethodGet, "chat_context", "/chat/context/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return ChatContext{}, err
	}
	return out, nil
}

// Escalate asks the backend to hand the conversation to a human.
func (c *Client) Escalate(ctx context.Context, conversationID, reason string) error {
	if conversationID == "" {
		return ErrMissingConversation
	}
	return c.do(ctx, http.MethodPost, "chat_escalate", "/chat/escalate", EscalateRequest{
		ConversationID: conversationID,
		Reason:         reason,
	}, nil)
}

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, body, out any) (err error) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "intent.api."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
			attribute.String("intent.request_id", requestID),
		),
	)
	outcome := "ok"
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.ObserveRequest(endpoint, outcome, time.Since(start))
	}()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			outcome = "encode_error"
			return fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		outcome = "encode_error"
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set(RequestIDHeader, requestID)

	c.logger.Debug("intent api request", "method", method, "endpoint", endpoint, "request_id", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "transport_error"
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "endpoint", endpoint, "error", closeErr)
		}
	}()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = "http_error"
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		outcome = "decode_error"
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}
