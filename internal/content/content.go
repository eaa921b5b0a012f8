// Package content generates the one-shot business content shown on the
// non-voice screens: group-buy deals, supplier matches, market gossip, social
// and WhatsApp post manifests, and customer auto-replies.
//
// Every operation is a single prompt-in, JSON-out completion. Failures never
// reach the caller: a transport error, a timeout or an unparseable answer is
// logged and counted, and the operation returns its deterministic fallback.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/simi/internal/observe"
	"github.com/MrWong99/simi/pkg/provider/llm"
)

// defaultTimeout bounds a single content request, including failover.
const defaultTimeout = 30 * time.Second

// ErrNoProvider is reported internally when no LLM is configured.
var ErrNoProvider = errors.New("content: no llm provider configured")

// ParseError reports model output that does not match the requested shape.
type ParseError struct {
	Op  string
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("content: %s: parse response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Option configures a [Helper].
type Option func(*Helper)

// WithInstructions sets the persona used by the free-text operations.
func WithInstructions(s string) Option {
	return func(h *Helper) { h.instructions = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Helper) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Helper) {
		if l != nil {
			h.log = l
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(h *Helper) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Helper runs the content operations against an llm.Provider, usually a
// resilience.LLMFallback. It is safe for concurrent use.
type Helper struct {
	provider     llm.Provider
	instructions string
	metrics      *observe.Metrics
	log          *slog.Logger
	timeout      time.Duration
}

// New returns a Helper. A nil provider makes every operation return its
// fallback.
func New(p llm.Provider, opts ...Option) *Helper {
	h := &Helper{
		provider: p,
		metrics:  observe.DefaultMetrics(),
		log:      slog.Default(),
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// complete sends req and returns the raw answer text.
func (h *Helper) complete(ctx context.Context, op string, req llm.Request) (string, error) {
	if h.provider == nil {
		return "", ErrNoProvider
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	name := h.provider.Name()
	start := time.Now()
	resp, err := h.provider.Complete(ctx, req)
	h.metrics.ContentDuration.Record(ctx, time.Since(start).Seconds(),
		metricOpts(op)...)
	if err != nil {
		h.metrics.RecordProviderRequest(ctx, name, "llm", "error")
		h.metrics.RecordProviderError(ctx, name, "llm")
		return "", fmt.Errorf("content: %s: %w", op, err)
	}
	h.metrics.RecordProviderRequest(ctx, name, "llm", "ok")
	return resp.Text, nil
}

// run executes op and decodes the answer with parse. Any error is logged and
// replaced by fallback.
func run[T any](ctx context.Context, h *Helper, op string, req llm.Request, parse func(string) (T, error), fallback T) T {
	ctx, span := observe.StartSpan(ctx, "content."+op)
	text, err := h.complete(ctx, op, req)
	var out T
	if err == nil {
		out, err = parse(text)
		if err != nil {
			err = &ParseError{Op: op, Raw: text, Err: err}
		}
	}
	observe.EndSpan(span, err)
	if err != nil {
		observe.LoggerFrom(ctx, h.log).Warn("content: using fallback", "op", op, "err", err)
		return fallback
	}
	return out
}

// decodeJSON unmarshals model output into T, tolerating a surrounding
// markdown code fence.
func decodeJSON[T any](text string) (T, error) {
	var v T
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if text == "" {
		return v, llm.ErrEmptyResponse
	}
	err := json.Unmarshal([]byte(text), &v)
	return v, err
}

func plainText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}
