package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/subscription"
)

// MaxResponseBody caps the response body kept for the audit log.
const MaxResponseBody = 10 * 1024

// drainLimit bounds how much of an oversized body is discarded to keep the
// connection reusable.
const drainLimit = 256 * 1024

// Header names set on every delivery.
const (
	HeaderContentType = "Content-Type"
	HeaderUserAgent   = "User-Agent"
	HeaderEvent       = "X-Webhook-Event"
	HeaderSignature   = "X-Webhook-Signature"
	HeaderTimestamp   = "X-Webhook-Timestamp"
	HeaderAttempt     = "X-Webhook-Attempt"
)

var reservedHeaders = map[string]bool{
	HeaderContentType: true,
	HeaderUserAgent:   true,
	HeaderEvent:       true,
	HeaderSignature:   true,
	HeaderTimestamp:   true,
	HeaderAttempt:     true,
}

// Request describes one delivery of an encoded payload.
type Request struct {
	Kind      event.Kind
	Body      []byte
	Attempt   int
	Timestamp time.Time
}

// Envelope is a fully prepared outbound request.
type Envelope struct {
	URL       string
	Headers   http.Header
	Body      []byte
	Signature string
}

// HeaderMap flattens the headers for the audit snapshot.
func (e *Envelope) HeaderMap() map[string]string {
	out := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// Result holds the outcome of a single delivery call.
type Result struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	LatencyMs  int    `json:"latency_ms"`
	Err        *Error `json:"-"`
}

// OK reports whether the receiver acknowledged with a 2xx.
func (r Result) OK() bool { return r.Err == nil }

// ErrorString returns the failure description, or "".
func (r Result) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ErrorClass returns the failure class, or "".
func (r Result) ErrorClass() string {
	if r.Err == nil {
		return ""
	}
	return string(r.Err.Class)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Product names the sender in the User-Agent header.
	Product string

	// MaxResponseBody overrides the response capture cap.
	MaxResponseBody int

	// Client is the shared HTTP client. Per-call deadlines come from the
	// request context, so the client itself should carry no timeout.
	Client *http.Client
}

// Dispatcher performs one signed, timeout-bounded HTTP call per Send and
// classifies the outcome. It never touches subscription or log state.
type Dispatcher struct {
	client    *http.Client
	userAgent string
	maxBody   int
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	product := cfg.Product
	if product == "" {
		product = "Herald"
	}
	maxBody := cfg.MaxResponseBody
	if maxBody <= 0 {
		maxBody = MaxResponseBody
	}
	return &Dispatcher{
		client:    client,
		userAgent: product + "/1.0",
		maxBody:   maxBody,
		logger:    logger,
	}
}

// Prepare signs req.Body for sub and assembles the outbound headers.
// The returned error, if any, is a *Error of class signature or configuration.
func (d *Dispatcher) Prepare(ctx context.Context, sub *subscription.Subscription, req Request) (*Envelope, error) {
	if sub.Secret == "" {
		return nil, &Error{Class: ClassSignature, Err: errors.New("subscription has no signing secret")}
	}
	if err := sub.Validate(); err != nil {
		return nil, &Error{Class: ClassConfiguration, Err: err}
	}

	sig := signature.Sign(req.Body, sub.Secret)

	h := make(http.Header)
	for _, k := range sortedKeys(sub.CustomHeaders) {
		name := http.CanonicalHeaderKey(strings.TrimSpace(k))
		if reservedHeaders[name] {
			d.logger.DebugContext(ctx, "custom header dropped: reserved name",
				"subscription_id", sub.ID, "header", name)
			continue
		}
		v := sub.CustomHeaders[k]
		if !validHeader(name, v) {
			d.logger.DebugContext(ctx, "custom header dropped: invalid",
				"subscription_id", sub.ID, "header", name)
			continue
		}
		h.Set(name, v)
	}

	h.Set(HeaderContentType, "application/json")
	h.Set(HeaderUserAgent, d.userAgent)
	h.Set(HeaderEvent, string(req.Kind))
	h.Set(HeaderSignature, sig)
	h.Set(HeaderTimestamp, req.Timestamp.UTC().Format(time.RFC3339))
	h.Set(HeaderAttempt, strconv.Itoa(req.Attempt))

	return &Envelope{
		URL:       sub.TargetURL,
		Headers:   h,
		Body:      req.Body,
		Signature: sig,
	}, nil
}

// Send performs the HTTP call for env, bounded by timeout.
func (d *Dispatcher) Send(ctx context.Context, timeout time.Duration, env *Envelope) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.URL, bytes.NewReader(env.Body))
	if err != nil {
		return Result{Err: &Error{Class: ClassConfiguration, Err: fmt.Errorf("create request: %w", err)}}
	}
	req.Header = env.Headers.Clone()

	start := time.Now()
	resp, err := d.client.Do(req) //nolint:gosec // G704: URL is a tenant-configured webhook destination.
	if err != nil {
		return Result{
			LatencyMs: int(time.Since(start).Milliseconds()),
			Err:       classify(err),
		}
	}
	defer resp.Body.Close()

	body := d.readBody(resp.Body)
	res := Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		LatencyMs:  int(time.Since(start).Milliseconds()),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = &Error{Class: ClassHTTP, StatusCode: resp.StatusCode}
	}
	return res
}

// Deliver prepares and sends in one step.
func (d *Dispatcher) Deliver(ctx context.Context, sub *subscription.Subscription, req Request) Result {
	env, err := d.Prepare(ctx, sub, req)
	if err != nil {
		var de *Error
		errors.As(err, &de)
		return Result{Err: de}
	}
	return d.Send(ctx, sub.RetryPolicy.Timeout(), env)
}

// readBody keeps at most maxBody bytes and drains a bounded remainder.
// Read errors after the headers arrived do not change the outcome.
func (d *Dispatcher) readBody(r io.Reader) string {
	buf, _ := io.ReadAll(io.LimitReader(r, int64(d.maxBody)))
	if len(buf) == d.maxBody {
		_, _ = io.Copy(io.Discard, io.LimitReader(r, drainLimit))
		buf = trimPartialRune(buf)
	}
	return string(buf)
}

func classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: ClassTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Class: ClassTimeout, Err: err}
	}
	return &Error{Class: ClassNetwork, Err: err}
}

// trimPartialRune drops a multi-byte sequence cut off by truncation.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}

func validHeader(name, value string) bool {
	if name == "" || strings.ContainsAny(name, " \t\r\n:") {
		return false
	}
	return !strings.ContainsAny(value, "\r\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
