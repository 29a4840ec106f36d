package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/eventrhq/eventr/internal/signature"
	"github.com/eventrhq/eventr/internal/tracing"
)

const (
	HeaderSignature = "X-Eventr-Signature"
	HeaderEventID   = "X-Eventr-Event-Id"
	HeaderEventType = "X-Eventr-Event-Type"
	HeaderAttempt   = "X-Eventr-Delivery-Attempt"

	// maxSnippet caps how much of the subscriber response lands in the ledger.
	maxSnippet = 512
)

// SendResult is the raw outcome of one HTTP POST to a subscriber.
type SendResult struct {
	Status  int
	Snippet string
	Err     error
	Latency time.Duration
}

// OK reports a 2xx response with no transport error.
func (r SendResult) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// Sender signs and POSTs delivery tasks. The HTTP client's connection pool is
// shared across all subscriptions with a per-host cap, so one slow endpoint
// cannot drain connections from healthy ones.
type Sender struct {
	client *http.Client
}

// NewSender builds a sender with the given request timeout and per-host
// connection cap.
func NewSender(timeout time.Duration, maxConnsPerHost int) *Sender {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = maxConnsPerHost
	return &Sender{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Send signs the task body and POSTs it to the subscription URL. The body
// bytes are used as-is; the signature covers exactly what goes on the wire.
func (s *Sender) Send(ctx context.Context, t Task) SendResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(t.Body))
	if err != nil {
		return SendResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature.Header(t.Secret, t.Body))
	req.Header.Set(HeaderEventID, t.EventID.String())
	req.Header.Set(HeaderEventType, string(t.EventType))
	req.Header.Set(HeaderAttempt, strconv.Itoa(t.Attempt))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return SendResult{Err: err, Latency: latency}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxSnippet))
	return SendResult{
		Status:  resp.StatusCode,
		Snippet: string(snippet),
		Latency: latency,
	}
}
