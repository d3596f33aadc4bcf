package jobs

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Kind names a job type. Every kind has exactly one handler.
type Kind string

const (
	KindDocument  Kind = "process_document"
	KindPage      Kind = "process_page"
	KindAssemble  Kind = "assemble_results"
	KindReconcile Kind = "reconcile"
)

// Routing keys, one stream each.
const (
	RouteDocuments   = "documents"
	RoutePages       = "pages"
	RouteMaintenance = "maintenance"
)

// RoutingKey picks the stream a kind is published to.
func (k Kind) RoutingKey() string {
	switch k {
	case KindPage:
		return RoutePages
	case KindReconcile:
		return RouteMaintenance
	default:
		return RouteDocuments
	}
}

// Tracked reports whether jobs of this kind get a pending record. The
// periodic reconcile job is fire-and-forget.
func (k Kind) Tracked() bool { return k != KindReconcile }

// RetryPolicy is expressed in seconds.
type RetryPolicy struct {
	MaxRetries    int     `json:"max_retries"`
	IntervalStart float64 `json:"interval_start"`
	IntervalStep  float64 `json:"interval_step"`
	IntervalMax   float64 `json:"interval_max"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, IntervalStart: 0, IntervalStep: 0.2, IntervalMax: 1}
}

// Delay before retry number attempt (0-based): start + step*attempt, capped
// at max.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	s := p.IntervalStart + p.IntervalStep*float64(attempt)
	if p.IntervalMax > 0 {
		s = math.Min(s, p.IntervalMax)
	}
	if s < 0 {
		s = 0
	}
	return time.Duration(s * float64(time.Second))
}

// Envelope is the typed job body carried on the queue.
type Envelope struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	RequestID   string            `json:"request_id,omitempty"`
	Attempt     int               `json:"attempt"`
	RetryPolicy RetryPolicy       `json:"retry_policy"`
	LogContext  map[string]string `json:"log_context,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
}

// New builds an envelope with a random id. Use WithID for deterministic ids.
func New(kind Kind, requestID string, payload any) (*Envelope, error) {
	env := &Envelope{ID: uuid.NewString(), Kind: kind, RequestID: requestID, RetryPolicy: DefaultRetryPolicy()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return env, nil
}

func (e *Envelope) WithID(id string) *Envelope {
	e.ID = id
	return e
}

func (e *Envelope) WithRetry(p RetryPolicy) *Envelope {
	e.RetryPolicy = p
	return e
}

func (e *Envelope) WithLogContext(fields map[string]string) *Envelope {
	if len(fields) > 0 {
		e.LogContext = fields
	}
	return e
}

// Bind decodes the payload into v.
func (e *Envelope) Bind(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s job %s has no payload", e.Kind, e.ID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// AttemptsLeft reports whether another retry is allowed.
func (e *Envelope) AttemptsLeft() bool { return e.Attempt < e.RetryPolicy.MaxRetries }

func Encode(e *Envelope) ([]byte, error) { return json.Marshal(e) }

func Decode(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.ID == "" || e.Kind == "" {
		return nil, fmt.Errorf("decode envelope: missing id or kind")
	}
	return &e, nil
}
