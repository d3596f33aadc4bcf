// Package callback tells the caller a request reached a final status.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	redis "github.com/redis/go-redis/v9"

	"github.com/local/textpipeline/internal/logger"
	"github.com/local/textpipeline/internal/metrics"
	"github.com/local/textpipeline/internal/request"
)

type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// Dispatcher delivers RequestStatus to the webhook and the secondary queue
// named in the request's CallbackInfo. Delivery is best effort: errors are
// logged and never returned to the pipeline.
type Dispatcher struct {
	cfg  Config
	http *http.Client

	mu      sync.Mutex
	brokers map[string]*redis.Client
}

func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	return &Dispatcher{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		brokers: make(map[string]*redis.Client),
	}
}

// Deliver attempts both channels independently.
func (d *Dispatcher) Deliver(ctx context.Context, info request.CallbackInfo, status request.RequestStatus) {
	l := logger.From(ctx).With().Str("request_id", status.RequestID).Str("status", string(status.Status)).Logger()
	body, err := json.Marshal(status)
	if err != nil {
		l.Error().Err(err).Msg("cannot encode callback status")
		return
	}
	if info.WebhookURL != "" {
		err := d.postWebhook(ctx, info.WebhookURL, body)
		metrics.IncCallback("webhook", err == nil)
		if err != nil {
			l.Error().Err(err).Str("url", info.WebhookURL).Msg("webhook callback failed")
		} else {
			l.Info().Str("url", info.WebhookURL).Msg("webhook callback delivered")
		}
	}
	if info.Broker != "" && info.Queue != "" {
		err := d.publish(ctx, info, body)
		metrics.IncCallback("queue", err == nil)
		if err != nil {
			l.Error().Err(err).Str("queue", info.Queue).Msg("queue callback failed")
		} else {
			l.Info().Str("queue", info.Queue).Msg("queue callback delivered")
		}
	}
}

func (d *Dispatcher) postWebhook(ctx context.Context, url string, body []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.BaseBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		default:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
	}
	return backoff.Retry(op, policy)
}

func (d *Dispatcher) broker(url string) (*redis.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.brokers[url]; ok {
		return c, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	c := redis.NewClient(opt)
	d.brokers[url] = c
	return c, nil
}

// publish adds a task message to the caller's stream carrying the
// correlation ids it gave at submit time.
func (d *Dispatcher) publish(ctx context.Context, info request.CallbackInfo, status []byte) error {
	c, err := d.broker(info.Broker)
	if err != nil {
		return err
	}
	kwargs, err := json.Marshal(map[string]json.RawMessage{"request_status": status})
	if err != nil {
		return err
	}
	values := map[string]any{
		"task":      info.TaskName,
		"id":        info.TaskID,
		"parent_id": info.ParentTaskID,
		"root_id":   info.RootTaskID,
		"kwargs":    string(kwargs),
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return c.XAdd(ctx, &redis.XAddArgs{Stream: info.Queue, Values: values}).Err()
}

func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for url, c := range d.brokers {
		_ = c.Close()
		delete(d.brokers, url)
	}
	return nil
}
