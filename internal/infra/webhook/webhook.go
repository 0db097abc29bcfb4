// Package webhook delivers domain events to configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/adapter"
	"payportal/internal/infra/metrics"
	"payportal/internal/infra/worker"
)

const (
	HeaderEvent     = "X-PayPortal-Event"
	HeaderTimestamp = "X-PayPortal-Timestamp"
	HeaderSignature = "X-PayPortal-Signature"
)

type Endpoint struct {
	URL    string
	Secret string
	Events []model.EventType // empty = all
}

func (e Endpoint) wants(t model.EventType) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == t {
			return true
		}
	}
	return false
}

type Options struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration // doubled after each failed attempt
}

// Dispatcher signs and posts events on a worker pool.
type Dispatcher struct {
	endpoints []Endpoint
	pool      *worker.Pool
	client    *http.Client
	opts      Options
	log       *zerolog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

var _ adapter.EventPublisher = (*Dispatcher)(nil)

func NewDispatcher(endpoints []Endpoint, pool *worker.Pool, opts Options, logger *zerolog.Logger) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	lg := logger.With().Str("component", "WebhookDispatcher").Logger()
	return &Dispatcher{
		endpoints: endpoints,
		pool:      pool,
		client:    &http.Client{Timeout: opts.Timeout},
		opts:      opts,
		log:       &lg,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Publish queues one delivery per interested endpoint and returns at once.
// Events are dropped when the queue is full.
func (d *Dispatcher) Publish(_ context.Context, e model.Event) {
	if len(d.endpoints) == 0 {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		d.log.Error().Err(err).Str("event", string(e.Type)).Msg("marshal event")
		return
	}
	for _, ep := range d.endpoints {
		if !ep.wants(e.Type) {
			continue
		}
		err := d.pool.Submit(func(ctx context.Context) error {
			return d.Deliver(ctx, ep, e.Type, body)
		})
		if err != nil {
			metrics.IncWebhookDelivery(string(e.Type), "dropped")
			d.log.Warn().Err(err).Str("event", string(e.Type)).Str("url", ep.URL).Msg("webhook dropped")
		}
	}
}

// Deliver posts body to ep, retrying non-2xx answers and transport errors.
func (d *Dispatcher) Deliver(ctx context.Context, ep Endpoint, event model.EventType, body []byte) error {
	wait := d.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		lastErr = d.post(ctx, ep, event, body)
		if lastErr == nil {
			metrics.IncWebhookDelivery(string(event), "ok")
			return nil
		}
		d.log.Debug().Err(lastErr).Int("attempt", attempt).Str("url", ep.URL).Msg("webhook attempt failed")
		if attempt == d.opts.MaxAttempts {
			break
		}
		metrics.IncWebhookDelivery(string(event), "retry")
		if err := d.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
		wait *= 2
	}
	metrics.IncWebhookDelivery(string(event), "failed")
	return fmt.Errorf("deliver %s to %s: %w", event, ep.URL, lastErr)
}

func (d *Dispatcher) post(ctx context.Context, ep Endpoint, event model.EventType, body []byte) error {
	ts := strconv.FormatInt(d.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event))
	req.Header.Set(HeaderTimestamp, ts)
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(ep.Secret, ts, body))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns "sha256=<hex>" of HMAC-SHA256(secret, timestamp + "." + body).
func Sign(secret, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte{'.'})
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

var ErrBadSignature = errors.New("webhook signature mismatch")

// VerifySignature checks a received delivery. maxSkew <= 0 disables the
// timestamp window.
func VerifySignature(secret, timestamp, signature string, body []byte, maxSkew time.Duration, now time.Time) error {
	if maxSkew > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrBadSignature
		}
		if skew := now.Sub(time.Unix(sec, 0)); skew > maxSkew || skew < -maxSkew {
			return ErrBadSignature
		}
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return ErrBadSignature
	}
	want := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
