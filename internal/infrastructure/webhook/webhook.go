// Package webhook delivers platform events to third-party endpoints: every
// registered hook gets an HMAC-signed POST per matching event, retried with
// the reference implementation's exponential schedule (1s, 2s, 4s, 8s,
// capped at 30s) via pkg/retry.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/infrastructure/eventbus"
	"rillnet/pkg/circuitbreaker"
	"rillnet/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config is one registered webhook endpoint.
type Config struct {
	ID        string
	URL       string
	Secret    string
	Events    []domain.EventType // empty means "subscribe to everything"
	Active    bool
	CreatedAt time.Time
}

// Accepts reports whether this webhook should receive the given event type.
func (c Config) Accepts(eventType domain.EventType) bool {
	if !c.Active {
		return false
	}
	if len(c.Events) == 0 {
		return true
	}
	for _, et := range c.Events {
		if et == eventType {
			return true
		}
	}
	return false
}

// Store is a thread-safe registry of webhook configurations.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]Config
}

func NewStore() *Store { return &Store{byID: map[string]Config{}} }

func (s *Store) Insert(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cfg.ID] = cfg
}

func (s *Store) Get(id string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.byID[id]
	return cfg, ok
}

func (s *Store) List() []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Config, 0, len(s.byID))
	for _, cfg := range s.byID {
		out = append(out, cfg)
	}
	return out
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

// Matching returns every active webhook subscribed to eventType.
func (s *Store) Matching(eventType domain.EventType) []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Config
	for _, cfg := range s.byID {
		if cfg.Accepts(eventType) {
			out = append(out, cfg)
		}
	}
	return out
}

// NewID mints a webhook ID in the "wh_<uuid>" shape.
func NewID() string { return "wh_" + uuid.NewString() }

// NewSecret mints a signing secret in the "whsec_<uuid>" shape, returned to
// the caller exactly once at registration time.
func NewSecret() string { return "whsec_" + uuid.NewString() }

// Sign computes the HMAC-SHA256 signature over "{timestamp}.{body}", hex
// encoded.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret string, timestamp int64, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// retryConfig matches the reference schedule: immediate, then 1s·2s·4s·8s
// capped at 30s, five attempts total.
func retryConfig() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

// nonRetryableStatus carries a non-2xx response status as an error. It is not
// listed in retryConfig's NonRetryableErrors, so pkg/retry.Retry retries every
// non-2xx response (4xx included) on the same schedule as a transport error.
type nonRetryableStatus struct{ status int }

func (e *nonRetryableStatus) Error() string { return fmt.Sprintf("webhook: HTTP %d", e.status) }

// DeliveryRecorder receives delivery outcome counts; monitoring.PrometheusCollector
// satisfies this.
type DeliveryRecorder interface {
	RecordWebhookDelivered()
	RecordWebhookFailed()
}

// Dispatcher subscribes to the event bus and fans every matching event out
// to its registered webhooks, each delivered (and retried) independently.
type Dispatcher struct {
	Store   *Store
	Bus     *eventbus.Bus
	Client  *http.Client
	Logger  *zap.SugaredLogger
	Metrics DeliveryRecorder

	recv     *eventbus.Receiver
	breakers sync.Map // hook ID -> *circuitbreaker.CircuitBreaker
}

func NewDispatcher(store *Store, bus *eventbus.Bus, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		Store:  store,
		Bus:    bus,
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: logger,
	}
}

// breakerFor returns the per-endpoint circuit breaker, creating one on
// first use — a repeatedly failing endpoint trips its own breaker without
// affecting delivery to any other registered webhook.
func (d *Dispatcher) breakerFor(hookID string) *circuitbreaker.CircuitBreaker {
	if cb, ok := d.breakers.Load(hookID); ok {
		return cb.(*circuitbreaker.CircuitBreaker)
	}
	cb, _ := d.breakers.LoadOrStore(hookID, circuitbreaker.New(circuitbreaker.DefaultConfig()))
	return cb.(*circuitbreaker.CircuitBreaker)
}

// Run subscribes to the bus and dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.recv = d.Bus.Subscribe()
	defer d.recv.Unsubscribe()

	d.Logger.Infow("webhook dispatcher started")
	done := ctx.Done()

	for {
		delivery, ok := d.recv.Recv(done)
		if !ok {
			d.Logger.Infow("webhook dispatcher shutting down")
			return
		}
		if delivery.Lagged != nil {
			d.Logger.Warnw("webhook dispatcher lagged", "skipped", delivery.Lagged.N)
			continue
		}
		d.dispatch(ctx, *delivery.Event)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event domain.LiveRelayEvent) {
	hooks := d.Store.Matching(event.Type)
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		d.Logger.Errorw("webhook: event serialization failed", "event_id", event.ID, "err", err)
		return
	}

	for _, hook := range hooks {
		hook := hook
		go d.deliver(ctx, hook, event, body)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, hook Config, event domain.LiveRelayEvent, body []byte) {
	timestamp := time.Now().Unix()
	signature := Sign(hook.Secret, timestamp, body)

	attempts := 0
	breaker := d.breakerFor(hook.ID)
	err := breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, retryConfig(), func() error {
			attempts++
			status, err := d.post(ctx, hook, event, body, timestamp, signature)
			if err != nil {
				return err
			}
			if status >= 200 && status < 300 {
				return nil
			}
			return &nonRetryableStatus{status: status}
		})
	})

	if err != nil {
		d.Logger.Errorw("webhook delivery exhausted retries",
			"webhook_id", hook.ID, "event_id", event.ID, "attempts", attempts, "err", err)
		if d.Metrics != nil {
			d.Metrics.RecordWebhookFailed()
		}
		return
	}

	d.Logger.Infow("webhook delivered", "webhook_id", hook.ID, "event_id", event.ID, "attempts", attempts)
	if d.Metrics != nil {
		d.Metrics.RecordWebhookDelivered()
	}
}

func (d *Dispatcher) post(ctx context.Context, hook Config, event domain.LiveRelayEvent, body []byte, timestamp int64, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-LiveRelay-Signature", signature)
	req.Header.Set("X-LiveRelay-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-LiveRelay-Event", string(event.Type))
	req.Header.Set("X-LiveRelay-Delivery", event.ID)
	req.Header.Set("User-Agent", "rillnet-webhook/1.0")

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
