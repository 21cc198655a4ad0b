package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github/chapool/go-keyring/internal/config"
	"github/chapool/go-keyring/internal/hwerrors"
	"github/chapool/go-keyring/internal/util"
	"golang.org/x/sync/singleflight"
)

const (
	defaultInitTimeout          = 5 * time.Second
	defaultInitFailureThreshold = 5
	defaultInitCooldown         = 30 * time.Second
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateReinitializing
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateReinitializing:
		return "reinitializing"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type callback func(msg *InboundMessage)

// Bridge correlates outbound messages with inbound responses by message id.
// All state (pending callbacks, connectivity, channel) belongs to one Bridge
// value and lives as long as its channel.
type Bridge struct {
	cfg     config.BridgeConfig
	vendor  hwerrors.Vendor
	dialer  Dialer
	metrics *metrics
	log     zerolog.Logger

	initGroup singleflight.Group
	breaker   *gobreaker.CircuitBreaker

	// writeMu orders id assignment and dispatch.
	writeMu sync.Mutex
	nextID  int64

	mu        sync.Mutex
	state     State
	target    string
	conn      Conn
	pending   map[int64]callback
	connected bool
	listeners []func(connected bool)
}

func New(cfg config.BridgeConfig, dialer Dialer, registerer prometheus.Registerer) (*Bridge, error) {
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}

	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}

	b := &Bridge{
		cfg:     cfg,
		vendor:  hwerrors.Vendor(cfg.Vendor),
		dialer:  dialer,
		metrics: m,
		log:     log.With().Str("component", "bridge").Logger(),
		state:   StateUninitialized,
		target:  cfg.Target,
		pending: make(map[int64]callback),
	}
	b.breaker = newBreaker(cfg, b.log)

	return b, nil
}

// newBreaker guards channel setup. After the configured number of consecutive
// failed connects, further connects fail without dialing until the cooldown
// has passed and one probe succeeds.
func newBreaker(cfg config.BridgeConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.InitFailureThreshold
	if threshold == 0 {
		threshold = defaultInitFailureThreshold
	}

	cooldown := cfg.InitCooldown
	if cooldown <= 0 {
		cooldown = defaultInitCooldown
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bridge",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Bridge circuit state changed")
		},
	})
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *Bridge) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.target
}

func (b *Bridge) Vendor() hwerrors.Vendor {
	return b.vendor
}

// IsConnected reports the device connectivity last announced by the channel.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.connected
}

// OnConnectivityChange registers fn to be called on every connectivity change.
func (b *Bridge) OnConnectivityChange(fn func(connected bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = append(b.listeners, fn)
}

// Init establishes the channel. Concurrent callers share one attempt. A failed
// attempt is logged and the next Send retries.
func (b *Bridge) Init(ctx context.Context) {
	if err := b.ensureReady(ctx); err != nil {
		util.LogFromContext(ctx).Warn().Err(err).Str("target", b.Target()).Msg("Bridge initialization failed, will retry on next request")
	}
}

func (b *Bridge) ensureReady(ctx context.Context) error {
	switch b.State() {
	case StateReady:
		return nil
	case StateDestroyed:
		return hwerrors.New(hwerrors.Options{
			Code:    hwerrors.CodeConnectionClosed,
			Message: "bridge has been destroyed",
			Vendor:  b.vendor,
		})
	case StateUninitialized, StateInitializing, StateReinitializing:
	}

	_, err, _ := b.initGroup.Do("init", func() (any, error) {
		return nil, b.connect(ctx)
	})

	return err
}

func (b *Bridge) connect(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateReady:
		b.mu.Unlock()
		return nil
	case StateUninitialized:
		b.state = StateInitializing
	case StateInitializing, StateReinitializing, StateDestroyed:
	}
	target := b.target
	b.mu.Unlock()

	initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.InitTimeout)
	defer cancel()

	res, err := b.breaker.Execute(func() (any, error) {
		conn, err := b.dialer.Dial(initCtx, target)
		if err == nil && initCtx.Err() != nil {
			_ = conn.Close()
			err = initCtx.Err()
		}

		return conn, err
	})
	if err != nil {
		b.metrics.initFailures.Inc()

		b.mu.Lock()
		if b.state != StateDestroyed {
			b.state = StateUninitialized
		}
		b.mu.Unlock()

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return hwerrors.New(hwerrors.Options{
				Code:          hwerrors.CodeTransportUnavailable,
				Message:       fmt.Sprintf("%s is unavailable after repeated connection failures", target),
				RetryStrategy: hwerrors.ExponentialBackoff,
				Vendor:        b.vendor,
				Cause:         err,
				Metadata:      map[string]any{"target": target},
			})
		}

		code := hwerrors.CodeConnectionFailed
		if errors.Is(initCtx.Err(), context.DeadlineExceeded) {
			code = hwerrors.CodeConnectionTimeout
		}

		return hwerrors.New(hwerrors.Options{
			Code:          code,
			Message:       fmt.Sprintf("failed to connect to %s", target),
			RetryStrategy: hwerrors.ExponentialBackoff,
			Vendor:        b.vendor,
			Cause:         err,
			Metadata:      map[string]any{"target": target},
		})
	}

	conn, _ := res.(Conn)

	b.mu.Lock()
	if b.state == StateDestroyed || b.target != target {
		b.mu.Unlock()
		_ = conn.Close()

		return hwerrors.New(hwerrors.Options{
			Code:          hwerrors.CodeConnectionClosed,
			Message:       "channel was reconfigured during initialization",
			RetryStrategy: hwerrors.Retry,
			Vendor:        b.vendor,
		})
	}
	b.conn = conn
	b.state = StateReady
	b.mu.Unlock()

	b.log.Info().Str("target", target).Msg("Bridge channel ready")

	go b.readLoop(conn)

	return nil
}

// Send dispatches action with params and waits for the correlated response or
// for ctx to end. Individual messages cannot be cancelled: a wait abandoned via
// ctx leaves the callback registered until its response arrives or the bridge
// is destroyed.
func (b *Bridge) Send(ctx context.Context, action string, params any) (json.RawMessage, error) {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, hwerrors.New(hwerrors.Options{
				Code:    hwerrors.CodeDataInvalid,
				Message: "failed to encode params",
				Vendor:  b.vendor,
				Cause:   err,
			})
		}
		rawParams = encoded
	}

	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}

	done := make(chan *InboundMessage, 1)

	id, err := b.dispatch(action, rawParams, func(msg *InboundMessage) {
		done <- msg
	})
	if err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Debug().Str("action", action).Int64("message_id", id).Msg("Bridge message sent")

	select {
	case msg := <-done:
		return b.result(msg)
	case <-ctx.Done():
		return nil, hwerrors.New(hwerrors.Options{
			Code:          hwerrors.CodeConnectionTimeout,
			Message:       fmt.Sprintf("no response to %s message %d", action, id),
			RetryStrategy: hwerrors.Retry,
			Vendor:        b.vendor,
			Cause:         ctx.Err(),
			Metadata:      map[string]any{"action": action, "messageId": id},
		})
	}
}

func (b *Bridge) dispatch(action string, params json.RawMessage, cb callback) (int64, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	if b.state != StateReady || b.conn == nil {
		state := b.state
		b.mu.Unlock()

		return 0, hwerrors.New(hwerrors.Options{
			Code:          hwerrors.CodeConnectionClosed,
			Message:       fmt.Sprintf("channel is %s", state),
			RetryStrategy: hwerrors.Retry,
			Vendor:        b.vendor,
		})
	}
	b.nextID++
	id := b.nextID
	b.pending[id] = cb
	conn := b.conn
	target := b.target
	b.metrics.pending.Set(float64(len(b.pending)))
	b.mu.Unlock()

	err := conn.WriteMessage(&OutboundMessage{
		Action:    action,
		MessageID: id,
		Target:    target,
		Params:    params,
	})
	if err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.metrics.pending.Set(float64(len(b.pending)))
		b.mu.Unlock()

		return 0, hwerrors.New(hwerrors.Options{
			Code:          hwerrors.CodeConnectionFailed,
			Message:       fmt.Sprintf("failed to send %s message", action),
			RetryStrategy: hwerrors.Retry,
			Vendor:        b.vendor,
			Cause:         err,
		})
	}
	b.metrics.sent.Inc()

	return id, nil
}

func (b *Bridge) result(msg *InboundMessage) (json.RawMessage, error) {
	if msg.Success {
		return msg.Payload, nil
	}

	md := map[string]any{"action": msg.Action, "messageId": msg.MessageID}
	if msg.Error == nil {
		return nil, hwerrors.New(hwerrors.Options{
			Code:     hwerrors.CodeProtocolInvalidResponse,
			Message:  "failure response without error",
			Vendor:   b.vendor,
			Metadata: md,
		})
	}

	return nil, hwerrors.CreateError(b.vendor, msg.Error.Code, msg.Error.Message).WithMetadata(md)
}

func (b *Bridge) readLoop(conn Conn) {
	for {
		env, err := conn.ReadEnvelope()
		if errors.Is(err, ErrMalformedMessage) {
			b.metrics.dropped.WithLabelValues(dropMalformed).Inc()
			b.log.Debug().Err(err).Msg("Dropping malformed message")
			continue
		}
		if err != nil {
			b.closed(conn, err)
			return
		}

		b.receive(env)
	}
}

// receive routes one inbound envelope. Envelopes from any origin other than
// the expected one are dropped without effect.
func (b *Bridge) receive(env *Envelope) {
	if env == nil || env.Origin != b.cfg.ExpectedOrigin {
		b.metrics.dropped.WithLabelValues(dropOrigin).Inc()
		return
	}

	msg := env.Message
	if msg == nil {
		b.metrics.dropped.WithLabelValues(dropMalformed).Inc()
		return
	}

	b.mu.Lock()
	cb, ok := b.pending[msg.MessageID]
	if ok {
		delete(b.pending, msg.MessageID)
		b.metrics.pending.Set(float64(len(b.pending)))
	}
	b.mu.Unlock()

	if ok {
		b.metrics.responses.WithLabelValues(resultLabel(msg.Success)).Inc()
		cb(msg)

		return
	}

	if msg.Action == ActionConnectionChange {
		var change ConnectionChange
		if err := json.Unmarshal(msg.Payload, &change); err != nil {
			b.metrics.dropped.WithLabelValues(dropMalformed).Inc()
			return
		}
		b.setConnected(change.Connected)

		return
	}

	b.metrics.dropped.WithLabelValues(dropUncorrelated).Inc()
	b.log.Debug().Str("action", msg.Action).Int64("message_id", msg.MessageID).Msg("Dropping uncorrelated message")
}

func (b *Bridge) setConnected(connected bool) {
	b.mu.Lock()
	changed := b.connected != connected
	b.connected = connected
	listeners := append([]func(bool){}, b.listeners...)
	b.mu.Unlock()

	if !changed {
		return
	}

	b.log.Info().Bool("connected", connected).Msg("Device connectivity changed")
	for _, fn := range listeners {
		fn(connected)
	}
}

// closed handles the loss of conn. Messages pending on it are abandoned and
// the next Send reconnects.
func (b *Bridge) closed(conn Conn, cause error) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	abandoned := len(b.pending)
	b.pending = make(map[int64]callback)
	b.metrics.pending.Set(0)
	if b.state == StateReady {
		b.state = StateUninitialized
	}
	b.mu.Unlock()

	_ = conn.Close()
	b.log.Warn().Err(cause).Int("abandoned", abandoned).Msg("Bridge channel closed")
	b.setConnected(false)
}

// SetTarget points the bridge at a new target. An unchanged target is a no-op;
// otherwise the channel is torn down and re-established. It reports whether the
// target changed.
func (b *Bridge) SetTarget(ctx context.Context, target string) bool {
	b.mu.Lock()
	if b.target == target || b.state == StateDestroyed {
		b.mu.Unlock()
		return false
	}
	b.target = target
	old := b.conn
	b.conn = nil
	b.pending = make(map[int64]callback)
	b.metrics.pending.Set(0)
	b.state = StateReinitializing
	b.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	b.log.Info().Str("target", target).Msg("Bridge target changed")
	b.Init(ctx)

	return true
}

// Destroy closes the channel. Pending callbacks are discarded without being
// invoked, so their senders wait until their own context ends.
func (b *Bridge) Destroy() {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return
	}
	b.state = StateDestroyed
	conn := b.conn
	b.conn = nil
	abandoned := len(b.pending)
	b.pending = make(map[int64]callback)
	b.metrics.pending.Set(0)
	b.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	b.log.Info().Int("abandoned", abandoned).Msg("Bridge destroyed")
}

// Pending returns the number of messages awaiting a response.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}
