// Package realtime subscribes to the per-deployment push channel and
// merges inbound status events into the server-state cache.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetform/console/internal/cache"
	"github.com/fleetform/console/internal/domain"
	"github.com/fleetform/console/internal/metrics"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

// Sync maintains one push-channel subscription per active deployment and
// folds inbound events into the cache. Merges are idempotent and never
// move a deployment's status backwards, so events racing the
// orchestrator's own writes are safe in either order.
type Sync struct {
	endpoint      string
	dialer        *websocket.Dialer
	cache         *cache.Cache
	log           *slog.Logger
	metrics       *metrics.Metrics
	reconnectWait time.Duration
}

// Option customises subscription behaviour.
type Option func(*Sync)

// WithReconnectWait enables automatic redial after a channel drop; zero
// disables reconnection.
func WithReconnectWait(d time.Duration) Option {
	return func(s *Sync) {
		s.reconnectWait = d
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Sync) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sync) {
		s.metrics = m
	}
}

// New returns a Sync subscribing at endpoint (a ws:// or wss:// base URL).
func New(endpoint string, c *cache.Cache, log *slog.Logger, opts ...Option) *Sync {
	s := &Sync{
		endpoint: strings.TrimRight(endpoint, "/"),
		dialer:   websocket.DefaultDialer,
		cache:    c,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run subscribes to deploymentID's channel and pumps events into the cache
// until ctx is cancelled. With a reconnect wait configured the channel is
// redialed after drops, and each reconnect triggers collection-level cache
// reconciliation; without one, Run returns the read error.
func (s *Sync) Run(ctx context.Context, deploymentID string) error {
	for {
		err := s.readOnce(ctx, deploymentID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.reconnectWait <= 0 {
			return err
		}
		s.metrics.Reconnect()
		s.log.Warn("push channel dropped, reconnecting", "deployment_id", deploymentID, "wait", s.reconnectWait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectWait):
		}
		s.cache.HandleSignal(cache.SignalReconnect)
	}
}

func (s *Sync) subscribeURL(deploymentID string) string {
	return s.endpoint + "/deployments/" + url.PathEscape(deploymentID)
}

func (s *Sync) readOnce(ctx context.Context, deploymentID string) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.subscribeURL(deploymentID), nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()
	s.log.Info("push channel subscribed", "deployment_id", deploymentID)

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(ctx, conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("push channel read failed", "deployment_id", deploymentID, "error", err)
			}
			return err
		}
		s.dispatch(deploymentID, payload)
	}
}

// keepAlive pings the server and force-closes the connection on context
// cancellation so the read loop unblocks.
func (s *Sync) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one envelope by type. Every known type has an explicit
// case; unknown types are logged, never silently dropped.
func (s *Sync) dispatch(deploymentID string, payload []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.log.Warn("malformed push envelope", "deployment_id", deploymentID, "error", err)
		return
	}
	s.metrics.RealtimeEvent(env.Type)

	switch env.Type {
	case domain.EventDeploymentStatus, domain.EventComprehensiveUpdate:
		var record domain.DeploymentRecord
		if err := json.Unmarshal(env.Data, &record); err != nil {
			s.log.Warn("malformed deployment status event", "deployment_id", deploymentID, "error", err)
			return
		}
		if record.ID == "" {
			record.ID = deploymentID
		}
		s.merge(record)

	case domain.EventPipelineStatus:
		var event domain.PipelineStatusEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			s.log.Warn("malformed pipeline status event", "deployment_id", deploymentID, "error", err)
			return
		}
		id := event.DeploymentID
		if id == "" {
			id = deploymentID
		}
		s.merge(domain.DeploymentRecord{
			ID:              id,
			Status:          domain.StatusForStage(event.Stage),
			Stage:           event.Stage,
			ProgressPercent: event.ProgressPercent,
			UpdatedAt:       time.Now().UTC(),
		})

	case domain.EventOrchestrationLog:
		var event domain.OrchestrationLogEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			s.log.Warn("malformed orchestration log event", "deployment_id", deploymentID, "error", err)
			return
		}
		s.log.Info("orchestration", "deployment_id", deploymentID, "level", event.Level, "message", event.Message)

	default:
		s.log.Warn("unknown push event type", "deployment_id", deploymentID, "type", env.Type)
	}
}

// Merge folds a pushed record into the cache under the deployment's key.
// Exported so tests and local callers share the exact merge path.
func (s *Sync) Merge(record domain.DeploymentRecord) {
	s.merge(record)
}

func (s *Sync) merge(record domain.DeploymentRecord) {
	s.cache.SetOptimistic(cache.DeploymentKey(record.ID), func(old any) any {
		current, _ := old.(domain.DeploymentRecord)
		return domain.MergeRecord(current, record)
	})
}
