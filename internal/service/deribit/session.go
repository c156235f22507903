package deribit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/haritsf/deribit-collector/internal/constant"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	defaultIdleTimeout         = 30 * time.Second
	defaultSubscribeAckTimeout = 10 * time.Second
	defaultAuthRetryLimit      = 3
	defaultReconnectMinDelay   = 1 * time.Second
	defaultReconnectMaxDelay   = 60 * time.Second
	defaultReconnectFactor     = 2.0
	defaultEmitTimeout         = 5 * time.Second
	defaultWriteTimeout        = 5 * time.Second

	minHeartbeatIntervalSeconds = 10
)

type SessionConfig struct {
	WSURL        string
	ClientID     string
	ClientSecret string

	// IdleTimeout is the heartbeat window: no inbound frame for this long
	// means the connection is considered dead.
	IdleTimeout         time.Duration
	SubscribeAckTimeout time.Duration
	AuthRetryLimit      int
	ReconnectMinDelay   time.Duration
	ReconnectMaxDelay   time.Duration
	ReconnectFactor     float64
	EmitTimeout         time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.SubscribeAckTimeout <= 0 {
		c.SubscribeAckTimeout = defaultSubscribeAckTimeout
	}
	if c.AuthRetryLimit <= 0 {
		c.AuthRetryLimit = defaultAuthRetryLimit
	}
	if c.ReconnectMinDelay <= 0 {
		c.ReconnectMinDelay = defaultReconnectMinDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectMinDelay {
		c.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if c.ReconnectFactor < 1 {
		c.ReconnectFactor = defaultReconnectFactor
	}
	if c.EmitTimeout <= 0 {
		c.EmitTimeout = defaultEmitTimeout
	}

	return c
}

// Session owns one logical feed connection: authentication, the subscription
// set, the read loop and the reconnect state machine. The subscription set is
// fixed at construction and re-sent in full after every reconnect, because
// the venue forgets subscriptions when the transport drops. All state
// transitions happen on the Run goroutine; State is published through an
// atomic for observers only.
type Session struct {
	cfg         SessionConfig
	instruments []string
	updates     chan<- entity.TickerUpdate

	state atomic.Int32
}

func NewSession(cfg SessionConfig, instrumentNames []string, updates chan<- entity.TickerUpdate) *Session {
	instruments := make([]string, len(instrumentNames))
	copy(instruments, instrumentNames)

	return &Session{
		cfg:         cfg.withDefaults(),
		instruments: instruments,
		updates:     updates,
	}
}

func (s *Session) State() entity.SessionState {
	return entity.SessionState(s.state.Load())
}

func (s *Session) setState(state entity.SessionState) {
	s.state.Store(int32(state))
}

// Instruments returns a copy of the subscription set.
func (s *Session) Instruments() []string {
	instruments := make([]string, len(s.instruments))
	copy(instruments, s.instruments)
	return instruments
}

// Run drives the state machine until ctx is cancelled (returns nil) or
// authentication is rejected AuthRetryLimit times in a row (returns a wrapped
// ErrAuthRejected, the one fatal condition). Transport failures and
// heartbeat timeouts are absorbed by reconnecting with backoff.
func (s *Session) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	authRejections := 0

	defer s.setState(entity.SessionDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(entity.SessionConnecting)
		logrus.Infof("connecting to %s", s.cfg.WSURL)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WSURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			logrus.Warnf("feed dial failed: %v", err)
			if !s.waitBackoff(ctx, attempt, rng) {
				return nil
			}
			attempt++
			continue
		}

		streamed, connErr := s.runConnection(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}

		if streamed {
			attempt = 0
		}

		if errors.Is(connErr, entity.ErrAuthRejected) {
			authRejections++
			logrus.WithField("rejections", authRejections).Warnf("feed authentication rejected: %v", connErr)
			if authRejections >= s.cfg.AuthRetryLimit {
				return fmt.Errorf("giving up after %d consecutive rejections: %w", authRejections, entity.ErrAuthRejected)
			}
		} else {
			// any connection that got past auth clears the rejection streak
			authRejections = 0
			if connErr != nil {
				logrus.Errorf("feed connection lost: %v", connErr)
			}
		}

		if !s.waitBackoff(ctx, attempt, rng) {
			return nil
		}
		attempt++
	}
}

// runConnection handles one connection attempt end to end: authenticate,
// re-establish every subscription, then pump inbound frames until the
// transport fails or ctx is cancelled. streamed reports whether the machine
// reached Streaming, which resets the caller's failure count.
func (s *Session) runConnection(ctx context.Context, conn *websocket.Conn) (streamed bool, err error) {
	stop := make(chan struct{})
	defer close(stop)

	// A blocking read can only be interrupted by closing the connection.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	s.setState(entity.SessionAuthenticating)
	if err := s.authenticate(conn); err != nil {
		return false, err
	}

	heartbeatInterval := int(s.cfg.IdleTimeout.Seconds())
	if heartbeatInterval < minHeartbeatIntervalSeconds {
		heartbeatInterval = minHeartbeatIntervalSeconds
	}
	if err := s.writeRequest(conn, newRPCRequest(setHeartbeatRequestID, "public/set_heartbeat", map[string]any{"interval": heartbeatInterval})); err != nil {
		return false, fmt.Errorf("set heartbeat: %w", err)
	}

	s.setState(entity.SessionSubscribing)

	pending := make(map[string]string, len(s.instruments))
	for i, name := range s.instruments {
		channel := constant.GetDeribitTickerChannel(name)
		pending[channel] = name

		logrus.WithField("instrument", name).Info("subscribing")
		subscribeParams := map[string]any{"channels": []string{channel}}
		if err := s.writeRequest(conn, newRPCRequest(subscribeRequestIDBase+int64(i), "public/subscribe", subscribeParams)); err != nil {
			return false, fmt.Errorf("subscribe %s: %w", name, err)
		}
	}

	ackDeadline := time.Now().Add(s.cfg.SubscribeAckTimeout)
	acked := 0

	for {
		if ctx.Err() != nil {
			return streamed, nil
		}

		raw, err := s.readFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return streamed, nil
			}
			return streamed, err
		}

		msg := DecodeFeedMessage(raw)
		switch msg.Kind {
		case entity.FeedMessageSubscribeAck:
			for _, channel := range msg.Ack.Channels {
				name, ok := pending[channel]
				if !ok {
					continue
				}

				delete(pending, channel)
				acked++
				logrus.WithField("instrument", name).Info("subscription acknowledged")
			}
		case entity.FeedMessageTickerUpdate:
			s.emit(ctx, *msg.Ticker)
		case entity.FeedMessageHeartbeat:
			if msg.Heartbeat.Type == "test_request" {
				if err := s.writeRequest(conn, newRPCRequest(testRequestID, "public/test", nil)); err != nil {
					return streamed, fmt.Errorf("heartbeat response: %w", err)
				}
			}
		case entity.FeedMessageAuthResult:
			// duplicate auth response, nothing to do
		default:
			logrus.Debugf("ignoring unrecognized feed frame: %s", truncateForLog(raw))
		}

		if !streamed && (len(pending) == 0 || time.Now().After(ackDeadline)) {
			for channel, name := range pending {
				logrus.WithFields(logrus.Fields{
					"instrument": name,
					"channel":    channel,
				}).Warn("no subscription ack within timeout, dropping instrument for this connection")
				delete(pending, channel)
			}

			if acked == 0 {
				return false, errors.New("no subscriptions acknowledged")
			}

			s.setState(entity.SessionStreaming)
			streamed = true
			logrus.WithField("subscriptions", acked).Info("streaming ticker updates")
		}
	}
}

func (s *Session) authenticate(conn *websocket.Conn) error {
	authParams := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     s.cfg.ClientID,
		"client_secret": s.cfg.ClientSecret,
	}
	if err := s.writeRequest(conn, newRPCRequest(authRequestID, "public/auth", authParams)); err != nil {
		return fmt.Errorf("auth request: %w", err)
	}

	for {
		raw, err := s.readFrame(conn)
		if err != nil {
			return fmt.Errorf("auth response: %w", err)
		}

		msg := DecodeFeedMessage(raw)
		switch msg.Kind {
		case entity.FeedMessageAuthResult:
			if !msg.AuthResult.OK {
				return fmt.Errorf("%s (code %d): %w", msg.AuthResult.ErrorMessage, msg.AuthResult.ErrorCode, entity.ErrAuthRejected)
			}
			return nil
		case entity.FeedMessageHeartbeat:
			if msg.Heartbeat.Type == "test_request" {
				if err := s.writeRequest(conn, newRPCRequest(testRequestID, "public/test", nil)); err != nil {
					return err
				}
			}
		}
	}
}

// emit hands an accepted push to the pipeline in arrival order. When the
// pipeline is saturated longer than EmitTimeout the update is dropped so the
// read loop keeps servicing heartbeats.
func (s *Session) emit(ctx context.Context, update entity.TickerUpdate) {
	select {
	case s.updates <- update:
		return
	default:
	}

	timer := time.NewTimer(s.cfg.EmitTimeout)
	defer timer.Stop()

	select {
	case s.updates <- update:
	case <-timer.C:
		logrus.WithField("channel", update.Channel).Warn("pipeline busy, dropping ticker update")
	case <-ctx.Done():
	}
}

func (s *Session) readFrame(conn *websocket.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
		return nil, err
	}

	_, raw, err := conn.ReadMessage()
	return raw, err
}

func (s *Session) writeRequest(conn *websocket.Conn, req rpcRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}

	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) waitBackoff(ctx context.Context, attempt int, rng *rand.Rand) bool {
	s.setState(entity.SessionBackoff)

	wait := reconnectDelay(attempt, s.cfg.ReconnectFactor, s.cfg.ReconnectMinDelay, s.cfg.ReconnectMaxDelay, rng)
	logrus.WithFields(logrus.Fields{
		"retry_in": wait.String(),
		"attempt":  attempt + 1,
	}).Warn("reconnecting feed")

	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

func reconnectDelay(attempt int, factor float64, min, max time.Duration, rng *rand.Rand) time.Duration {
	backoff := float64(min) * math.Pow(factor, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}

	base := time.Duration(backoff)
	if max <= min {
		return base
	}

	jitterWindow := max - base
	if jitterWindow > base {
		jitterWindow = base
	}
	jitter := time.Duration(rng.Int63n(int64(jitterWindow) + 1))

	result := base + jitter
	if result > max {
		return max
	}

	return result
}

func truncateForLog(raw []byte) string {
	const maxLen = 256
	text := strings.TrimSpace(string(raw))
	if len(text) > maxLen {
		return text[:maxLen] + "..."
	}

	return text
}
