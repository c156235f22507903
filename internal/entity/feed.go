package entity

import "github.com/goccy/go-json"

type SessionState int32

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionAuthenticating
	SessionSubscribing
	SessionStreaming
	SessionBackoff
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionAuthenticating:
		return "authenticating"
	case SessionSubscribing:
		return "subscribing"
	case SessionStreaming:
		return "streaming"
	case SessionBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

type FeedMessageKind int

const (
	FeedMessageUnknown FeedMessageKind = iota
	FeedMessageAuthResult
	FeedMessageSubscribeAck
	FeedMessageTickerUpdate
	FeedMessageHeartbeat
)

// FeedMessage is the tagged union every inbound frame is decoded into at the
// transport boundary. Exactly one of the pointer fields is set, matching Kind.
type FeedMessage struct {
	Kind       FeedMessageKind
	AuthResult *AuthResult
	Ack        *SubscribeAck
	Ticker     *TickerUpdate
	Heartbeat  *HeartbeatMessage
}

type AuthResult struct {
	OK           bool
	ErrorCode    int
	ErrorMessage string
}

type SubscribeAck struct {
	RequestID int64
	Channels  []string
}

// TickerUpdate carries the raw push payload; the normalizer decides whether it
// becomes an OptionTicker.
type TickerUpdate struct {
	Channel string
	Data    json.RawMessage
}

type HeartbeatMessage struct {
	Type string
}
