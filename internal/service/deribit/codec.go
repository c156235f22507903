package deribit

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/haritsf/deribit-collector/internal/entity"
)

// JSON-RPC request ids. The feed echoes them back, which is the only way to
// correlate responses with what we asked for.
const (
	authRequestID         = 1
	setHeartbeatRequestID = 3
	testRequestID         = 99

	// Per-instrument subscribe requests count up from here.
	subscribeRequestIDBase = 100
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func newRPCRequest(id int64, method string, params any) rpcRequest {
	return rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

type inboundFrame struct {
	ID     *int64 `json:"id"`
	Method string `json:"method"`
	Params struct {
		Channel string          `json:"channel"`
		Type    string          `json:"type"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeFeedMessage maps one raw inbound frame onto the tagged FeedMessage
// union. Anything that does not decode, or decodes to a frame we have no use
// for, comes back as FeedMessageUnknown; the caller decides whether that is
// worth a log line. This function never fails.
func DecodeFeedMessage(raw []byte) entity.FeedMessage {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return entity.FeedMessage{Kind: entity.FeedMessageUnknown}
	}

	switch frame.Method {
	case "subscription":
		if frame.Params.Channel == "" || len(frame.Params.Data) == 0 {
			return entity.FeedMessage{Kind: entity.FeedMessageUnknown}
		}

		return entity.FeedMessage{
			Kind: entity.FeedMessageTickerUpdate,
			Ticker: &entity.TickerUpdate{
				Channel: frame.Params.Channel,
				Data:    frame.Params.Data,
			},
		}
	case "heartbeat":
		return entity.FeedMessage{
			Kind:      entity.FeedMessageHeartbeat,
			Heartbeat: &entity.HeartbeatMessage{Type: frame.Params.Type},
		}
	}

	if frame.ID == nil {
		return entity.FeedMessage{Kind: entity.FeedMessageUnknown}
	}

	if frame.Error != nil {
		if *frame.ID == authRequestID {
			return entity.FeedMessage{
				Kind: entity.FeedMessageAuthResult,
				AuthResult: &entity.AuthResult{
					OK:           false,
					ErrorCode:    frame.Error.Code,
					ErrorMessage: frame.Error.Message,
				},
			}
		}

		return entity.FeedMessage{Kind: entity.FeedMessageUnknown}
	}

	if len(frame.Result) == 0 {
		return entity.FeedMessage{Kind: entity.FeedMessageUnknown}
	}

	// A subscribe result is the list of channels the feed accepted.
	if bytes.HasPrefix(bytes.TrimSpace(frame.Result), []byte("[")) {
		var channels []string
		if err := json.Unmarshal(frame.Result, &channels); err != nil {
			return entity.FeedMessage{Kind: entity.FeedMessageUnknown}
		}

		return entity.FeedMessage{
			Kind: entity.FeedMessageSubscribeAck,
			Ack:  &entity.SubscribeAck{RequestID: *frame.ID, Channels: channels},
		}
	}

	if *frame.ID == authRequestID {
		var authResult struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(frame.Result, &authResult); err != nil || authResult.AccessToken == "" {
			return entity.FeedMessage{
				Kind:       entity.FeedMessageAuthResult,
				AuthResult: &entity.AuthResult{OK: false, ErrorMessage: "auth response missing access token"},
			}
		}

		return entity.FeedMessage{
			Kind:       entity.FeedMessageAuthResult,
			AuthResult: &entity.AuthResult{OK: true},
		}
	}

	return entity.FeedMessage{Kind: entity.FeedMessageUnknown}
}
