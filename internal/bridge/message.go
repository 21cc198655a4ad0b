package bridge

import "encoding/json"

// ActionConnectionChange is the only action accepted without a pending
// callback. Its payload is ConnectionChange.
const ActionConnectionChange = "connection-change"

// OutboundMessage is written to the channel for every Send.
type OutboundMessage struct {
	Action    string          `json:"action"`
	MessageID int64           `json:"messageId"`
	Target    string          `json:"target"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// InboundMessage is a response correlated by MessageID, or an out-of-band
// notification.
type InboundMessage struct {
	Action    string          `json:"action"`
	MessageID int64           `json:"messageId"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *WireError      `json:"error,omitempty"`
}

// WireError carries the vendor-native status code of a failed operation.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is an inbound message together with the origin that sent it.
type Envelope struct {
	Origin  string          `json:"origin"`
	Message *InboundMessage `json:"data"`
}

type ConnectionChange struct {
	Connected bool `json:"connected"`
}
