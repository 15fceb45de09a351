package protocol

import "encoding/json"

const Version = "1.0"

// Handshake message types (JSON, pre-game only). Once a session is in game,
// all traffic is opaque binary packets.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeReject  = "REJECT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// HelloMsg is the first message a client sends after the websocket upgrade.
// CharacterID selects which of the account's characters enters the game.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Account         string `json:"account"`
	CharacterID     int64  `json:"character_id"`
}

// WelcomeMsg acknowledges a successful handshake.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ServiceName     string `json:"service_name"`
	CharacterID     int64  `json:"character_id"`
	FieldID         int32  `json:"field_id"`
}

// RejectMsg closes a handshake that cannot proceed.
type RejectMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Reason          string `json:"reason"`
}
