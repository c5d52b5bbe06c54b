package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope format version. Envelopes with a different version are rejected.
const Version = 1

var (
	ErrProtocol = errors.New("protocol error")
	ErrVersion  = errors.New("unsupported protocol version")
)

// Names a request or a response kind.
type Command string

const (
	CmdBuild    Command = "build"
	CmdStatus   Command = "status"
	CmdShutdown Command = "shutdown"
	CmdOK       Command = "ok"
	CmdError    Command = "error"
)

// Outer frame of every message.
type Envelope struct {
	Version int             `json:"version"`
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Serializes a command and its payload into an envelope. A nil payload is
// omitted.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Version: Version, Command: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		env.Payload = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return data, nil
}

// Parses an envelope. The payload is returned undecoded; see [DecodePayload].
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Version != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrVersion, env.Version)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrProtocol)
	}
	return &env, env.Payload, nil
}

// Decodes a payload into T. An empty payload yields the zero value.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	v := new(T)
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return v, nil
}
