package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType is the header type of an XFS4IoT message.
type MessageType string

const (
	TypeCommand     MessageType = "command"
	TypeAcknowledge MessageType = "acknowledge"
	TypeEvent       MessageType = "event"
	TypeCompletion  MessageType = "completion"
	TypeUnsolicited MessageType = "unsolicited"
)

// DefaultVersion is the protocol version stamped on outgoing messages.
const DefaultVersion = "1.0"

func (t MessageType) Valid() bool {
	switch t {
	case TypeCommand, TypeAcknowledge, TypeEvent, TypeCompletion, TypeUnsolicited:
		return true
	}
	return false
}

type Header struct {
	Type             MessageType `json:"type"`                       // command, acknowledge, event, completion, unsolicited
	Name             string      `json:"name"`                       // dotted Interface.Command, e.g. "CardReader.ReadRawData"
	Version          string      `json:"version,omitempty"`          // protocol version
	RequestID        *int        `json:"requestId,omitempty"`        // absent on unsolicited events
	Timeout          *int        `json:"timeout,omitempty"`          // milliseconds, commands only
	Status           string      `json:"status,omitempty"`           // acknowledge and completion only
	CompletionCode   string      `json:"completionCode,omitempty"`   // completion only
	ErrorDescription string      `json:"errorDescription,omitempty"` // free text on failure
}

// Message is one frame on the wire. The payload shape depends on Header.Name
// and is never validated here.
type Message struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ID returns the request id and whether one is present.
func (m Message) ID() (int, bool) {
	if m.Header.RequestID == nil {
		return 0, false
	}
	return *m.Header.RequestID, true
}

func (m Message) IsCompletion() bool {
	return m.Header.Type == TypeCompletion
}

// Serialize encodes m as a single JSON document.
func Serialize(m Message) ([]byte, error) {
	if isNull(m.Payload) {
		m.Payload = nil
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return nil, fmt.Errorf("serialize %s: invalid payload JSON", m.Header.Name)
	}
	return json.Marshal(m)
}

// Parse decodes a frame. It fails with ErrMalformedMessage when the frame is
// not JSON or the header lacks a known type or a name.
func Parse(data []byte) (Message, error) {
	var raw struct {
		Header  *Header         `json:"header"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, Errorf(KindMalformedMessage, err, "invalid JSON")
	}
	if raw.Header == nil {
		return Message{}, Errorf(KindMalformedMessage, nil, "missing header")
	}
	if raw.Header.Type == "" || raw.Header.Name == "" {
		return Message{}, Errorf(KindMalformedMessage, nil, "header type and name are required")
	}
	if !raw.Header.Type.Valid() {
		return Message{}, Errorf(KindMalformedMessage, nil, "unknown message type %q", raw.Header.Type)
	}

	msg := Message{Header: *raw.Header}
	if len(raw.Payload) > 0 && !bytes.Equal(raw.Payload, []byte("null")) {
		msg.Payload = raw.Payload
	}
	return msg, nil
}

func intPtr(v int) *int {
	return &v
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	return data, nil
}

// isNull reports whether raw is the JSON literal null, which goes on the wire
// as an absent payload.
func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// NewCommand builds a command. A zero timeout leaves the header field unset.
func NewCommand(name string, requestID int, timeoutMs int, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	h := Header{Type: TypeCommand, Name: name, Version: DefaultVersion, RequestID: intPtr(requestID)}
	if timeoutMs > 0 {
		h.Timeout = intPtr(timeoutMs)
	}
	return Message{Header: h, Payload: raw}, nil
}

// NewAcknowledge answers cmd. An empty status means the command was accepted.
func NewAcknowledge(cmd Message, status string) Message {
	return Message{Header: Header{
		Type:      TypeAcknowledge,
		Name:      cmd.Header.Name,
		Version:   versionOf(cmd),
		RequestID: cmd.Header.RequestID,
		Status:    status,
	}}
}

// NewEvent builds an intermediate event tied to cmd's request id.
func NewEvent(cmd Message, name string, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Message{
		Header:  Header{Type: TypeEvent, Name: name, Version: versionOf(cmd), RequestID: cmd.Header.RequestID},
		Payload: raw,
	}, nil
}

func NewUnsolicited(name string, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Message{
		Header:  Header{Type: TypeUnsolicited, Name: name, Version: DefaultVersion},
		Payload: raw,
	}, nil
}

// NewCompletion builds the terminal response to cmd.
func NewCompletion(cmd Message, status string, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", cmd.Header.Name, err)
	}
	return Message{
		Header: Header{
			Type:      TypeCompletion,
			Name:      cmd.Header.Name,
			Version:   versionOf(cmd),
			RequestID: cmd.Header.RequestID,
			Status:    status,
		},
		Payload: raw,
	}, nil
}

// NewErrorCompletion builds a payload-less completion carrying an error description.
func NewErrorCompletion(cmd Message, status, description string) Message {
	return Message{Header: Header{
		Type:             TypeCompletion,
		Name:             cmd.Header.Name,
		Version:          versionOf(cmd),
		RequestID:        cmd.Header.RequestID,
		Status:           status,
		ErrorDescription: description,
	}}
}

func versionOf(m Message) string {
	if m.Header.Version != "" {
		return m.Header.Version
	}
	return DefaultVersion
}
