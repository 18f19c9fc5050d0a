package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Command is a command definition. The command value itself is encoded as the "params" object.
type Command interface {
	Method() string
}

// Event is an event definition. The event value is decoded from the "params" object.
type Event interface {
	EventName() string
}

// commandEnvelope fields are declared in alphabetical order so the envelope keys come out sorted.
type commandEnvelope struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"sessionId,omitempty"`
}

// EncodeCommand serializes a command envelope.
// Keys are sorted at every level and neither '/' nor HTML characters are escaped.
func EncodeCommand(id int64, sessionID string, cmd Command) ([]byte, error) {
	params, err := canonicalJSON(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding params for %s: %w", cmd.Method(), err)
	}
	return marshal(commandEnvelope{
		ID:        id,
		Method:    cmd.Method(),
		Params:    params,
		SessionID: sessionID,
	})
}

// canonicalJSON re-encodes v through a generic value so that object keys are sorted.
// A nil or null value is encoded as an empty object.
func canonicalJSON(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(b, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return marshal(generic)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Envelope holds the top-level fields used to classify an inbound message.
type Envelope struct {
	ID        *int64 `json:"id,omitempty"`
	Method    string `json:"method,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// IsResponse reports whether the message answers a command.
func (e Envelope) IsResponse() bool { return e.ID != nil }

// IsEvent reports whether the message is an unsolicited event.
func (e Envelope) IsEvent() bool { return e.ID == nil && e.Method != "" }

// Peek decodes only the classification fields of an inbound message.
func Peek(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &DecodeError{Op: "envelope", Err: err}
	}
	return env, nil
}

// Response is a decoded response envelope. Result is left raw until the caller decodes it.
type Response struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ProtocolError  `json:"error,omitempty"`
}

// DecodeResponse decodes a response envelope.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &DecodeError{Op: "response", Err: err}
	}
	return &resp, nil
}

// Err returns the browser-reported error, or a DecodeError wrapping ErrMissingResult
// when the response has neither a result nor an error.
func (r *Response) Err() error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 || bytes.Equal(r.Result, []byte("null")) {
		return &DecodeError{Op: fmt.Sprintf("response %d", r.ID), Err: ErrMissingResult}
	}
	return nil
}

// Decode checks the response for errors and unmarshals the result into v.
// A nil v only checks for errors. []byte fields are decoded from base64.
func (r *Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return &DecodeError{Op: fmt.Sprintf("result of response %d", r.ID), Err: err}
	}
	return nil
}

// RawEvent is an event envelope whose params have not been decoded yet.
type RawEvent struct {
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// DecodeRawEvent decodes an event envelope, leaving params raw.
func DecodeRawEvent(data []byte) (*RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &DecodeError{Op: "event", Err: err}
	}
	if ev.Method == "" {
		return nil, &DecodeError{Op: "event", Err: errors.New("missing method")}
	}
	return &ev, nil
}

// Decoder turns raw event params into a typed event value.
type Decoder func(params json.RawMessage) (any, error)

// DecoderFor returns a Decoder producing values of type E.
func DecoderFor[E any]() Decoder {
	return func(params json.RawMessage) (any, error) {
		var e E
		if len(params) == 0 {
			return e, nil
		}
		if err := json.Unmarshal(params, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
}

// RawDecoder passes params through untouched as json.RawMessage.
func RawDecoder(params json.RawMessage) (any, error) {
	return params, nil
}

// DecodeEvent decodes a whole event message into E.
func DecodeEvent[E any](data []byte) (E, error) {
	var zero E
	raw, err := DecodeRawEvent(data)
	if err != nil {
		return zero, err
	}
	v, err := DecoderFor[E]()(raw.Params)
	if err != nil {
		return zero, &DecodeError{Op: "event " + raw.Method, Err: err}
	}
	return v.(E), nil
}
