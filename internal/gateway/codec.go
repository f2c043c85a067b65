// Package gateway is the realtime entry point: it accepts WebSocket
// connections, resolves an optional identity, decodes inbound event
// envelopes, dispatches them to the stream and chat controllers, and writes
// outbound events back to the connection.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Subprotocol names a client may negotiate. JSON is used when none is offered.
const (
	SubprotocolJSON = "json"
	SubprotocolCBOR = "cbor"
)

// ErrInvalidEnvelope is returned when a frame is not a {event, payload} envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Codec encodes and decodes envelopes for one wire format.
type Codec interface {
	// Name is the negotiated subprotocol.
	Name() string
	// FrameType is the WebSocket message type frames are written with.
	FrameType() int
	// Encode builds a complete envelope frame.
	Encode(event string, payload any) ([]byte, error)
	// Decode splits a frame into its event name and raw payload. The raw
	// payload is decoded later with Unmarshal.
	Decode(frame []byte) (event string, payload []byte, err error)
	// Unmarshal decodes a raw payload returned by Decode.
	Unmarshal(payload []byte, v any) error
}

var mapStringAny = reflect.TypeOf(map[string]any(nil))

type outbound struct {
	Event   string `json:"event" cbor:"event"`
	Payload any    `json:"payload" cbor:"payload"`
}

// JSONCodec is the default text codec.
type JSONCodec struct{}

func (JSONCodec) Name() string   { return SubprotocolJSON }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Payload: payload})
}

func (JSONCodec) Decode(frame []byte) (string, []byte, error) {
	var env struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Event == "" {
		return "", nil, fmt.Errorf("%w: missing event name", ErrInvalidEnvelope)
	}
	return env.Event, env.Payload, nil
}

func (JSONCodec) Unmarshal(payload []byte, v any) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return json.Unmarshal(payload, v)
}

// CBORCodec is the binary codec. Struct fields use their json tag names as
// map keys so both codecs carry the same field names.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec creates a CBOR codec. Timestamps are encoded as RFC 3339
// strings to match the JSON codec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}
	dec, err := cbor.DecOptions{DefaultMapType: mapStringAny}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode mode: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Name() string   { return SubprotocolCBOR }
func (c *CBORCodec) FrameType() int { return websocket.BinaryMessage }

func (c *CBORCodec) Encode(event string, payload any) ([]byte, error) {
	return c.enc.Marshal(outbound{Event: event, Payload: payload})
}

func (c *CBORCodec) Decode(frame []byte) (string, []byte, error) {
	var env struct {
		Event   string          `cbor:"event"`
		Payload cbor.RawMessage `cbor:"payload"`
	}
	if err := c.dec.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Event == "" {
		return "", nil, fmt.Errorf("%w: missing event name", ErrInvalidEnvelope)
	}
	return env.Event, env.Payload, nil
}

func (c *CBORCodec) Unmarshal(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return c.dec.Unmarshal(payload, v)
}

// Codecs selects a codec by negotiated subprotocol.
type Codecs struct {
	json JSONCodec
	cbor *CBORCodec
}

// NewCodecs builds the codec set.
func NewCodecs() (*Codecs, error) {
	cb, err := NewCBORCodec()
	if err != nil {
		return nil, err
	}
	return &Codecs{cbor: cb}, nil
}

// Subprotocols returns the subprotocols offered during the upgrade, in
// server preference order.
func (c *Codecs) Subprotocols() []string {
	return []string{SubprotocolCBOR, SubprotocolJSON}
}

// For returns the codec for a negotiated subprotocol.
func (c *Codecs) For(subprotocol string) Codec {
	if subprotocol == SubprotocolCBOR {
		return c.cbor
	}
	return c.json
}
