// Package protocol defines the muchsync wire messages: the tagged
// union of operation kinds exchanged between two peers, and the
// op_id-addressed envelope ("Payload") that frames each one.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is one variant of the Operation tagged union. Every concrete
// message type in this package implements it with a value receiver so
// its zero value is always usable.
type Message interface {
	MessageName() string
}

// Operation wraps a concrete Message, the way a Rust enum variant
// carries its payload. Use As to recover the concrete type.
type Operation struct {
	Message Message
}

// Name returns the operation's wire tag, i.e. its MESSAGE_NAME.
func (o Operation) Name() string {
	if o.Message == nil {
		return ""
	}
	return o.Message.MessageName()
}

// As extracts the concrete message type T from an Operation. It fails
// with ErrMalformed-flavored detail when the operation holds a
// different variant than T — the Go analogue of the Rust source's
// fallible enum-variant TryFrom.
func As[T Message](o Operation) (T, error) {
	var zero T
	m, ok := o.Message.(T)
	if !ok {
		return zero, fmt.Errorf("%w: received %q, expected %q", ErrMalformed, o.Name(), zero.MessageName())
	}
	return m, nil
}

// decoder turns the raw bytes of one line-delimited JSON object into
// the Message its "command" tag names.
type decoder func(data []byte) (Message, error)

var registry = make(map[string]decoder)

// register binds a wire tag to its decoder. Called only from this
// package's init(); a collision here is a programmer error.
func register(name string, dec decoder) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("protocol: duplicate registration for command %q", name))
	}
	registry[name] = dec
}

func decodeInto[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func init() {
	register(NamePing, decodeInto[Ping])
	register(NamePingReply, decodeInto[PingReply])
	register(NamePingFin, decodeInto[PingFin])
	register(NameStatus, decodeInto[Status])
	register(NameStatusReply, decodeInto[StatusReply])
	register(NameStatusFin, decodeInto[StatusFin])
	register(NameError, decodeInto[ErrorMessage])
	register(NameErrorAck, decodeInto[ErrorAck])
}

// Payload is the unit of framing: an op_id and the operation it
// belongs to. The "command" tag is flattened into the same JSON
// object as op_id and the operation's own fields, never nested.
type Payload struct {
	OpID      uint64
	Operation Operation
}

type envelope struct {
	OpID    uint64 `json:"op_id"`
	Command string `json:"command"`
}

// MarshalJSON flattens op_id, command and the operation's fields into
// a single JSON object.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Operation.Message == nil {
		return nil, fmt.Errorf("protocol: cannot marshal payload with nil operation")
	}

	fieldsJSON, err := json.Marshal(p.Operation.Message)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s fields: %w", p.Operation.Name(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, fmt.Errorf("protocol: marshal %s fields: %w", p.Operation.Name(), err)
	}

	opIDJSON, err := json.Marshal(p.OpID)
	if err != nil {
		return nil, err
	}
	cmdJSON, err := json.Marshal(p.Operation.Name())
	if err != nil {
		return nil, err
	}
	fields["op_id"] = opIDJSON
	fields["command"] = cmdJSON

	return json.Marshal(fields)
}

// UnmarshalJSON decodes a line of wire JSON into a Payload, looking up
// the concrete message type by its "command" tag. An unrecognized tag
// yields ErrUnknownCommand; a recognized tag whose fields don't decode
// yields ErrMalformed. Neither ever panics.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	dec, ok := registry[env.Command]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
	}

	msg, err := dec(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	p.OpID = env.OpID
	p.Operation = Operation{Message: msg}
	return nil
}
