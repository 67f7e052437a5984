package protocol_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
)

func TestPayloadRoundTrip(t *testing.T) {
	cases := []protocol.Payload{
		{OpID: 0, Operation: protocol.Operation{Message: protocol.Ping{}}},
		{OpID: 1, Operation: protocol.Operation{Message: protocol.PingReply{}}},
		{OpID: 2, Operation: protocol.Operation{Message: protocol.PingFin{}}},
		{OpID: 3, Operation: protocol.Operation{Message: protocol.Status{}}},
		{
			OpID: 4,
			Operation: protocol.Operation{Message: protocol.StatusReply{
				Code:    0,
				Message: "ok",
				Time:    1234567890,
			}},
		},
		{OpID: 5, Operation: protocol.Operation{Message: protocol.StatusFin{}}},
		{OpID: 6, Operation: protocol.Operation{Message: protocol.ErrorMessage{Message: "boom"}}},
		{OpID: 7, Operation: protocol.Operation{Message: protocol.ErrorAck{}}},
	}

	for _, want := range cases {
		t.Run(want.Operation.Name(), func(t *testing.T) {
			data, err := json.Marshal(want)
			require.NoError(t, err)

			var got protocol.Payload
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, want, got)

			// deserialize(serialize(x)) == x, and the reverse direction too.
			data2, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(data2))
		})
	}
}

func TestPayloadWireShape(t *testing.T) {
	p := protocol.Payload{OpID: 42, Operation: protocol.Operation{Message: protocol.StatusReply{
		Code: 2, Message: "not found", Time: 99,
	}}}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))

	assert.Equal(t, "statusRsp", generic["command"])
	assert.EqualValues(t, 42, generic["op_id"])
	assert.EqualValues(t, 2, generic["code"])
	assert.Equal(t, "not found", generic["message"])
	assert.EqualValues(t, 99, generic["time"])
}

func TestPayloadUnknownCommandDoesNotPanic(t *testing.T) {
	var p protocol.Payload
	err := json.Unmarshal([]byte(`{"op_id":1,"command":"bogus"}`), &p)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrUnknownCommand)
}

func TestPayloadMalformedFieldsDoesNotPanic(t *testing.T) {
	var p protocol.Payload
	err := json.Unmarshal([]byte(`{"op_id":1,"command":"statusRsp","code":"not-a-number"}`), &p)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestAsExtractsConcreteVariant(t *testing.T) {
	op := protocol.Operation{Message: protocol.PingReply{}}

	_, err := protocol.As[protocol.Ping](op)
	require.Error(t, err)

	reply, err := protocol.As[protocol.PingReply](op)
	require.NoError(t, err)
	assert.Equal(t, protocol.PingReply{}, reply)
}

func TestFramingIdempotence(t *testing.T) {
	payloads := []protocol.Payload{
		{OpID: 0, Operation: protocol.Operation{Message: protocol.Ping{}}},
		{OpID: 1, Operation: protocol.Operation{Message: protocol.Status{}}},
	}

	var concatenated []byte
	for _, p := range payloads {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		concatenated = append(concatenated, data...)
		concatenated = append(concatenated, '\n')
	}

	dec := json.NewDecoder(bytes.NewReader(concatenated))
	var got []protocol.Payload
	for {
		var p protocol.Payload
		if err := dec.Decode(&p); err != nil {
			break
		}
		got = append(got, p)
	}

	require.Len(t, got, len(payloads))
	for i := range payloads {
		assert.Equal(t, payloads[i], got[i])
	}
}
