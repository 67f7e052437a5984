package transport_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
	"github.com/beyermatthias/muchsyncd/pkg/muchsync/transport"
)

func TestSendRecvRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := zap.NewNop()

	sender := transport.New(logger, &bytes.Buffer{}, &buf)
	want := protocol.Payload{OpID: 7, Operation: protocol.Operation{Message: protocol.Ping{}}}
	require.NoError(t, sender.Send(want))

	receiver := transport.New(logger, &buf, io.Discard)
	got, err := receiver.Recv()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRecvEOFOnEmptyStream(t *testing.T) {
	receiver := transport.New(zap.NewNop(), bytes.NewReader(nil), io.Discard)
	_, err := receiver.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecvMalformedJSONIsDeserializationError(t *testing.T) {
	receiver := transport.New(zap.NewNop(), bytes.NewBufferString("not json\n"), io.Discard)
	_, err := receiver.Recv()
	require.Error(t, err)
	var deErr *transport.DeserializationError
	assert.ErrorAs(t, err, &deErr)
}

func TestSendAppendsSingleNewlineNoEmbeddedNewline(t *testing.T) {
	var buf bytes.Buffer
	sender := transport.New(zap.NewNop(), &bytes.Buffer{}, &buf)
	require.NoError(t, sender.Send(protocol.Payload{OpID: 1, Operation: protocol.Operation{Message: protocol.ErrorMessage{Message: "x"}}}))

	data := buf.Bytes()
	require.NotEmpty(t, data)
	assert.Equal(t, byte('\n'), data[len(data)-1])
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")))
}

func TestMultiplePayloadsFrameIndependently(t *testing.T) {
	var buf bytes.Buffer
	logger := zap.NewNop()
	sender := transport.New(logger, &bytes.Buffer{}, &buf)

	first := protocol.Payload{OpID: 1, Operation: protocol.Operation{Message: protocol.Ping{}}}
	second := protocol.Payload{OpID: 2, Operation: protocol.Operation{Message: protocol.Status{}}}
	require.NoError(t, sender.Send(first))
	require.NoError(t, sender.Send(second))

	receiver := transport.New(logger, &buf, io.Discard)
	got1, err := receiver.Recv()
	require.NoError(t, err)
	got2, err := receiver.Recv()
	require.NoError(t, err)
	_, err = receiver.Recv()
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, first, got1)
	assert.Equal(t, second, got2)
}
