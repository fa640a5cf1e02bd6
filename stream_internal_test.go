package blambda

import (
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records the chunk and terminator traffic a stream produces.
type fakeConn struct {
	contentType string
	chunks      [][]byte
	closed      bool
	closeErr    *invokeError
}

func (f *fakeConn) WriteChunk(p []byte) error {
	f.chunks = append(f.chunks, slices.Clone(p))
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func (f *fakeConn) CloseWithError(ie *invokeError) error {
	f.closed = true
	f.closeErr = ie
	return nil
}

// newFakeStream wires a stream to a recording conn and a recording fail
// hook, standing in for the Runtime API.
func newFakeStream(t *testing.T) (*Stream, *fakeConn, *[]*invokeError) {
	t.Helper()
	conn := &fakeConn{}
	fails := &[]*invokeError{}
	sink, _ := newTestSink()
	s := newStream(
		func(ct string) (chunkWriter, error) {
			conn.contentType = ct
			return conn, nil
		},
		func(ie *invokeError) error {
			*fails = append(*fails, ie)
			return nil
		},
		sink,
	)
	return s, conn, fails
}

func TestStreamUnopenedOperations(t *testing.T) {
	s, conn, fails := newFakeStream(t)

	_, err := s.Write([]byte("x"))
	require.ErrorIs(t, err, ErrNotOpen)
	require.ErrorIs(t, s.WriteString("x"), ErrNotOpen)
	require.ErrorIs(t, s.Writef("%d", 1), ErrNotOpen)
	require.ErrorIs(t, s.Flush(), ErrNotOpen)
	require.ErrorIs(t, s.Publish([]byte("x")), ErrNotOpen)

	// close before open is a safe no-op
	require.NoError(t, s.Close())
	assert.False(t, conn.closed)
	assert.Empty(t, *fails)
}

func TestStreamCloseWithErrorBeforeOpen(t *testing.T) {
	s, conn, fails := newFakeStream(t)

	require.NoError(t, s.CloseWithError(NewHandlerError("Boom", "it broke")))

	// no headers on the wire yet, so the plain error endpoint is used
	assert.False(t, conn.closed)
	require.Len(t, *fails, 1)
	assert.Equal(t, "Boom", (*fails)[0].Type)

	// and the stream is terminal from here on
	require.ErrorIs(t, s.Open("text/plain"), ErrClosed)
	_, err := s.Write([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestStreamDoubleOpen(t *testing.T) {
	s, conn, _ := newFakeStream(t)

	require.NoError(t, s.Open("text/plain"))
	require.ErrorIs(t, s.Open("text/plain"), ErrAlreadyOpen)

	// the failed second open must not disturb the stream
	require.NoError(t, s.Publish([]byte("still fine")))
	assert.Equal(t, [][]byte{[]byte("still fine")}, conn.chunks)
	assert.Equal(t, "text/plain", conn.contentType)
}

func TestStreamBufferingAndFlush(t *testing.T) {
	s, conn, _ := newFakeStream(t)
	require.NoError(t, s.Open("text/plain"))

	// writes buffer, nothing on the wire
	_, err := s.Write([]byte("hel"))
	require.NoError(t, err)
	require.NoError(t, s.WriteString("lo"))
	assert.Empty(t, conn.chunks)

	// flush emits exactly one chunk with everything buffered
	require.NoError(t, s.Flush())
	assert.Equal(t, [][]byte{[]byte("hello")}, conn.chunks)

	// flushing an empty buffer emits nothing
	require.NoError(t, s.Flush())
	assert.Len(t, conn.chunks, 1)
}

func TestStreamPublishSequence(t *testing.T) {
	s, conn, _ := newFakeStream(t)
	require.NoError(t, s.Open("text/event-stream"))

	require.NoError(t, s.Publish([]byte("A")))
	_, err := s.Write([]byte("B"))
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Publishf("%d", 3))
	require.NoError(t, s.Close())

	assert.Equal(t, [][]byte{[]byte("A"), []byte("B"), []byte("3")}, conn.chunks)
	assert.True(t, conn.closed)
	assert.Nil(t, conn.closeErr)
}

func TestStreamPublishCarriesBufferedBytes(t *testing.T) {
	s, conn, _ := newFakeStream(t)
	require.NoError(t, s.Open("text/plain"))

	require.NoError(t, s.WriteString("buffered+"))
	require.NoError(t, s.Publish([]byte("published")))

	assert.Equal(t, [][]byte{[]byte("buffered+published")}, conn.chunks)
}

func TestStreamCloseFlushesRemainder(t *testing.T) {
	s, conn, _ := newFakeStream(t)
	require.NoError(t, s.Open("text/plain"))
	require.NoError(t, s.WriteString("tail"))

	require.NoError(t, s.Close())

	assert.Equal(t, [][]byte{[]byte("tail")}, conn.chunks)
	assert.True(t, conn.closed)
}

func TestStreamCloseWithErrorAfterOpen(t *testing.T) {
	s, conn, fails := newFakeStream(t)
	require.NoError(t, s.Open("application/json"))
	require.NoError(t, s.Publish([]byte(`{"x":1}`)))
	require.NoError(t, s.WriteString("partial"))

	require.NoError(t, s.CloseWithError(errors.New("it broke")))

	// buffered bytes flush before the error trailers go out
	assert.Equal(t, [][]byte{[]byte(`{"x":1}`), []byte("partial")}, conn.chunks)
	require.NotNil(t, conn.closeErr)
	assert.Equal(t, "it broke", conn.closeErr.Message)
	assert.Empty(t, *fails)
}

func TestStreamClosedOperations(t *testing.T) {
	s, conn, fails := newFakeStream(t)
	require.NoError(t, s.Open("text/plain"))
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Open("text/plain"), ErrClosed)
	_, err := s.Write([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Flush(), ErrClosed)
	require.ErrorIs(t, s.Publish([]byte("x")), ErrClosed)
	require.NoError(t, s.Close())
	require.NoError(t, s.CloseWithError(errors.New("late")))

	// none of which reached the wire or the error endpoint again
	assert.Empty(t, conn.chunks)
	assert.Nil(t, conn.closeErr)
	assert.Empty(t, *fails)
}

func TestStreamOpenFailure(t *testing.T) {
	sink, _ := newTestSink()
	s := newStream(
		func(string) (chunkWriter, error) { return nil, errors.New("connect refused") },
		func(*invokeError) error { return nil },
		sink,
	)

	err := s.Open("text/plain")
	require.Error(t, err)

	// the stream stays unopened so the failure can still be reported plainly
	assert.False(t, s.opened())
	assert.False(t, s.closed())
}
