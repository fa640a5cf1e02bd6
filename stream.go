package blambda

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Stream misuse errors, returned when a delegate method is called in a state
// that does not permit it. Test with errors.Is; a misuse error the handler
// does not handle simply propagates out and becomes the invocation error.
var (
	// ErrNotOpen is returned by writes and flushes before Open.
	ErrNotOpen = errors.New("stream is not open")
	// ErrAlreadyOpen is returned by a second Open. The stream state is
	// unchanged by the failed call.
	ErrAlreadyOpen = errors.New("stream is already open")
	// ErrClosed is returned by Open, writes, flushes and publishes after the
	// stream closed. Close and CloseWithError are no-ops at that point.
	ErrClosed = errors.New("stream is closed")
)

type streamState uint8

const (
	streamUnopened streamState = iota
	streamOpen
	streamClosed
)

// Stream is the delegate a streaming handler drives to emit its response.
//
// Writes append to an internal buffer and put nothing on the wire; Flush
// emits the buffer as a single HTTP chunk. Publish is append-then-flush.
// Buffering this way keeps many small writes, a token at a time for
// instance, from paying per-chunk framing overhead.
//
// A stream is in one of four states: unopened, open with an empty buffer,
// open with buffered bytes, or closed. Open sends the response headers, so
// from that point on a failure can only reach the platform as trailers;
// the runtime takes care of that for errors the handler returns, and
// CloseWithError is the handler's explicit version of it.
type Stream struct {
	open  func(contentType string) (chunkWriter, error)
	fail  func(ie *invokeError) error
	log   *Sink
	conn  chunkWriter
	buf   bytes.Buffer
	state streamState
}

func newStream(
	open func(contentType string) (chunkWriter, error),
	fail func(ie *invokeError) error,
	log *Sink,
) *Stream {
	return &Stream{open: open, fail: fail, log: log}
}

// Open sends the response headers with the given content type, or
// application/octet-stream when empty. No body bytes are emitted yet.
func (s *Stream) Open(contentType string) error {
	switch s.state {
	case streamOpen:
		return errors.WithStack(ErrAlreadyOpen)
	case streamClosed:
		return errors.WithStack(ErrClosed)
	}
	conn, err := s.open(contentType)
	if err != nil {
		return errors.Wrap(err, "open stream")
	}
	s.conn = conn
	s.state = streamOpen
	return nil
}

// Write appends p to the stream buffer. Nothing reaches the wire until a
// flush. Implements io.Writer so the stream composes with fmt and encoders.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	return s.buf.Write(p)
}

// WriteString appends a string to the stream buffer.
func (s *Stream) WriteString(str string) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.buf.WriteString(str)
	return err
}

// Writef appends a formatted string to the stream buffer.
func (s *Stream) Writef(format string, args ...any) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(&s.buf, format, args...)
	return err
}

// Flush emits the buffered bytes as a single chunk and clears the buffer.
// A flush on an empty buffer is a no-op.
func (s *Stream) Flush() error {
	if err := s.writable(); err != nil {
		return err
	}
	if s.buf.Len() == 0 {
		return nil
	}
	if err := s.conn.WriteChunk(s.buf.Bytes()); err != nil {
		return err
	}
	s.buf.Reset()
	return nil
}

// Publish appends p and immediately flushes, yielding one chunk that carries
// p together with any previously buffered bytes.
func (s *Stream) Publish(p []byte) error {
	if _, err := s.Write(p); err != nil {
		return err
	}
	return s.Flush()
}

// Publishf is Publish with a formatted string.
func (s *Stream) Publishf(format string, args ...any) error {
	if err := s.Writef(format, args...); err != nil {
		return err
	}
	return s.Flush()
}

// Close flushes any buffered bytes and terminates the stream cleanly with a
// zero length chunk and empty trailers. Closing an unopened or already
// closed stream is a no-op, so deferring Close is always safe.
func (s *Stream) Close() error {
	if s.state != streamOpen {
		return nil
	}
	if err := s.Flush(); err != nil {
		return err
	}
	s.state = streamClosed
	return s.conn.Close()
}

// CloseWithError reports err as the invocation failure and short-circuits
// any further stream use. On an open stream the buffered bytes are flushed
// and the terminator carries error trailers; on an unopened stream the
// ordinary invocation error endpoint is used instead, since no headers are
// on the wire yet. After the stream closed normally this is a no-op.
func (s *Stream) CloseWithError(err error) error {
	ie := newInvokeError(err)
	switch s.state {
	case streamClosed:
		return nil
	case streamUnopened:
		s.state = streamClosed
		s.log.Errorf("invocation failed: %s: %s", ie.Type, ie.Message)
		return s.fail(ie)
	}
	s.log.Errorf("invocation failed: %s: %s", ie.Type, ie.Message)
	if ferr := s.Flush(); ferr != nil {
		s.log.Errorf("flushing stream before error close failed: %s", ferr)
	}
	s.state = streamClosed
	return s.conn.CloseWithError(ie)
}

// closed reports whether a terminal report went out through this stream.
func (s *Stream) closed() bool { return s.state == streamClosed }

// opened reports whether the response headers are on the wire.
func (s *Stream) opened() bool { return s.state == streamOpen }

func (s *Stream) writable() error {
	switch s.state {
	case streamUnopened:
		return errors.WithStack(ErrNotOpen)
	case streamClosed:
		return errors.WithStack(ErrClosed)
	}
	return nil
}
