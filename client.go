package blambda

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"runtime"

	"github.com/cockroachdb/errors"
)

const apiVersion = "2018-06-01"

// Version is the blambda release, reported in the User-Agent of every
// Runtime API call.
const Version = "0.1.0"

var userAgent = "blambda/" + Version + " go/" + runtime.Version()

const (
	contentTypeJSON  = "application/json"
	contentTypeBytes = "application/octet-stream"
)

// DefaultStreamContentType is used when a stream is opened without an
// explicit content type.
const DefaultStreamContentType = contentTypeBytes

// apiClient speaks the Runtime API over a single upstream host. The stdlib
// transport keeps one connection alive to it and re-dials transparently,
// which is all the strictly sequential loop needs. No client side timeout:
// the next poll blocks for as long as the platform keeps it open.
type apiClient struct {
	base       string
	httpClient *http.Client
	buf        bytes.Buffer
}

func newAPIClient(hostport string) *apiClient {
	return &apiClient{
		base:       "http://" + hostport + "/" + apiVersion + "/runtime/",
		httpClient: &http.Client{Timeout: 0},
	}
}

// next long-polls the Runtime API for the next invocation. The returned
// payload aliases an internal buffer that the following call to next will
// overwrite.
func (c *apiClient) next(ctx context.Context) (*invocation, error) {
	url := c.base + "invocation/next"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "construct next request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch next invocation")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("next invocation: unexpected status %d", resp.StatusCode)
	}

	c.buf.Reset()
	if _, err := c.buf.ReadFrom(resp.Body); err != nil {
		return nil, errors.Wrap(err, "read invocation payload")
	}

	return &invocation{
		id:      resp.Header.Get(headerRequestID),
		payload: c.buf.Bytes(),
		headers: resp.Header,
	}, nil
}

// postResponse delivers the buffered response payload for request id. Any
// non-2xx from the control plane, such as a 413 for an oversized payload,
// is returned as an error; the invocation is complete regardless.
func (c *apiClient) postResponse(ctx context.Context, id string, body []byte) error {
	return c.post(ctx, "invocation/"+id+"/response", body, http.Header{
		"Content-Type": []string{contentTypeBytes},
	})
}

// postInvokeError reports a failed invocation.
func (c *apiClient) postInvokeError(ctx context.Context, id string, ie *invokeError) error {
	return c.postError(ctx, "invocation/"+id+"/error", ie)
}

// postInitError reports a startup failure, before any invocation was pulled.
func (c *apiClient) postInitError(ctx context.Context, ie *invokeError) error {
	return c.postError(ctx, "init/error", ie)
}

func (c *apiClient) postError(ctx context.Context, path string, ie *invokeError) error {
	body, err := json.Marshal(ie)
	if err != nil {
		return errors.Wrap(err, "marshal error payload")
	}
	return c.post(ctx, path, body, http.Header{
		"Content-Type":  []string{contentTypeJSON},
		headerErrorType: []string{ie.Type},
	})
}

func (c *apiClient) post(ctx context.Context, path string, body []byte, hdr http.Header) error {
	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "construct POST request to %s", path)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST to %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return errors.Newf("POST to %s: unexpected status %d", path, resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return errors.Wrapf(err, "drain POST response from %s", path)
	}

	return nil
}

// chunkWriter is the wire surface the stream delegate drives: one chunk per
// write, then a terminator that is either clean or carries error trailers.
type chunkWriter interface {
	WriteChunk(p []byte) error
	Close() error
	CloseWithError(ie *invokeError) error
}

// streamConn is an in-flight chunked response POST. The request itself runs
// on a goroutine owned by the client; the handler side only ever touches the
// pipe and, at the very end, the trailer map. Trailer values are written
// before the body reaches EOF, which is the ordering net/http requires.
type streamConn struct {
	pw      *io.PipeWriter
	trailer http.Header
	done    chan error
}

// openStream begins the chunked response POST for request id and returns
// once the request is on its way. Headers reach the platform as soon as the
// transport sends them; from then on failures can only be reported through
// the trailers.
func (c *apiClient) openStream(ctx context.Context, id, contentType string) (chunkWriter, error) {
	if contentType == "" {
		contentType = DefaultStreamContentType
	}

	pr, pw := io.Pipe()
	url := c.base + "invocation/" + id + "/response"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pw.Close()
		return nil, errors.Wrap(err, "construct stream request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(headerResponseMode, "streaming")
	req.Trailer = http.Header{
		trailerErrorType: nil,
		trailerErrorBody: nil,
	}

	conn := &streamConn{pw: pw, trailer: req.Trailer, done: make(chan error, 1)}
	go func() {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			conn.done <- errors.Wrap(err, "stream response POST")
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode/100 != 2 {
			conn.done <- errors.Newf("stream response POST: unexpected status %d", resp.StatusCode)
			return
		}
		conn.done <- nil
	}()

	return conn, nil
}

// WriteChunk emits p as one body chunk. Blocks until the transport consumed
// it, so a failed request surfaces here as a closed pipe.
func (s *streamConn) WriteChunk(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := s.pw.Write(p); err != nil {
		return errors.Wrap(err, "write stream chunk")
	}
	return nil
}

// Close terminates the stream cleanly: zero length chunk, empty trailers.
func (s *streamConn) Close() error {
	s.pw.Close()
	return <-s.done
}

// CloseWithError terminates the stream with error trailers. This is the only
// way to report a failure after the response headers have been sent.
func (s *streamConn) CloseWithError(ie *invokeError) error {
	body, err := json.Marshal(ie)
	if err != nil {
		body = []byte(`{"errorMessage":"error body could not be rendered","errorType":"Runtime.Unknown"}`)
	}
	s.trailer.Set(trailerErrorType, ie.Type)
	s.trailer.Set(trailerErrorBody, base64.StdEncoding.EncodeToString(body))
	s.pw.Close()
	return <-s.done
}
