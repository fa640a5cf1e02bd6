package blambda

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

// newTestSink returns a sink that records its lines in a buffer.
func newTestSink() (*Sink, *safeBuffer) {
	buf := &safeBuffer{}
	return NewSink(zapcore.AddSync(buf)), buf
}

// safeBuffer is a bytes.Buffer that tolerates reads from the test goroutine
// while the loop goroutine logs.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *safeBuffer) Lines() []string {
	s := strings.TrimSuffix(b.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// setLambdaEnv populates every mandatory variable the loader expects,
// pointing the Runtime API at the given host:port.
func setLambdaEnv(t *testing.T, api string) {
	t.Helper()
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_SESSION_TOKEN", "token")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "my-func")
	t.Setenv("AWS_LAMBDA_FUNCTION_VERSION", "$LATEST")
	t.Setenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", "128")
	t.Setenv("_HANDLER", "bootstrap")
	t.Setenv("AWS_LAMBDA_LOG_GROUP_NAME", "/aws/lambda/my-func")
	t.Setenv("AWS_LAMBDA_LOG_STREAM_NAME", "2026/08/01/[$LATEST]abc")
	t.Setenv("AWS_LAMBDA_RUNTIME_API", api)
	t.Setenv("AWS_LAMBDA_INITIALIZATION_TYPE", "on-demand")
}

// clearLambdaEnv guarantees the mandatory variables are absent, restoring
// them when the test ends.
func clearLambdaEnv(t *testing.T) {
	t.Helper()
	for _, k := range configVars {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

// fakeEvent is one queued invocation on the fake control plane.
type fakeEvent struct {
	id      string
	payload string
	headers map[string]string
}

// recordedPost is one POST the fake control plane received, body fully read
// so trailers are populated.
type recordedPost struct {
	path          string
	header        http.Header
	trailer       http.Header
	body          []byte
	contentLength int64
}

// fakeRuntimeAPI emulates the Runtime API for tests: a queue of events
// served on the next endpoint and a recorder for everything POSTed back.
// With an empty queue the next endpoint blocks until the client goes away,
// like the real long poll.
type fakeRuntimeAPI struct {
	t      *testing.T
	events chan fakeEvent

	mu       sync.Mutex
	posts    []recordedPost
	requests []string

	// statusFor overrides the response status per POST path.
	statusFor func(path string) int

	srv *httptest.Server
}

func newFakeRuntimeAPI(t *testing.T) *fakeRuntimeAPI {
	t.Helper()
	f := &fakeRuntimeAPI{t: t, events: make(chan fakeEvent, 16)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

// host returns the host:port for AWS_LAMBDA_RUNTIME_API.
func (f *fakeRuntimeAPI) host() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func (f *fakeRuntimeAPI) enqueue(ev fakeEvent) { f.events <- ev }

func (f *fakeRuntimeAPI) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/"+apiVersion+"/runtime/")

	f.mu.Lock()
	f.requests = append(f.requests, path)
	f.mu.Unlock()

	if r.Method == http.MethodGet && path == "invocation/next" {
		select {
		case ev := <-f.events:
			w.Header().Set(headerRequestID, ev.id)
			for k, v := range ev.headers {
				w.Header().Set(k, v)
			}
			_, _ = io.WriteString(w, ev.payload)
		case <-r.Context().Done():
		}
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	f.mu.Lock()
	f.posts = append(f.posts, recordedPost{
		path:          path,
		header:        r.Header.Clone(),
		trailer:       r.Trailer.Clone(),
		body:          body,
		contentLength: r.ContentLength,
	})
	f.mu.Unlock()

	status := http.StatusAccepted
	if f.statusFor != nil {
		status = f.statusFor(path)
	}
	w.WriteHeader(status)
}

func (f *fakeRuntimeAPI) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func (f *fakeRuntimeAPI) post(i int) recordedPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[i]
}

func (f *fakeRuntimeAPI) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}
