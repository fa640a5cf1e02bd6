package blambda

import (
	"context"
	"net/http"
)

// Context is the per-invocation view passed to handlers. It implements
// context.Context, carrying the platform deadline, and exposes the process
// configuration, request metadata, both allocators, the environment table
// and the log sink. All of it is shared or reset by the runtime; handlers
// must not retain a Context past their own return.
type Context struct {
	context.Context

	cfg      *Config
	req      Request
	gpa      Allocator
	arena    *Arena
	sink     *Sink
	outbound http.RoundTripper
}

// Config returns the process wide configuration snapshot.
func (c *Context) Config() *Config { return c.cfg }

// Request returns the metadata of the current invocation.
func (c *Context) Request() Request { return c.req }

// Env looks up a variable captured from the environment at process start.
// The second return is false for unset keys; an empty value with true means
// the variable was set to the empty string.
func (c *Context) Env(key string) (string, bool) { return c.cfg.Env(key) }

// GPA returns the general purpose allocator. Its buffers outlive the
// invocation and releasing them is the handler's concern.
func (c *Context) GPA() Allocator { return c.gpa }

// Arena returns the invocation arena. It is empty when the handler is
// called and reset in place once the invocation's outcome has been
// reported, so arena buffers must not outlive the invocation. A buffered
// handler may return one as its response.
func (c *Context) Arena() *Arena { return c.arena }

// Log returns the process log sink, bound to this invocation's request id.
func (c *Context) Log() *Sink { return c.sink }
