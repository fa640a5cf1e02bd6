package blambda

import (
	"net/http"

	"github.com/carlmjohnson/requests"
)

// NewRequest returns a request builder for outbound calls the handler makes
// while processing the event. The builder shares the runtime's outbound
// transport, so connections are reused across invocations. Downstream AWS
// calls pick up the X-Ray trace through the _X_AMZN_TRACE_ID environment
// variable the runtime maintains per invocation.
//
//	var out struct{ Name string }
//	err := ctx.NewRequest().
//	    BaseURL("https://api.example.com/profile").
//	    ToJSON(&out).
//	    Fetch(ctx)
func (c *Context) NewRequest() *requests.Builder {
	return requests.New().Transport(c.outbound)
}

// defaultOutboundTransport is shared by every invocation's Context unless
// the runtime is constructed with a custom one.
func defaultOutboundTransport() http.RoundTripper { return http.DefaultTransport }
