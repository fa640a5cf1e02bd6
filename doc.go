// Package blambda implements a custom runtime for the AWS Lambda "OS-only"
// (provided.al2/provided.al2023) execution environment, with buffered and
// streamed response delivery.
//
// # Overview
//
// A Lambda function built on blambda is a single statically linked Linux
// binary named "bootstrap". When the platform starts a sandbox it execs this
// binary; blambda then drives the Lambda Runtime API, a localhost HTTP
// contract, in an unbounded fetch-invoke-respond loop until the sandbox is
// frozen or torn down.
//
// A minimal buffered function:
//
//	func main() {
//	    blambda.RunBuffered(func(ctx *blambda.Context, event []byte) ([]byte, error) {
//	        ctx.Log().Infof("handling %d event bytes", len(event))
//	        return []byte("Hello, world!"), nil
//	    })
//	}
//
// And a streamed one:
//
//	func main() {
//	    blambda.RunStreaming(func(ctx *blambda.Context, event []byte, s *blambda.Stream) error {
//	        if err := s.Open("text/event-stream"); err != nil {
//	            return err
//	        }
//	        return s.Publish([]byte("data: hello\n\n"))
//	    })
//	}
//
// Build with GOOS=linux and GOARCH=amd64 or arm64, name the output
// "bootstrap" and zip it as the function package. No other entry file name
// is honored by Lambda.
//
// # Handler Signatures
//
// blambda handlers receive the raw event bytes; the package performs no
// event deserialization. Two shapes exist:
//
//   - Buffered: func(ctx *Context, event []byte) ([]byte, error). The
//     returned bytes become the invocation response; a returned error is
//     reported to the control plane as the invocation error.
//   - Streaming: func(ctx *Context, event []byte, s *Stream) error. The
//     handler opens the stream, publishes chunks, and may close it
//     explicitly. Errors returned after the stream is open travel as
//     HTTP trailers since the response headers are already on the wire.
//
// The [Context] passed to both carries the process [Config], the
// per-invocation [Request] metadata, an environment lookup, the log
// [Sink], and two allocators: a general purpose one whose allocations
// outlive the invocation, and an [Arena] that is reset in place after
// every invocation.
//
// # Error Reporting
//
// Handler errors are reported with an errorType derived from the error
// value. Implement ErrorName() string, or return a [*HandlerError], to
// control the reported name; otherwise the dynamic type name of the error
// is used. See [HandlerError].
//
// # Logging
//
// The log sink writes tab separated lines to stderr in the shape
// CloudWatch ingests: level, request id (or "-" outside an invocation),
// message. Builds with the "release" tag retain only error level records.
package blambda
