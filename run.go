package blambda

import (
	"context"
	"os"
)

// osExit is swapped out by tests that exercise the init failure path.
var osExit = os.Exit

// RunBuffered initializes the runtime and serves buffered invocations until
// the platform tears the sandbox down. It never returns normally; an
// initialization failure is reported through the init error endpoint when
// one is reachable and ends the process with a non-zero exit.
func RunBuffered(h Handler) {
	runMain(func(rt *Runtime) error {
		return rt.RunBuffered(context.Background(), h)
	})
}

// RunStreaming is RunBuffered for the streaming handler shape.
func RunStreaming(h StreamHandler) {
	runMain(func(rt *Runtime) error {
		return rt.RunStreaming(context.Background(), h)
	})
}

func runMain(serve func(*Runtime) error) {
	sink := newStderrSink()
	rt, err := New(WithSink(sink))
	if err != nil {
		sink.Errorf("initialization failed: %s", err)
		reportInitError(sink, err)
		osExit(1)
		return
	}
	if err := serve(rt); err != nil {
		sink.Errorf("invocation loop ended: %s", err)
		osExit(1)
	}
}

// reportInitError delivers the init failure to the control plane. When the
// Runtime API address itself is missing there is nowhere to send it and the
// error log is all that remains.
func reportInitError(sink *Sink, err error) {
	api := os.Getenv("AWS_LAMBDA_RUNTIME_API")
	if api == "" {
		return
	}
	if perr := newAPIClient(api).postInitError(context.Background(), newInvokeError(err)); perr != nil {
		sink.Errorf("reporting init error failed: %s", perr)
	}
}
