// Package eval implements the evaluator driver (spec §4.4): it runs a
// read-eval-print loop over one request's source text under a session's
// bindings, producing value/out/err/error/status responses. The actual
// reader, evaluator, and printer are host-runtime collaborators consumed
// through the narrow interfaces below (spec §6); this package never
// assumes anything about the language being evaluated.
package eval

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/juergenhoetzel/tools.nrepl/message"
	"github.com/juergenhoetzel/tools.nrepl/session"
	"github.com/juergenhoetzel/tools.nrepl/sink"
)

// Reader parses one form from a character stream, returning io.EOF once no
// further forms remain.
type Reader interface {
	ReadForm(src *bufio.Reader) (form any, err error)
}

// Context is the explicit evaluation context threaded through the driver in
// place of the source runtime's thread-local dynamic bindings (spec §9):
// current namespace, the last three printed values, the last caught
// exception, printer toggles, and the request's stdin text.
type Context struct {
	NS            string
	V1, V2, V3    any
	LastException error
	Printer       session.Printer
	Stdin         io.Reader
	Stdout        io.Writer
	Stderr        io.Writer
}

// Evaluator evaluates one form in a given namespace, returning a value or
// an error. It may mutate ctx.NS (e.g. a namespace-switching form).
type Evaluator interface {
	Eval(ctx *Context, form any) (result any, err error)
}

// Printer renders a value in the runtime's canonical readable syntax.
type Printer interface {
	Print(v any) (string, error)
}

// PrettyPrinter optionally renders a value with pretty-printing. A Driver
// without one, or one asked for pretty-printing that fails, falls back to
// the readable Printer.
type PrettyPrinter interface {
	PrettyPrint(v any) (string, error)
}

// TraceFormatter produces a full cause trace string from an evaluation
// error, used when the session's DetailOnError toggle is set.
type TraceFormatter interface {
	FormatTrace(err error) string
}

// Driver executes requests end-to-end against the host-runtime
// collaborators supplied at construction.
type Driver struct {
	Reader         Reader
	Evaluator      Evaluator
	Printer        Printer
	PrettyPrinter  PrettyPrinter // optional
	TraceFormatter TraceFormatter
}

// Run evaluates req.Code's forms one at a time against state, emitting
// value/out/err/error responses through emit as it goes, per spec §4.4.
// Run never emits the terminal status; that is the worker's job (spec
// §4.5). interrupted is polled at each top-level form boundary and after
// every response-producing step; once it reports true, Run stops emitting
// and returns without raising (the worker's outer filter already suppresses
// emissions for a cancelled request, but Run avoids unnecessary work too).
func (d *Driver) Run(req message.Message, state *session.State, outSink, errSink *sink.Capturing, interrupted func() bool, emit func(message.Message)) {
	defer func() {
		outSink.Flush()
		errSink.Flush()
	}()

	state.Lock()
	ctx := &Context{
		NS:            state.NS,
		V1:            state.V1,
		V2:            state.V2,
		V3:            state.V3,
		LastException: state.LastException,
		Printer:       state.Printer,
	}
	state.Unlock()
	if ns := req.String(message.KeyNS); ns != "" {
		ctx.NS = ns
	}
	ctx.Stdin = strings.NewReader(req.String(message.KeyIn))
	ctx.Stdout = outSink
	ctx.Stderr = errSink

	src := bufio.NewReader(strings.NewReader(req.String(message.KeyCode)))

	for {
		if interrupted() {
			return
		}
		form, err := d.Reader.ReadForm(src)
		if err == io.EOF {
			return
		}
		if err != nil {
			// The source text itself was malformed; nothing sensible to
			// evaluate further.
			return
		}

		result, evalErr := d.Evaluator.Eval(ctx, form)
		if evalErr != nil {
			state.Lock()
			state.LastException = evalErr
			state.Unlock()
			if interrupted() {
				return
			}
			emit(message.New(message.KeyStatus, message.StatusError))
			if ctx.Printer.DetailOnError && d.TraceFormatter != nil {
				io.WriteString(errSink, d.TraceFormatter.FormatTrace(evalErr))
			} else {
				io.WriteString(errSink, evalErr.Error())
			}
			outSink.Flush()
			errSink.Flush()
			continue
		}

		printed := d.print(ctx, result)
		if interrupted() {
			return
		}
		emit(message.New(message.KeyValue, printed, message.KeyNS, ctx.NS))

		state.Lock()
		state.RotateValues(result)
		state.NS = ctx.NS
		state.Unlock()

		outSink.Flush()
		errSink.Flush()
	}
}

func (d *Driver) print(ctx *Context, v any) string {
	if ctx.Printer.PrettyPrint && d.PrettyPrinter != nil {
		if s, err := d.PrettyPrinter.PrettyPrint(v); err == nil {
			return s
		}
	}
	if d.Printer != nil {
		if s, err := d.Printer.Print(v); err == nil {
			return s
		}
	}
	return fmt.Sprintf("%v", v)
}
