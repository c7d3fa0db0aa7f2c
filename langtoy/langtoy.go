// Package langtoy is a small, self-contained toy language used to exercise
// eval.Driver end-to-end in tests and by the example CLI, standing in for
// the external language runtime that spec.md §1 and §6 explicitly place
// out of scope. It supports integers, strings, symbols bound with def,
// (print ...), and the four arithmetic operators, which is exactly enough
// surface to drive the concrete scenarios in spec.md §8.
package langtoy

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/juergenhoetzel/tools.nrepl/eval"
)

// Symbol is a bareword reference to a namespace binding.
type Symbol string

// List is a parenthesized form: an operator symbol followed by operands.
type List []any

// Reader implements eval.Reader for the toy language's s-expression syntax.
type Reader struct{}

// ReadForm reads one form (an atom or a parenthesized list) from src.
func (Reader) ReadForm(src *bufio.Reader) (any, error) {
	if err := skipSpace(src); err != nil {
		return nil, err
	}
	return readForm(src)
}

func skipSpace(src *bufio.Reader) error {
	for {
		r, _, err := src.ReadRune()
		if err != nil {
			return err
		}
		if !unicode.IsSpace(r) {
			src.UnreadRune()
			return nil
		}
	}
}

func readForm(src *bufio.Reader) (any, error) {
	r, _, err := src.ReadRune()
	if err != nil {
		return nil, err
	}
	switch {
	case r == '(':
		return readList(src)
	case r == ')':
		return nil, fmt.Errorf("langtoy: unexpected )")
	case r == '"':
		return readString(src)
	default:
		src.UnreadRune()
		return readAtom(src)
	}
}

func readList(src *bufio.Reader) (List, error) {
	var out List
	for {
		if err := skipSpace(src); err != nil {
			return nil, err
		}
		r, _, err := src.ReadRune()
		if err != nil {
			return nil, err
		}
		if r == ')' {
			return out, nil
		}
		src.UnreadRune()
		form, err := readForm(src)
		if err != nil {
			return nil, err
		}
		out = append(out, form)
	}
}

func readString(src *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		r, _, err := src.ReadRune()
		if err != nil {
			return "", fmt.Errorf("langtoy: unterminated string: %w", err)
		}
		if r == '"' {
			return sb.String(), nil
		}
		if r == '\\' {
			esc, _, err := src.ReadRune()
			if err != nil {
				return "", err
			}
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			default:
				sb.WriteRune(esc)
			}
			continue
		}
		sb.WriteRune(r)
	}
}

func readAtom(src *bufio.Reader) (any, error) {
	var sb strings.Builder
	for {
		r, _, err := src.ReadRune()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				break
			}
			return nil, err
		}
		if unicode.IsSpace(r) || r == '(' || r == ')' {
			src.UnreadRune()
			break
		}
		sb.WriteRune(r)
	}
	s := sb.String()
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	return Symbol(s), nil
}

// Runtime holds namespace bindings shared across evaluations, standing in
// for the host interpreter's global environment.
type Runtime struct {
	mu  sync.Mutex
	env map[string]map[string]any // ns -> symbol -> value
}

// NewRuntime returns an empty Runtime.
func NewRuntime() *Runtime {
	return &Runtime{env: make(map[string]map[string]any)}
}

func (r *Runtime) nsEnv(ns string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.env[ns]
	if !ok {
		e = make(map[string]any)
		r.env[ns] = e
	}
	return e
}

// Eval implements eval.Evaluator.
func (r *Runtime) Eval(ctx *eval.Context, form any) (any, error) {
	return r.eval(ctx, form)
}

func (r *Runtime) eval(ctx *eval.Context, form any) (any, error) {
	switch f := form.(type) {
	case int64:
		return f, nil
	case string:
		return f, nil
	case Symbol:
		env := r.nsEnv(ctx.NS)
		v, ok := env[string(f)]
		if !ok {
			return nil, fmt.Errorf("langtoy: unable to resolve symbol: %s", f)
		}
		return v, nil
	case List:
		return r.evalList(ctx, f)
	default:
		return nil, fmt.Errorf("langtoy: unsupported form %#v", form)
	}
}

func (r *Runtime) evalList(ctx *eval.Context, l List) (any, error) {
	if len(l) == 0 {
		return nil, fmt.Errorf("langtoy: empty form")
	}
	head, ok := l[0].(Symbol)
	if !ok {
		return nil, fmt.Errorf("langtoy: form does not start with a symbol: %#v", l[0])
	}
	switch head {
	case "def":
		if len(l) != 3 {
			return nil, fmt.Errorf("langtoy: def takes a symbol and a value")
		}
		name, ok := l[1].(Symbol)
		if !ok {
			return nil, fmt.Errorf("langtoy: def's first argument must be a symbol")
		}
		v, err := r.eval(ctx, l[2])
		if err != nil {
			return nil, err
		}
		r.nsEnv(ctx.NS)[string(name)] = v
		return Symbol(fmt.Sprintf("%s/%s", ctx.NS, name)), nil
	case "print":
		for _, arg := range l[1:] {
			v, err := r.eval(ctx, arg)
			if err != nil {
				return nil, err
			}
			if ctx.Stdout != nil {
				fmt.Fprint(ctx.Stdout, toDisplay(v))
			}
		}
		return nil, nil
	case "in-ns":
		if len(l) != 2 {
			return nil, fmt.Errorf("langtoy: in-ns takes one argument")
		}
		name, ok := l[1].(Symbol)
		if !ok {
			return nil, fmt.Errorf("langtoy: in-ns's argument must be a symbol")
		}
		ctx.NS = string(name)
		return Symbol(ctx.NS), nil
	case "+", "-", "*", "/":
		return r.arith(ctx, head, l[1:])
	case "ack":
		// The server's bootstrap handshake evaluates "(ack <port>)" against
		// a parent server; langtoy accepts it as a no-op returning the port
		// back, so the handshake is itself exercisable end-to-end.
		if len(l) != 2 {
			return nil, fmt.Errorf("langtoy: ack takes one argument")
		}
		return r.eval(ctx, l[1])
	default:
		return nil, fmt.Errorf("langtoy: unknown operator %s", head)
	}
}

func (r *Runtime) arith(ctx *eval.Context, op Symbol, args []any) (any, error) {
	vals := make([]int64, len(args))
	for i, a := range args {
		v, err := r.eval(ctx, a)
		if err != nil {
			return nil, err
		}
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("langtoy: %s: non-numeric argument %#v", op, v)
		}
		vals[i] = n
	}
	switch op {
	case "+":
		var sum int64
		for _, v := range vals {
			sum += v
		}
		return sum, nil
	case "*":
		var prod int64 = 1
		for _, v := range vals {
			prod *= v
		}
		return prod, nil
	case "-":
		if len(vals) == 0 {
			return int64(0), nil
		}
		res := vals[0]
		for _, v := range vals[1:] {
			res -= v
		}
		return res, nil
	case "/":
		if len(vals) == 0 {
			return int64(0), nil
		}
		res := vals[0]
		for _, v := range vals[1:] {
			if v == 0 {
				return nil, fmt.Errorf("langtoy: divide by zero")
			}
			res /= v
		}
		return res, nil
	}
	panic("unreachable")
}

func toDisplay(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Printer implements eval.Printer with the toy language's readable syntax:
// strings are quoted, symbols and integers print as-is.
type Printer struct{}

// Print implements eval.Printer.
func (Printer) Print(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "nil", nil
	case string:
		return strconv.Quote(x), nil
	case Symbol:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return fmt.Sprintf("%v", x), nil
	}
}

// TraceFormatter implements eval.TraceFormatter with a minimal cause trace:
// just the error's message, since the toy language has no call stack.
type TraceFormatter struct{}

// FormatTrace implements eval.TraceFormatter.
func (TraceFormatter) FormatTrace(err error) string {
	return "Cause: " + err.Error()
}
