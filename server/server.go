// Package server implements the connection handler and top-level server
// lifecycle (spec §4.6, §6): accept TCP connections, decode inbound
// messages, dispatch requests to the worker pool against a session, and
// serialize outbound responses back onto the wire.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/juergenhoetzel/tools.nrepl/eval"
	"github.com/juergenhoetzel/tools.nrepl/message"
	"github.com/juergenhoetzel/tools.nrepl/session"
	"github.com/juergenhoetzel/tools.nrepl/sink"
	"github.com/juergenhoetzel/tools.nrepl/worker"
)

// DefaultTimeout is the per-request evaluation deadline used when a
// request omits "timeout" (spec §6).
const DefaultTimeout = 60 * time.Second

// Config configures a Server.
type Config struct {
	// Host is the interface to bind; "" means all interfaces.
	Host string
	// Port to bind; 0 selects an ephemeral port.
	Port int
	// AckPort, if > 0, is a parent nREPL server's port to notify of the
	// bound local port via a single evaluation request (spec §6).
	AckPort int
	// DefaultTimeout is used for requests that omit "timeout".
	DefaultTimeout time.Duration
	// Driver runs submitted code against a session. Its Evaluator is
	// expected to be shared across sessions, the same as namespaces are
	// process-wide in the language runtimes this protocol targets.
	Driver *eval.Driver
	// Log receives structured accept/dispatch/error events. If nil, a
	// standard logrus.Logger is used.
	Log *logrus.Logger
}

// Server owns a listener and the concurrent state (sessions, pending
// requests) of all connections accepted on it.
type Server struct {
	cfg      Config
	ln       net.Listener
	sessions *session.Store
	pool     *worker.Pool
	log      *logrus.Entry

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Start binds cfg's listener, launches the supervised accept loop, and
// performs the optional ack-port handshake. It returns once the listener
// is bound; the accept loop runs in the background until Shutdown.
func Start(cfg Config) (*Server, error) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Driver == nil {
		return nil, errors.New("server: Config.Driver is required")
	}
	logger := cfg.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, xerrors.Errorf("server: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	s := &Server{
		cfg:      cfg,
		ln:       ln,
		sessions: session.NewStore(),
		pool:     worker.NewPool(),
		log:      logger.WithField("component", "nrepl-server"),
		group:    g,
		cancel:   cancel,
	}

	g.Go(func() error {
		s.acceptLoop(gctx)
		return nil
	})

	if cfg.AckPort > 0 {
		go s.ack(cfg.AckPort)
	}

	return s, nil
}

// Addr returns the bound listener address, including the ephemeral port
// chosen when Config.Port was 0.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Shutdown closes the listener and waits for all in-flight connection
// handlers to unwind, aggregating any errors they return.
func (s *Server) Shutdown() error {
	s.cancel()
	var result *multierror.Error
	if err := s.ln.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.group.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// acceptLoop is the supervised, auto-restarting accept task (spec §4.6):
// it terminates silently once the listener is closed, and logs-and-retries
// on any other Accept error.
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.WithError(err).Warn("accept error, retrying")
			continue
		}
		s.group.Go(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
	}
}

// handleConn runs one connection's inbound decode loop under the same
// supervision discipline as the accept loop (spec §4.6).
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("connection handler panicked")
		}
	}()

	dec := message.NewDecoder(conn)
	enc := message.NewEncoder(conn)

	current := session.New()
	var currentMu sync.Mutex
	sessionID, err := s.sessions.Retain(current)
	if err != nil {
		s.log.WithError(err).Error("failed to retain initial session")
		return
	}

	log := s.log.WithField("remote", conn.RemoteAddr().String())

	for {
		req, err := dec.Decode()
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("closing connection after decode error")
			}
			return
		}

		id := req.String(message.KeyID)
		if id == "" {
			id, _ = uuid.GenerateUUID()
		}

		if sid := req.String(message.KeySession); sid != "" {
			if h := s.sessions.Lookup(sid); h != nil {
				currentMu.Lock()
				current = h
				sessionID = sid
				currentMu.Unlock()
			}
		}

		currentMu.Lock()
		activeSession := current
		activeSessionID := sessionID
		currentMu.Unlock()

		connEmit := func(m message.Message) {
			mm := m.WithID(id)
			mm[message.KeySession] = activeSessionID
			if err := enc.Encode(mm); err != nil {
				log.WithError(err).Debug("write failed, likely broken socket")
			}
		}

		if target := req.String(message.KeyInterruptID); target != "" {
			s.Interrupt(target)
			connEmit(message.New(message.KeyStatus, message.StatusDone))
			continue
		}

		if req.String(message.KeyCode) == "" {
			connEmit(message.New(message.KeyStatus, message.StatusError, message.KeyError, "Received message with no code."))
			continue
		}

		timeout := s.cfg.DefaultTimeout
		if ms := req.Int64(message.KeyTimeout); ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}

		s.pool.Dispatch(ctx, id, timeout, s.runner(req, activeSession), connEmit)
	}
}

// runner closes over one request and session, producing the worker.Run
// that evaluates it through the driver (spec §4.4 via §4.5).
func (s *Server) runner(req message.Message, state *session.State) worker.Run {
	return func(ctx context.Context, interrupted func() bool, emit func(message.Message)) {
		outSink := sink.New(func(text string) { emit(message.New(message.KeyOut, text)) })
		errSink := sink.New(func(text string) { emit(message.New(message.KeyErr, text)) })
		s.cfg.Driver.Run(req, state, outSink, errSink, interrupted, emit)
	}
}

// Interrupt cancels the pending request identified by id, if any (spec
// §4.5/§4.7's client-initiated :interrupt).
func (s *Server) Interrupt(id string) bool {
	return s.pool.Interrupt(id)
}

// ack performs the short-lived handshake with a bootstrapping parent
// server: connect, submit one evaluation carrying the bound port, and
// disconnect. Failures are logged, not fatal — the ack protocol is an
// external collaborator per spec §1.
func (s *Server) ack(parentPort int) {
	port := s.ln.Addr().(*net.TCPAddr).Port
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", parentPort), 5*time.Second)
	if err != nil {
		s.log.WithError(err).Warn("ack handshake: dial failed")
		return
	}
	defer conn.Close()

	enc := message.NewEncoder(conn)
	id, _ := uuid.GenerateUUID()
	err = enc.Encode(message.New(
		message.KeyID, id,
		message.KeyCode, fmt.Sprintf("(ack %d)", port),
	))
	if err != nil {
		s.log.WithError(err).Warn("ack handshake: write failed")
	}
}
