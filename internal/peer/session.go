// Package peer runs the control protocol between two connected peers.
//
// A Session owns one connection carrying two streams: a control stream of
// length-prefixed text messages and a raw transfer stream for file bytes.
// Both peers run the same state machine over a single transfer slot, so at
// most one file moves at a time in either direction.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/progress"
	"github.com/sheerbytes/quicshare/internal/promise"
	"github.com/sheerbytes/quicshare/internal/transfer"
)

const (
	DefaultProbeInterval = 2 * time.Second
	DefaultProbeTimeout  = 5 * time.Second

	outboxDepth = 64
)

var (
	// ErrTransferInProgress is returned by SendFile while the slot is busy.
	ErrTransferInProgress = errors.New("a transfer is already in progress")
	// ErrSessionClosed is returned once the session has been torn down.
	ErrSessionClosed = errors.New("session closed")
	// ErrDisconnected wraps the reason a peer was declared gone.
	ErrDisconnected = errors.New("peer disconnected")
	errAlreadyRunning = errors.New("session already running")
)

// Handlers observe session events. They run in event order on a dedicated
// goroutine and may block without stalling the protocol. Nil handlers are
// skipped.
type Handlers struct {
	OnDisconnected         func(reason string)
	OnFileOffered          func(Offer)
	OnTransferStateChanged func(State)
	OnProgress             func(Direction, progress.Sample)
	OnTransferFinished     func(Report)
}

// Config configures a Session.
type Config struct {
	Role Role
	// Decide answers incoming offers and may block, for example on a user
	// prompt. The slot is held while it runs. A nil Decide rejects everything.
	Decide   func(ctx context.Context, offer Offer) Decision
	Handlers Handlers

	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	// Transfer tunes the byte engine. Its OnProgress is replaced by the
	// session.
	Transfer transfer.Options
	Logger   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	c.Logger = logging.OrDiscard(c.Logger)
	return c
}

// transferSlot is the one active transfer. Fields other than the promises
// are written under Session.mu.
type transferSlot struct {
	dir   Direction
	name  string
	size  int64
	path  string
	hash  string
	final progress.Sample

	outcome      *promise.Promise[Outcome]
	expectedHash *promise.Promise[string]
}

func newSlot(dir Direction, name string, size int64) *transferSlot {
	return &transferSlot{
		dir:          dir,
		name:         name,
		size:         size,
		outcome:      promise.New[Outcome](),
		expectedHash: promise.New[string](),
	}
}

// Session runs the control protocol over one connection.
type Session struct {
	conn   transfer.Conn
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	control transfer.Stream
	data    transfer.Stream

	ready   chan struct{}
	done    chan struct{}
	outbox  chan string
	events  *eventQueue
	wg      sync.WaitGroup
	started atomic.Bool

	mu     sync.Mutex
	state  State
	active *transferSlot
	closed bool

	closeOnce sync.Once
	exitErr   error
}

// New wraps conn in a session. Nothing happens until Run is called.
func New(conn transfer.Conn, cfg Config) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:   conn,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "peer", "role", cfg.Role.String()),
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		outbox: make(chan string, outboxDepth),
		events: newEventQueue(),
	}
}

// Run sets up the streams and runs the protocol until the session is
// stopped, ctx ends, or the peer is lost. It returns nil after Stop, the
// context error after cancellation, and an error wrapping ErrDisconnected
// after a disconnect. The connection is closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	go s.events.run()

	stop := context.AfterFunc(ctx, func() {
		s.shutdown(ctx.Err(), "", OutcomeCancelled)
	})
	defer stop()

	if err := s.setupStreams(); err != nil {
		s.shutdown(fmt.Errorf("stream setup: %w", err), "", OutcomeFailed)
	} else {
		s.logger.Info("session ready", "remote", addrString(s.conn.RemoteAddr()))
		close(s.ready)
		s.wg.Add(2)
		go s.readLoop()
		go s.writeLoop()
	}

	<-s.ctx.Done()
	s.wg.Wait()
	s.events.close()
	<-s.events.done
	close(s.done)
	return s.exitErr
}

// Ready is closed once both streams are classified.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when Run has returned and every handler has run.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current transfer state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop tears the session down. An active transfer ends as cancelled.
func (s *Session) Stop() {
	s.shutdown(nil, "", OutcomeCancelled)
}

// SendFile offers the file at path to the peer and blocks until the
// transfer reaches a terminal outcome. Rejections and hash mismatches are
// outcomes, not errors. The protocol has no way to withdraw an offer, so
// cancelling ctx tears the whole session down.
func (s *Session) SendFile(ctx context.Context, path string) (Outcome, error) {
	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return OutcomeFailed, ErrSessionClosed
	case <-ctx.Done():
		return OutcomeCancelled, ctx.Err()
	}

	size, err := transfer.CanReadFile(path)
	if err != nil {
		return OutcomeFailed, err
	}
	meta := transfer.NewMetadata(baseName(path), size)
	encoded, err := meta.Encode()
	if err != nil {
		return OutcomeFailed, err
	}

	slot := newSlot(DirectionSend, meta.FileName, size)
	slot.path = path

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return OutcomeFailed, ErrSessionClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return OutcomeFailed, ErrTransferInProgress
	}
	s.active = slot
	s.setStateLocked(StateOfferPending)
	s.mu.Unlock()

	s.logger.Info("offering file", "file", slot.name, "size", size)
	s.send(message{kind: msgMetadata, arg: string(encoded)})

	select {
	case <-slot.outcome.Done():
		outcome, _ := slot.outcome.Peek()
		return outcome, nil
	case <-ctx.Done():
		s.logger.Info("send cancelled, closing session", "file", slot.name)
		s.shutdown(nil, "", OutcomeCancelled)
		return OutcomeCancelled, ctx.Err()
	}
}

func (s *Session) setupStreams() error {
	if s.cfg.Role == RoleInitiator {
		control, err := s.openStream(transfer.HeaderControl)
		if err != nil {
			return err
		}
		data, err := s.openStream(transfer.HeaderTransfer)
		if err != nil {
			return err
		}
		s.control, s.data = control, data
		return nil
	}

	for s.control == nil || s.data == nil {
		st, err := s.conn.AcceptStream(s.ctx)
		if err != nil {
			return fmt.Errorf("accept stream: %w", err)
		}
		header, err := transfer.ReadStreamHeader(st)
		if err != nil {
			st.Close()
			if errors.Is(err, transfer.ErrUnknownStream) {
				s.logger.Warn("discarding stream", "error", err)
				continue
			}
			return err
		}

		slot := &s.control
		if header == transfer.HeaderTransfer {
			slot = &s.data
		}
		if *slot != nil {
			s.logger.Warn("discarding duplicate stream", "header", header)
			st.Close()
			continue
		}
		*slot = st
	}
	return nil
}

func (s *Session) openStream(header byte) (transfer.Stream, error) {
	st, err := s.conn.OpenStream(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := transfer.WriteStreamHeader(st, header); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// send queues a control message for the writer. It gives up silently once
// the session is closing.
func (s *Session) send(m message) {
	select {
	case s.outbox <- m.String():
	case <-s.ctx.Done():
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		payload, err := transfer.ReadFrame(s.control)
		if err != nil {
			if s.ctx.Err() == nil {
				s.disconnect("control read", err)
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		msg, err := parseMessage(string(payload))
		if err != nil {
			s.logger.Warn("ignoring control message", "error", err)
			continue
		}
		s.logger.Debug("control message received", "kind", msg.kind)
		s.dispatch(msg)
	}
}

// writeLoop is the only writer on the control stream. Between messages it
// probes the stream with a zero-byte write under the probe deadline.
func (s *Session) writeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		var (
			op  string
			err error
		)
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.outbox:
			op = "control write"
			err = s.withWriteDeadline(func() error {
				return transfer.WriteFrame(s.control, []byte(text))
			})
		case <-ticker.C:
			op = "probe"
			err = s.withWriteDeadline(func() error {
				_, err := s.control.Write(nil)
				return err
			})
		}
		if err != nil {
			if s.ctx.Err() == nil {
				s.disconnect(op, err)
			}
			return
		}
	}
}

func (s *Session) withWriteDeadline(write func() error) error {
	if err := s.control.SetWriteDeadline(time.Now().Add(s.cfg.ProbeTimeout)); err != nil {
		return err
	}
	err := write()
	if resetErr := s.control.SetWriteDeadline(time.Time{}); err == nil {
		err = resetErr
	}
	return err
}

func (s *Session) disconnect(op string, err error) {
	reason := disconnectReason(err)
	s.logger.Warn("peer lost", "op", op, "error", err)
	s.shutdown(fmt.Errorf("%w: %s", ErrDisconnected, reason), reason, OutcomeFailed)
}

// shutdown runs once. A non-empty reason is reported to OnDisconnected.
// The active transfer, if any, ends with outcome.
func (s *Session) shutdown(err error, reason string, outcome Outcome) {
	s.closeOnce.Do(func() {
		s.exitErr = err
		if reason != "" {
			s.events.push(func() {
				if h := s.cfg.Handlers.OnDisconnected; h != nil {
					h(reason)
				}
			})
		}

		s.mu.Lock()
		s.closed = true
		slot := s.active
		s.active = nil
		if s.state != StateIdle {
			s.setStateLocked(StateIdle)
		}
		s.mu.Unlock()
		if slot != nil {
			s.report(slot, outcome)
		}

		s.cancel()
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			s.logger.Debug("close connection", "error", cerr)
		}
		s.logger.Info("session closed", "error", err)
	})
}

// setStateLocked must be called with s.mu held.
func (s *Session) setStateLocked(st State) {
	s.state = st
	s.events.push(func() {
		if h := s.cfg.Handlers.OnTransferStateChanged; h != nil {
			h(st)
		}
	})
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
