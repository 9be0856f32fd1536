// Package cli drives one quicshare peer from the command line: signaling,
// candidate exchange, connection establishment and the session itself.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/sheerbytes/quicshare/internal/candidate"
	"github.com/sheerbytes/quicshare/internal/config"
	"github.com/sheerbytes/quicshare/internal/connect"
	"github.com/sheerbytes/quicshare/internal/identity"
	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/peer"
	"github.com/sheerbytes/quicshare/internal/promise"
	"github.com/sheerbytes/quicshare/internal/signaling"
	"github.com/sheerbytes/quicshare/internal/transfer"
	"github.com/sheerbytes/quicshare/pkg/protocol"
)

const (
	busyRetries = 5
	busyBackoff = 300 * time.Millisecond
)

// Options configures one host or join run.
type Options struct {
	Config config.PeerConfig
	// SendPath, when set, is offered to the peer once connected.
	SendPath string
	In       io.Reader
	Out      io.Writer
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

// Host creates a room, prints its code and accepts the joining peer as
// the responder.
func Host(ctx context.Context, opts Options) error {
	o := opts.withDefaults()
	cfg := o.Config

	id, err := identity.New()
	if err != nil {
		return err
	}
	if err := checkSendPath(o.SendPath); err != nil {
		return err
	}

	sig, err := signaling.Dial(ctx, cfg.SignalURL, protocol.RoleServer, "", o.Logger)
	if err != nil {
		return fmt.Errorf("connect to signaling server: %w", err)
	}
	defer sig.Close()

	info, err := await(ctx, sig, sig.RoomInfo(), "room")
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "Room code: %s (valid for %s)\n", info.ID, info.TTL().Round(time.Second))
	fmt.Fprintf(o.Out, "On the other machine run: quicshare join %s\n", info.ID)

	offerJSON, err := await(ctx, sig, sig.Offer(), "peer offer")
	if err != nil {
		return err
	}

	gatherer := newGatherer(cfg, o.Logger)
	defer gatherer.Release()
	answerJSON, err := gatherer.GatherAnswerCandidates(ctx, offerJSON, id.Fingerprint(), cfg.Port != 0, cfg.Port)
	if err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}
	if err := sig.Send(ctx, protocol.TypeAnswer, answerJSON); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	offer, _ := gatherer.PeerOffer()
	reserved := gatherer.Reserved()
	if len(reserved) == 0 {
		return errors.New("no port reserved for the peer connection")
	}
	fmt.Fprintln(o.Out, "Waiting for the peer to connect...")
	listener := connect.NewListener(id, reserved[0], offer, o.Logger)
	return establishAndRun(ctx, o, sig, listener, peer.RoleResponder)
}

// Join enters the room named by code and races a connection to the host
// as the initiator.
func Join(ctx context.Context, opts Options, code string) error {
	o := opts.withDefaults()
	cfg := o.Config

	id, err := identity.New()
	if err != nil {
		return err
	}
	if err := checkSendPath(o.SendPath); err != nil {
		return err
	}

	sig, err := signaling.Dial(ctx, cfg.SignalURL, protocol.RoleClient, code, o.Logger)
	if err != nil {
		return fmt.Errorf("join room %s: %w", protocol.NormalizeRoomID(code), err)
	}
	defer sig.Close()

	gatherer := newGatherer(cfg, o.Logger)
	defer gatherer.Release()
	offerJSON, err := gatherer.GatherOfferCandidates(ctx, id.Fingerprint())
	if err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}
	if err := sig.Send(ctx, protocol.TypeOffer, offerJSON); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	answerJSON, err := await(ctx, sig, sig.Answer(), "host answer")
	if err != nil {
		return err
	}
	answer, err := gatherer.ReconcileAnswer(answerJSON)
	if err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "Connecting to host (%d candidates)...\n", len(answer.Endpoints))
	racer := connect.NewRacer(id, answer, gatherer.Reserved(), o.Logger, connect.WithRaceTimeout(cfg.RaceTimeout))
	return establishAndRun(ctx, o, sig, racer, peer.RoleInitiator)
}

func newGatherer(cfg config.PeerConfig, logger *slog.Logger) *candidate.Gatherer {
	var resolver candidate.Resolver
	if len(cfg.StunServers) > 0 {
		resolver = candidate.NewStunResolver(cfg.StunServers, logger)
	}
	return candidate.NewGatherer(candidate.Config{PoolSize: cfg.PoolSize}, resolver, logger)
}

func checkSendPath(path string) error {
	if path == "" {
		return nil
	}
	if _, err := transfer.CanReadFile(path); err != nil {
		return fmt.Errorf("cannot send %s: %w", path, err)
	}
	return nil
}

// await blocks until p resolves, the signaling connection drops, or ctx
// ends.
func await[T any](ctx context.Context, sig *signaling.Client, p *promise.Promise[T], what string) (T, error) {
	var zero T
	select {
	case <-p.Done():
	case <-sig.Disconnected():
		if !p.Resolved() {
			return zero, fmt.Errorf("signaling closed while waiting for %s: %s", what, sig.Reason())
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	v, _ := p.Peek()
	return v, nil
}

func establishAndRun(ctx context.Context, o Options, sig *signaling.Client, est connect.Establisher, role peer.Role) error {
	conn, err := est.Establish(ctx)
	if err != nil {
		return fmt.Errorf("connect to peer: %w", err)
	}
	// The room is no longer needed once the direct path exists.
	_ = sig.Close()
	fmt.Fprintf(o.Out, "Connected to %s\n", conn.RemoteAddr())
	return runSession(ctx, o, conn, role)
}

// runSession runs the peer protocol on conn. With a send path it offers
// that file and returns once the transfer ends; otherwise it serves
// incoming offers until the peer goes away.
func runSession(ctx context.Context, o Options, conn transfer.Conn, role peer.Role) error {
	sink := newProgressSink(o.Out)
	prompter := NewPrompter(o.In, o.Out)
	finished := make(chan peer.Report, 8)

	sess := peer.New(conn, peer.Config{
		Role:   role,
		Decide: NewDecider(prompter, o.Out, o.Config.OutDir, o.Config.AutoAccept),
		Handlers: peer.Handlers{
			OnDisconnected: func(reason string) {
				fmt.Fprintf(o.Out, "Disconnected: %s\n", reason)
			},
			OnFileOffered: func(offer peer.Offer) {
				sink.Expect(peer.DirectionReceive, offer.FileName)
			},
			OnProgress: sink.Update,
			OnTransferFinished: func(r peer.Report) {
				sink.Finish(r)
				select {
				case finished <- r:
				default:
				}
			},
		},
		Transfer: transfer.Options{ChunkSize: o.Config.ChunkSize},
		Logger:   o.Logger,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	select {
	case <-sess.Ready():
	case err := <-runErr:
		return err
	}

	if o.SendPath == "" {
		err := <-runErr
		<-sess.Done()
		if errors.Is(err, peer.ErrDisconnected) {
			return nil
		}
		return err
	}

	sink.Expect(peer.DirectionSend, filepath.Base(o.SendPath))
	outcome, sendErr := sendWithRetry(ctx, sess, o.SendPath, finished, o.Logger)
	sess.Stop()
	err := <-runErr
	<-sess.Done()

	switch {
	case sendErr != nil:
		return sendErr
	case outcome != peer.OutcomeCompleted:
		return fmt.Errorf("transfer did not complete: %s", outcome)
	case err != nil && !errors.Is(err, peer.ErrDisconnected):
		return err
	}
	return nil
}

// sendWithRetry offers path, retrying with jittered backoff while either
// side is busy. Both peers offering at once reject each other, and the
// jitter lets one of them go first on the next attempt.
func sendWithRetry(ctx context.Context, sess *peer.Session, path string, finished <-chan peer.Report, logger *slog.Logger) (peer.Outcome, error) {
	for attempt := 1; ; attempt++ {
		outcome, err := sess.SendFile(ctx, path)
		busy := errors.Is(err, peer.ErrTransferInProgress) ||
			(err == nil && (outcome == peer.OutcomeRejectedAlreadySending || outcome == peer.OutcomeRejectedAlreadyReceiving))
		if !busy || attempt >= busyRetries {
			return outcome, err
		}

		wait := busyBackoff + rand.N(busyBackoff)
		logger.Info("peer busy, retrying offer", "attempt", attempt, "wait", wait)
		if errors.Is(err, peer.ErrTransferInProgress) {
			if err := awaitReceive(ctx, sess, finished); err != nil {
				return peer.OutcomeCancelled, err
			}
		}
		select {
		case <-time.After(wait):
		case <-sess.Done():
			return peer.OutcomeFailed, peer.ErrSessionClosed
		case <-ctx.Done():
			return peer.OutcomeCancelled, ctx.Err()
		}
	}
}

// awaitReceive waits for the incoming transfer holding the local slot to
// finish. Reports of earlier sends are skipped.
func awaitReceive(ctx context.Context, sess *peer.Session, finished <-chan peer.Report) error {
	for {
		select {
		case r := <-finished:
			if r.Direction == peer.DirectionReceive {
				return nil
			}
		case <-sess.Done():
			return peer.ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
