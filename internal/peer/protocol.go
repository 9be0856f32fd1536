package peer

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/sheerbytes/quicshare/internal/progress"
	"github.com/sheerbytes/quicshare/internal/transfer"
)

func (s *Session) dispatch(m message) {
	switch m.kind {
	case msgMetadata:
		s.handleMetadata(m.arg)
	case msgReady:
		s.handleReady()
	case msgRejected:
		s.handleRejected(m.arg)
	case msgFileSent:
		s.handleFileSent(m.arg)
	case msgReceivedFile:
		s.handleReceivedFile(m.arg)
	}
}

func (s *Session) handleMetadata(payload string) {
	s.mu.Lock()
	if s.state != StateIdle {
		busy := s.state
		s.mu.Unlock()
		reason := reasonAlreadyReceiving
		if busy.Sending() {
			reason = reasonAlreadySending
		}
		s.logger.Info("rejecting offer while busy", "state", busy, "reason", reason)
		s.send(message{kind: msgRejected, arg: reason})
		return
	}

	meta, size, err := transfer.ParseMetadata([]byte(payload))
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("rejecting malformed offer", "error", err)
		s.send(message{kind: msgRejected, arg: reasonUnwanted})
		return
	}

	// The slot is claimed before the decision is awaited so that a second
	// offer arriving meanwhile is rejected.
	slot := newSlot(DirectionReceive, meta.FileName, size)
	s.active = slot
	s.setStateLocked(StateOfferReceived)
	s.mu.Unlock()

	offer := Offer{FileName: meta.FileName, FileSize: size}
	s.logger.Info("file offered", "file", offer.FileName, "size", offer.FileSize)
	s.events.push(func() {
		if h := s.cfg.Handlers.OnFileOffered; h != nil {
			h(offer)
		}
	})
	go s.decide(slot, offer)
}

func (s *Session) decide(slot *transferSlot, offer Offer) {
	var d Decision
	if s.cfg.Decide != nil {
		d = s.cfg.Decide(s.ctx, offer)
	}
	if !d.Accept {
		s.logger.Info("offer declined", "file", offer.FileName)
		if s.finish(slot, OutcomeRejectedUnwanted) {
			s.send(message{kind: msgRejected, arg: reasonUnwanted})
		}
		return
	}

	if err := transfer.CanWriteToFolder(d.Folder, offer.FileSize); err != nil {
		s.logger.Warn("destination unusable, declining offer", "folder", d.Folder, "error", err)
		if s.finish(slot, OutcomeRejectedUnwanted) {
			s.send(message{kind: msgRejected, arg: reasonUnwanted})
		}
		return
	}

	s.mu.Lock()
	if s.active != slot {
		s.mu.Unlock()
		return
	}
	slot.path = filepath.Join(d.Folder, slot.name)
	s.setStateLocked(StateReceiving)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.receive(slot)
}

func (s *Session) receive(slot *transferSlot) {
	defer s.wg.Done()

	s.logger.Info("receiving file", "file", slot.name, "path", slot.path)
	s.send(message{kind: msgReady})

	res, err := transfer.ReceiveFile(s.ctx, s.data, slot.path, slot.size, s.transferOptions(DirectionReceive))
	if err != nil {
		s.failTransfer(slot, "receive", err)
		return
	}

	s.mu.Lock()
	if s.active != slot {
		s.mu.Unlock()
		return
	}
	slot.hash = res.Hash
	slot.final = res.Final
	s.setStateLocked(StateVerifyingHash)
	s.mu.Unlock()

	// FILE_SENT may arrive before or after the last transfer byte.
	expected, err := slot.expectedHash.Wait(s.ctx)
	if err != nil {
		return
	}

	result, outcome := resultOK, OutcomeCompleted
	if !transfer.HashesEqual(expected, res.Hash) {
		result, outcome = resultFailed, OutcomeHashMismatch
		s.logger.Warn("hash mismatch", "file", slot.name, "expected", expected, "actual", res.Hash)
		if err := os.Remove(slot.path); err != nil {
			s.logger.Warn("remove corrupt file", "path", slot.path, "error", err)
		}
	}
	if s.finish(slot, outcome) {
		s.send(message{kind: msgReceivedFile, arg: result})
	}
}

func (s *Session) handleReady() {
	s.mu.Lock()
	slot := s.active
	if slot == nil || s.state != StateOfferPending {
		st := s.state
		s.mu.Unlock()
		s.logger.Warn("unexpected READY", "state", st)
		return
	}
	s.setStateLocked(StateSending)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.sendBytes(slot)
}

func (s *Session) sendBytes(slot *transferSlot) {
	defer s.wg.Done()

	s.logger.Info("sending file", "file", slot.name, "size", slot.size)
	res, err := transfer.SendFile(s.ctx, s.data, slot.path, slot.size, s.transferOptions(DirectionSend))
	if err != nil {
		s.failTransfer(slot, "send", err)
		return
	}

	s.mu.Lock()
	if s.active != slot {
		s.mu.Unlock()
		return
	}
	slot.hash = res.Hash
	slot.final = res.Final
	s.setStateLocked(StateAwaitingConfirmation)
	s.mu.Unlock()

	s.send(message{kind: msgFileSent, arg: res.Hash})
}

func (s *Session) handleRejected(reason string) {
	s.mu.Lock()
	slot := s.active
	pending := slot != nil && s.state == StateOfferPending
	s.mu.Unlock()
	if !pending {
		s.logger.Warn("unexpected REJECTED", "reason", reason)
		return
	}
	s.logger.Info("offer rejected by peer", "file", slot.name, "reason", reason)
	s.finish(slot, outcomeForReason(reason))
}

func (s *Session) handleFileSent(hash string) {
	s.mu.Lock()
	slot := s.active
	ok := slot != nil && (s.state == StateReceiving || s.state == StateVerifyingHash)
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("unexpected FILE_SENT")
		return
	}
	slot.expectedHash.Resolve(hash)
}

func (s *Session) handleReceivedFile(result string) {
	s.mu.Lock()
	slot := s.active
	ok := slot != nil && s.state == StateAwaitingConfirmation
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("unexpected RECEIVED_FILE", "result", result)
		return
	}
	outcome := OutcomeCompleted
	if result != resultOK {
		outcome = OutcomeHashMismatch
	}
	s.finish(slot, outcome)
}

// finish clears slot if it is still the active one and reports outcome.
// It returns false when the slot was already finished.
func (s *Session) finish(slot *transferSlot, outcome Outcome) bool {
	s.mu.Lock()
	if s.active != slot {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	s.report(slot, outcome)
	return true
}

func (s *Session) report(slot *transferSlot, outcome Outcome) {
	slot.outcome.Resolve(outcome)

	s.mu.Lock()
	r := Report{
		Direction: slot.dir,
		FileName:  slot.name,
		FileSize:  slot.size,
		Path:      slot.path,
		Outcome:   outcome,
		Hash:      slot.hash,
		Final:     slot.final,
	}
	s.mu.Unlock()

	s.logger.Info("transfer finished",
		"direction", r.Direction,
		"file", r.FileName,
		"outcome", r.Outcome.String(),
		"hash", r.Hash,
	)
	s.events.push(func() {
		if h := s.cfg.Handlers.OnTransferFinished; h != nil {
			h(r)
		}
	})
}

// failTransfer ends the slot after a transfer stream error. The stream is
// no longer aligned with the control protocol, so the session goes too.
func (s *Session) failTransfer(slot *transferSlot, op string, err error) {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Error("transfer failed", "op", op, "file", slot.name, "error", err)
	s.finish(slot, OutcomeFailed)

	if isDisconnect(err) {
		s.disconnect(op, err)
		return
	}
	s.shutdown(err, "", OutcomeFailed)
}

func (s *Session) transferOptions(dir Direction) transfer.Options {
	opts := s.cfg.Transfer
	opts.OnProgress = func(sample progress.Sample) {
		s.events.push(func() {
			if h := s.cfg.Handlers.OnProgress; h != nil {
				h(dir, sample)
			}
		})
	}
	return opts
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isPeerGone(err error) bool {
	return errors.Is(err, transfer.ErrPeerClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

func isDisconnect(err error) bool {
	return isTimeout(err) || isPeerGone(err)
}

func disconnectReason(err error) string {
	switch {
	case isTimeout(err):
		return "connection to peer timed out"
	case isPeerGone(err):
		return "peer closed the connection"
	case errors.Is(err, transfer.ErrInvalidFrameLength):
		return "protocol violation: " + err.Error()
	default:
		return err.Error()
	}
}

func baseName(path string) string {
	return filepath.Base(filepath.Clean(path))
}
