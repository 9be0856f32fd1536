package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/sheerbytes/quicshare/internal/peer"
	"github.com/sheerbytes/quicshare/internal/progress"
)

const barThrottle = 100 * time.Millisecond

// progressSink renders session progress as one bar per transfer followed
// by a summary line.
type progressSink struct {
	out io.Writer

	mu   sync.Mutex
	name map[peer.Direction]string
	bar  *progressbar.ProgressBar
	dir  peer.Direction
}

func newProgressSink(out io.Writer) *progressSink {
	return &progressSink{
		out:  out,
		name: make(map[peer.Direction]string),
	}
}

// Expect records the file name shown for the next transfer in dir.
func (p *progressSink) Expect(dir peer.Direction, name string) {
	p.mu.Lock()
	p.name[dir] = name
	p.mu.Unlock()
}

// Update moves the bar, creating it on the first sample of a transfer.
func (p *progressSink) Update(dir peer.Direction, s progress.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil || p.dir != dir {
		p.bar = progressbar.NewOptions64(s.Total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(describe(dir, p.name[dir])),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(barThrottle),
			progressbar.OptionClearOnFinish(),
		)
		p.dir = dir
	}
	_ = p.bar.Set64(s.Bytes)
}

// Finish closes the bar of the reported transfer and prints its outcome.
func (p *progressSink) Finish(r peer.Report) {
	p.mu.Lock()
	if p.bar != nil && p.dir == r.Direction {
		_ = p.bar.Finish()
		p.bar = nil
	}
	delete(p.name, r.Direction)
	p.mu.Unlock()

	fmt.Fprintln(p.out, summaryLine(r))
}

func describe(dir peer.Direction, name string) string {
	verb := "receiving"
	if dir == peer.DirectionSend {
		verb = "sending"
	}
	if name == "" {
		return verb
	}
	return verb + " " + name
}

func summaryLine(r peer.Report) string {
	verb := "Received"
	if r.Direction == peer.DirectionSend {
		verb = "Sent"
	}
	switch r.Outcome {
	case peer.OutcomeCompleted:
		line := fmt.Sprintf("%s %s (%s)", verb, r.FileName, formatBytes(r.FileSize))
		if r.Final.Elapsed > 0 {
			line += fmt.Sprintf(" in %s at %s/s", r.Final.Elapsed.Round(time.Millisecond), formatBytes(int64(r.Final.AverageBps)))
		}
		if r.Direction == peer.DirectionReceive && r.Path != "" {
			line += "\n  saved to " + r.Path
		}
		if r.Hash != "" {
			line += "\n  sha256 " + r.Hash
		}
		return line
	case peer.OutcomeHashMismatch:
		return fmt.Sprintf("Transfer of %s failed integrity check", r.FileName)
	case peer.OutcomeRejectedUnwanted:
		return fmt.Sprintf("Peer declined %s", r.FileName)
	case peer.OutcomeRejectedAlreadySending, peer.OutcomeRejectedAlreadyReceiving:
		return fmt.Sprintf("Peer is busy, %s was not sent", r.FileName)
	default:
		return fmt.Sprintf("Transfer of %s ended: %s", r.FileName, r.Outcome)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n)
	exp := 0
	for value >= unit && exp < 5 {
		value /= unit
		exp++
	}
	suffixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	return fmt.Sprintf("%.2f %s", value, suffixes[exp-1])
}
