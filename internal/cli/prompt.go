package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sheerbytes/quicshare/internal/peer"
)

type line struct {
	text string
	err  error
}

// Prompter asks yes/no questions on a line-oriented input. One goroutine
// reads the input so a cancelled question does not leave a reader behind.
type Prompter struct {
	out   io.Writer
	lines chan line

	mu       sync.Mutex
	in       io.Reader
	started  bool
	finalErr error
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		out:   out,
		lines: make(chan line),
		in:    in,
	}
}

func (p *Prompter) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	reader := bufio.NewReader(p.in)
	go func() {
		for {
			text, err := reader.ReadString('\n')
			if err != nil && len(text) == 0 {
				p.lines <- line{err: err}
				return
			}
			p.lines <- line{text: strings.TrimSpace(text)}
		}
	}()
}

func (p *Prompter) readLine(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.finalErr != nil {
		err := p.finalErr
		p.mu.Unlock()
		return "", err
	}
	p.mu.Unlock()

	select {
	case l := <-p.lines:
		if l.err != nil {
			p.mu.Lock()
			p.finalErr = l.err
			p.mu.Unlock()
		}
		return l.text, l.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Confirm asks question until it gets a yes or no. An empty answer means
// no. The input ending counts as no and returns its error.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	p.start()
	for {
		fmt.Fprintf(p.out, "%s [y/N]: ", question)
		answer, err := p.readLine(ctx)
		if err != nil {
			fmt.Fprintln(p.out)
			return false, err
		}
		switch strings.ToLower(answer) {
		case "", "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		}
	}
}

// NewDecider answers offers for a session. With autoAccept every offer is
// taken into outDir without asking.
func NewDecider(p *Prompter, out io.Writer, outDir string, autoAccept bool) func(context.Context, peer.Offer) peer.Decision {
	return func(ctx context.Context, offer peer.Offer) peer.Decision {
		fmt.Fprintf(out, "Incoming file: %s (%s)\n", offer.FileName, formatBytes(offer.FileSize))
		if autoAccept {
			return peer.Decision{Accept: true, Folder: outDir}
		}
		ok, err := p.Confirm(ctx, "Accept file?")
		if err != nil || !ok {
			return peer.Decision{}
		}
		return peer.Decision{Accept: true, Folder: outDir}
	}
}
