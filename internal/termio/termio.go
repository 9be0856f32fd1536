// Package termio serializes user-facing terminal output.
//
// Progress bars, prompts and status lines are written from several
// goroutines (session handlers, the prompt reader, the command itself).
// A Console funnels them through one writer goroutine so lines never
// interleave, and Flush guarantees everything queued has reached the
// terminal before the process exits.
package termio

import (
	"io"
	"os"
	"sync"
)

const queueDepth = 1024

// Console is an ordered, asynchronous writer in front of an *os.File or
// any other io.Writer.
type Console struct {
	dst  io.Writer
	file *os.File
	ch   chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewConsole starts a console writing to dst.
func NewConsole(dst io.Writer) *Console {
	c := &Console{
		dst:  dst,
		ch:   make(chan []byte, queueDepth),
		done: make(chan struct{}),
	}
	if f, ok := dst.(*os.File); ok {
		c.file = f
	}
	go c.run()
	return c
}

func (c *Console) run() {
	defer close(c.done)
	for buf := range c.ch {
		_, _ = c.dst.Write(buf)
	}
}

// Write queues a copy of p. Writes after Close are dropped.
func (c *Console) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return len(p), nil
	}
	c.ch <- buf
	return len(p), nil
}

// File returns the underlying file, or nil when dst is not one.
func (c *Console) File() *os.File {
	return c.file
}

// IsTTY reports whether the console writes to a character device.
func (c *Console) IsTTY() bool {
	return IsTTY(c.file)
}

// Close drains every queued write and stops the writer.
func (c *Console) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	c.mu.Unlock()
	<-c.done
	return nil
}

var (
	once   sync.Once
	stdout *Console
	stderr *Console
)

func initStd() {
	once.Do(func() {
		stdout = NewConsole(os.Stdout)
		stderr = NewConsole(os.Stderr)
	})
}

// Stdout returns the process-wide console for standard output.
func Stdout() *Console {
	initStd()
	return stdout
}

// Stderr returns the process-wide console for standard error.
func Stderr() *Console {
	initStd()
	return stderr
}

// Flush drains both process-wide consoles. Call it once before exiting.
func Flush() {
	initStd()
	_ = stdout.Close()
	_ = stderr.Close()
}

// IsTTY reports whether f is a terminal.
func IsTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
