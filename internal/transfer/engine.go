package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sheerbytes/quicshare/internal/bufpool"
	"github.com/sheerbytes/quicshare/internal/progress"
)

const (
	DefaultChunkSize      = 1 << 20
	DefaultHashQueueDepth = 4
)

// Options tunes one file transfer. The zero value uses the defaults.
type Options struct {
	ChunkSize      int
	HashQueueDepth int
	// OnProgress receives periodic samples and one final sample.
	OnProgress func(progress.Sample)
	// Now overrides the clock used for progress sampling.
	Now func() time.Time
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

func (o Options) emit(s progress.Sample) {
	if o.OnProgress != nil {
		o.OnProgress(s)
	}
}

func (o Options) meter(total int64) *progress.Meter {
	m := progress.NewMeterWithNow(o.Now)
	m.Start(total)
	return m
}

// Result describes a finished byte transfer.
type Result struct {
	Bytes int64
	// Hash is the lowercase hex SHA-256 of the bytes moved.
	Hash  string
	Final progress.Sample
}

// SendFile streams exactly size bytes of the file at path to s while
// hashing them. The stream is left open for later transfers.
func SendFile(ctx context.Context, s Stream, path string, size int64, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	pool := bufpool.For(opts.chunkSize())
	hw := newHashWorker(opts.HashQueueDepth, pool)
	defer hw.close()
	meter := opts.meter(size)

	var sent int64
	for sent < size {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		buf := pool.Get()
		n := int(min(int64(len(buf)), size-sent))
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			pool.Put(buf)
			return Result{}, fmt.Errorf("failed to read file at offset %d: %w", sent, err)
		}
		if err := writeFull(s, buf[:n], "file chunk"); err != nil {
			pool.Put(buf)
			return Result{}, err
		}
		if err := hw.submit(ctx, buf[:n]); err != nil {
			return Result{}, err
		}

		sent += int64(n)
		if sample, ok := meter.Add(n); ok {
			opts.emit(sample)
		}
	}

	sum, err := hw.finish(ctx)
	if err != nil {
		return Result{}, err
	}
	final := meter.Finish()
	opts.emit(final)
	return Result{Bytes: sent, Hash: sum, Final: final}, nil
}

// ReceiveFile reads exactly size bytes from s into a new file at destPath
// while hashing them. An existing file at destPath is truncated. On
// failure the partially written file is removed.
func ReceiveFile(ctx context.Context, s Stream, destPath string, size int64, opts Options) (_ Result, err error) {
	f, err := os.Create(destPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create output file: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			f.Close()
		}
		if err != nil {
			_ = os.Remove(destPath)
		}
	}()

	pool := bufpool.For(opts.chunkSize())
	hw := newHashWorker(opts.HashQueueDepth, pool)
	defer hw.close()
	meter := opts.meter(size)

	var received int64
	for received < size {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		buf := pool.Get()
		n := int(min(int64(len(buf)), size-received))
		if err := readFull(s, buf[:n], "file chunk"); err != nil {
			pool.Put(buf)
			return Result{}, err
		}
		if _, err := f.Write(buf[:n]); err != nil {
			pool.Put(buf)
			return Result{}, fmt.Errorf("failed to write to file: %w", err)
		}
		if err := hw.submit(ctx, buf[:n]); err != nil {
			return Result{}, err
		}

		received += int64(n)
		if sample, ok := meter.Add(n); ok {
			opts.emit(sample)
		}
	}

	closed = true
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to flush output file: %w", err)
	}

	sum, err := hw.finish(ctx)
	if err != nil {
		return Result{}, err
	}
	final := meter.Finish()
	opts.emit(final)
	return Result{Bytes: received, Hash: sum, Final: final}, nil
}
