// Package logdev implements the log device described in spec §4.2: it
// owns one ring.Ring, one mutual-exclusion lock, and the working_index
// that identifies the slot accumulating the current partial (unterminated)
// record. All exported operations acquire the lock for their entire
// duration; acquisition is interruptible via context so a caller asked to
// abort while waiting does not block forever.
package logdev

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aeld/aesdsocket-go/internal/errs"
	"github.com/aeld/aesdsocket-go/internal/ring"
	"github.com/aeld/aesdsocket-go/internal/wal"
)

// Terminator is the byte that completes a record.
const Terminator = '\n'

// defaultMaxRecordSize bounds how large a single (possibly
// partial-then-extended) record may grow. It exists purely to give the
// OutOfMemory failure path in Append something real to trigger on — Go's
// garbage-collected allocator does not otherwise surface allocation
// failure the way the original C driver's kmalloc does.
const defaultMaxRecordSize = 64 << 20 // 64 MiB

// Device is the shared, lockable append log. The zero value is not usable;
// construct with New.
type Device struct {
	mu           sync.Mutex
	ring         *ring.Ring
	workingIndex int
	maxRecord    int

	mirrorPath string
	mirror     *wal.WAL

	logger *slog.Logger
}

// Option configures a Device at construction time.
type Option func(*Device)

// WithMirrorPath causes the ring's currently retained records to also be
// durably mirrored to a CRC32-checksummed file at path (spec §6,
// "Persisted state") — write-only, rewritten to match the ring's contents
// on every completed record so it stays bounded to Cap records instead of
// growing forever. Nothing reads it back in; a restarted process starts
// with an empty ring, matching the Non-goal "persistence across restarts."
// DrainAndDestroy removes the file. Pass "" (the default) to disable the
// mirror entirely, as when the log backend is the character device.
func WithMirrorPath(path string) Option {
	return func(d *Device) { d.mirrorPath = path }
}

// WithMaxRecordSize overrides defaultMaxRecordSize.
func WithMaxRecordSize(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.maxRecord = n
		}
	}
}

// WithLogger attaches a structured logger used for best-effort mirror
// write failures. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) { d.logger = logger }
}

// New constructs an empty log device. If a mirror path is configured via
// WithMirrorPath, any existing file there is cleared: the mirror is
// write-only and never seeds the ring, so each run starts empty regardless
// of what a previous run left behind.
func New(opts ...Option) (*Device, error) {
	d := &Device{
		ring:      ring.New(),
		maxRecord: defaultMaxRecordSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.mirrorPath != "" {
		w, err := wal.Open(d.mirrorPath)
		if err != nil {
			return nil, fmt.Errorf("logdev: failed to open mirror: %w", errs.Fault)
		}
		if err := w.Clear(); err != nil {
			return nil, fmt.Errorf("logdev: failed to clear mirror: %w", errs.Fault)
		}
		d.mirror = w
	}
	d.workingIndex = d.ring.In()
	return d, nil
}

// lock acquires the device's mutex, returning errs.Interrupted if ctx is
// cancelled before the lock becomes available.
func (d *Device) lock(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The goroutine above will still acquire the lock eventually and
		// must release it immediately so it is not leaked; run that
		// release asynchronously once it lands.
		go func() {
			<-done
			d.mu.Unlock()
		}()
		return fmt.Errorf("logdev: lock wait aborted: %w", errs.Interrupted)
	}
}

// Append integrates bytes into the log, extending the in-progress partial
// record if one exists or starting a new one otherwise (spec §4.2).
// Returns the number of bytes successfully integrated.
func (d *Device) Append(ctx context.Context, data []byte) (int, error) {
	if err := d.lock(ctx); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	if len(data) == 0 {
		return 0, nil
	}

	var current []byte
	if d.workingIndex != d.ring.In() {
		// Extending a partial record: allocate a new buffer sized to fit
		// both spans, never zeroed, never mutating the original until the
		// copy has fully succeeded.
		prior := d.ring.At(d.workingIndex)
		grownLen := len(prior) + len(data)
		if grownLen > d.maxRecord {
			return 0, fmt.Errorf("logdev: record would exceed %d bytes: %w", d.maxRecord, errs.OutOfMemory)
		}
		grown := make([]byte, grownLen)
		copy(grown, prior)
		copy(grown[len(prior):], data)
		d.ring.Set(d.workingIndex, grown)
		current = grown
	} else {
		if len(data) > d.maxRecord {
			return 0, fmt.Errorf("logdev: record would exceed %d bytes: %w", d.maxRecord, errs.OutOfMemory)
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		// The evicted buffer (if any) simply drops its last reference
		// here; the ring is its sole owner and nothing else retains it,
		// so there is no double-free to guard against in Go (spec §9).
		d.ring.Add(buf)
		d.workingIndex = (d.ring.In() - 1 + ring.Cap) % ring.Cap
		current = buf
	}

	if current[len(current)-1] == Terminator {
		d.workingIndex = d.ring.In()
		if d.mirror != nil {
			// The working record just completed, so every ring slot now
			// holds a finished record; rewrite the mirror to match exactly,
			// keeping it bounded to Cap records instead of appending
			// forever.
			ordered := d.ring.OrderedRecords()
			records := make([]wal.Record, len(ordered))
			for i, rec := range ordered {
				records[i] = wal.Record{Data: rec}
			}
			if err := d.mirror.Rewrite(records); err != nil {
				d.logger.Warn("logdev: mirror rewrite failed", "error", err)
			}
		}
	}

	return len(data), nil
}

// ReadAt copies up to max bytes starting at absolute offset fpos from the
// logical concatenation of retained records. It returns zero bytes (not
// an error) once fpos reaches or passes the end of the log; the caller
// advances its own cursor by the returned length.
func (d *Device) ReadAt(ctx context.Context, fpos int, max int) ([]byte, error) {
	if err := d.lock(ctx); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	rec, intra, _, ok := d.ring.FindAt(fpos)
	if !ok {
		return nil, nil
	}
	n := len(rec) - intra
	if n > max {
		n = max
	}
	out := make([]byte, n)
	copy(out, rec[intra:intra+n])
	return out, nil
}

// SeekTo resolves a seek directive (spec §4.2/§6) into an absolute byte
// offset: writeCmd selects the writeCmd-th retained record (0-indexed from
// the oldest), writeCmdOffset is a byte offset into that record. Equality
// with the record's length is accepted and resolves to one past its end;
// any larger offset, or a writeCmd beyond the retained records, fails with
// errs.Invalid and leaves the log unchanged.
func (d *Device) SeekTo(ctx context.Context, writeCmd, writeCmdOffset uint32) (int, error) {
	if err := d.lock(ctx); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	if d.ring.Len() == 0 {
		return 0, fmt.Errorf("logdev: seek on empty ring: %w", errs.Invalid)
	}
	idx, offset, ok := d.ring.NthFromOldest(int(writeCmd))
	if !ok {
		return 0, fmt.Errorf("logdev: seek command %d past retained records: %w", writeCmd, errs.Invalid)
	}
	target := d.ring.At(idx)
	if int(writeCmdOffset) > len(target) {
		return 0, fmt.Errorf("logdev: seek offset %d exceeds record length %d: %w", writeCmdOffset, len(target), errs.Invalid)
	}
	return offset + int(writeCmdOffset), nil
}

// TotalBytes reports the logical length of the retained log, used by
// callers that want to know when a replay has caught up to the end.
func (d *Device) TotalBytes(ctx context.Context) (int, error) {
	if err := d.lock(ctx); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()
	return d.ring.TotalBytes(), nil
}

// DrainAndDestroy releases the ring's residual records and, if a mirror is
// configured, closes and removes its backing file. It is the log device's
// public destructor (spec §6's drain_and_destroy) and must only be called
// once all handler tasks and the timestamp injector have stopped touching
// the device.
func (d *Device) DrainAndDestroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ring.ForEach(func(idx int, record []byte) {
		d.ring.Set(idx, nil)
	})

	if d.mirror == nil {
		return nil
	}
	if err := d.mirror.Remove(); err != nil {
		return fmt.Errorf("logdev: remove mirror: %w", err)
	}
	return nil
}
