package logdev

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeld/aesdsocket-go/internal/errs"
	"github.com/aeld/aesdsocket-go/internal/ring"
	"github.com/aeld/aesdsocket-go/internal/wal"
)

func TestDevice_AppendCompleteRecord(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	n, err := d.Append(context.Background(), []byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	out, err := d.ReadAt(context.Background(), 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestDevice_PartialThenCompletion(t *testing.T) {
	// Mirrors spec.md §8 scenario 2: a partial record from one connection
	// is completed by bytes from a later, unrelated append.
	d, err := New()
	require.NoError(t, err)

	_, err = d.Append(context.Background(), []byte("ab"))
	require.NoError(t, err)

	_, err = d.Append(context.Background(), []byte("c\n"))
	require.NoError(t, err)

	out, err := d.ReadAt(context.Background(), 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, "abc\n", string(out))
}

func TestDevice_EvictionScenario(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	lines := []string{"0\n", "1\n", "2\n", "3\n", "4\n", "5\n", "6\n", "7\n", "8\n", "9\n", "a\n"}
	for _, l := range lines {
		_, err := d.Append(context.Background(), []byte(l))
		require.NoError(t, err)
	}

	var got []byte
	for {
		chunk, err := d.ReadAt(context.Background(), len(got), 1024)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}
	assert.Equal(t, "1\n2\n3\n4\n5\n6\n7\n8\n9\na\n", string(got))
}

func TestDevice_SeekToAndReadAt(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	for _, l := range []string{"0\n", "1\n", "2\n", "3\n", "4\n", "5\n", "6\n", "7\n", "8\n", "9\n", "a\n"} {
		_, err := d.Append(context.Background(), []byte(l))
		require.NoError(t, err)
	}

	// record index 2 from oldest ("3\n"), offset 1 ("\n").
	off, err := d.SeekTo(context.Background(), 2, 1)
	require.NoError(t, err)

	// ReadAt returns at most the rest of one record, so read until it
	// reports zero bytes, as a replay does.
	var out []byte
	for {
		chunk, err := d.ReadAt(context.Background(), off+len(out), 1024)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}
	assert.Equal(t, "\n4\n5\n6\n7\n8\n9\na\n", string(out))
}

func TestDevice_SeekOutOfRange(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	_, err = d.Append(context.Background(), []byte("hello\n"))
	require.NoError(t, err)

	_, err = d.SeekTo(context.Background(), 5, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.Invalid)
}

func TestDevice_SeekOnEmptyRing(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	_, err = d.SeekTo(context.Background(), 0, 0)
	assert.ErrorIs(t, err, errs.Invalid)
}

func TestDevice_SeekOffsetEqualToRecordLengthAccepted(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	_, err = d.Append(context.Background(), []byte("ab\n"))
	require.NoError(t, err)

	off, err := d.SeekTo(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, off)

	out, err := d.ReadAt(context.Background(), off, 1024)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDevice_ExtendAppendOutOfMemoryLeavesPartialIntact(t *testing.T) {
	d, err := New(WithMaxRecordSize(4))
	require.NoError(t, err)

	_, err = d.Append(context.Background(), []byte("ab"))
	require.NoError(t, err)

	_, err = d.Append(context.Background(), []byte("cdef"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.OutOfMemory))

	out, err := d.ReadAt(context.Background(), 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(out), "partial record must be byte-identical after a failed extend")
}

func TestDevice_ReadAtPastEndReturnsZeroBytes(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	_, err = d.Append(context.Background(), []byte("hi\n"))
	require.NoError(t, err)

	out, err := d.ReadAt(context.Background(), 3, 1024)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDevice_MirrorDoesNotSeedRingOnRestart(t *testing.T) {
	// Persistence across restarts is a Non-goal: the mirror is write-only
	// and a fresh Device never reads it back in.
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.wal")

	d, err := New(WithMirrorPath(path))
	require.NoError(t, err)

	for _, l := range []string{"hello\n", "world\n"} {
		_, err = d.Append(context.Background(), []byte(l))
		require.NoError(t, err)
	}

	restarted, err := New(WithMirrorPath(path))
	require.NoError(t, err)

	total, err := restarted.TotalBytes(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total, "a new Device never seeds its ring from an existing mirror file")

	require.NoError(t, restarted.DrainAndDestroy())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDevice_MirrorBoundedToRetainedRecords(t *testing.T) {
	// The mirror must never grow past what the ring itself retains: an
	// eviction in the ring must be reflected by an eviction in the mirror.
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.wal")

	d, err := New(WithMirrorPath(path))
	require.NoError(t, err)

	lines := []string{"0\n", "1\n", "2\n", "3\n", "4\n", "5\n", "6\n", "7\n", "8\n", "9\n", "a\n"}
	for _, l := range lines {
		_, err = d.Append(context.Background(), []byte(l))
		require.NoError(t, err)
	}

	mirrored, err := wal.Open(path)
	require.NoError(t, err)
	defer mirrored.Close()

	records, err := mirrored.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, ring.Cap, "mirror must stay capped at the ring's capacity, not grow per append")

	var got []byte
	for _, rec := range records {
		got = append(got, rec.Data...)
	}
	assert.Equal(t, "1\n2\n3\n4\n5\n6\n7\n8\n9\na\n", string(got))

	require.NoError(t, d.DrainAndDestroy())
}

func TestDevice_MirrorSkipsIncompletePartialRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.wal")

	d, err := New(WithMirrorPath(path))
	require.NoError(t, err)

	_, err = d.Append(context.Background(), []byte("partial-no-newline"))
	require.NoError(t, err)

	mirrored, err := wal.Open(path)
	require.NoError(t, err)
	defer mirrored.Close()

	records, err := mirrored.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records, "an incomplete record is never persisted to the mirror")

	require.NoError(t, d.DrainAndDestroy())
}

func TestDevice_LockInterruptible(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = d.Append(ctx, []byte("x\n"))
	assert.ErrorIs(t, err, errs.Interrupted)
}
