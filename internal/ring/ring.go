// Package ring implements the fixed-capacity circular buffer of
// variable-length byte records that backs the append log. It is a pure
// data structure: no locking, no I/O. internal/logdev wraps it with a
// mutex and the partial-record bookkeeping.
package ring

// Cap is the fixed number of slots in the ring. Occupancy never exceeds
// Cap regardless of how many records have been appended over the log's
// lifetime; the oldest record is evicted to make room for a new one.
const Cap = 10

// Ring is a fixed-capacity array of owned byte records, addressed by two
// cursors in the manner of a classic kfifo: in is the next slot to fill,
// out is the oldest occupied slot, and full disambiguates the empty and
// full states when in == out.
type Ring struct {
	entries [Cap][]byte
	in      int
	out     int
	full    bool
}

// New returns an empty ring.
func New() *Ring {
	return &Ring{}
}

// Len returns the number of occupied slots.
func (r *Ring) Len() int {
	if r.full {
		return Cap
	}
	if r.in >= r.out {
		return r.in - r.out
	}
	return Cap - r.out + r.in
}

// TotalBytes returns the sum of the lengths of all occupied records.
func (r *Ring) TotalBytes() int {
	total := 0
	r.ForEach(func(_ int, record []byte) {
		total += len(record)
	})
	return total
}

// Add places record at slot in. If the ring was already full, the prior
// occupant of that slot (the oldest record) is returned as evicted so the
// caller can release any external references to it; out then advances
// past it. record must be non-empty; Add never fails for capacity
// reasons — it always succeeds, evicting the oldest record if necessary.
func (r *Ring) Add(record []byte) (evicted []byte, hadEvicted bool) {
	if r.full {
		evicted = r.entries[r.in]
		hadEvicted = true
		r.out = (r.out + 1) % Cap
	}
	r.entries[r.in] = record
	r.in = (r.in + 1) % Cap
	if r.in == r.out {
		r.full = true
	}
	return evicted, hadEvicted
}

// Set replaces the record occupying slot idx in place, without shifting
// any cursor. Used by the log device to grow a partial record.
func (r *Ring) Set(idx int, record []byte) {
	r.entries[idx] = record
}

// At returns the record occupying slot idx, or nil if idx is out of the
// currently occupied range. Used by the log device to read back the slot
// it is accumulating a partial record into.
func (r *Ring) At(idx int) []byte {
	return r.entries[idx]
}

// In returns the write cursor (the slot the next Add will fill).
func (r *Ring) In() int { return r.in }

// FindAt walks the retained records in age order (starting at out),
// subtracting each record's length from fpos, and returns the record
// containing byte fpos along with the remaining intra-record offset.
// It returns ok=false if fpos is at or past the total occupied byte
// count, or if the ring is empty.
func (r *Ring) FindAt(fpos int) (record []byte, intra int, idx int, ok bool) {
	if fpos < 0 {
		return nil, 0, 0, false
	}
	n := r.Len()
	cur := r.out
	remaining := fpos
	for i := 0; i < n; i++ {
		rec := r.entries[cur]
		if remaining < len(rec) {
			return rec, remaining, cur, true
		}
		remaining -= len(rec)
		cur = (cur + 1) % Cap
	}
	return nil, 0, 0, false
}

// NthFromOldest returns the index of the n-th retained record (0-indexed
// from out) and its cumulative byte offset from the start of the log. ok
// is false if the ring does not hold at least n+1 records.
func (r *Ring) NthFromOldest(n int) (idx int, offset int, ok bool) {
	count := r.Len()
	if n < 0 || n >= count {
		return 0, 0, false
	}
	cur := r.out
	sum := 0
	for i := 0; i < n; i++ {
		sum += len(r.entries[cur])
		cur = (cur + 1) % Cap
	}
	return cur, sum, true
}

// ForEach iterates all Cap slots in fixed index order (0..Cap-1,
// regardless of out), invoking visit on each slot whose record is
// non-nil. Used by shutdown to release residual buffers and by
// diagnostics.
func (r *Ring) ForEach(visit func(idx int, record []byte)) {
	for i := 0; i < Cap; i++ {
		if r.entries[i] != nil {
			visit(i, r.entries[i])
		}
	}
}

// OrderedRecords returns the currently retained records oldest-first, the
// same age order FindAt walks. Used to rewrite a bounded on-disk mirror so
// it never holds more than the ring itself does.
func (r *Ring) OrderedRecords() [][]byte {
	n := r.Len()
	out := make([][]byte, 0, n)
	cur := r.out
	for i := 0; i < n; i++ {
		out = append(out, r.entries[cur])
		cur = (cur + 1) % Cap
	}
	return out
}
