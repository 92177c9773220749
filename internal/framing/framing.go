// Package framing implements the per-chunk seek-directive recognizer from
// spec §4.3/§6. Record assembly itself is just "append verbatim to the
// log device" (internal/logdev already handles partial-record carryover),
// so this package's only job is classifying each received chunk as either
// a seek directive or ordinary log data.
package framing

import (
	"regexp"
	"strconv"
)

// seekPattern anchors the whole chunk so that a chunk carrying the
// directive plus any additional bytes is rejected as non-matching, per
// spec §4.3: "a chunk that both matches and carries additional bytes is
// rejected". The trailing newline is optional to match spec §6's
// "<d>,<d>\n?".
var seekPattern = regexp.MustCompile(`^AESDCHAR_IOCSEEKTO:([0-9]+),([0-9]+)\n?$`)

// Seek is a parsed seek directive: WriteCmd selects a retained record
// (0-indexed from the oldest), WriteCmdOffset is a byte offset into it.
type Seek struct {
	WriteCmd       uint32
	WriteCmdOffset uint32
}

// Classify inspects one received chunk. If it is a seek directive, ok is
// true and the chunk must NOT be appended to the log. Otherwise ok is
// false and the caller should append chunk to the log verbatim.
func Classify(chunk []byte) (seek Seek, ok bool) {
	m := seekPattern.FindSubmatch(chunk)
	if m == nil {
		return Seek{}, false
	}
	writeCmd, err := strconv.ParseUint(string(m[1]), 10, 32)
	if err != nil {
		return Seek{}, false
	}
	writeCmdOffset, err := strconv.ParseUint(string(m[2]), 10, 32)
	if err != nil {
		return Seek{}, false
	}
	return Seek{WriteCmd: uint32(writeCmd), WriteCmdOffset: uint32(writeCmdOffset)}, true
}

// ContainsTerminator reports whether chunk carries the record terminator
// byte (0x0A) anywhere in it, which is enough to trigger the RECEIVING →
// REPLAYING transition in spec §4.4 (record completion is tracked by
// internal/logdev's working_index, not by the framer).
func ContainsTerminator(chunk []byte) bool {
	for _, b := range chunk {
		if b == '\n' {
			return true
		}
	}
	return false
}
