package at

import (
	"bufio"
	"bytes"
	"fmt"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with
// bufio.Scanner.
//
// It splits the input by CRLF line endings and also recognizes the data
// input prompt ("> ").
//
// Important: This splitter assumes "No Echo" mode (ATE0). If echo is
// enabled, it would need modification to handle command echoes that precede
// the actual response.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match data prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// FrameSpec registers a length-prefixed binary data frame with the splitter.
// Socket receive replies ("+QIRD: <len>" followed by <len> raw bytes) embed
// arbitrary binary data, including CRLF, so they must be extracted before
// generic line splitting sees the payload.
type FrameSpec struct {
	// Prefix is the exact literal prefix of the length line, e.g. "+QIRD:".
	Prefix string
	// MaxPrefixLen bounds the lookahead window when searching for the
	// length line's terminator.
	MaxPrefixLen int
	// MaxPayload is the largest declared byte count the protocol allows.
	MaxPayload int
}

// FrameStatus is the outcome of probing buffered bytes for a data frame.
type FrameStatus int

const (
	// FrameNone means the bytes are not a data frame; most lines are not.
	FrameNone FrameStatus = iota
	// FrameIncomplete means a frame start was recognized but more buffered
	// bytes are needed; the caller must re-invoke once more data arrives.
	FrameIncomplete
	// FrameLocated means the full frame is buffered.
	FrameLocated
	// FrameInvalid means the bytes look like a frame but violate the spec
	// (declared length out of range).
	FrameInvalid
)

// Frame is the parse result of a located data frame.
// PayloadStart and Length are zero unless the status is FrameLocated.
type Frame struct {
	// PayloadStart is the offset of the first payload byte within the
	// probed buffer.
	PayloadStart int
	// Length is the declared payload byte count.
	Length int
}

// LocateFrame determines whether data begins with a length-prefixed binary
// frame matching spec. The payload may contain any byte values, including
// CRLF, so once the declared length is known exactly that many bytes past
// the length line terminator belong to the frame.
func LocateFrame(data []byte, spec FrameSpec) (FrameStatus, Frame, error) {
	if !bytes.HasPrefix(data, []byte(spec.Prefix)) {
		return FrameNone, Frame{}, nil
	}

	// Find the length line terminator within the lookahead window.
	window := len(data)
	if window > spec.MaxPrefixLen {
		window = spec.MaxPrefixLen
	}
	term := bytes.Index(data[:window], []byte(CRLF))
	if term < 0 {
		if len(data) >= spec.MaxPrefixLen {
			// Window exhausted without a terminator; this is an ordinary
			// line that happens to share the prefix.
			return FrameNone, Frame{}, nil
		}
		return FrameIncomplete, Frame{}, nil
	}

	// The length line carries exactly one decimal field after the prefix.
	// Replies carrying comma-separated counters (the unread-statistics
	// variant of +QIRD) are plain lines, not frames.
	length, ok := parseFrameLength(data[len(spec.Prefix):term])
	if !ok {
		return FrameNone, Frame{}, nil
	}
	if length < 0 || length > spec.MaxPayload {
		return FrameInvalid, Frame{}, fmt.Errorf("declared frame length %d outside [0, %d]", length, spec.MaxPayload)
	}

	payloadStart := term + len(CRLF)
	if len(data) < payloadStart+length {
		return FrameIncomplete, Frame{}, nil
	}
	return FrameLocated, Frame{PayloadStart: payloadStart, Length: length}, nil
}

// parseFrameLength parses the decimal byte count of a frame length line,
// tolerating surrounding spaces. Any other character disqualifies the line.
func parseFrameLength(b []byte) (int, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > 1<<24 {
			return 0, false
		}
	}
	return n, true
}

// NewSplitter returns a SplitFunc that behaves like Splitter but extracts
// registered binary data frames as single tokens. A frame token consists of
// the length line, its CRLF terminator and the raw payload bytes; callers
// re-run LocateFrame on the token to obtain the payload offset.
//
// Frames violating their spec are not extracted; their bytes fall through
// to ordinary line splitting and the response parser reports the error.
func NewSplitter(specs ...FrameSpec) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		for _, spec := range specs {
			status, frame, _ := LocateFrame(data, spec)
			switch status {
			case FrameLocated:
				end := frame.PayloadStart + frame.Length
				return end, data[0:end], nil
			case FrameIncomplete:
				if !atEOF {
					return 0, nil, nil
				}
				// Truncated stream; surface what is buffered as a line so
				// the engine can fail the transaction.
			case FrameNone, FrameInvalid:
			}
		}
		return Splitter(data, atEOF)
	}
}
