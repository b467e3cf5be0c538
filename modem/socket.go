package modem

import (
	"context"
	"fmt"

	"i4.energy/across/cellmodem/at"
)

const (
	// maxSocketPayload is the largest byte count a single receive command
	// may return per the Quectel TCP/IP application note.
	maxSocketPayload = 1500

	// maxFrameBuffer bounds the scanner buffer; a full data frame (length
	// line plus payload) must fit.
	maxFrameBuffer = 8192

	maxConnectID = 11
)

// socketFrameSpec describes the plain-TCP receive frame: "+QIRD: <len>"
// followed by exactly <len> raw bytes.
var socketFrameSpec = at.FrameSpec{
	Prefix:       "+QIRD:",
	MaxPrefixLen: 16,
	MaxPayload:   maxSocketPayload,
}

// secureFrameSpec is the TLS-socket variant, identical but for the literal
// prefix and its longer length line.
var secureFrameSpec = at.FrameSpec{
	Prefix:       "+QSSLRECV:",
	MaxPrefixLen: 20,
	MaxPayload:   maxSocketPayload,
}

// SocketReceive reads pending data from a TCP socket context into buf and
// returns the number of bytes copied. A return of 0 with a nil error means
// no data was buffered on the modem.
//
// The payload is binary-safe: it may contain any byte values, including
// CRLF sequences that would otherwise terminate lines.
func (m *Modem) SocketReceive(ctx context.Context, connectID int, buf []byte) (int, error) {
	cmd := fmt.Sprintf("AT+QIRD=%d,%d", connectID, len(buf))
	return m.receive(ctx, connectID, cmd, socketFrameSpec, buf)
}

// SecureSocketReceive is the TLS variant of SocketReceive, reading from a
// QSSL client context.
func (m *Modem) SecureSocketReceive(ctx context.Context, clientID int, buf []byte) (int, error) {
	cmd := fmt.Sprintf("AT+QSSLRECV=%d,%d", clientID, len(buf))
	return m.receive(ctx, clientID, cmd, secureFrameSpec, buf)
}

func (m *Modem) receive(ctx context.Context, id int, cmdText string, spec at.FrameSpec, buf []byte) (int, error) {
	if id < 0 || id > maxConnectID {
		return 0, fmt.Errorf("%w: connect id %d", ErrInvalidArgument, id)
	}
	if len(buf) == 0 || len(buf) > spec.MaxPayload {
		return 0, fmt.Errorf("%w: buffer size %d outside [1, %d]", ErrInvalidArgument, len(buf), spec.MaxPayload)
	}

	var copied int
	cmd := Command{
		Text:  cmdText,
		Shape: ShapeMultiBinaryWithPrefix,
		Parse: func(resp Response) error {
			n, err := m.extractPayload(resp, spec, buf)
			copied = n
			return err
		},
	}
	if err := m.execute(ctx, cmd); err != nil {
		return 0, err
	}
	return copied, nil
}

// extractPayload locates the data frame within the assembled response and
// copies its payload into buf.
func (m *Modem) extractPayload(resp Response, spec at.FrameSpec, buf []byte) (int, error) {
	for _, line := range resp.Lines {
		status, frame, err := at.LocateFrame([]byte(line), spec)
		switch status {
		case at.FrameLocated:
			payload := line[frame.PayloadStart : frame.PayloadStart+frame.Length]
			if frame.Length > len(buf) {
				// The modem returned more than requested. Truncating is an
				// explicit fallback, never silent.
				m.logger.Warn("receive frame larger than buffer, truncating",
					"declared", frame.Length, "buffer", len(buf))
				return copy(buf, payload), nil
			}
			return copy(buf, payload), nil
		case at.FrameInvalid:
			return 0, fmt.Errorf("%s frame: %v: %w", spec.Prefix, err, ErrProtocolViolation)
		case at.FrameIncomplete:
			return 0, fmt.Errorf("%s frame truncated: %w", spec.Prefix, ErrParse)
		}
	}
	return 0, fmt.Errorf("no %s frame in response: %w", spec.Prefix, ErrParse)
}
