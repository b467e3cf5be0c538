package modem

import (
	"context"
	"fmt"

	"i4.energy/across/cellmodem/at"
)

// InvalidContextID marks an unused slot in a PDN status array so callers
// can compute how many slots were filled.
const InvalidContextID = 0xFF

// PDNContext is one row of the PDN activation status report.
//
// State and Type are carried through as reported: the protocol documents
// only 0/1 for both, but firmware has been observed to emit other values
// and the driver deliberately does not reject them.
type PDNContext struct {
	ContextID uint8
	State     uint8
	Type      uint8
	Address   string
}

// reset marks the slot unused.
func (p *PDNContext) reset() {
	*p = PDNContext{ContextID: InvalidContextID}
}

// parsePDNRow parses one '+QIACT: <id>,<state>,<type>[,"<addr>"]' row.
// Fail-closed: the slot is reset to its sentinel before any error return.
func parsePDNRow(line string, out *PDNContext) error {
	out.reset()

	rest, ok := at.TrimPrefix(line, "+QIACT:")
	if !ok {
		return fmt.Errorf("missing +QIACT prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	id, okID := c.NextUint(8)
	state, okState := c.NextUint(8)
	typ, okType := c.NextUint(8)
	if !okID || !okState || !okType {
		return fmt.Errorf("missing fields in %q: %w", line, ErrParse)
	}
	if id < 1 || id > 16 {
		return fmt.Errorf("context id %d out of range in %q: %w", id, line, ErrParse)
	}

	out.ContextID = uint8(id)
	out.State = uint8(state)
	out.Type = uint8(typ)
	// The address is optional; deactivated contexts omit it.
	if addr, ok := c.Next(); ok {
		out.Address = addr
	}
	return nil
}

// PDNStatus fills out with the currently active PDN contexts, one row per
// context, and returns the number of slots filled. The first unused slot
// (if any) is marked with InvalidContextID. Rows beyond the slot capacity
// are dropped with a warning.
func (m *Modem) PDNStatus(ctx context.Context, out []PDNContext) (int, error) {
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: no output slots", ErrInvalidArgument)
	}
	for i := range out {
		out[i].reset()
	}

	filled := 0
	cmd := Command{
		Text:  "AT+QIACT?",
		Shape: ShapeMultiUnprefixed,
		Parse: func(resp Response) error {
			filled = 0
			for i := range out {
				out[i].reset()
			}
			for _, line := range resp.Lines {
				if filled >= len(out) {
					m.logger.Warn("more PDN contexts than output slots, dropping",
						"capacity", len(out))
					break
				}
				if err := parsePDNRow(line, &out[filled]); err != nil {
					return err
				}
				filled++
			}
			return nil
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		for i := range out {
			out[i].reset()
		}
		return 0, err
	}
	return filled, nil
}
