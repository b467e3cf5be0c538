package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/cellmodem/at"
)

// RAT identifies one radio access technology in the scan sequence.
type RAT uint8

const (
	RATUnset RAT = iota
	RATGsm
	RATCatM1
	RATCatNB1
)

func (r RAT) String() string {
	switch r {
	case RATGsm:
		return "GSM"
	case RATCatM1:
		return "CAT-M1"
	case RATCatNB1:
		return "CAT-NB1"
	default:
		return "UNSET"
	}
}

// scanSeqCode returns the two-digit nwscanseq code for the RAT.
func (r RAT) scanSeqCode() (string, bool) {
	switch r {
	case RATGsm:
		return "01", true
	case RATCatM1:
		return "02", true
	case RATCatNB1:
		return "03", true
	}
	return "", false
}

func ratFromCode(code string) (RAT, bool) {
	switch code {
	case "01":
		return RATGsm, true
	case "02":
		return RATCatM1, true
	case "03":
		return RATCatNB1, true
	}
	return RATUnset, false
}

// RATPriority is the fixed 3-slot scan order. Unused trailing slots hold
// RATUnset.
type RATPriority [3]RAT

func (p *RATPriority) reset() {
	*p = RATPriority{}
}

// parseNwScanSeq parses '+QCFG: "nwscanseq",<seq>' where seq is up to
// three two-digit RAT codes, e.g. "020301". Firmware revisions report
// shorter sequences; missing trailing slots stay RATUnset and are reported
// via the partial flag rather than failing the parse.
func parseNwScanSeq(line string, out *RATPriority) (partial bool, err error) {
	out.reset()

	rest, ok := at.TrimPrefix(line, "+QCFG:")
	if !ok {
		return false, fmt.Errorf("missing +QCFG prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	if opt, ok := c.Next(); !ok || opt != "nwscanseq" {
		return false, fmt.Errorf("not a nwscanseq line: %q: %w", line, ErrParse)
	}
	seq, ok := c.Next()
	if !ok || len(seq) == 0 || len(seq)%2 != 0 || len(seq) > 6 {
		return false, fmt.Errorf("bad scan sequence %q: %w", seq, ErrParse)
	}

	for i := 0; i*2 < len(seq); i++ {
		code := seq[i*2 : i*2+2]
		// "00" means automatic ordering and terminates the list.
		if code == "00" {
			break
		}
		rat, ok := ratFromCode(code)
		if !ok {
			out.reset()
			return false, fmt.Errorf("unknown RAT code %q in %q: %w", code, seq, ErrParse)
		}
		out[i] = rat
	}
	return out[len(out)-1] == RATUnset, nil
}

// RATScanPriority reads the radio access technology scan order.
func (m *Modem) RATScanPriority(ctx context.Context) (RATPriority, error) {
	var out RATPriority
	cmd := Command{
		Text:   `AT+QCFG="nwscanseq"`,
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QCFG:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QCFG:")
			partial, err := parseNwScanSeq(line, &out)
			if err != nil {
				return err
			}
			if partial {
				m.logger.Warn("modem reported a partial RAT scan sequence", "line", line)
			}
			return nil
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return out, err
	}
	return out, nil
}

// SetRATScanPriority applies the radio access technology scan order. At
// least the first slot must be set; trailing RATUnset slots are omitted.
func (m *Modem) SetRATScanPriority(ctx context.Context, desired RATPriority) error {
	var b strings.Builder
	for _, rat := range desired {
		if rat == RATUnset {
			break
		}
		code, ok := rat.scanSeqCode()
		if !ok {
			return fmt.Errorf("%w: RAT %d", ErrInvalidArgument, rat)
		}
		b.WriteString(code)
	}
	if b.Len() == 0 {
		return fmt.Errorf("%w: empty scan sequence", ErrInvalidArgument)
	}

	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:  fmt.Sprintf(`AT+QCFG="nwscanseq",%s,1`, b.String()),
			Shape: ShapeNone,
		})
	})
}
