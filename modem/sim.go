package modem

import (
	"context"
	"fmt"

	"i4.energy/across/cellmodem/at"
)

// SIMState is the card readiness as reported by +CPIN.
type SIMState int

const (
	SIMStateUnknown SIMState = iota
	SIMStateReady
	SIMStatePINRequired
	SIMStatePUKRequired
	SIMStateNotInserted
)

func (s SIMState) String() string {
	switch s {
	case SIMStateReady:
		return "READY"
	case SIMStatePINRequired:
		return "SIM PIN"
	case SIMStatePUKRequired:
		return "SIM PUK"
	case SIMStateNotInserted:
		return "NOT INSERTED"
	default:
		return "UNKNOWN"
	}
}

// SIMLockState is the PIN-lock facility state as reported by +CLCK.
type SIMLockState int

const (
	SIMLockUnknown SIMLockState = iota
	SIMLockDisabled
	SIMLockEnabled
)

// SIMInfo merges the card readiness with the PIN-lock facility state.
type SIMInfo struct {
	State SIMState
	Lock  SIMLockState
}

// parseCPIN parses '+CPIN: <state>'.
func parseCPIN(line string, out *SIMState) error {
	*out = SIMStateUnknown

	rest, ok := at.TrimPrefix(line, "+CPIN:")
	if !ok {
		return fmt.Errorf("missing +CPIN prefix in %q: %w", line, ErrParse)
	}
	switch rest {
	case "READY":
		*out = SIMStateReady
	case "SIM PIN":
		*out = SIMStatePINRequired
	case "SIM PUK":
		*out = SIMStatePUKRequired
	case "NOT INSERTED":
		*out = SIMStateNotInserted
	default:
		return fmt.Errorf("unrecognized SIM state %q: %w", rest, ErrParse)
	}
	return nil
}

// parseCLCK parses '+CLCK: <0|1>'. Values outside {0,1} are errors, not
// clamped.
func parseCLCK(line string, out *SIMLockState) error {
	*out = SIMLockUnknown

	rest, ok := at.TrimPrefix(line, "+CLCK:")
	if !ok {
		return fmt.Errorf("missing +CLCK prefix in %q: %w", line, ErrParse)
	}
	v, ok := at.NewCursor(rest).NextUint(8)
	if !ok || v > 1 {
		return fmt.Errorf("bad lock state in %q: %w", line, ErrParse)
	}
	if v == 1 {
		*out = SIMLockEnabled
	} else {
		*out = SIMLockDisabled
	}
	return nil
}

// SIMStatus reads the card readiness and the PIN-lock facility state.
func (m *Modem) SIMStatus(ctx context.Context) (SIMInfo, error) {
	out := SIMInfo{State: SIMStateUnknown, Lock: SIMLockUnknown}

	cpin := Command{
		Text:   "AT+CPIN?",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+CPIN:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+CPIN:")
			return parseCPIN(line, &out.State)
		},
	}
	if err := m.executeWithRetry(ctx, cpin, m.config.Retry); err != nil {
		return out, err
	}

	clck := Command{
		Text:   `AT+CLCK="SC",2`,
		Shape:  ShapeSinglePrefixed,
		Prefix: "+CLCK:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+CLCK:")
			return parseCLCK(line, &out.Lock)
		},
	}
	if err := m.executeWithRetry(ctx, clck, m.config.Retry); err != nil {
		return out, err
	}
	return out, nil
}

// ICCID reads the SIM card's serial number.
func (m *Modem) ICCID(ctx context.Context) (string, error) {
	var iccid string
	cmd := Command{
		Text:   "AT+QCCID",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QCCID:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QCCID:")
			rest, _ := at.TrimPrefix(line, "+QCCID:")
			if rest == "" {
				return fmt.Errorf("empty ICCID in %q: %w", line, ErrParse)
			}
			iccid = rest
			return nil
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return "", err
	}
	return iccid, nil
}
