package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/cellmodem/at"
)

// FlowControl is the serial flow control mode pair from AT+IFC. Valid
// values for each direction are 0 (none), 1 (software) and 2 (hardware).
type FlowControl struct {
	DCE int
	DTE int
}

func (f *FlowControl) reset() {
	f.DCE = -1
	f.DTE = -1
}

// parseIFC parses '+IFC: <dce>,<dte>'.
func parseIFC(line string, out *FlowControl) error {
	out.reset()

	rest, ok := at.TrimPrefix(line, "+IFC:")
	if !ok {
		return fmt.Errorf("missing +IFC prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	dce, okDCE := c.NextUint(8)
	dte, okDTE := c.NextUint(8)
	if !okDCE || !okDTE || dce > 2 || dte > 2 {
		return fmt.Errorf("bad flow control values in %q: %w", line, ErrParse)
	}
	out.DCE = int(dce)
	out.DTE = int(dte)
	return nil
}

// FlowControlStatus reads the serial flow control configuration.
func (m *Modem) FlowControlStatus(ctx context.Context) (FlowControl, error) {
	var out FlowControl
	out.reset()
	cmd := Command{
		Text:   "AT+IFC?",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+IFC:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+IFC:")
			return parseIFC(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return out, err
	}
	return out, nil
}

// SetFlowControl applies the serial flow control configuration.
func (m *Modem) SetFlowControl(ctx context.Context, desired FlowControl) error {
	if desired.DCE < 0 || desired.DCE > 2 || desired.DTE < 0 || desired.DTE > 2 {
		return fmt.Errorf("%w: flow control %d,%d", ErrInvalidArgument, desired.DCE, desired.DTE)
	}
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:  fmt.Sprintf("AT+IFC=%d,%d", desired.DCE, desired.DTE),
			Shape: ShapeNone,
		})
	})
}

// URCPort identifies the physical port unsolicited result codes are
// routed to.
type URCPort string

const (
	URCPortMain URCPort = "main"
	URCPortAux  URCPort = "aux"
	URCPortUART URCPort = "uart1"
)

// parseURCPort parses '+QURCCFG: "urcport","<port>"'.
func parseURCPort(line string, out *URCPort) error {
	*out = ""

	rest, ok := at.TrimPrefix(line, "+QURCCFG:")
	if !ok {
		return fmt.Errorf("missing +QURCCFG prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	if opt, ok := c.Next(); !ok || opt != "urcport" {
		return fmt.Errorf("not a urcport line: %q: %w", line, ErrParse)
	}
	port, ok := c.Next()
	if !ok || port == "" {
		return fmt.Errorf("missing port in %q: %w", line, ErrParse)
	}
	*out = URCPort(port)
	return nil
}

// URCPortStatus reads the port unsolicited result codes are routed to.
func (m *Modem) URCPortStatus(ctx context.Context) (URCPort, error) {
	var out URCPort
	cmd := Command{
		Text:   `AT+QURCCFG="urcport"`,
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QURCCFG:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QURCCFG:")
			return parseURCPort(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return "", err
	}
	return out, nil
}

// SetURCPort routes unsolicited result codes to the given port.
func (m *Modem) SetURCPort(ctx context.Context, desired URCPort) error {
	if desired == "" {
		return fmt.Errorf("%w: empty URC port", ErrInvalidArgument)
	}
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:  fmt.Sprintf(`AT+QURCCFG="urcport","%s"`, desired),
			Shape: ShapeNone,
		})
	})
}

// FunctionalityLevel is the UE functionality setting from AT+CFUN.
type FunctionalityLevel int

const (
	FunctionalityMinimum  FunctionalityLevel = 0
	FunctionalityFull     FunctionalityLevel = 1
	FunctionalityAirplane FunctionalityLevel = 4

	FunctionalityUnknown FunctionalityLevel = -1
)

// parseCFUN parses '+CFUN: <fun>'. Only the levels the modem documents
// are accepted.
func parseCFUN(line string, out *FunctionalityLevel) error {
	*out = FunctionalityUnknown

	rest, ok := at.TrimPrefix(line, "+CFUN:")
	if !ok {
		return fmt.Errorf("missing +CFUN prefix in %q: %w", line, ErrParse)
	}
	v, ok := at.NewCursor(rest).NextUint(8)
	if !ok {
		return fmt.Errorf("missing level in %q: %w", line, ErrParse)
	}
	switch FunctionalityLevel(v) {
	case FunctionalityMinimum, FunctionalityFull, FunctionalityAirplane:
		*out = FunctionalityLevel(v)
	default:
		return fmt.Errorf("functionality level %d out of range in %q: %w", v, line, ErrParse)
	}
	return nil
}

// FunctionalityStatus reads the UE functionality level.
func (m *Modem) FunctionalityStatus(ctx context.Context) (FunctionalityLevel, error) {
	out := FunctionalityUnknown
	cmd := Command{
		Text:   "AT+CFUN?",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+CFUN:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+CFUN:")
			return parseCFUN(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return FunctionalityUnknown, err
	}
	return out, nil
}

// SetFunctionality applies the UE functionality level. A full radio
// restart takes seconds, so the transaction runs with a stretched timeout.
func (m *Modem) SetFunctionality(ctx context.Context, desired FunctionalityLevel) error {
	switch desired {
	case FunctionalityMinimum, FunctionalityFull, FunctionalityAirplane:
	default:
		return fmt.Errorf("%w: functionality level %d", ErrInvalidArgument, desired)
	}
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:    fmt.Sprintf("AT+CFUN=%d", desired),
			Shape:   ShapeNone,
			Timeout: 3 * m.config.ATTimeout,
		})
	})
}

// parseLwM2M parses the lwm2m feature report, tolerating the same missing
// prefix variation as iotopmode.
func parseLwM2M(line string, enabled *bool) error {
	*enabled = false

	rest, ok := at.TrimPrefix(line, "+QCFG:")
	if !ok {
		rest = strings.TrimSpace(line)
	}
	c := at.NewCursor(rest)
	if opt, ok := c.Next(); !ok || opt != "lwm2m" {
		return fmt.Errorf("not an lwm2m line: %q: %w", line, ErrParse)
	}
	v, ok := c.NextUint(8)
	if !ok || v > 1 {
		return fmt.Errorf("bad lwm2m value in %q: %w", line, ErrParse)
	}
	*enabled = v == 1
	return nil
}

// LwM2MEnabled reports whether the built-in LwM2M client is active.
func (m *Modem) LwM2MEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	cmd := Command{
		Text:  `AT+QCFG="lwm2m"`,
		Shape: ShapeMultiUnprefixed,
		Parse: func(resp Response) error {
			for _, line := range resp.Lines {
				if err := parseLwM2M(line, &enabled); err == nil {
					return nil
				}
			}
			return fmt.Errorf("no lwm2m line in response: %w", ErrParse)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return false, err
	}
	return enabled, nil
}

// DisableLwM2M switches the built-in LwM2M client off so it cannot hold
// the data connection open.
func (m *Modem) DisableLwM2M(ctx context.Context) error {
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:  `AT+QCFG="lwm2m",0`,
			Shape: ShapeNone,
		})
	})
}
