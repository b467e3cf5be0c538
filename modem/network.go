package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/cellmodem/at"
)

// NetworkCategory selects the LTE category search preference.
type NetworkCategory int

const (
	NetworkCategoryCatM1 NetworkCategory = 0
	NetworkCategoryNB1   NetworkCategory = 1
	NetworkCategoryBoth  NetworkCategory = 2

	// NetworkCategoryUnknown is the sentinel for an unreported category.
	NetworkCategoryUnknown NetworkCategory = -1
)

func (c NetworkCategory) String() string {
	switch c {
	case NetworkCategoryCatM1:
		return "CAT-M1"
	case NetworkCategoryNB1:
		return "CAT-NB1"
	case NetworkCategoryBoth:
		return "CAT-M1+NB1"
	default:
		return "UNKNOWN"
	}
}

// parseIotOpMode parses the iotopmode report. Some firmware revisions emit
// '+QCFG: "iotopmode",<n>' while others drop the prefix and emit
// '"iotopmode",<n>'; both forms are accepted.
func parseIotOpMode(line string, out *NetworkCategory) error {
	*out = NetworkCategoryUnknown

	rest, ok := at.TrimPrefix(line, "+QCFG:")
	if !ok {
		rest = strings.TrimSpace(line)
	}
	c := at.NewCursor(rest)
	if opt, ok := c.Next(); !ok || opt != "iotopmode" {
		return fmt.Errorf("not an iotopmode line: %q: %w", line, ErrParse)
	}
	mode, ok := c.NextUint(8)
	if !ok || mode > 2 {
		return fmt.Errorf("bad iotopmode value in %q: %w", line, ErrParse)
	}
	*out = NetworkCategory(mode)
	return nil
}

// NetworkCategoryStatus reads the LTE category search preference.
func (m *Modem) NetworkCategoryStatus(ctx context.Context) (NetworkCategory, error) {
	out := NetworkCategoryUnknown
	cmd := Command{
		Text:  `AT+QCFG="iotopmode"`,
		Shape: ShapeMultiUnprefixed,
		Parse: func(resp Response) error {
			for _, line := range resp.Lines {
				if err := parseIotOpMode(line, &out); err == nil {
					return nil
				}
			}
			return fmt.Errorf("no iotopmode line in response: %w", ErrParse)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return NetworkCategoryUnknown, err
	}
	return out, nil
}

// SetNetworkCategory applies the LTE category search preference.
func (m *Modem) SetNetworkCategory(ctx context.Context, desired NetworkCategory) error {
	if desired < NetworkCategoryCatM1 || desired > NetworkCategoryBoth {
		return fmt.Errorf("%w: network category %d", ErrInvalidArgument, desired)
	}
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:  fmt.Sprintf(`AT+QCFG="iotopmode",%d,1`, desired),
			Shape: ShapeNone,
		})
	})
}

// OperatorSelection is the +COPS registration state: the selection mode and,
// when registered, the operator name and access technology.
type OperatorSelection struct {
	Mode     int
	Format   int
	Operator string
	// AccessTech is the 3GPP AcT code, -1 when not reported.
	AccessTech int
}

func (o *OperatorSelection) reset() {
	o.Mode = -1
	o.Format = -1
	o.Operator = ""
	o.AccessTech = -1
}

// parseCOPS parses '+COPS: <mode>[,<format>,"<oper>"[,<act>]]'.
func parseCOPS(line string, out *OperatorSelection) error {
	out.reset()

	rest, ok := at.TrimPrefix(line, "+COPS:")
	if !ok {
		return fmt.Errorf("missing +COPS prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	mode, ok := c.NextUint(8)
	if !ok || mode > 4 {
		return fmt.Errorf("bad operator selection mode in %q: %w", line, ErrParse)
	}
	out.Mode = int(mode)

	// Deregistered modems report only the mode.
	format, ok := c.NextUint(8)
	if !ok {
		return nil
	}
	oper, ok := c.Next()
	if !ok {
		out.reset()
		return fmt.Errorf("format without operator in %q: %w", line, ErrParse)
	}
	out.Format = int(format)
	out.Operator = oper
	if act, ok := c.NextUint(8); ok {
		out.AccessTech = int(act)
	}
	return nil
}

// OperatorStatus reads the current operator selection and registration.
func (m *Modem) OperatorStatus(ctx context.Context) (OperatorSelection, error) {
	var out OperatorSelection
	out.reset()
	cmd := Command{
		Text:   "AT+COPS?",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+COPS:",
		// Operator scans on a searching modem run long.
		Timeout: 3 * m.config.ATTimeout,
		Parse: func(resp Response) error {
			line, _ := resp.First("+COPS:")
			return parseCOPS(line, &out)
		},
	}
	if err := m.execute(ctx, cmd); err != nil {
		return out, err
	}
	return out, nil
}

// SetOperatorAutomatic returns operator selection to automatic mode.
func (m *Modem) SetOperatorAutomatic(ctx context.Context) error {
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{Text: "AT+COPS=0", Shape: ShapeNone})
	})
}

// SetOperator forces registration on a specific operator. The format is the
// 3GPP <format> code (0 long name, 1 short name, 2 numeric). A manual
// registration attempt can run as long as an operator scan.
func (m *Modem) SetOperator(ctx context.Context, format int, operator string) error {
	if format < 0 || format > 2 || operator == "" || strings.ContainsAny(operator, `"`) {
		return fmt.Errorf("%w: operator selection %d,%q", ErrInvalidArgument, format, operator)
	}
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:    fmt.Sprintf(`AT+COPS=1,%d,"%s"`, format, operator),
			Shape:   ShapeNone,
			Timeout: 3 * m.config.ATTimeout,
		})
	})
}

// RegistrationState is the EPS registration status from +CEREG.
type RegistrationState int

const (
	RegistrationNotSearching RegistrationState = 0
	RegistrationHome         RegistrationState = 1
	RegistrationSearching    RegistrationState = 2
	RegistrationDenied       RegistrationState = 3
	RegistrationRoaming      RegistrationState = 5

	RegistrationUnknown RegistrationState = -1
)

func (s RegistrationState) String() string {
	switch s {
	case RegistrationNotSearching:
		return "NOT SEARCHING"
	case RegistrationHome:
		return "HOME"
	case RegistrationSearching:
		return "SEARCHING"
	case RegistrationDenied:
		return "DENIED"
	case RegistrationRoaming:
		return "ROAMING"
	default:
		return "UNKNOWN"
	}
}

// Registered reports whether the state allows user traffic.
func (s RegistrationState) Registered() bool {
	return s == RegistrationHome || s == RegistrationRoaming
}

// NetworkInfo merges the serving cell report (+QNWINFO) with the EPS
// registration status (+CEREG).
type NetworkInfo struct {
	AccessTech string
	Operator   string
	Band       string
	Channel    int
	State      RegistrationState
}

func (n *NetworkInfo) reset() {
	n.AccessTech = ""
	n.Operator = ""
	n.Band = ""
	n.Channel = -1
	n.State = RegistrationUnknown
}

// parseQNWINFO parses '+QNWINFO: "<act>","<oper>","<band>",<channel>'.
// An unregistered modem reports '+QNWINFO: No Service' with no fields.
func parseQNWINFO(line string, out *NetworkInfo) error {
	state := out.State
	out.reset()
	out.State = state // owned by the +CEREG source

	rest, ok := at.TrimPrefix(line, "+QNWINFO:")
	if !ok {
		return fmt.Errorf("missing +QNWINFO prefix in %q: %w", line, ErrParse)
	}
	if strings.EqualFold(rest, "No Service") {
		return nil
	}
	c := at.NewCursor(rest)
	act, okAct := c.Next()
	oper, okOper := c.Next()
	band, okBand := c.Next()
	channel, okCh := c.NextUint(32)
	if !okAct || !okOper || !okBand || !okCh {
		st := out.State
		out.reset()
		out.State = st
		return fmt.Errorf("missing fields in %q: %w", line, ErrParse)
	}
	out.AccessTech = act
	out.Operator = oper
	out.Band = band
	out.Channel = int(channel)
	return nil
}

// parseCEREG parses '+CEREG: <n>,<stat>[,...]'. Only the status field is
// consumed; location fields are ignored.
func parseCEREG(line string, out *RegistrationState) error {
	*out = RegistrationUnknown

	rest, ok := at.TrimPrefix(line, "+CEREG:")
	if !ok {
		return fmt.Errorf("missing +CEREG prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	if _, ok := c.NextUint(8); !ok {
		return fmt.Errorf("missing mode field in %q: %w", line, ErrParse)
	}
	stat, ok := c.NextUint(8)
	if !ok {
		return fmt.Errorf("missing status field in %q: %w", line, ErrParse)
	}
	switch RegistrationState(stat) {
	case RegistrationNotSearching, RegistrationHome, RegistrationSearching,
		RegistrationDenied, RegistrationRoaming:
		*out = RegistrationState(stat)
	case 4:
		// 3GPP "unknown"
		*out = RegistrationUnknown
	default:
		return fmt.Errorf("registration status %d out of range in %q: %w", stat, line, ErrParse)
	}
	return nil
}

// NetworkStatus reads the serving network information and the registration
// state.
func (m *Modem) NetworkStatus(ctx context.Context) (NetworkInfo, error) {
	var out NetworkInfo
	out.reset()

	cereg := Command{
		Text:   "AT+CEREG?",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+CEREG:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+CEREG:")
			return parseCEREG(line, &out.State)
		},
	}
	if err := m.executeWithRetry(ctx, cereg, m.config.Retry); err != nil {
		return out, err
	}

	qnwinfo := Command{
		Text:   "AT+QNWINFO",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QNWINFO:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QNWINFO:")
			return parseQNWINFO(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, qnwinfo, m.config.Retry); err != nil {
		return out, err
	}
	return out, nil
}
