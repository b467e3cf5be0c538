package modem

import (
	"context"
	"fmt"

	"i4.energy/across/cellmodem/at"
)

const (
	// PSMTimerUnknown is the sentinel for an unreported or unparsed timer.
	PSMTimerUnknown uint32 = 0xFFFFFFFF
	// PSMTimerDeactivated marks a timer the network has switched off.
	PSMTimerDeactivated uint32 = 0
	// PSMModeUnknown is the sentinel for an unreported PSM mode.
	PSMModeUnknown = -1
)

// PSMSettings are the negotiated power saving mode parameters: the mode
// flag and the two 3GPP timers in seconds.
type PSMSettings struct {
	Mode          int
	TAUSeconds    uint32
	ActiveSeconds uint32
}

func (s *PSMSettings) reset() {
	s.Mode = PSMModeUnknown
	s.TAUSeconds = PSMTimerUnknown
	s.ActiveSeconds = PSMTimerUnknown
}

// timerUnit maps one 3-bit unit code of a GPRS timer octet to its length
// in seconds. Code 0b111 means deactivated.
type timerUnit struct {
	bits    uint8
	seconds uint32
}

// T3412 extended (periodic TAU) units, ascending by duration.
var tauUnits = []timerUnit{
	{0b011, 2},
	{0b100, 30},
	{0b101, 60},
	{0b000, 600},
	{0b001, 3600},
	{0b010, 36000},
	{0b110, 1152000},
}

// T3324 (active time) units, ascending by duration.
var activeUnits = []timerUnit{
	{0b000, 2},
	{0b001, 60},
	{0b010, 360},
}

const timerDeactivatedBits = 0b111

// decodeTimer converts an 8-character binary timer pattern (3 unit bits,
// 5 value bits) to seconds.
func decodeTimer(pattern string, units []timerUnit) (uint32, error) {
	if len(pattern) != 8 {
		return PSMTimerUnknown, fmt.Errorf("timer pattern %q not 8 bits: %w", pattern, ErrParse)
	}
	var octet uint8
	for i := 0; i < 8; i++ {
		switch pattern[i] {
		case '0':
			octet <<= 1
		case '1':
			octet = octet<<1 | 1
		default:
			return PSMTimerUnknown, fmt.Errorf("timer pattern %q not binary: %w", pattern, ErrParse)
		}
	}
	unitBits := octet >> 5
	value := uint32(octet & 0x1F)
	if unitBits == timerDeactivatedBits {
		return PSMTimerDeactivated, nil
	}
	for _, u := range units {
		if u.bits == unitBits {
			return value * u.seconds, nil
		}
	}
	return PSMTimerUnknown, fmt.Errorf("timer pattern %q has reserved unit %03b: %w", pattern, unitBits, ErrParse)
}

// encodeTimer picks the smallest unit whose 5-bit multiplier covers the
// requested duration, rounding up. Zero encodes as deactivated.
func encodeTimer(seconds uint32, units []timerUnit) (string, error) {
	if seconds == PSMTimerDeactivated {
		return bitPattern(timerDeactivatedBits, 0), nil
	}
	for _, u := range units {
		value := (seconds + u.seconds - 1) / u.seconds
		if value <= 31 {
			return bitPattern(u.bits, uint8(value)), nil
		}
	}
	return "", fmt.Errorf("%w: %d seconds exceeds the largest timer unit", ErrInvalidArgument, seconds)
}

func bitPattern(unitBits, value uint8) string {
	octet := unitBits<<5 | value&0x1F
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = '0' + octet&1
		octet >>= 1
	}
	return string(b)
}

// parseCPSMS parses '+CPSMS: <mode>[,<rau>,<rdy>,"<tau>","<active>"]'.
// The mode must be 0 or 1. Timer patterns are optional (a disabled PSM
// reports none) but must decode when present. Fail-closed.
func parseCPSMS(line string, out *PSMSettings) error {
	out.reset()

	rest, ok := at.TrimPrefix(line, "+CPSMS:")
	if !ok {
		return fmt.Errorf("missing +CPSMS prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	mode, ok := c.NextUint(8)
	if !ok || mode > 1 {
		return fmt.Errorf("bad PSM mode in %q: %w", line, ErrParse)
	}

	// Skip the legacy GPRS RAU and ready timer fields.
	c.Next()
	c.Next()

	if tau, ok := c.Next(); ok && tau != "" {
		seconds, err := decodeTimer(tau, tauUnits)
		if err != nil {
			out.reset()
			return err
		}
		out.TAUSeconds = seconds
	}
	if active, ok := c.Next(); ok && active != "" {
		seconds, err := decodeTimer(active, activeUnits)
		if err != nil {
			out.reset()
			return err
		}
		out.ActiveSeconds = seconds
	}
	out.Mode = int(mode)
	return nil
}

// PSMSettingsStatus reads the current power saving mode parameters.
func (m *Modem) PSMSettingsStatus(ctx context.Context) (PSMSettings, error) {
	var out PSMSettings
	out.reset()
	cmd := Command{
		Text:   "AT+CPSMS?",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+CPSMS:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+CPSMS:")
			return parseCPSMS(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return out, err
	}
	return out, nil
}

// SetPSMSettings applies power saving mode parameters. Disabling PSM
// (mode 0) omits the timers.
func (m *Modem) SetPSMSettings(ctx context.Context, desired PSMSettings) error {
	if desired.Mode != 0 && desired.Mode != 1 {
		return fmt.Errorf("%w: PSM mode %d", ErrInvalidArgument, desired.Mode)
	}

	text := "AT+CPSMS=0"
	if desired.Mode == 1 {
		tau, err := encodeTimer(desired.TAUSeconds, tauUnits)
		if err != nil {
			return err
		}
		active, err := encodeTimer(desired.ActiveSeconds, activeUnits)
		if err != nil {
			return err
		}
		text = fmt.Sprintf(`AT+CPSMS=1,,,"%s","%s"`, tau, active)
	}

	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{Text: text, Shape: ShapeNone})
	})
}

// PSMConfig holds the modem-specific PSM entry configuration.
type PSMConfig struct {
	// ThresholdSeconds is the minimum active-timer value below which the
	// modem will not enter PSM.
	ThresholdSeconds uint32
	// Version is the vendor PSM feature version bitmap.
	Version uint8
}

const psmConfigUnknown = 0xFFFFFFFF

func (c *PSMConfig) reset() {
	c.ThresholdSeconds = psmConfigUnknown
	c.Version = 0
}

// parseQPSMCFG parses '+QPSMCFG: <threshold>,<version>'.
func parseQPSMCFG(line string, out *PSMConfig) error {
	out.reset()

	rest, ok := at.TrimPrefix(line, "+QPSMCFG:")
	if !ok {
		return fmt.Errorf("missing +QPSMCFG prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	threshold, okT := c.NextUint(32)
	version, okV := c.NextUint(8)
	if !okT || !okV {
		return fmt.Errorf("missing fields in %q: %w", line, ErrParse)
	}
	out.ThresholdSeconds = uint32(threshold)
	out.Version = uint8(version)
	return nil
}

// PSMConfigStatus reads the PSM entry configuration.
func (m *Modem) PSMConfigStatus(ctx context.Context) (PSMConfig, error) {
	var out PSMConfig
	out.reset()
	cmd := Command{
		Text:   "AT+QPSMCFG?",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QPSMCFG:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QPSMCFG:")
			return parseQPSMCFG(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return out, err
	}
	return out, nil
}

// SetPSMConfig applies the PSM entry configuration.
func (m *Modem) SetPSMConfig(ctx context.Context, desired PSMConfig) error {
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:  fmt.Sprintf("AT+QPSMCFG=%d,%d", desired.ThresholdSeconds, desired.Version),
			Shape: ShapeNone,
		})
	})
}
