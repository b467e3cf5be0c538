package modem

import (
	"context"
	"fmt"

	"i4.energy/across/cellmodem/at"
)

// TemperatureUnknown is the sentinel for an unreported sensor.
const TemperatureUnknown = -32768

// Temperatures are the three internal sensor readings in degrees Celsius.
type Temperatures struct {
	PMIC int
	XO   int
	PA   int
}

func (t *Temperatures) reset() {
	t.PMIC = TemperatureUnknown
	t.XO = TemperatureUnknown
	t.PA = TemperatureUnknown
}

// parseQTEMP parses '+QTEMP: <pmic>,<xo>,<pa>'.
func parseQTEMP(line string, out *Temperatures) error {
	out.reset()

	rest, ok := at.TrimPrefix(line, "+QTEMP:")
	if !ok {
		return fmt.Errorf("missing +QTEMP prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	pmic, okP := c.NextInt(16)
	xo, okX := c.NextInt(16)
	pa, okA := c.NextInt(16)
	if !okP || !okX || !okA {
		return fmt.Errorf("missing fields in %q: %w", line, ErrParse)
	}
	out.PMIC = int(pmic)
	out.XO = int(xo)
	out.PA = int(pa)
	return nil
}

// TemperatureStatus reads the modem's internal temperature sensors.
func (m *Modem) TemperatureStatus(ctx context.Context) (Temperatures, error) {
	var out Temperatures
	out.reset()
	cmd := Command{
		Text:   "AT+QTEMP",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QTEMP:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QTEMP:")
			return parseQTEMP(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return out, err
	}
	return out, nil
}
