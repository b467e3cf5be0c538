package modem

import (
	"context"
	"fmt"

	"i4.energy/across/cellmodem/at"
)

// SignalValueUnknown is the sentinel for any signal metric the modem did
// not report or that failed to parse.
const SignalValueUnknown = -32768

// SignalInfo combines the extended signal report (+QCSQ) with the legacy
// quality report (+CSQ). RSSI/RSRP/RSRQ/SINR are in dBm/dB; BER is the
// 3GPP RXQUAL index 0..7.
type SignalInfo struct {
	SysMode string
	RSSI    int
	RSRP    int
	RSRQ    int
	SINR    int
	BER     int
}

// reset returns every field to its "never read" sentinel.
func (s *SignalInfo) reset() {
	s.SysMode = ""
	s.RSSI = SignalValueUnknown
	s.RSRP = SignalValueUnknown
	s.RSRQ = SignalValueUnknown
	s.SINR = SignalValueUnknown
	s.BER = SignalValueUnknown
}

// parseQCSQ parses '+QCSQ: "<sysmode>"[,<rssi>,<rsrp>,<sinr>,<rsrq>]'.
// In NOSERVICE mode the value fields are absent and every metric stays at
// its sentinel. Fail-closed: a malformed line resets the whole struct.
func parseQCSQ(line string, out *SignalInfo) error {
	ber := out.BER
	out.reset()
	out.BER = ber // owned by the +CSQ source

	rest, ok := at.TrimPrefix(line, "+QCSQ:")
	if !ok {
		return fmt.Errorf("missing +QCSQ prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	mode, ok := c.Next()
	if !ok || mode == "" {
		return fmt.Errorf("missing sysmode in %q: %w", line, ErrParse)
	}
	out.SysMode = mode
	if mode == "NOSERVICE" {
		return nil
	}

	rssi, okRSSI := c.NextInt(16)
	rsrp, okRSRP := c.NextInt(16)
	sinr, okSINR := c.NextInt(16)
	rsrq, okRSRQ := c.NextInt(16)
	if !okRSSI || !okRSRP || !okSINR || !okRSRQ {
		out.reset()
		return fmt.Errorf("missing signal values in %q: %w", line, ErrParse)
	}
	out.RSSI = int(rssi)
	out.RSRP = int(rsrp)
	out.SINR = int(sinr)
	out.RSRQ = int(rsrq)
	return nil
}

// parseCSQ parses '+CSQ: <rssi>,<ber>'. The RSSI index 0..31 converts to
// dBm as -113+2n; 99 means unknown. BER outside 0..7 other than the 99
// sentinel is an error, not a clamp.
func parseCSQ(line string, rssiDbm, ber *int) error {
	*rssiDbm = SignalValueUnknown
	*ber = SignalValueUnknown

	rest, ok := at.TrimPrefix(line, "+CSQ:")
	if !ok {
		return fmt.Errorf("missing +CSQ prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	rssiIdx, okRSSI := c.NextUint(8)
	berIdx, okBER := c.NextUint(8)
	if !okRSSI || !okBER {
		return fmt.Errorf("missing fields in %q: %w", line, ErrParse)
	}

	switch {
	case rssiIdx <= 31:
		*rssiDbm = -113 + 2*int(rssiIdx)
	case rssiIdx == 99:
		// unknown, keep sentinel
	default:
		return fmt.Errorf("RSSI index %d out of range in %q: %w", rssiIdx, line, ErrParse)
	}

	switch {
	case berIdx <= 7:
		*ber = int(berIdx)
	case berIdx == 99:
		// unknown, keep sentinel
	default:
		*rssiDbm = SignalValueUnknown
		return fmt.Errorf("BER index %d out of range in %q: %w", berIdx, line, ErrParse)
	}
	return nil
}

// SignalQuality reads the current signal metrics, merging the extended
// +QCSQ report with the +CSQ bit error rate. When both commands report an
// RSSI the extended report wins.
func (m *Modem) SignalQuality(ctx context.Context) (SignalInfo, error) {
	var out SignalInfo
	out.reset()

	qcsq := Command{
		Text:   "AT+QCSQ",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QCSQ:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QCSQ:")
			return parseQCSQ(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, qcsq, m.config.Retry); err != nil {
		return out, err
	}

	var csqRSSI, csqBER int
	csq := Command{
		Text:   "AT+CSQ",
		Shape:  ShapeSinglePrefixed,
		Prefix: "+CSQ:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+CSQ:")
			return parseCSQ(line, &csqRSSI, &csqBER)
		},
	}
	if err := m.executeWithRetry(ctx, csq, m.config.Retry); err != nil {
		return out, err
	}

	out.BER = csqBER
	if out.RSSI == SignalValueUnknown {
		out.RSSI = csqRSSI
	}
	return out, nil
}
