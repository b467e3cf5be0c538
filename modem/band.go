package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/cellmodem/at"
)

// BandMask is a fixed-width bitmask of LTE frequency bands. Each bit
// selects one band (1..128); band 1 is the least-significant bit of the
// last byte. The all-zero mask is a valid decode of "0" but is never a
// valid desired value for a set operation.
type BandMask [16]byte

// Bit reports whether the given band (1..128) is selected.
func (m BandMask) Bit(band int) bool {
	if band < 1 || band > 8*len(m) {
		return false
	}
	i := band - 1
	return m[len(m)-1-i/8]&(1<<(i%8)) != 0
}

// SetBit selects the given band (1..128). Out-of-range bands are ignored.
func (m *BandMask) SetBit(band int) {
	if band < 1 || band > 8*len(m) {
		return
	}
	i := band - 1
	m[len(m)-1-i/8] |= 1 << (i % 8)
}

// IsZero reports whether no band is selected.
func (m BandMask) IsZero() bool {
	return m == BandMask{}
}

// HexString encodes the mask as the hex literal the modem expects. Leading
// zero content is suppressed: all-zero leading bytes are omitted, and the
// first emitted byte drops its high nibble only when that nibble is zero.
// Once any content has been emitted every following nibble appears,
// including zeros. The all-zero mask encodes to exactly "0". An encoding
// longer than maxLen-1 characters is an error, never a truncation.
func (m BandMask) HexString(maxLen int) (string, error) {
	const digits = "0123456789abcdef"

	var b strings.Builder
	for _, byt := range m {
		hi, lo := byt>>4, byt&0xf
		if b.Len() == 0 {
			if byt == 0 {
				continue
			}
			if hi != 0 {
				b.WriteByte(digits[hi])
			}
			b.WriteByte(digits[lo])
			continue
		}
		b.WriteByte(digits[hi])
		b.WriteByte(digits[lo])
	}
	if b.Len() == 0 {
		b.WriteByte('0')
	}
	if b.Len() > maxLen-1 {
		return "", fmt.Errorf("%w: band mask encoding %q exceeds %d characters", ErrInvalidArgument, b.String(), maxLen-1)
	}
	return b.String(), nil
}

// ParseBandMask decodes a hex band value as reported by the modem. An
// optional case-insensitive "0x" prefix is accepted; every remaining
// character must be a hex digit. Nibbles map right to left: the last
// character becomes the low nibble of the last byte. More than 32 hex
// digits overflow the mask and are rejected.
func ParseBandMask(text string) (BandMask, error) {
	var mask BandMask

	if len(text) >= 2 && (text[:2] == "0x" || text[:2] == "0X") {
		text = text[2:]
	}
	if text == "" {
		return mask, fmt.Errorf("%w: empty band value", ErrParse)
	}
	if len(text) > 2*len(mask) {
		return mask, fmt.Errorf("%w: band value %q overflows %d bytes", ErrParse, text, len(mask))
	}

	for i := 0; i < len(text); i++ {
		nibble, ok := hexNibble(text[len(text)-1-i])
		if !ok {
			return BandMask{}, fmt.Errorf("%w: bad hex digit in band value %q", ErrParse, text)
		}
		byteIdx := len(mask) - 1 - i/2
		if i%2 == 0 {
			mask[byteIdx] |= nibble
		} else {
			mask[byteIdx] |= nibble << 4
		}
	}
	return mask, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// FilterToSupported narrows the mask to the hardware's capability and
// reports whether any band was removed, so the caller can warn the user.
func (m BandMask) FilterToSupported(supported BandMask) (BandMask, bool) {
	var out BandMask
	changed := false
	for i := range m {
		out[i] = m[i] & supported[i]
		if out[i] != m[i] {
			changed = true
		}
	}
	return out, changed
}

// bandMaskOf builds a mask from a list of band numbers.
func bandMaskOf(bands ...int) BandMask {
	var m BandMask
	for _, b := range bands {
		m.SetBit(b)
	}
	return m
}

// Hardware band capability of the BG77 module family.
var (
	SupportedCatM1Bands  = bandMaskOf(1, 2, 3, 4, 5, 8, 12, 13, 18, 19, 20, 25, 26, 27, 28, 66, 85)
	SupportedCatNB1Bands = bandMaskOf(1, 2, 3, 4, 5, 8, 12, 13, 18, 19, 20, 25, 28, 66, 71, 85)
)

// BandConfig is the modem's frequency band configuration, one mask per
// radio access technology. GSM is a small direct hex value rather than a
// band bitmask on this family.
type BandConfig struct {
	GSM    uint32
	CatM1  BandMask
	CatNB1 BandMask
}

const bandConfigUnknownGSM = 0

// reset returns the config to its "never read" sentinel state.
func (c *BandConfig) reset() {
	*c = BandConfig{GSM: bandConfigUnknownGSM}
}

// parseBandConfig parses a '+QCFG: "band",<gsm>,<catm1>,<catnb1>' line.
// Fail-closed: on any malformed field the whole config resets to its
// sentinel state before the error is returned.
func parseBandConfig(line string, out *BandConfig) error {
	out.reset()

	rest, ok := at.TrimPrefix(line, "+QCFG:")
	if !ok {
		return fmt.Errorf("missing +QCFG prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	if opt, ok := c.Next(); !ok || opt != "band" {
		return fmt.Errorf("not a band line: %q: %w", line, ErrParse)
	}
	gsm, ok := c.NextHex(32)
	if !ok {
		return fmt.Errorf("bad GSM band value in %q: %w", line, ErrParse)
	}
	m1Text, ok := c.Next()
	if !ok {
		return fmt.Errorf("missing CAT-M1 band value in %q: %w", line, ErrParse)
	}
	m1, err := ParseBandMask(m1Text)
	if err != nil {
		return fmt.Errorf("CAT-M1 band value: %w", err)
	}
	nb1Text, ok := c.Next()
	if !ok {
		return fmt.Errorf("missing CAT-NB1 band value in %q: %w", line, ErrParse)
	}
	nb1, err := ParseBandMask(nb1Text)
	if err != nil {
		return fmt.Errorf("CAT-NB1 band value: %w", err)
	}

	out.GSM = uint32(gsm)
	out.CatM1 = m1
	out.CatNB1 = nb1
	return nil
}

// BandConfiguration reads the current frequency band configuration.
func (m *Modem) BandConfiguration(ctx context.Context) (BandConfig, error) {
	var out BandConfig
	out.reset()
	cmd := Command{
		Text:   `AT+QCFG="band"`,
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QCFG:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QCFG:")
			return parseBandConfig(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return out, err
	}
	return out, nil
}

// SetBandConfiguration applies a frequency band configuration. Desired
// masks are narrowed to the hardware capability first; narrowing is logged
// as a warning rather than treated as an error. An all-zero desired mask is
// caller misuse.
func (m *Modem) SetBandConfiguration(ctx context.Context, desired BandConfig) error {
	if desired.CatM1.IsZero() && desired.CatNB1.IsZero() {
		return fmt.Errorf("%w: empty desired band masks", ErrInvalidArgument)
	}

	catM1, m1Changed := desired.CatM1.FilterToSupported(SupportedCatM1Bands)
	catNB1, nb1Changed := desired.CatNB1.FilterToSupported(SupportedCatNB1Bands)
	if m1Changed || nb1Changed {
		m.logger.Warn("desired bands narrowed to hardware capability",
			"catM1Narrowed", m1Changed, "catNB1Narrowed", nb1Changed)
	}

	const maxBandHex = 33 // 32 hex digits plus terminator slot
	m1Hex, err := catM1.HexString(maxBandHex)
	if err != nil {
		return err
	}
	nb1Hex, err := catNB1.HexString(maxBandHex)
	if err != nil {
		return err
	}

	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:  fmt.Sprintf(`AT+QCFG="band",%x,%s,%s,1`, desired.GSM, m1Hex, nb1Hex),
			Shape: ShapeNone,
		})
	})
}

// maxScanPriorityBands caps the band-scan priority list length.
const maxScanPriorityBands = 16

// parseBandScanPriority parses a '+QCFG: "bandprior",<b1>,<b2>,...' line
// into the caller's slots. The row count is variable; exceeding the slot
// capacity is an explicit overflow error, not a silent truncation.
func parseBandScanPriority(line string, out *[]uint8) error {
	*out = (*out)[:0]

	rest, ok := at.TrimPrefix(line, "+QCFG:")
	if !ok {
		return fmt.Errorf("missing +QCFG prefix in %q: %w", line, ErrParse)
	}
	c := at.NewCursor(rest)
	if opt, ok := c.Next(); !ok || opt != "bandprior" {
		*out = (*out)[:0]
		return fmt.Errorf("not a bandprior line: %q: %w", line, ErrParse)
	}
	for c.More() {
		band, ok := c.NextUint(8)
		if !ok {
			*out = (*out)[:0]
			return fmt.Errorf("bad band number in %q: %w", line, ErrParse)
		}
		if len(*out) >= maxScanPriorityBands {
			*out = (*out)[:0]
			return fmt.Errorf("more than %d scan priority bands in %q: %w", maxScanPriorityBands, line, ErrParse)
		}
		*out = append(*out, uint8(band))
	}
	if len(*out) == 0 {
		return fmt.Errorf("empty scan priority list in %q: %w", line, ErrParse)
	}
	return nil
}

// BandScanPriority reads the ordered list of bands the modem scans first.
func (m *Modem) BandScanPriority(ctx context.Context) ([]uint8, error) {
	out := make([]uint8, 0, maxScanPriorityBands)
	cmd := Command{
		Text:   `AT+QCFG="bandprior"`,
		Shape:  ShapeSinglePrefixed,
		Prefix: "+QCFG:",
		Parse: func(resp Response) error {
			line, _ := resp.First("+QCFG:")
			return parseBandScanPriority(line, &out)
		},
	}
	if err := m.executeWithRetry(ctx, cmd, m.config.Retry); err != nil {
		return nil, err
	}
	return out, nil
}

// SetBandScanPriority orders the modem's band scan.
func (m *Modem) SetBandScanPriority(ctx context.Context, bands []uint8) error {
	if len(bands) == 0 || len(bands) > maxScanPriorityBands {
		return fmt.Errorf("%w: scan priority length %d outside [1, %d]", ErrInvalidArgument, len(bands), maxScanPriorityBands)
	}
	parts := make([]string, len(bands))
	for i, b := range bands {
		parts[i] = fmt.Sprintf("%d", b)
	}
	return m.setWithRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.execute(ctx, Command{
			Text:  fmt.Sprintf(`AT+QCFG="bandprior",%s`, strings.Join(parts, ",")),
			Shape: ShapeNone,
		})
	})
}
