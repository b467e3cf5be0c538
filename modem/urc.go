package modem

import (
	"strings"

	"i4.energy/across/cellmodem/at"
)

// dispatchURC routes an unsolicited result code. Ready signals and DNS
// results are consumed by their subsystems; everything else is forwarded to
// the external URC channel.
func (m *Modem) dispatchURC(line string) {
	switch {
	case line == at.UrcAppReady || line == at.UrcReady:
		m.logger.Debug("modem ready", "urc", line)
		m.ready.set()

	case line == at.UrcNormalPowerDown || line == at.UrcPoweredDown || line == at.UrcPsmPowerDown:
		m.logger.Info("modem power state change", "urc", line)
		m.down.set()
		m.forwardURC(line)

	case strings.HasPrefix(line, at.UrcPrefix):
		rest, _ := at.TrimPrefix(line, at.UrcPrefix)
		if topic, ok := at.NewCursor(rest).Next(); ok && topic == "dnsgip" {
			m.dns.handleURC(line)
			return
		}
		m.forwardURC(line)

	default:
		m.forwardURC(line)
	}
}

// forwardURC hands the line to the external channel without blocking the
// loop; a full channel drops the line.
func (m *Modem) forwardURC(line string) {
	select {
	case m.urcChan <- line:
	default:
		m.logger.Debug("URC channel full, dropping", "urc", line)
	}
}
