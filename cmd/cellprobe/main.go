// cellprobe brings up a Quectel cellular modem on a serial port, runs the
// standard configuration sequence and prints a status snapshot: SIM, signal,
// network registration, PDN contexts, band configuration, PSM settings and
// board temperatures. With -resolve it also exercises the modem's DNS client.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/cellmodem/modem"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("resolve", "", "Hostname to resolve through the modem's DNS client")
	flag.Bool("skip-on-flow-control-change", false, "Stop bring-up after a flow control rewrite")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	modemConfig, err := modem.NewConfigBuilder().
		WithLogger(logger.With("component", "modem")).
		WithATTimeout(5 * time.Second).
		WithDNSTimeout(60 * time.Second).
		WithReadyTimeout(30 * time.Second).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	// Stop cleanly on interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- m.Loop(ctx)
	}()

	opts := modem.DefaultBringupOptions()
	opts.SkipOnFlowControlChange = config.SkipOnFlowControlChange

	result, err := m.Bringup(ctx, opts)
	if err != nil {
		logger.Error("Bring-up failed", "error", err)
		shutdown(logger, m, loopDone, 1)
	}
	logger.Info("Bring-up finished", "skip", result.Skip.String(), "readySeen", result.ReadySeen)

	if result.Skip == modem.SkipYes {
		logger.Info("Flow control rewritten, restart the modem before probing")
		shutdown(logger, m, loopDone, 0)
	}

	probe(ctx, logger, m, config)
	shutdown(logger, m, loopDone, 0)
}

// probe queries every status surface once and logs the results.
func probe(ctx context.Context, logger *slog.Logger, m *modem.Modem, config *Config) {
	if sim, err := m.SIMStatus(ctx); err != nil {
		logger.Error("SIM status failed", "error", err)
	} else {
		logger.Info("SIM", "state", sim.State.String(), "lock", sim.Lock)
	}

	if iccid, err := m.ICCID(ctx); err != nil {
		logger.Error("ICCID failed", "error", err)
	} else {
		logger.Info("ICCID", "iccid", iccid)
	}

	if sig, err := m.SignalQuality(ctx); err != nil {
		logger.Error("Signal quality failed", "error", err)
	} else {
		logger.Info("Signal", "sysmode", sig.SysMode, "rssi", sig.RSSI,
			"rsrp", sig.RSRP, "rsrq", sig.RSRQ, "sinr", sig.SINR, "ber", sig.BER)
	}

	if info, err := m.NetworkStatus(ctx); err != nil {
		logger.Error("Network status failed", "error", err)
	} else {
		logger.Info("Network", "state", info.State.String(), "act", info.AccessTech,
			"operator", info.Operator, "band", info.Band, "channel", info.Channel)
	}

	contexts := make([]modem.PDNContext, 4)
	if filled, err := m.PDNStatus(ctx, contexts); err != nil {
		logger.Error("PDN status failed", "error", err)
	} else {
		for _, c := range contexts[:filled] {
			logger.Info("PDN context", "id", c.ContextID, "state", c.State,
				"type", c.Type, "address", c.Address)
		}
	}

	if bands, err := m.BandConfiguration(ctx); err != nil {
		logger.Error("Band configuration failed", "error", err)
	} else {
		m1, _ := bands.CatM1.HexString(33)
		nb1, _ := bands.CatNB1.HexString(33)
		logger.Info("Bands", "gsm", bands.GSM, "catM1", m1, "catNB1", nb1)
	}

	if psm, err := m.PSMSettingsStatus(ctx); err != nil {
		logger.Error("PSM settings failed", "error", err)
	} else {
		logger.Info("PSM", "mode", psm.Mode, "tauSeconds", psm.TAUSeconds,
			"activeSeconds", psm.ActiveSeconds)
	}

	if temps, err := m.TemperatureStatus(ctx); err != nil {
		logger.Error("Temperatures failed", "error", err)
	} else {
		logger.Info("Temperatures", "pmic", temps.PMIC, "xo", temps.XO, "pa", temps.PA)
	}

	if config.ResolveHost != "" {
		if addr, err := m.ResolveHost(ctx, config.ResolveHost); err != nil {
			logger.Error("DNS resolution failed", "host", config.ResolveHost, "error", err)
		} else {
			logger.Info("DNS", "host", config.ResolveHost, "address", addr)
		}
	}
}

func shutdown(logger *slog.Logger, m *modem.Modem, loopDone <-chan error, code int) {
	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
	}
	select {
	case <-loopDone:
	case <-time.After(5 * time.Second):
		logger.Warn("Event loop did not stop in time")
	}
	os.Exit(code)
}
