package modem

import (
	"context"
	"fmt"
	"time"
)

// SkipResult records whether a bring-up run stopped early because the
// flow control setting had to be rewritten. It is meaningful only when
// BringupOptions.SkipOnFlowControlChange was armed for the run.
type SkipResult int

const (
	// SkipErrorUnknown means the feature was not armed or the run failed
	// before the flow control step could decide.
	SkipErrorUnknown SkipResult = iota
	// SkipYes means flow control was rewritten and the remaining steps
	// were not run.
	SkipYes
	// SkipNo means flow control was already correct and the full sequence
	// ran.
	SkipNo
)

func (s SkipResult) String() string {
	switch s {
	case SkipYes:
		return "YES"
	case SkipNo:
		return "NO"
	default:
		return "UNKNOWN"
	}
}

// BringupOptions selects the desired post-boot configuration. The zero
// value is not usable; call DefaultBringupOptions.
type BringupOptions struct {
	// SkipOnFlowControlChange arms the early-exit rule: when the flow
	// control setting has to be rewritten, the modem needs a restart for
	// it to take effect, so the remaining steps are pointless this boot.
	SkipOnFlowControlChange bool

	FlowControl     FlowControl
	URCPort         URCPort
	NetworkCategory NetworkCategory
	RATPriority     RATPriority
	Functionality   FunctionalityLevel
}

// DefaultBringupOptions returns the standard configuration: hardware flow
// control, URCs on the main port, LTE-M preferred.
func DefaultBringupOptions() BringupOptions {
	return BringupOptions{
		FlowControl:     FlowControl{DCE: 2, DTE: 2},
		URCPort:         URCPortMain,
		NetworkCategory: NetworkCategoryCatM1,
		RATPriority:     RATPriority{RATCatM1, RATCatNB1, RATGsm},
		Functionality:   FunctionalityFull,
	}
}

// BringupResult reports how a bring-up run ended.
type BringupResult struct {
	// Skip is the early-exit decision, SkipErrorUnknown unless the
	// feature was armed and the flow control step completed.
	Skip SkipResult
	// ReadySeen is false when the boot-complete signal never arrived and
	// the run proceeded after the settle delay.
	ReadySeen bool
}

// probeTimeout bounds each probe command; a present modem answers these
// immediately.
const probeTimeout = 2 * time.Second

// Bringup runs the fixed post-boot configuration sequence: wait for the
// boot-complete signal, probe the command channel, then apply each setting
// with a query-compare-write step so settings the modem already persists
// are not rewritten.
//
// A probe failure skips every configuring step and is returned as the
// result; a failed query inside a configuring step assumes the setting is
// absent and proceeds to write it; a failed write aborts the sequence.
func (m *Modem) Bringup(ctx context.Context, opts BringupOptions) (BringupResult, error) {
	result := BringupResult{Skip: SkipErrorUnknown}

	// WaitingReady. A missing signal is not fatal; the modem may have
	// booted before the transport was attached.
	result.ReadySeen = m.ready.wait(ctx, m.config.ReadyTimeout)
	if !result.ReadySeen {
		m.logger.Warn("no boot-complete signal, proceeding after settle delay",
			"timeout", m.config.ReadyTimeout)
		select {
		case <-time.After(m.config.SettleDelay):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	// Probing. Soft failure: the caller gets the probe error back and no
	// configuring step runs.
	if err := m.probe(ctx); err != nil {
		m.logger.Warn("command channel probe failed, skipping configuration", "error", err)
		return result, err
	}

	// ConfiguringFlowControl, with the early-exit rule.
	current, err := m.FlowControlStatus(ctx)
	alreadySet := err == nil && current == opts.FlowControl
	if err != nil {
		m.logger.Warn("flow control query failed, assuming not set", "error", err)
	}
	if alreadySet {
		m.logger.Debug("flow control already configured")
		if opts.SkipOnFlowControlChange {
			result.Skip = SkipNo
		}
	} else {
		if err := m.SetFlowControl(ctx, opts.FlowControl); err != nil {
			return result, fmt.Errorf("configure flow control: %w", err)
		}
		if opts.SkipOnFlowControlChange {
			// The new flow control takes effect after a restart; the rest
			// of the sequence waits for the next boot.
			result.Skip = SkipYes
			m.logger.Info("flow control rewritten, deferring remaining bring-up to next boot")
			return result, nil
		}
	}

	steps := []struct {
		name  string
		check func(context.Context) (bool, error)
		apply func(context.Context) error
	}{
		{
			name: "urc port",
			check: func(ctx context.Context) (bool, error) {
				port, err := m.URCPortStatus(ctx)
				return err == nil && port == opts.URCPort, err
			},
			apply: func(ctx context.Context) error {
				return m.SetURCPort(ctx, opts.URCPort)
			},
		},
		{
			name: "network category",
			check: func(ctx context.Context) (bool, error) {
				cat, err := m.NetworkCategoryStatus(ctx)
				return err == nil && cat == opts.NetworkCategory, err
			},
			apply: func(ctx context.Context) error {
				return m.SetNetworkCategory(ctx, opts.NetworkCategory)
			},
		},
		{
			name: "rat priority",
			check: func(ctx context.Context) (bool, error) {
				prio, err := m.RATScanPriority(ctx)
				return err == nil && prio == opts.RATPriority, err
			},
			apply: func(ctx context.Context) error {
				return m.SetRATScanPriority(ctx, opts.RATPriority)
			},
		},
		{
			name: "functionality level",
			check: func(ctx context.Context) (bool, error) {
				level, err := m.FunctionalityStatus(ctx)
				return err == nil && level == opts.Functionality, err
			},
			apply: func(ctx context.Context) error {
				return m.SetFunctionality(ctx, opts.Functionality)
			},
		},
		{
			// The built-in LwM2M client interferes with DNS resolution
			// and is disabled unless it is confirmed off.
			name: "lwm2m",
			check: func(ctx context.Context) (bool, error) {
				enabled, err := m.LwM2MEnabled(ctx)
				return err == nil && !enabled, err
			},
			apply: func(ctx context.Context) error {
				return m.DisableLwM2M(ctx)
			},
		},
	}

	for _, step := range steps {
		ok, err := step.check(ctx)
		if err != nil {
			m.logger.Warn("bring-up query failed, assuming not set",
				"step", step.name, "error", err)
		}
		if ok {
			m.logger.Debug("bring-up step already configured", "step", step.name)
			continue
		}
		if err := step.apply(ctx); err != nil {
			return result, fmt.Errorf("configure %s: %w", step.name, err)
		}
	}

	m.logger.Info("bring-up complete", "skip", result.Skip.String())
	return result, nil
}

// probe verifies the command channel is live and puts it into the expected
// echo-off, DTR-ignored state.
func (m *Modem) probe(ctx context.Context) error {
	for _, text := range []string{"AT", "ATE0", "AT&D0"} {
		err := m.execute(ctx, Command{Text: text, Shape: ShapeNone, Timeout: probeTimeout})
		if err != nil {
			return fmt.Errorf("probe %s: %w", text, err)
		}
	}
	return nil
}
