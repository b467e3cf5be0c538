package modem

import (
	"context"
	"fmt"
	"time"
)

// powerDownWait bounds how long PowerDown waits for the confirmation URC
// after the command is acknowledged.
const powerDownWait = 65 * time.Second

// PowerDown requests a graceful shutdown (AT+QPOWD=1) and waits for the
// modem's power-down confirmation before returning. After a successful
// PowerDown the transport is dead and the modem must be re-created once
// the hardware is powered again.
func (m *Modem) PowerDown(ctx context.Context) error {
	err := m.execute(ctx, Command{Text: "AT+QPOWD=1", Shape: ShapeNone})
	if err != nil {
		return fmt.Errorf("power down request: %w", err)
	}
	if !m.down.wait(ctx, powerDownWait) {
		return fmt.Errorf("power down confirmation: %w", ErrTimeout)
	}
	m.logger.Info("modem powered down")
	return nil
}

// Reset performs a functionality cycle (minimum then full) to force a
// fresh network attach without a hardware power cycle.
func (m *Modem) Reset(ctx context.Context) error {
	if err := m.SetFunctionality(ctx, FunctionalityMinimum); err != nil {
		return fmt.Errorf("reset to minimum functionality: %w", err)
	}
	if err := m.SetFunctionality(ctx, FunctionalityFull); err != nil {
		return fmt.Errorf("reset to full functionality: %w", err)
	}
	return nil
}
