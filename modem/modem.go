// Package modem implements an AT-command driver for Quectel BG77/BG96
// family cellular modems. It turns the half-duplex, line-oriented command
// protocol, with interleaved unsolicited result codes and embedded binary
// payloads, into typed operations: bring-up, network and signal queries,
// PSM and band configuration, asynchronous DNS resolution and socket
// receive.
package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/cellmodem/at"
)

// Modem represents one cellular modem instance driven over a Transport.
// All transport I/O is owned by a single event loop; operations hand their
// commands to the loop and block until a matching response or timeout.
//
// The transport is half-duplex: exactly one transaction may be outstanding
// at a time. The engine does not queue concurrent requests; callers must
// serialize access (single worker task or external mutex).
type Modem struct {
	// transport provides the physical connection to the modem
	transport Transport
	// config contains the modem configuration settings
	config Config
	// logger receives structured driver logs
	logger *slog.Logger
	// closed indicates if the modem has been shut down
	closed bool
	// loopRunning indicates if the Loop is currently running
	loopRunning bool

	// urcChan forwards unsolicited result codes to external consumers
	urcChan chan string
	// commands hands AT transactions to the Loop
	commands chan *commandRequest

	// ready is the modem's boot-complete event signal
	ready *readyEvent
	// down is the modem's power-down confirmation signal
	down *readyEvent
	// dns is the shared asynchronous DNS resolution state
	dns *dnsResolver

	// loopCtx controls the lifecycle of the main event loop
	loopCtx context.Context
	// loopCancel cancels the main event loop
	loopCancel context.CancelFunc
}

// commandRequest represents an AT transaction to be executed by the Loop.
type commandRequest struct {
	// cmd is the command descriptor
	cmd Command
	// respChan receives the assembled response from the Loop
	respChan chan commandResponse
	// ctx provides timeout and cancellation control
	ctx context.Context
}

// commandResponse contains the raw result of an AT transaction: the
// intermediate lines collected before the final token, and any error.
type commandResponse struct {
	lines []string
	err   error
}

// New creates a new Modem instance with the given configuration. It
// establishes the transport connection and prepares the event loop context.
// Loop must be started before any operation is issued.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial()
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		config:    config,
		logger:    config.Logger,
		urcChan:   make(chan string, 100), // Buffered to prevent blocking on URCs
		// No queue for commands
		commands: make(chan *commandRequest),
		ready:    newReadyEvent(),
		down:     newReadyEvent(),
	}
	m.dns = newDNSResolver(m, config.Logger.With("component", "dns"))
	m.loopCtx, m.loopCancel = context.WithCancel(ctx)

	return m, nil
}

// Loop is the main event loop that handles all transport I/O. It must be
// called exactly once after New() and before any operation.
//
// The Loop is the ONLY goroutine that reads from the transport: it writes
// queued commands, assembles responses per their shape, dispatches URCs
// (ready signals, power-down notices, DNS results) and extracts binary
// data frames before generic line handling. It runs until the provided
// context is cancelled or the transport fails.
func (m *Modem) Loop(ctx context.Context) error {
	if m.loopRunning {
		return ErrLoopRunning
	}
	m.loopRunning = true
	defer func() {
		m.loopRunning = false
	}()

	scanner := bufio.NewScanner(m.transport)
	scanner.Buffer(make([]byte, 4096), maxFrameBuffer)
	scanner.Split(at.NewSplitter(socketFrameSpec, secureFrameSpec))

	// Channels for tokens and errors from the scanner goroutine
	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)

	go func() {
		defer close(tokens)
		for scanner.Scan() {
			token := scanner.Text()
			if token != "" {
				select {
				case tokens <- token:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case scanErrs <- err:
			case <-ctx.Done():
			}
		}
	}()

	// Current transaction being processed
	var currentCmd *commandRequest
	var currentLines []string

	for {
		select {
		case <-ctx.Done():
			if currentCmd != nil {
				currentCmd.respChan <- commandResponse{err: ctx.Err()}
			}
			return ctx.Err()

		case req := <-m.commands:
			if currentCmd != nil {
				select {
				case <-currentCmd.ctx.Done():
					// Previous caller gave up; its buffered channel absorbs
					// nothing further.
					currentCmd = nil
					currentLines = nil
				default:
					// Half-duplex discipline violated by the caller.
					m.logger.Warn("transaction issued while another is outstanding",
						"command", req.cmd.Text)
					req.respChan <- commandResponse{err: fmt.Errorf("%w: transaction outstanding", ErrInvalidArgument)}
					continue
				}
			}
			currentCmd = req
			currentLines = nil

			wire := strings.TrimSpace(req.cmd.Text) + "\r"
			if _, err := m.transport.Write([]byte(wire)); err != nil {
				req.respChan <- commandResponse{err: fmt.Errorf("write command %q: %w", req.cmd.Text, err)}
				currentCmd = nil
				continue
			}

		case token, ok := <-tokens:
			if !ok {
				// Token channel closed - scanner stopped. The scanner error,
				// if any, was sent before the channel closed.
				err := io.EOF
				select {
				case e := <-scanErrs:
					err = fmt.Errorf("scanner error: %w", e)
				default:
				}
				if currentCmd != nil {
					currentCmd.respChan <- commandResponse{err: err}
					currentCmd = nil
					currentLines = nil
				}
				return err
			}

			switch at.Classify(token) {
			case at.TypeURC:
				m.dispatchURC(token)

			case at.TypeFinal:
				if currentCmd != nil {
					resp := commandResponse{lines: currentLines}
					if !at.IsSuccessFinal(token) {
						resp.err = finalError(token)
					}
					currentCmd.respChan <- resp
					currentCmd = nil
					currentLines = nil
				}
				// If no current command, the final response is orphaned.

			case at.TypeData:
				if currentCmd != nil {
					currentLines = append(currentLines, token)
				}
				// If no current command, ignore the data (orphaned).

			case at.TypePrompt:
				// Data prompt - complete the transaction so the caller can
				// stream its payload.
				if currentCmd != nil {
					currentLines = append(currentLines, token)
					currentCmd.respChan <- commandResponse{lines: currentLines}
					currentCmd = nil
					currentLines = nil
				}
			}

			// Check if the current transaction has timed out
			if currentCmd != nil {
				select {
				case <-currentCmd.ctx.Done():
					currentCmd.respChan <- commandResponse{err: currentCmd.ctx.Err()}
					currentCmd = nil
					currentLines = nil
				default:
				}
			}

		case err := <-scanErrs:
			if currentCmd != nil {
				currentCmd.respChan <- commandResponse{err: fmt.Errorf("read error: %w", err)}
				currentCmd = nil
				currentLines = nil
			}
			return fmt.Errorf("scanner error: %w", err)
		}
	}
}

// URC returns a read-only channel that receives unsolicited result codes
// not consumed internally (ready signals and DNS results are routed to
// their subsystems first). The channel is buffered and may drop lines if
// not consumed fast enough.
func (m *Modem) URC() <-chan string {
	return m.urcChan
}

// Close shuts down the modem and releases all resources. After Close the
// modem cannot be reused.
func (m *Modem) Close() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true

	if m.loopCancel != nil {
		m.loopCancel()
	}
	m.dns.shutdown()

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// execute sends one AT transaction to the Loop and blocks the calling task
// until a response matching the command's shape is assembled and parsed, or
// the timeout elapses. On a recognized modem error token it returns an
// error matching ErrModemRejected; on timeout, ErrTimeout.
func (m *Modem) execute(ctx context.Context, cmd Command) error {
	if m.closed {
		return ErrAlreadyClosed
	}
	if m.transport == nil {
		return ErrNotInitialized
	}
	if cmd.Text == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidArgument)
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = m.config.ATTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &commandRequest{
		cmd:      cmd,
		respChan: make(chan commandResponse, 1), // Buffered to prevent blocking
		ctx:      ctx,
	}

	select {
	case m.commands <- req:
	case <-ctx.Done():
		return timeoutErr(ctx, "command not accepted")
	}

	select {
	case resp := <-req.respChan:
		if resp.err != nil {
			if errors.Is(resp.err, context.DeadlineExceeded) {
				return fmt.Errorf("%s: %w", cmd.Text, ErrTimeout)
			}
			return fmt.Errorf("%s: %w", cmd.Text, resp.err)
		}
		return m.finish(cmd, resp.lines)
	case <-ctx.Done():
		return timeoutErr(ctx, cmd.Text)
	}
}

// finish validates the assembled lines against the command's shape and
// hands them to the parser.
func (m *Modem) finish(cmd Command, lines []string) error {
	switch cmd.Shape {
	case ShapeSinglePrefixed:
		if _, ok := (Response{Lines: lines}).First(cmd.Prefix); !ok {
			return fmt.Errorf("%s: no %q line in response: %w", cmd.Text, cmd.Prefix, ErrParse)
		}
	case ShapeMultiBinaryWithPrefix:
		if len(lines) == 0 {
			return fmt.Errorf("%s: no data frame in response: %w", cmd.Text, ErrParse)
		}
	}
	if cmd.Parse == nil {
		return nil
	}
	return cmd.Parse(Response{Lines: lines})
}

func timeoutErr(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", what, ctx.Err())
}

// finalError maps a failure-terminating token to the driver error taxonomy.
func finalError(token string) error {
	switch {
	case strings.HasPrefix(token, at.CmeError):
		return CMEError(strings.TrimSpace(token[len(at.CmeError):]))
	case strings.HasPrefix(token, at.CmsError):
		return CMSError(strings.TrimSpace(token[len(at.CmsError):]))
	default:
		return fmt.Errorf("%s: %w", token, ErrModemRejected)
	}
}

// readyEvent is a settable, waitable binary event signalling the modem's
// unsolicited boot-complete indication.
type readyEvent struct {
	ch chan struct{}
}

func newReadyEvent() *readyEvent {
	return &readyEvent{ch: make(chan struct{}, 1)}
}

// set marks the event. Repeated sets collapse into one.
func (e *readyEvent) set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// wait blocks until the event is set or the bound elapses.
func (e *readyEvent) wait(ctx context.Context, bound time.Duration) bool {
	timer := time.NewTimer(bound)
	defer timer.Stop()
	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
