package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// already consuming the transport.
	ErrLoopRunning = errors.New("loop already running")

	// ErrInvalidArgument is returned on caller misuse (nil command, zero
	// retry attempts, oversized buffers). No I/O is performed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout is returned when no matching response arrives within the
	// transaction's timeout.
	ErrTimeout = errors.New("timeout")

	// ErrModemRejected is returned when the modem answers a command with a
	// recognized error token (ERROR, +CME ERROR, NO CARRIER, ...).
	ErrModemRejected = errors.New("modem rejected command")

	// ErrParse is returned when a response was received but did not match
	// the expected shape or fields. Parsers reset all outputs to their
	// sentinel values before returning it.
	ErrParse = errors.New("response parse failure")

	// ErrProtocolViolation marks framing or rendezvous inconsistencies such
	// as duplicate DNS deliveries. These are logged and dropped; they never
	// crash the driver.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrResourceExhaustion is returned when a channel, event or mutex
	// needed by the driver could not be set up at construction time.
	ErrResourceExhaustion = errors.New("resource exhaustion")
)

// CMEError carries the value of a "+CME ERROR:" final response. The value
// may be numeric or textual depending on the modem's AT+CMEE configuration.
type CMEError string

func (e CMEError) Error() string {
	return "CME error: " + string(e)
}

// Unwrap makes every CME error match ErrModemRejected.
func (e CMEError) Unwrap() error {
	return ErrModemRejected
}

// CMSError carries the value of a "+CMS ERROR:" final response.
type CMSError string

func (e CMSError) Error() string {
	return "CMS error: " + string(e)
}

// Unwrap makes every CMS error match ErrModemRejected.
func (e CMSError) Unwrap() error {
	return ErrModemRejected
}
