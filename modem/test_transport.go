package modem

import (
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using
// channels. The Loop's scanner goroutine continuously reads from the
// transport, so reads must block until data is available, like a real serial
// port would. Writes are captured on a channel so tests can script modem
// responses command by command.
type TestTransport struct {
	mu        sync.Mutex
	readChan  chan []byte
	writeChan chan string
	closed    bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan:  make(chan []byte, 10),
		writeChan: make(chan string, 32),
	}
}

// Dial satisfies Dialer so the transport can be handed straight to a config.
func (t *TestTransport) Dial() (Transport, error) {
	return t, nil
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	select {
	case t.writeChan <- string(p):
	default:
		// Test is not consuming writes; do not block the loop.
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Commands returns the channel of raw command strings written to the
// transport, one entry per Write call.
func (t *TestTransport) Commands() <-chan string {
	return t.writeChan
}
