package modem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"i4.energy/across/cellmodem/at"
)

// dnsResolver pairs the synchronous AT+QIDNSGIP command with the unsolicited
// "dnsgip" result URCs that arrive an arbitrary time later. The two halves
// never execute on the same call stack: the issuing half blocks the caller
// on a capacity-1 rendezvous channel, the event half runs on the loop.
//
// Exactly one query may be in flight per modem; the exclusivity mutex
// serializes callers. A timed-out query unregisters its delivery slot so a
// late URC can never write into a buffer the caller has discarded.
type dnsResolver struct {
	m      *Modem
	logger *slog.Logger

	// mu serializes queries; held for the whole command-send + rendezvous-
	// wait sequence and for nothing else.
	mu sync.Mutex
	// reg guards the pending registration so timeout-side clearing and
	// URC-side delivery cannot race.
	reg     sync.Mutex
	pending *dnsPending
}

// dnsPending is the one-shot delivery registration for an in-flight query.
type dnsPending struct {
	// resultCount is the row count announced by the header URC; zero until
	// the header arrives.
	resultCount int
	// delivered counts address rows consumed so far.
	delivered int
	// done is the rendezvous back to the blocked issuer. Capacity exactly
	// one; an attempted push when full is a protocol violation.
	done chan dnsOutcome
}

type dnsOutcome struct {
	addr string
	err  error
}

func newDNSResolver(m *Modem, logger *slog.Logger) *dnsResolver {
	return &dnsResolver{m: m, logger: logger}
}

// ResolveHost resolves a hostname through the modem's embedded DNS client
// and returns the first resolved address.
//
// The immediate OK only confirms the query was accepted; the result arrives
// later as URCs. ResolveHost blocks until the result is delivered or the
// configured DNS timeout elapses. A second caller blocks until the first
// query completes rather than failing.
func (m *Modem) ResolveHost(ctx context.Context, host string) (string, error) {
	return m.dns.resolve(ctx, host)
}

func (r *dnsResolver) resolve(ctx context.Context, host string) (string, error) {
	if host == "" || strings.ContainsAny(host, `"`) {
		return "", fmt.Errorf("%w: bad hostname %q", ErrInvalidArgument, host)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := &dnsPending{done: make(chan dnsOutcome, 1)}
	r.reg.Lock()
	r.pending = p
	r.reg.Unlock()

	cmd := Command{
		Text:  fmt.Sprintf(`AT+QIDNSGIP=1,"%s"`, host),
		Shape: ShapeNone,
	}
	if err := r.m.execute(ctx, cmd); err != nil {
		r.unregister(p)
		return "", fmt.Errorf("issue DNS query: %w", err)
	}

	timer := time.NewTimer(r.m.config.DNSTimeout)
	defer timer.Stop()
	select {
	case outcome := <-p.done:
		if outcome.err != nil {
			return "", outcome.err
		}
		return outcome.addr, nil
	case <-timer.C:
		r.unregister(p)
		return "", fmt.Errorf("resolve %s: %w", host, ErrTimeout)
	case <-ctx.Done():
		r.unregister(p)
		return "", fmt.Errorf("resolve %s: %w", host, ctx.Err())
	}
}

// unregister clears the delivery registration if it still refers to p.
func (r *dnsResolver) unregister(p *dnsPending) {
	r.reg.Lock()
	if r.pending == p {
		r.pending = nil
	}
	r.reg.Unlock()
}

// handleURC consumes one "dnsgip" URC from the loop. The first delivery for
// a query carries a result code and an expected row count; each following
// delivery carries one resolved address. Only the first address is handed
// to the issuer. Anything arriving without a registration, or beyond the
// expected sequence, is spurious and dropped with a log line.
func (r *dnsResolver) handleURC(line string) {
	rest, ok := at.TrimPrefix(line, at.UrcPrefix)
	if !ok {
		return
	}
	c := at.NewCursor(rest)
	if topic, ok := c.Next(); !ok || topic != "dnsgip" {
		return
	}

	r.reg.Lock()
	defer r.reg.Unlock()

	p := r.pending
	if p == nil {
		r.logger.Warn("spurious DNS URC with no query in flight", "urc", line)
		return
	}

	first := strings.TrimSpace(c.Remaining())
	if isAddressRow(first) {
		if p.resultCount == 0 {
			r.logger.Warn("DNS address row before result header", "urc", line)
			return
		}
		addr, _ := c.Next()
		p.delivered++
		r.deliver(p, dnsOutcome{addr: addr})
		r.pending = nil
		return
	}

	// Header delivery: <result>,<count>[,<ttl>]. The result code is a
	// vendor error number that can exceed a byte.
	result, okResult := c.NextUint(16)
	count, okCount := c.NextUint(8)
	if !okResult || !okCount {
		r.logger.Warn("malformed DNS result header", "urc", line)
		return
	}
	if p.resultCount != 0 {
		r.logger.Warn("duplicate DNS result header", "urc", line)
		return
	}
	// The TTL is a best-effort trailing token; some firmware omits it.
	if c.More() {
		if _, ok := c.NextUint(32); !ok {
			r.logger.Warn("unparseable DNS TTL, ignoring", "urc", line)
		}
	}
	if result != 0 || count == 0 {
		r.deliver(p, dnsOutcome{err: fmt.Errorf("DNS query failed (result %d, count %d): %w", result, count, ErrModemRejected)})
		r.pending = nil
		return
	}
	p.resultCount = int(count)
}

// deliver pushes the outcome to the rendezvous channel. The channel has
// capacity one, so a full channel means a duplicate delivery; that is a
// protocol violation which is logged and dropped, never a crash.
func (r *dnsResolver) deliver(p *dnsPending, outcome dnsOutcome) {
	select {
	case p.done <- outcome:
	default:
		r.logger.Error("DNS rendezvous already full, dropping delivery",
			"error", ErrProtocolViolation)
	}
}

// shutdown fails any in-flight query so its caller unblocks.
func (r *dnsResolver) shutdown() {
	r.reg.Lock()
	defer r.reg.Unlock()
	if r.pending != nil {
		r.deliver(r.pending, dnsOutcome{err: ErrAlreadyClosed})
		r.pending = nil
	}
}

// isAddressRow distinguishes the address form of the dnsgip URC (a single
// quoted IP) from the result header (unquoted numerics).
func isAddressRow(rest string) bool {
	return strings.HasPrefix(rest, `"`)
}
