package transport

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"

	"dnschat/pkg/dnserror"
)

const (
	defaultLegacyAttempts = 3
	defaultLegacyBackoff  = 200 * time.Millisecond
)

// Legacy resolves through a general-purpose DNS client. It is the last rung
// of the chain and the only transport that retries internally: empty results
// back off and try again, every other failure propagates immediately.
type Legacy struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

// NewLegacy builds the legacy transport with the standard retry budget.
func NewLegacy(timeout time.Duration) *Legacy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Legacy{
		Timeout:  timeout,
		Attempts: defaultLegacyAttempts,
		Backoff:  defaultLegacyBackoff,
	}
}

func (l *Legacy) Name() string { return "legacy" }

func (l *Legacy) Query(ctx context.Context, req Request) ([]string, error) {
	client := &dns.Client{
		Net:     "udp",
		Timeout: l.Timeout,
	}

	var lastErr error
	for attempt := 0; attempt < l.Attempts; attempt++ {
		records, err := l.exchange(ctx, client, req)
		if err == nil {
			return records, nil
		}
		lastErr = err

		// Only an empty answer is worth retrying; anything else is a
		// real failure.
		if dnserror.KindOf(err) != dnserror.NoRecordsFound || attempt == l.Attempts-1 {
			return nil, err
		}

		delay := l.Backoff * (1 << attempt)
		select {
		case <-ctx.Done():
			return nil, dnserror.Wrap(dnserror.Cancelled, "query context cancelled during backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (l *Legacy) exchange(ctx context.Context, client *dns.Client, req Request) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(req.QueryName), dns.TypeTXT)
	m.RecursionDesired = true

	resp, _, err := client.ExchangeContext(ctx, m, req.Target.Addr())
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, dnserror.Wrap(dnserror.Timeout, "legacy DNS query timed out", err)
		}
		return nil, dnserror.Wrap(dnserror.QueryFailed, "legacy DNS query failed", err)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, dnserror.New(dnserror.NoRecordsFound, "no TXT records found in legacy query")
	default:
		return nil, dnserror.Newf(dnserror.QueryFailed, "legacy DNS query rcode=%d", resp.Rcode)
	}

	var records []string
	for _, answer := range resp.Answer {
		if txt, ok := answer.(*dns.TXT); ok {
			records = append(records, txt.Txt...)
		}
	}
	if len(records) == 0 {
		return nil, dnserror.New(dnserror.NoRecordsFound, "no valid TXT records found in legacy query")
	}
	return records, nil
}
