// Package transport implements the ordered fallback chain of DNS transports
// used to resolve one TXT query: native resolver, raw UDP, DNS-over-HTTPS and
// the legacy resolver library.
package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"dnschat/pkg/dnserror"
	"dnschat/pkg/logging"
)

// DefaultTimeout bounds one transport attempt.
const DefaultTimeout = 10 * time.Second

// Target identifies the DNS server a query is sent to.
type Target struct {
	Host string
	Port int
}

// Addr renders the target as host:port for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Request carries everything one transport attempt needs. MaxLabelLength
// follows the active sanitizer config so wire encoding enforces the same cap
// the sanitizer promised.
type Request struct {
	QueryName      string
	Target         Target
	MaxLabelLength int
}

// Transport is one way of resolving a TXT query. Implementations classify
// their failures with dnserror kinds so the chain and callers can tell
// timeouts from protocol rejections.
type Transport interface {
	Name() string
	Query(ctx context.Context, req Request) ([]string, error)
}

// conditional is implemented by transports that opt out of certain targets.
type conditional interface {
	Skip(req Request) bool
}

// Chain tries each transport in order and returns the first success.
// Attempts never overlap: a transport runs only after the previous one has
// definitively failed.
type Chain struct {
	transports []Transport
	logger     *logging.Logger
}

// NewChain builds a chain over the given transports, in fallback order.
func NewChain(logger *logging.Logger, transports ...Transport) *Chain {
	return &Chain{transports: transports, logger: logger}
}

// Run resolves req through the chain. It returns the TXT strings and the name
// of the transport that produced them, or the last transport's error once
// every transport has failed.
func (c *Chain) Run(ctx context.Context, req Request) ([]string, string, error) {
	var lastErr error
	for _, t := range c.transports {
		if cond, ok := t.(conditional); ok && cond.Skip(req) {
			c.logger.Debug("Skipping transport",
				"transport", t.Name(),
				"server", req.Target.Host,
			)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, "", dnserror.Wrap(dnserror.Cancelled, "query context cancelled", err)
		}

		started := time.Now()
		records, err := t.Query(ctx, req)
		if err == nil {
			c.logger.Debug("Transport succeeded",
				"transport", t.Name(),
				"query", req.QueryName,
				"records", len(records),
				"duration", time.Since(started),
			)
			return records, t.Name(), nil
		}

		c.logger.Warn("Transport failed, falling back",
			"transport", t.Name(),
			"query", req.QueryName,
			"kind", string(dnserror.KindOf(err)),
			"error", err,
		)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = dnserror.New(dnserror.ResolverFailed, "no transport available for target")
	}
	return nil, "", lastErr
}
