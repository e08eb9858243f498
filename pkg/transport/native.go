package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"dnschat/pkg/dnserror"
)

// Native resolves through net.Resolver, dialed straight at the target server
// instead of the host's configured resolver. It sits first in the default
// chain.
type Native struct {
	Timeout time.Duration
	dialer  *net.Dialer
}

// NewNative builds the native resolver transport.
func NewNative(timeout time.Duration) *Native {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Native{
		Timeout: timeout,
		dialer:  &net.Dialer{Timeout: timeout},
	}
}

func (n *Native) Name() string { return "native" }

func (n *Native) Query(ctx context.Context, req Request) ([]string, error) {
	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return n.dialer.DialContext(ctx, "udp", req.Target.Addr())
		},
	}

	ctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	records, err := resolver.LookupTXT(ctx, req.QueryName)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			switch {
			case dnsErr.IsNotFound:
				return nil, dnserror.Wrap(dnserror.NoRecordsFound, "no TXT records found by native resolver", err)
			case dnsErr.IsTimeout:
				return nil, dnserror.Wrap(dnserror.Timeout, "native resolver timed out", err)
			}
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, dnserror.Wrap(dnserror.Timeout, "native resolver timed out", err)
		}
		return nil, dnserror.Wrap(dnserror.ResolverFailed, "native resolver failed", err)
	}
	if len(records) == 0 {
		return nil, dnserror.New(dnserror.NoRecordsFound, "no TXT records found by native resolver")
	}
	return records, nil
}
