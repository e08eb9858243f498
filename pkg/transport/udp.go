package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"dnschat/pkg/dnserror"
	"dnschat/pkg/wire"
)

const udpResponseBufferSize = 2048

// UDP sends one hand-encoded datagram per attempt and validates the reply
// against the transaction ID, query name and source address of that attempt.
type UDP struct {
	Timeout time.Duration
}

// NewUDP builds the raw UDP transport.
func NewUDP(timeout time.Duration) *UDP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &UDP{Timeout: timeout}
}

func (u *UDP) Name() string { return "udp" }

func (u *UDP) Query(ctx context.Context, req Request) ([]string, error) {
	query, err := wire.BuildQuery(req.QueryName, wire.NewTransactionID(), req.MaxLabelLength)
	if err != nil {
		return nil, err
	}

	serverAddr, err := net.ResolveUDPAddr("udp", req.Target.Addr())
	if err != nil {
		return nil, dnserror.Wrap(dnserror.QueryFailed, "cannot resolve DNS server address", err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, dnserror.Wrap(dnserror.QueryFailed, "cannot open UDP socket", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(u.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, dnserror.Wrap(dnserror.QueryFailed, "cannot set socket deadline", err)
	}

	if _, err := conn.WriteToUDP(query.Payload, serverAddr); err != nil {
		return nil, dnserror.Wrap(dnserror.QueryFailed, "UDP DNS query failed", err)
	}

	buf := make([]byte, udpResponseBufferSize)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, dnserror.Wrap(dnserror.Timeout, "no UDP response within deadline", err)
		}
		return nil, dnserror.Wrap(dnserror.QueryFailed, "UDP DNS query failed", err)
	}

	// Off-path spoofed replies arrive from the wrong source; the reply must
	// come back from exactly the address and port the query went to.
	if !from.IP.Equal(serverAddr.IP) || from.Port != serverAddr.Port {
		return nil, dnserror.New(dnserror.QueryFailed,
			fmt.Sprintf("DNS response from unexpected source: %s", from.String()))
	}

	records, err := wire.ParseResponse(buf[:n], query.TransactionID, query.Name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, dnserror.New(dnserror.NoRecordsFound, "no TXT records found in UDP response")
	}
	return records, nil
}
