package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"dnschat/pkg/dnserror"
	"dnschat/pkg/sanitize"
	"dnschat/pkg/wire"
)

const (
	// DefaultDoHEndpoint is the RFC 8484 resolver queried over HTTPS.
	DefaultDoHEndpoint = "https://cloudflare-dns.com/dns-query"

	dohContentType     = "application/dns-message"
	maxDoHResponseSize = 64 * 1024
)

// DoH posts the same wire-format query over HTTPS. The chat backend itself
// does not speak DoH, so targets on its host are skipped outright and the
// chain proceeds to the next transport.
type DoH struct {
	Endpoint  string
	SkipHosts map[string]struct{}
	client    *http.Client
}

// NewDoH builds the DNS-over-HTTPS transport. skipHosts lists target hosts
// the transport must not serve; nil defaults to the chat backend host.
func NewDoH(endpoint string, timeout time.Duration, skipHosts []string) *DoH {
	if endpoint == "" {
		endpoint = DefaultDoHEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if skipHosts == nil {
		skipHosts = []string{sanitize.DefaultZone}
	}
	skip := make(map[string]struct{}, len(skipHosts))
	for _, host := range skipHosts {
		skip[sanitize.NormalizeHostInput(host)] = struct{}{}
	}
	return &DoH{
		Endpoint:  endpoint,
		SkipHosts: skip,
		client:    &http.Client{Timeout: timeout},
	}
}

func (d *DoH) Name() string { return "doh" }

// Skip reports whether the target host is excluded from DoH.
func (d *DoH) Skip(req Request) bool {
	_, ok := d.SkipHosts[sanitize.NormalizeHostInput(req.Target.Host)]
	return ok
}

func (d *DoH) Query(ctx context.Context, req Request) ([]string, error) {
	// Transaction ID is fixed at zero on this transport: the HTTPS channel
	// authenticates the peer, and the response is validated against the
	// same zero ID.
	query, err := wire.BuildQuery(req.QueryName, 0, req.MaxLabelLength)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(query.Payload))
	if err != nil {
		return nil, dnserror.Wrap(dnserror.QueryFailed, "cannot build DoH request", err)
	}
	httpReq.Header.Set("Content-Type", dohContentType)
	httpReq.Header.Set("Accept", dohContentType)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, dnserror.Wrap(dnserror.Timeout, "DoH request timed out", err)
		}
		return nil, dnserror.Wrap(dnserror.QueryFailed, "DoH request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dnserror.Newf(dnserror.QueryFailed, "DoH request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDoHResponseSize))
	if err != nil {
		return nil, dnserror.Wrap(dnserror.QueryFailed, "cannot read DoH response body", err)
	}

	records, err := wire.ParseResponse(body, query.TransactionID, query.Name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, dnserror.New(dnserror.NoRecordsFound, "no TXT records found in DoH response")
	}
	return records, nil
}
