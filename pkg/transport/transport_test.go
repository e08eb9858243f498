package transport

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnschat/pkg/dnserror"
	"dnschat/pkg/logging"
)

// startMockDNS runs a loopback UDP DNS server whose handler maps each request
// to a response. A nil response drops the request on the floor.
func startMockDNS(t *testing.T, handler func(req *dns.Msg) *dns.Msg) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}
			resp := handler(req)
			if resp == nil {
				continue
			}
			out, err := resp.Pack()
			if err != nil {
				continue
			}
			conn.WriteToUDP(out, from)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

// txtReply answers the request with the given TXT strings.
func txtReply(req *dns.Msg, txts ...string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	if len(txts) > 0 {
		resp.Answer = append(resp.Answer, &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   req.Question[0].Name,
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    60,
			},
			Txt: txts,
		})
	}
	return resp
}

type fakeTransport struct {
	name    string
	records []string
	err     error
	skip    bool
	calls   int
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Query(ctx context.Context, req Request) ([]string, error) {
	f.calls++
	return f.records, f.err
}

func (f *fakeTransport) Skip(req Request) bool { return f.skip }

func testRequest() Request {
	return Request{
		QueryName:      "hello.ch.at",
		Target:         Target{Host: "ch.at", Port: 53},
		MaxLabelLength: 63,
	}
}

func TestChainFirstSuccessWins(t *testing.T) {
	first := &fakeTransport{name: "first", records: []string{"answer"}}
	second := &fakeTransport{name: "second", records: []string{"unused"}}
	chain := NewChain(logging.NewDiscard(), first, second)

	records, name, err := chain.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, records)
	assert.Equal(t, "first", name)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
}

func TestChainFallsThrough(t *testing.T) {
	first := &fakeTransport{name: "first", err: dnserror.New(dnserror.Timeout, "slow")}
	second := &fakeTransport{name: "second", records: []string{"answer"}}
	chain := NewChain(logging.NewDiscard(), first, second)

	records, name, err := chain.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, records)
	assert.Equal(t, "second", name)
	assert.Equal(t, 1, first.calls)
}

func TestChainLastErrorPropagates(t *testing.T) {
	first := &fakeTransport{name: "first", err: dnserror.New(dnserror.Timeout, "slow")}
	last := &fakeTransport{name: "last", err: dnserror.New(dnserror.NoRecordsFound, "empty")}
	chain := NewChain(logging.NewDiscard(), first, last)

	_, _, err := chain.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, dnserror.NoRecordsFound, dnserror.KindOf(err))
}

func TestChainSkipsConditionalTransport(t *testing.T) {
	skipped := &fakeTransport{name: "skipped", skip: true, records: []string{"never"}}
	used := &fakeTransport{name: "used", records: []string{"answer"}}
	chain := NewChain(logging.NewDiscard(), skipped, used)

	records, name, err := chain.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, records)
	assert.Equal(t, "used", name)
	assert.Equal(t, 0, skipped.calls)
}

func TestChainAllSkipped(t *testing.T) {
	chain := NewChain(logging.NewDiscard(), &fakeTransport{name: "only", skip: true})

	_, _, err := chain.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, dnserror.ResolverFailed, dnserror.KindOf(err))
}

func TestChainContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewChain(logging.NewDiscard(), &fakeTransport{name: "never", records: []string{"x"}})
	_, _, err := chain.Run(ctx, testRequest())
	require.Error(t, err)
	assert.Equal(t, dnserror.Cancelled, dnserror.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChainUnclassifiedErrorKind(t *testing.T) {
	chain := NewChain(logging.NewDiscard(), &fakeTransport{name: "raw", err: errors.New("boom")})
	_, _, err := chain.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, dnserror.QueryFailed, dnserror.KindOf(err))
}

func TestTargetAddr(t *testing.T) {
	assert.Equal(t, "ch.at:53", Target{Host: "ch.at", Port: 53}.Addr())
	assert.Equal(t, "[::1]:5353", Target{Host: "::1", Port: 5353}.Addr())
}
