package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnschat/pkg/dnserror"
)

func TestLegacyQuery(t *testing.T) {
	addr := startMockDNS(t, func(req *dns.Msg) *dns.Msg {
		return txtReply(req, "part one", "part two")
	})

	l := NewLegacy(2 * time.Second)
	records, err := l.Query(context.Background(), udpRequest(addr))
	require.NoError(t, err)
	assert.Equal(t, []string{"part one", "part two"}, records)
}

func TestLegacyRetriesEmptyAnswer(t *testing.T) {
	var queries atomic.Int32
	addr := startMockDNS(t, func(req *dns.Msg) *dns.Msg {
		if queries.Add(1) < 3 {
			return txtReply(req) // empty answer
		}
		return txtReply(req, "finally")
	})

	l := &Legacy{Timeout: 2 * time.Second, Attempts: 3, Backoff: 5 * time.Millisecond}
	records, err := l.Query(context.Background(), udpRequest(addr))
	require.NoError(t, err)
	assert.Equal(t, []string{"finally"}, records)
	assert.Equal(t, int32(3), queries.Load())
}

func TestLegacyRetryBudgetExhausted(t *testing.T) {
	var queries atomic.Int32
	addr := startMockDNS(t, func(req *dns.Msg) *dns.Msg {
		queries.Add(1)
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeNameError)
		return resp
	})

	l := &Legacy{Timeout: 2 * time.Second, Attempts: 3, Backoff: 5 * time.Millisecond}
	_, err := l.Query(context.Background(), udpRequest(addr))
	require.Error(t, err)
	assert.Equal(t, dnserror.NoRecordsFound, dnserror.KindOf(err))
	assert.Equal(t, int32(3), queries.Load())
}

func TestLegacyDoesNotRetryHardFailures(t *testing.T) {
	var queries atomic.Int32
	addr := startMockDNS(t, func(req *dns.Msg) *dns.Msg {
		queries.Add(1)
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeServerFailure)
		return resp
	})

	l := &Legacy{Timeout: 2 * time.Second, Attempts: 3, Backoff: 5 * time.Millisecond}
	_, err := l.Query(context.Background(), udpRequest(addr))
	require.Error(t, err)
	assert.Equal(t, dnserror.QueryFailed, dnserror.KindOf(err))
	assert.Equal(t, int32(1), queries.Load())
}

func TestLegacyCancelledDuringBackoff(t *testing.T) {
	addr := startMockDNS(t, func(req *dns.Msg) *dns.Msg {
		return txtReply(req) // always empty, forces backoff
	})

	ctx, cancel := context.WithCancel(context.Background())
	l := &Legacy{Timeout: 2 * time.Second, Attempts: 3, Backoff: 500 * time.Millisecond}

	done := make(chan error, 1)
	go func() {
		_, err := l.Query(ctx, udpRequest(addr))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, dnserror.Cancelled, dnserror.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return after cancellation")
	}
}

func TestLegacyTimeout(t *testing.T) {
	addr := startMockDNS(t, func(req *dns.Msg) *dns.Msg {
		return nil // never answer
	})

	l := &Legacy{Timeout: 150 * time.Millisecond, Attempts: 1, Backoff: 5 * time.Millisecond}
	_, err := l.Query(context.Background(), udpRequest(addr))
	require.Error(t, err)
	assert.Equal(t, dnserror.Timeout, dnserror.KindOf(err))
}
