// Package resolver coordinates TXT chat queries: sanitization, query-name
// composition, in-flight deduplication, the transport fallback chain and
// teardown.
package resolver

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"dnschat/pkg/config"
	"dnschat/pkg/dnserror"
	"dnschat/pkg/logging"
	"dnschat/pkg/sanitize"
	"dnschat/pkg/storage"
	"dnschat/pkg/telemetry"
	"dnschat/pkg/transport"
)

const (
	defaultDNSPort   = 53
	shutdownGraceful = 5 * time.Second
)

// pending is a single-assignment future for one in-flight logical query.
// Exactly one complete call wins; later ones are no-ops.
type pending struct {
	done    chan struct{}
	once    sync.Once
	records []string
	err     error
}

func newPending() *pending {
	return &pending{done: make(chan struct{})}
}

func (p *pending) complete(records []string, err error) {
	p.once.Do(func() {
		p.records = records
		p.err = err
		close(p.done)
	})
}

// Resolver is the query coordinator. Construct it with New and tear it down
// with Cleanup; instances are independent, so tests can run several side by
// side.
type Resolver struct {
	cfg     *config.ResolverConfig
	logger  *logging.Logger
	metrics *telemetry.Metrics
	chain   chainRunner

	sanitizer atomic.Pointer[sanitize.Config]

	mu     sync.Mutex
	active map[string]*pending

	pool     *workerPool
	queryLog *QueryLogger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closed     atomic.Bool
}

// chainRunner lets tests substitute the transport chain.
type chainRunner interface {
	Run(ctx context.Context, req transport.Request) ([]string, string, error)
}

// New builds a resolver with the transport chain described by cfg.
func New(cfg *config.ResolverConfig, logger *logging.Logger, metrics *telemetry.Metrics) *Resolver {
	var transports []transport.Transport
	for _, name := range cfg.Transports {
		switch name {
		case "native":
			transports = append(transports, transport.NewNative(cfg.Timeout))
		case "udp":
			transports = append(transports, transport.NewUDP(cfg.Timeout))
		case "doh":
			transports = append(transports, transport.NewDoH(cfg.DoHEndpoint, cfg.Timeout, cfg.DoHSkipHosts))
		case "legacy":
			transports = append(transports, transport.NewLegacy(cfg.Timeout))
		}
	}
	chain := transport.NewChain(logger, transports...)
	return newWithChain(cfg, logger, metrics, chain)
}

func newWithChain(cfg *config.ResolverConfig, logger *logging.Logger, metrics *telemetry.Metrics, chain chainRunner) *Resolver {
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	r := &Resolver{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		chain:      chain,
		active:     make(map[string]*pending),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	r.sanitizer.Store(sanitize.Default())
	r.pool = newWorkerPool(cfg.PoolSize, cfg.QueueCapacity, func() {
		metrics.PoolSaturated.Add(context.Background(), 1)
	})
	return r
}

// SetQueryLog attaches an asynchronous query logger. Call before the first
// query.
func (r *Resolver) SetQueryLog(ql *QueryLogger) {
	r.queryLog = ql
}

// SanitizerConfig returns the active sanitizer rule set.
func (r *Resolver) SanitizerConfig() *sanitize.Config {
	return r.sanitizer.Load()
}

// QueryTXT resolves a chat message against the given server. Concurrent
// calls with the same normalized server, port and sanitized message collapse
// into a single chain run; every caller observes the shared result. The
// caller's context only abandons the wait, it does not cancel the shared
// work.
func (r *Resolver) QueryTXT(ctx context.Context, domain, message string, port int) ([]string, error) {
	if r.closed.Load() {
		return nil, dnserror.New(dnserror.Cancelled, "DNS resolver is shut down")
	}

	cfg := r.sanitizer.Load()

	host, queryName, dnsPort, err := r.prepare(domain, message, port, cfg)
	if err != nil {
		return nil, err
	}

	key := host + ":" + strconv.Itoa(dnsPort) + "-" + queryName

	r.mu.Lock()
	p, exists := r.active[key]
	if !exists {
		p = newPending()
		r.active[key] = p
	}
	r.mu.Unlock()

	if exists {
		r.logger.Debug("Reusing in-flight query", "key", key)
		r.metrics.DedupShared.Add(ctx, 1)
	} else {
		r.metrics.QueriesTotal.Add(ctx, 1)
		req := transport.Request{
			QueryName:      queryName,
			Target:         transport.Target{Host: host, Port: dnsPort},
			MaxLabelLength: cfg.MaxLabelLength,
		}
		r.pool.submit(func() { r.execute(key, p, req) })
	}

	select {
	case <-p.done:
		return p.records, p.err
	case <-ctx.Done():
		return nil, dnserror.Wrap(dnserror.Cancelled, "caller abandoned query", ctx.Err())
	}
}

// prepare validates and normalizes the inputs without touching the network.
func (r *Resolver) prepare(domain, message string, port int, cfg *sanitize.Config) (host, queryName string, dnsPort int, err error) {
	if sanitize.NormalizeHostInput(domain) == "" {
		return "", "", 0, dnserror.New(dnserror.QueryFailed, "DNS domain cannot be null or empty")
	}

	label, err := sanitize.Sanitize(message, cfg)
	if err != nil {
		r.metrics.SanitizerRejected.Add(context.Background(), 1)
		return "", "", 0, err
	}

	dnsPort = port
	if dnsPort <= 0 {
		dnsPort = defaultDNSPort
	}
	if dnsPort > 65535 {
		return "", "", 0, dnserror.Newf(dnserror.QueryFailed,
			"invalid DNS port: %d, must be between 1 and 65535", dnsPort)
	}

	host, err = sanitize.NormalizeServerHost(domain, cfg)
	if err != nil {
		return "", "", 0, err
	}

	queryName, err = sanitize.Compose(label, host)
	if err != nil {
		return "", "", 0, err
	}
	return host, queryName, dnsPort, nil
}

// execute runs the transport chain for one deduplicated query and publishes
// the outcome.
func (r *Resolver) execute(key string, p *pending, req transport.Request) {
	started := time.Now()
	records, transportName, err := r.chain.Run(r.baseCtx, req)
	duration := time.Since(started)

	r.mu.Lock()
	delete(r.active, key)
	remaining := len(r.active)
	r.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("transport", transportName))
	r.metrics.QueryDuration.Record(context.Background(), float64(duration.Milliseconds()), attrs)
	if err != nil {
		r.metrics.TransportFailures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", string(dnserror.KindOf(err)))))
	} else {
		r.metrics.TransportAttempts.Add(context.Background(), 1, attrs)
	}

	if r.queryLog != nil {
		entry := &storage.QueryLog{
			Timestamp:  started,
			Server:     req.Target.Host,
			QueryName:  req.QueryName,
			Transport:  transportName,
			DurationMs: float64(duration.Microseconds()) / 1000,
			Records:    len(records),
		}
		if err != nil {
			entry.ErrorKind = string(dnserror.KindOf(err))
		}
		r.queryLog.Log(entry)
	}

	if err != nil {
		r.logger.Debug("Query failed", "key", key, "active", remaining, "error", err)
	} else {
		r.logger.Debug("Query completed", "key", key, "active", remaining, "records", len(records))
	}
	p.complete(records, err)
}

// ConfigureSanitizer validates a configuration payload and atomically swaps
// the sanitizer rule set if it differs from the current one. It reports
// whether a change occurred; invalid payloads change nothing.
func (r *Resolver) ConfigureSanitizer(configMap map[string]any) (bool, error) {
	incoming, err := sanitize.ParseMap(configMap)
	if err != nil {
		return false, err
	}
	current := r.sanitizer.Load()
	if current.Equal(incoming) {
		return false, nil
	}
	r.sanitizer.Store(incoming)
	r.logger.Info("Sanitizer configuration updated",
		"max_label_length", incoming.MaxLabelLength,
		"normalization", incoming.Normalization,
		"allowed_servers", incoming.AllowedServerList(),
	)
	return true, nil
}

// Cleanup completes every pending query with CANCELLED, clears the dedup map
// and shuts down the worker pool. Safe to call repeatedly.
func (r *Resolver) Cleanup() {
	firstCall := r.closed.CompareAndSwap(false, true)

	r.mu.Lock()
	stale := r.active
	r.active = make(map[string]*pending)
	r.mu.Unlock()

	cancelErr := dnserror.New(dnserror.Cancelled, "DNS resolver is shutting down")
	for _, p := range stale {
		p.complete(nil, cancelErr)
	}
	if n := len(stale); n > 0 {
		r.metrics.QueriesCancelled.Add(context.Background(), int64(n))
	}
	r.logger.Debug("Cleanup complete", "cancelled", len(stale))

	if !firstCall {
		return
	}
	r.baseCancel()
	if !r.pool.shutdown(shutdownGraceful) {
		r.logger.Warn("Worker pool did not drain before deadline")
	}
	if r.queryLog != nil {
		r.queryLog.Close()
	}
}

// ActiveQueries reports the current dedup map size.
func (r *Resolver) ActiveQueries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
