package remotekit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pool defaults. Exceeding a timeout is a retryable failure, not a fatal
// pool state.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultIOTimeout      = 60 * time.Second
	DefaultIdleThreshold  = 30 * time.Second
	DefaultSweepInterval  = 10 * time.Second
)

// ConnectionInfo identifies one remote endpoint for pool lookup.
type ConnectionInfo struct {
	Scheme       string
	Host         string
	Port         int
	Share        string
	CredentialID string
}

type poolKey struct {
	host  string
	share string
}

func (ci ConnectionInfo) key() poolKey {
	return poolKey{host: ci.Host, share: ci.Share}
}

// PooledConnection is a previously authenticated, still-valid session held
// by the pool. The underlying session is not internally synchronized:
// callers needing concurrent requests against the same endpoint must
// serialize them or dial a dedicated session instead.
type PooledConnection struct {
	key      poolKey
	client   RemoteFileClient
	lastUsed time.Time
}

// Client returns the session's protocol client.
func (pc *PooledConnection) Client() RemoteFileClient {
	return pc.client
}

// poolEntry is one key's slot. Its mutex serializes validation and dial
// for that key only, so a slow dial against one endpoint never delays
// acquires for other keys. Entries persist until Shutdown; a slot whose
// dial failed simply holds no connection. lastUsed is written and read
// under the entry lock; the pointer itself is atomic so Len can count
// live connections without it.
type poolEntry struct {
	mu sync.Mutex
	pc atomic.Pointer[PooledConnection]
}

// ConnPool is a thread-safe cache of live authenticated sessions, at most
// one per (host, share) key. The pool mutex guards only the key-to-entry
// map; dialing and validation happen under the entry's own lock, and I/O
// on an acquired client happens outside both.
type ConnPool struct {
	mu    sync.Mutex
	conns map[poolKey]*poolEntry

	store CredentialStore
	log   *zap.Logger
	now   func() time.Time

	connectTimeout time.Duration
	ioTimeout      time.Duration
	idleThreshold  time.Duration
	sweepInterval  time.Duration

	closed bool
	done   chan struct{}
}

// PoolOption configures a ConnPool.
type PoolOption func(*ConnPool)

// WithPoolLogger sets the pool's logger. Defaults to a no-op logger.
func WithPoolLogger(log *zap.Logger) PoolOption {
	return func(p *ConnPool) { p.log = log }
}

// WithIdleThreshold sets how long a connection may sit unused before the
// sweep evicts it.
func WithIdleThreshold(d time.Duration) PoolOption {
	return func(p *ConnPool) { p.idleThreshold = d }
}

// WithSweepInterval sets the period of the background idle sweep.
func WithSweepInterval(d time.Duration) PoolOption {
	return func(p *ConnPool) { p.sweepInterval = d }
}

// WithConnectTimeout bounds dial plus authentication.
func WithConnectTimeout(d time.Duration) PoolOption {
	return func(p *ConnPool) { p.connectTimeout = d }
}

// WithIOTimeout bounds stream read/write operations on dialed clients.
func WithIOTimeout(d time.Duration) PoolOption {
	return func(p *ConnPool) { p.ioTimeout = d }
}

// withClock overrides the pool's time source. Test hook.
func withClock(now func() time.Time) PoolOption {
	return func(p *ConnPool) { p.now = now }
}

// NewConnPool creates a pool resolving credentials from store and starts
// the background idle sweep. Call Shutdown when done.
func NewConnPool(store CredentialStore, opts ...PoolOption) *ConnPool {
	p := &ConnPool{
		conns:          make(map[poolKey]*poolEntry),
		store:          store,
		log:            zap.NewNop(),
		now:            time.Now,
		connectTimeout: DefaultConnectTimeout,
		ioTimeout:      DefaultIOTimeout,
		idleThreshold:  DefaultIdleThreshold,
		sweepInterval:  DefaultSweepInterval,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.janitor()

	return p
}

// Acquire returns the live connection for info's (host, share) key,
// dialing a fresh one when none exists or the cached one is no longer
// valid. A cached entry is valid when its transport is still connected and
// its idle time is under the threshold; invalid entries are closed and
// removed before the replacement is dialed, so a bad connection is never
// handed out.
//
// The key's entry lock is held across validation and dial, so a key can
// never race into two live connections and a concurrent acquire for the
// same key waits and then shares the connection the first one dialed.
// Acquires for other keys proceed independently. Dial failures are
// ConnectionErrors; the pool does not retry, and a failed dial leaves no
// connection behind, so a later call with working credentials succeeds
// normally.
func (p *ConnPool) Acquire(ctx context.Context, info ConnectionInfo) (*PooledConnection, error) {
	key := info.key()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, connErr("acquire", info.Host, ErrPoolClosed)
	}
	e, ok := p.conns[key]
	if !ok {
		e = &poolEntry{}
		p.conns[key] = e
	}
	p.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if pc := e.pc.Load(); pc != nil {
		if p.valid(pc) {
			pc.lastUsed = p.now()
			return pc, nil
		}
		p.closeConn(pc, "stale")
		e.pc.Store(nil)
	}

	creds, err := resolveCredentials(ctx, p.store, &RemoteURI{
		Scheme:       info.Scheme,
		Host:         info.Host,
		Port:         info.Port,
		Share:        info.Share,
		CredentialID: info.CredentialID,
	})
	if err != nil {
		return nil, err
	}

	client, err := Dial(ClientConfig{
		Scheme:         info.Scheme,
		Host:           info.Host,
		Port:           info.Port,
		Share:          info.Share,
		Credentials:    *creds,
		ConnectTimeout: p.connectTimeout,
		IOTimeout:      p.ioTimeout,
		Logger:         p.log,
	})
	if err != nil {
		if IsValidationError(err) {
			return nil, err
		}
		return nil, connErr("acquire", info.Host, err)
	}

	// Shutdown may have raced the dial; its snapshot already covered this
	// entry, so the fresh connection must be closed here.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		client.Close()
		return nil, connErr("acquire", info.Host, ErrPoolClosed)
	}
	p.mu.Unlock()

	pc := &PooledConnection{key: key, client: client, lastUsed: p.now()}
	e.pc.Store(pc)
	p.log.Debug("pooled connection created",
		zap.String("host", info.Host), zap.String("share", info.Share))

	return pc, nil
}

// valid reports whether the entry may be handed out. Called with the
// owning entry's lock held.
func (p *ConnPool) valid(pc *PooledConnection) bool {
	if !pc.client.IsConnected() {
		return false
	}
	return p.now().Sub(pc.lastUsed) < p.idleThreshold
}

// Evict closes and removes the connection for info, if any.
func (p *ConnPool) Evict(info ConnectionInfo) {
	p.mu.Lock()
	e, ok := p.conns[info.key()]
	p.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if pc := e.pc.Load(); pc != nil {
		p.closeConn(pc, "evicted")
		e.pc.Store(nil)
	}
}

// Len returns the number of live pooled connections.
func (p *ConnPool) Len() int {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.conns))
	for _, e := range p.conns {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e.pc.Load() != nil {
			n++
		}
	}
	return n
}

// Sweep removes connections idle beyond the threshold or whose transport
// reports disconnected. The janitor calls this periodically; it is exported
// so callers can force a pass.
func (p *ConnPool) Sweep() {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.conns))
	for _, e := range p.conns {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if pc := e.pc.Load(); pc != nil && !p.valid(pc) {
			p.closeConn(pc, "idle sweep")
			e.pc.Store(nil)
		}
		e.mu.Unlock()
	}
}

// Shutdown stops the janitor and closes every pooled connection, waiting
// for in-flight dials to settle. Idempotent.
func (p *ConnPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)

	entries := make([]*poolEntry, 0, len(p.conns))
	for key, e := range p.conns {
		entries = append(entries, e)
		delete(p.conns, key)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if pc := e.pc.Load(); pc != nil {
			p.closeConn(pc, "shutdown")
			e.pc.Store(nil)
		}
		e.mu.Unlock()
	}
}

// closeConn tears a connection down. Each step is logged and non-fatal;
// drivers order their own teardown handle, then session, then transport.
func (p *ConnPool) closeConn(pc *PooledConnection, reason string) {
	if err := pc.client.Close(); err != nil {
		p.log.Warn("pooled connection close",
			zap.String("host", pc.key.host),
			zap.String("share", pc.key.share),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	p.log.Debug("pooled connection closed",
		zap.String("host", pc.key.host),
		zap.String("share", pc.key.share),
		zap.String("reason", reason))
}

func (p *ConnPool) janitor() {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.done:
			return
		}
	}
}
