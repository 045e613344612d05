package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ncpgateway/internal/config"
	"ncpgateway/internal/gwerrors"
)

// Pool is the Connection Pool (§4.6): bounded by MaxConnections, evicting
// least-recently-used idle connections to make room, recycling connections
// once they pass MaxExecutionsPerConnection calls, and sweeping connections
// that have sat idle past IdleTimeout. Connections with in-flight calls are
// never evicted or swept.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*Conn
	lru   *list.List // front = most recently used; elements are server names
	elems map[string]*list.Element

	paths  *config.Paths
	logger *zap.Logger

	maxConnections int
	maxExecutions  int
	idleTimeout    time.Duration
	connectTimeout time.Duration

	// dialFn is overridden in tests to avoid spawning real downstream
	// processes/connections.
	dialFn func(ctx context.Context, paths *config.Paths, serverName string, cfg config.ServerConfig) (*Conn, error)

	stop chan struct{}
	once sync.Once
}

// New constructs a Pool and starts its background idle sweeper.
func New(paths *config.Paths, logger *zap.Logger) *Pool {
	p := &Pool{
		conns:          map[string]*Conn{},
		lru:            list.New(),
		elems:          map[string]*list.Element{},
		paths:          paths,
		logger:         logger,
		maxConnections: config.MaxConnections,
		maxExecutions:  config.MaxExecutionsPerConnection,
		idleTimeout:    config.IdleTimeout,
		connectTimeout: config.ConnectTimeout,
		dialFn:         dial,
		stop:           make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// Acquire returns a live connection for serverName, dialing one if none
// exists, recycling it first if it has exceeded its execution budget, and
// evicting an idle connection to make room if the pool is at capacity.
// The returned release function must be called exactly once when the
// caller is done with the connection.
func (p *Pool) Acquire(ctx context.Context, serverName string, cfg config.ServerConfig) (*Conn, func(), error) {
	p.mu.Lock()
	if c, ok := p.conns[serverName]; ok {
		if c.NeedsRecycling(p.maxExecutions) && !c.Busy() {
			p.removeLocked(serverName)
			go c.Close()
		} else {
			c.acquire()
			p.touchLocked(serverName)
			p.mu.Unlock()
			return c, func() { c.release() }, nil
		}
	}

	if len(p.conns) >= p.maxConnections {
		if !p.evictOneLocked() {
			p.mu.Unlock()
			return nil, nil, gwerrors.New(gwerrors.TransportConnect, "connection pool saturated: all connections busy")
		}
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	conn, err := p.dialFn(dialCtx, p.paths, serverName, cfg)
	if err != nil {
		return nil, nil, gwerrors.Wrap(gwerrors.TransportConnect, "failed to connect to "+serverName, err)
	}

	p.mu.Lock()
	if existing, ok := p.conns[serverName]; ok {
		existing.acquire()
		p.touchLocked(serverName)
		p.mu.Unlock()
		go conn.Close()
		return existing, func() { existing.release() }, nil
	}
	conn.acquire()
	p.conns[serverName] = conn
	p.elems[serverName] = p.lru.PushFront(serverName)
	p.mu.Unlock()

	return conn, func() { conn.release() }, nil
}

// touchLocked moves serverName to the front of the LRU list. Caller holds p.mu.
func (p *Pool) touchLocked(serverName string) {
	if el, ok := p.elems[serverName]; ok {
		p.lru.MoveToFront(el)
	}
}

// removeLocked drops a connection from every tracking structure without
// closing it; the caller is responsible for closing asynchronously. Caller
// holds p.mu.
func (p *Pool) removeLocked(serverName string) {
	delete(p.conns, serverName)
	if el, ok := p.elems[serverName]; ok {
		p.lru.Remove(el)
		delete(p.elems, serverName)
	}
}

// evictOneLocked closes and removes the least-recently-used connection with
// no in-flight calls, scanning from the back of the LRU list. Returns false
// if every connection is currently busy. Caller holds p.mu.
func (p *Pool) evictOneLocked() bool {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		name := el.Value.(string)
		c, ok := p.conns[name]
		if !ok || c.Busy() {
			continue
		}
		p.removeLocked(name)
		go c.Close()
		p.logger.Debug("evicted idle connection to make room", zap.String("server", name))
		return true
	}
	return false
}

// Disconnect closes and removes the connection for serverName, if any, used
// when a server is removed from its profile or force-disabled.
func (p *Pool) Disconnect(serverName string) {
	p.mu.Lock()
	c, ok := p.conns[serverName]
	if ok {
		p.removeLocked(serverName)
	}
	p.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Stats reports live connection count, for diagnostics.
func (p *Pool) Stats() (live int, maxConnections int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns), p.maxConnections
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var toClose []*Conn
	for name, c := range p.conns {
		if c.Busy() {
			continue
		}
		if c.IdleSince() >= p.idleTimeout {
			toClose = append(toClose, c)
			p.removeLocked(name)
		}
	}
	p.mu.Unlock()

	for _, c := range toClose {
		p.logger.Debug("closing idle connection", zap.String("server", c.ServerName))
		_ = c.Close()
	}
}

// Shutdown closes every live connection and stops the idle sweeper.
func (p *Pool) Shutdown() {
	p.once.Do(func() { close(p.stop) })

	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.conns))
	for name, c := range p.conns {
		conns = append(conns, c)
		p.removeLocked(name)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			_ = c.Close()
		}(c)
	}
	wg.Wait()
}
