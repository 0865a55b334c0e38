package nntp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Strategy picks which server a pool acquisition should prefer.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyWeighted     Strategy = "weighted"
	StrategyLeastLatency Strategy = "least_latency"
	StrategyFailover     Strategy = "failover"
)

const (
	evictAfterConsecutiveFailures = 5
	evictAfterIdle                = 5 * time.Minute
)

// ConnectionHealth tracks one pooled connection's recent behavior, used to
// compute its selection priority and decide when to evict it.
type ConnectionHealth struct {
	ServerName          string
	TotalRequests       int64
	SuccessfulRequests  int64
	ConsecutiveFailures int
	TotalResponseTime   time.Duration
	LastUsed            time.Time
}

// successRate returns the fraction (0..1) of requests that succeeded, 1.0
// when no requests have been made yet (an untested connection is optimistic
// by default, matching spec.md's priority formula).
func (h *ConnectionHealth) successRate() float64 {
	if h.TotalRequests == 0 {
		return 1.0
	}
	return float64(h.SuccessfulRequests) / float64(h.TotalRequests)
}

func (h *ConnectionHealth) avgResponseMS() float64 {
	if h.SuccessfulRequests == 0 {
		return 0
	}
	return float64(h.TotalResponseTime.Milliseconds()) / float64(h.SuccessfulRequests)
}

// priority implements spec.md §4.6's scoring: (1 - success_rate) * 100 +
// avg_response_time_ms. Lower is better.
func (h *ConnectionHealth) priority() float64 {
	return (1-h.successRate())*100 + h.avgResponseMS()
}

func (h *ConnectionHealth) shouldEvict(now time.Time) bool {
	if h.ConsecutiveFailures >= evictAfterConsecutiveFailures {
		return true
	}
	return now.Sub(h.LastUsed) > evictAfterIdle
}

// pooledConn bundles a live Conn with its health record.
type pooledConn struct {
	conn   *Conn
	health *ConnectionHealth
}

// Pool manages connections across one or more NNTP servers, scoring each by
// recent health and evicting ones that look dead.
type Pool struct {
	mu       sync.Mutex
	servers  []ServerConfig
	strategy Strategy
	perSrv   map[string][]*pooledConn
	rrCursor int
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPool builds a Pool over servers using strategy for acquisition
// ordering, and starts the background health monitor.
func NewPool(servers []ServerConfig, strategy Strategy) *Pool {
	if strategy == "" {
		strategy = StrategyFailover
	}
	p := &Pool{
		servers:  servers,
		strategy: strategy,
		perSrv:   make(map[string][]*pooledConn),
		stopCh:   make(chan struct{}),
	}
	go p.monitor()
	return p
}

// Acquire returns a healthy connection within timeout, opening a new one if
// none is idle. The caller must call Release when done.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Conn, *ConnectionHealth, error) {
	deadline := time.Now().Add(timeout)
	for {
		if conn, health, ok := p.tryAcquireIdle(); ok {
			return conn, health, nil
		}

		srv, ok := p.pickServer()
		if !ok {
			return nil, nil, errors.New("nntp: no servers configured")
		}
		conn, err := Dial(srv)
		if err == nil {
			health := &ConnectionHealth{ServerName: srv.Name, LastUsed: time.Now()}
			return conn, health, nil
		}

		if time.Now().After(deadline) {
			return nil, nil, fmt.Errorf("nntp: acquire timed out: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (p *Pool) tryAcquireIdle() (*Conn, *ConnectionHealth, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order := p.serverOrder()
	for _, name := range order {
		conns := p.perSrv[name]
		if len(conns) == 0 {
			continue
		}
		pc := conns[len(conns)-1]
		p.perSrv[name] = conns[:len(conns)-1]
		return pc.conn, pc.health, true
	}
	return nil, nil, false
}

// Release returns conn to the pool (success: idle for reuse; failure:
// closed and dropped if its health now warrants eviction).
func (p *Pool) Release(conn *Conn, health *ConnectionHealth, success bool, elapsed time.Duration) {
	health.TotalRequests++
	health.LastUsed = time.Now()
	if success {
		health.SuccessfulRequests++
		health.ConsecutiveFailures = 0
		health.TotalResponseTime += elapsed
	} else {
		health.ConsecutiveFailures++
	}

	if health.shouldEvict(time.Now()) {
		conn.Close()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.perSrv[health.ServerName] = append(p.perSrv[health.ServerName], &pooledConn{conn: conn, health: health})
}

// pickServer chooses which server to dial a fresh connection against,
// according to the pool's strategy.
func (p *Pool) pickServer() (ServerConfig, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.servers) == 0 {
		return ServerConfig{}, false
	}

	switch p.strategy {
	case StrategyRoundRobin:
		srv := p.servers[p.rrCursor%len(p.servers)]
		p.rrCursor++
		return srv, true
	case StrategyWeighted, StrategyLeastLatency:
		best := p.servers[0]
		bestScore := p.serverScore(best.Name)
		for _, srv := range p.servers[1:] {
			if score := p.serverScore(srv.Name); score < bestScore {
				best, bestScore = srv, score
			}
		}
		return best, true
	default: // StrategyFailover
		return p.servers[0], true
	}
}

// serverScore averages the priority of a server's currently-idle
// connections, or 0 (best) if none are idle yet.
func (p *Pool) serverScore(name string) float64 {
	conns := p.perSrv[name]
	if len(conns) == 0 {
		return 0
	}
	var total float64
	for _, pc := range conns {
		total += pc.health.priority()
	}
	return total / float64(len(conns))
}

// serverOrder returns server names sorted best-first under the pool's
// strategy, for tryAcquireIdle to search in preference order.
func (p *Pool) serverOrder() []string {
	names := make([]string, 0, len(p.servers))
	for _, s := range p.servers {
		names = append(names, s.Name)
	}
	if p.strategy == StrategyRoundRobin {
		rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
		return names
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if p.serverScore(names[j]) < p.serverScore(names[i]) {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	return names
}

// monitor runs every 30s, pinging idle connections that look stale and
// evicting ones that fail or have gone unused too long.
func (p *Pool) monitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	toPing := make(map[string][]*pooledConn, len(p.perSrv))
	for name, conns := range p.perSrv {
		kept := conns[:0]
		for _, pc := range conns {
			if pc.health.shouldEvict(time.Now()) {
				pc.conn.Close()
				continue
			}
			kept = append(kept, pc)
		}
		p.perSrv[name] = kept
		toPing[name] = kept
	}
	p.mu.Unlock()

	for _, conns := range toPing {
		for _, pc := range conns {
			if time.Since(pc.health.LastUsed) < time.Minute {
				continue
			}
			if err := pc.conn.Ping(); err != nil {
				pc.conn.Close()
				pc.health.ConsecutiveFailures++
			}
		}
	}
}

// Close stops the monitor and closes every idle connection.
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conns := range p.perSrv {
		for _, pc := range conns {
			pc.conn.Close()
		}
	}
	p.perSrv = make(map[string][]*pooledConn)
	return nil
}

// IdleConnections returns the number of idle pooled connections per server
// name, for monitoring dashboards and metrics collectors.
func (p *Pool) IdleConnections() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := make(map[string]int, len(p.perSrv))
	for name, conns := range p.perSrv {
		counts[name] = len(conns)
	}
	return counts
}
