package fetch

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// mediaHost is the download state of one media host
type mediaHost struct {
	permits   *semaphore.Weighted
	inFlight  int       // Permits held
	waiting   int       // Callers blocked on permits
	completed int64     // Permits released since the entry was created
	idleSince time.Time // Set when inFlight and waiting drop to zero
}

func (h *mediaHost) busy() bool { return h.inFlight > 0 || h.waiting > 0 }

// HostLoad is a point-in-time view of one media host
type HostLoad struct {
	Host      string `json:"host"`
	InFlight  int    `json:"in_flight"`
	Waiting   int    `json:"waiting"`
	Completed int64  `json:"completed"`
}

// HostSemaphorePool bounds concurrent downloads per media host.
// One pool is shared by every slice worker so the limit holds process-wide.
type HostSemaphorePool struct {
	mu      sync.Mutex
	hosts   map[string]*mediaHost
	perHost int64
	log     *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost downloads per host.
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	if maxPerHost <= 0 {
		maxPerHost = 8
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", maxPerHost)
	}
	return &HostSemaphorePool{hosts: make(map[string]*mediaHost), perHost: int64(maxPerHost), log: log}
}

// host returns the entry for name, creating it. Caller holds p.mu.
func (p *HostSemaphorePool) host(name string) *mediaHost {
	h, ok := p.hosts[name]
	if !ok {
		h = &mediaHost{permits: semaphore.NewWeighted(p.perHost)}
		p.hosts[name] = h
		p.log.WithFields(logrus.Fields{"host": name, "limit": p.perHost}).Debug("Tracking media host")
	}
	return h
}

// Acquire takes one download permit for host, blocking until one is free or ctx is done.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) error {
	p.mu.Lock()
	h := p.host(host)
	h.waiting++
	p.mu.Unlock()

	err := h.permits.Acquire(ctx, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	h.waiting--
	if err != nil {
		if !h.busy() {
			h.idleSince = time.Now()
		}
		return err
	}
	h.inFlight++
	return nil
}

// Release returns one permit for host.
func (p *HostSemaphorePool) Release(host string) {
	p.mu.Lock()
	h, ok := p.hosts[host]
	if !ok || h.inFlight == 0 {
		p.mu.Unlock()
		p.log.Errorf("Release without a held permit for host %s", host)
		return
	}
	h.inFlight--
	h.completed++
	if !h.busy() {
		h.idleSince = time.Now()
	}
	p.mu.Unlock()

	h.permits.Release(1)
}

// Load reports every tracked host, busiest first.
func (p *HostSemaphorePool) Load() []HostLoad {
	p.mu.Lock()
	out := make([]HostLoad, 0, len(p.hosts))
	for name, h := range p.hosts {
		out = append(out, HostLoad{Host: name, InFlight: h.inFlight, Waiting: h.waiting, Completed: h.completed})
	}
	p.mu.Unlock()

	slices.SortFunc(out, func(a, b HostLoad) int {
		if c := cmp.Compare(b.InFlight+b.Waiting, a.InFlight+a.Waiting); c != 0 {
			return c
		}
		return cmp.Compare(a.Host, b.Host)
	})
	return out
}

// RunEviction forgets hosts idle for at least interval, checking every interval until ctx is done.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			return
		}
	}
}

func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	before := len(p.hosts)
	for name, h := range p.hosts {
		if !h.busy() && !h.idleSince.IsZero() && !h.idleSince.After(cutoff) {
			delete(p.hosts, name)
		}
	}
	if n := before - len(p.hosts); n > 0 {
		p.log.Debugf("Forgot %d idle media hosts, %d tracked", n, len(p.hosts))
	}
}

// Len returns the number of tracked hosts.
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}

// Limits combines the process-wide download bound with the per-host pool.
type Limits struct {
	global *semaphore.Weighted
	hosts  *HostSemaphorePool
}

// NewLimits creates Limits allowing maxRequests concurrent downloads overall.
func NewLimits(maxRequests int, hosts *HostSemaphorePool) *Limits {
	if maxRequests <= 0 {
		maxRequests = 64
	}
	return &Limits{global: semaphore.NewWeighted(int64(maxRequests)), hosts: hosts}
}

// Acquire takes the host permit, then the global one. The returned func releases both.
func (l *Limits) Acquire(ctx context.Context, host string) (func(), error) {
	if err := l.hosts.Acquire(ctx, host); err != nil {
		return nil, err
	}
	if err := l.global.Acquire(ctx, 1); err != nil {
		l.hosts.Release(host)
		return nil, err
	}
	return func() {
		l.global.Release(1)
		l.hosts.Release(host)
	}, nil
}
