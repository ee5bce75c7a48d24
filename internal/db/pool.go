package db

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

// MaxBucketRefs is the fan-in bound per bucket: once three connections
// share a session, the next acquire opens a fresh one.
const MaxBucketRefs = 3

// Connect opens one database session. The pool calls it with capped
// exponential backoff until it succeeds or ctx is done.
type Connect func(ctx context.Context) (*gocql.Session, error)

// Bucket is one shared database session plus the number of connections
// currently holding it. Obtained from Pool.Acquire, returned with Release.
type Bucket struct {
	cql  *gocql.Session
	refs atomic.Int32

	pool  *Pool
	timer *time.Timer // reclaim countdown, guarded by pool.mu
}

func (b *Bucket) Session() *gocql.Session { return b.cql }

func (b *Bucket) Refs() int32 { return b.refs.Load() }

// Options tune a Pool.
type Options struct {
	Log zerolog.Logger

	// Reclaim is the quiescence window after a bucket's last release
	// before its session is closed. Zero disables reclamation.
	Reclaim time.Duration

	// MaxBuckets caps the pool size; zero means unbounded. When every
	// bucket is full and the cap is reached, Acquire oversubscribes the
	// least loaded bucket instead of opening a session.
	MaxBuckets int
}

// Pool multiplexes a bounded number of database sessions across many client
// connections by reference counting.
type Pool struct {
	log     zerolog.Logger
	connect Connect
	reclaim time.Duration
	max     int

	mu      sync.Mutex
	buckets []*Bucket
	closed  bool

	locks chatLocks

	retryBase time.Duration
}

// NewPool creates the pool and eagerly opens the first bucket, blocking
// until the database accepts a session or ctx is done.
func NewPool(ctx context.Context, connect Connect, opts Options) (*Pool, error) {
	p := &Pool{
		log:       opts.Log,
		connect:   connect,
		reclaim:   opts.Reclaim,
		max:       opts.MaxBuckets,
		retryBase: time.Second,
	}
	b, err := p.create(ctx)
	if err != nil {
		return nil, err
	}
	p.buckets = append(p.buckets, b)
	return p, nil
}

// Acquire hands out the first bucket with spare capacity, incrementing its
// count. With every bucket full it opens a new session.
func (p *Pool) Acquire(ctx context.Context) (*Bucket, error) {
	p.mu.Lock()
	for _, b := range p.buckets {
		if b.refs.Load() < MaxBucketRefs {
			b.refs.Add(1)
			p.stopReclaimLocked(b)
			p.mu.Unlock()
			return b, nil
		}
	}
	sort.Slice(p.buckets, func(i, j int) bool {
		return p.buckets[i].refs.Load() < p.buckets[j].refs.Load()
	})
	if p.max > 0 && len(p.buckets) >= p.max {
		b := p.buckets[0]
		b.refs.Add(1)
		p.stopReclaimLocked(b)
		p.mu.Unlock()
		p.log.Warn().Int32("refs", b.refs.Load()).Msg("bucket cap reached, oversubscribing")
		return b, nil
	}
	p.mu.Unlock()

	b, err := p.create(ctx)
	if err != nil {
		return nil, err
	}
	b.refs.Store(1)

	p.mu.Lock()
	p.buckets = append(p.buckets, b)
	n := len(p.buckets)
	p.mu.Unlock()
	p.log.Info().Int("buckets", n).Msg("opened database bucket")
	return b, nil
}

// Release drops one reference. A bucket idling at zero for the reclaim
// window is closed and removed; an Acquire during the window cancels that.
func (p *Pool) Release(b *Bucket) {
	if b == nil {
		return
	}
	if b.refs.Add(-1) > 0 || p.reclaim <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || b.refs.Load() != 0 || b.timer != nil {
		return
	}
	b.timer = time.AfterFunc(p.reclaim, func() { p.reclaimBucket(b) })
}

func (p *Pool) reclaimBucket(b *Bucket) {
	p.mu.Lock()
	b.timer = nil
	if p.closed || b.refs.Load() != 0 {
		p.mu.Unlock()
		return
	}
	for i, x := range p.buckets {
		if x == b {
			p.buckets = append(p.buckets[:i], p.buckets[i+1:]...)
			break
		}
	}
	n := len(p.buckets)
	p.mu.Unlock()

	if b.cql != nil {
		b.cql.Close()
	}
	p.log.Info().Int("buckets", n).Msg("reclaimed idle database bucket")
}

func (p *Pool) stopReclaimLocked(b *Bucket) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Len reports the number of open buckets.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}

// Close shuts every session down. Outstanding buckets become unusable;
// callers are expected to have drained first.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	buckets := p.buckets
	p.buckets = nil
	for _, b := range buckets {
		p.stopReclaimLocked(b)
	}
	p.mu.Unlock()

	for _, b := range buckets {
		if b.cql != nil {
			b.cql.Close()
		}
	}
}

func (p *Pool) create(ctx context.Context) (*Bucket, error) {
	backoff := p.retryBase
	for {
		s, err := p.connect(ctx)
		if err == nil {
			return &Bucket{cql: s, pool: p}, nil
		}
		p.log.Warn().Err(err).Dur("retry_in", backoff).Msg("database connect failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 16*time.Second {
			backoff *= 2
		}
	}
}
