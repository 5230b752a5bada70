// Package depqueue implements the dependency queue described in spec
// §4.6: a job that needs certain config-side and oper-side device-state
// keys to become AVAILABLE before it can run is parked until the
// device-info registry reports each key ready, then replayed on a bounded
// worker pool.
//
// No teacher file plays this role directly; the worker-pool half is
// grounded on golang.org/x/sync/errgroup the way the retrieval pack's
// other repos use it for bounded fan-out (see other_examples manifests),
// and the "register a hook, replay on notify" half follows the
// observer-registration shape the teacher uses for its own notification
// dispatch in client.go.
package depqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/networkop/ovsdb-vtep/internal/deviceinfo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Key identifies a single (class, key) device-state entry a job may be
// waiting on.
type Key struct {
	Class string
	Key   string
}

// runnable is the non-generic handle the Queue operates on; Job's type
// parameter lives only at construction time.
type runnable interface {
	id() string
	depsConfig() []Key
	depsOper() []Key
	run(ctx context.Context, reg *deviceinfo.Registry) error
}

// Job is a unit of deferred work parameterized over its own payload type,
// per spec §4.6's DependentJob[T].
type Job[T any] struct {
	ID         string
	ConfigDeps []Key
	OperDeps   []Key
	Payload    T
	Action     func(ctx context.Context, reg *deviceinfo.Registry, payload T) error
}

func (j *Job[T]) id() string          { return j.ID }
func (j *Job[T]) depsConfig() []Key   { return j.ConfigDeps }
func (j *Job[T]) depsOper() []Key     { return j.OperDeps }
func (j *Job[T]) run(ctx context.Context, reg *deviceinfo.Registry) error {
	return j.Action(ctx, reg, j.Payload)
}

// entry is the queue's bookkeeping for one parked job: the set of
// dependencies still outstanding.
type entry struct {
	job             runnable
	remainingConfig map[Key]struct{}
	remainingOper   map[Key]struct{}
}

// Queue parks jobs against a device-info Registry and replays them, on a
// bounded worker pool, once every dependency they named is AVAILABLE or
// has crossed its IN_TRANSIT expiry window.
type Queue struct {
	mu sync.Mutex

	registry *deviceinfo.Registry
	jobs     map[string]*entry

	waitConfig map[Key]map[string]struct{} // dep -> job ids waiting on it
	waitOper   map[Key]map[string]struct{}

	g      *errgroup.Group
	logger *logrus.Entry

	nextDispatchID uint64
}

// New creates a Queue backed by registry, running replayed jobs on a pool
// bounded to concurrency workers (spec §4.6: "a small worker pool, not one
// goroutine per job").
func New(registry *deviceinfo.Registry, concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = 4
	}
	g := &errgroup.Group{}
	g.SetLimit(concurrency)

	q := &Queue{
		registry:   registry,
		jobs:       make(map[string]*entry),
		waitConfig: make(map[Key]map[string]struct{}),
		waitOper:   make(map[Key]map[string]struct{}),
		g:          g,
		logger:     logrus.WithField("component", "depqueue"),
	}
	registry.OnConfigDataAvailable(q.onConfigAvailable)
	registry.OnOperDataAvailable(q.onOperAvailable)
	return q
}

// Submit enqueues job. Dependencies already satisfied at submit time are
// resolved immediately; if every dependency is already met, job runs right
// away instead of being parked.
func Submit[T any](ctx context.Context, q *Queue, job *Job[T]) {
	q.submit(ctx, job)
}

// Dispatch runs fn on the same bounded worker pool that replays
// dependency-driven jobs, and blocks until it completes or ctx is done.
// The pool runs up to its concurrency limit of jobs at once, so dispatched
// functions are not serialized with one another or with replayed jobs; they
// only share the same worker bound. fn has no dependencies of its own, so
// it always runs immediately rather than being parked.
func (q *Queue) Dispatch(ctx context.Context, fn func(ctx context.Context) error) error {
	id := atomic.AddUint64(&q.nextDispatchID, 1)
	done := make(chan error, 1)
	job := &Job[struct{}]{
		ID: fmt.Sprintf("dispatch-%d", id),
		Action: func(ctx context.Context, _ *deviceinfo.Registry, _ struct{}) error {
			err := fn(ctx)
			done <- err
			return err
		},
	}
	q.submit(ctx, job)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) submit(ctx context.Context, job runnable) {
	q.mu.Lock()
	remConfig := make(map[Key]struct{})
	for _, k := range job.depsConfig() {
		if _, ok := q.registry.IsAvailableOrExpired(deviceinfo.SideConfig, k.Class, k.Key); !ok {
			remConfig[k] = struct{}{}
		}
	}
	remOper := make(map[Key]struct{})
	for _, k := range job.depsOper() {
		if _, ok := q.registry.IsAvailableOrExpired(deviceinfo.SideOper, k.Class, k.Key); !ok {
			remOper[k] = struct{}{}
		}
	}

	if len(remConfig) == 0 && len(remOper) == 0 {
		q.mu.Unlock()
		q.launch(ctx, job)
		return
	}

	e := &entry{job: job, remainingConfig: remConfig, remainingOper: remOper}
	q.jobs[job.id()] = e
	for k := range remConfig {
		q.addToWaitSet(q.waitConfig, k, job.id())
	}
	for k := range remOper {
		q.addToWaitSet(q.waitOper, k, job.id())
	}
	q.mu.Unlock()
}

func (q *Queue) addToWaitSet(set map[Key]map[string]struct{}, k Key, id string) {
	ids, ok := set[k]
	if !ok {
		ids = make(map[string]struct{})
		set[k] = ids
	}
	ids[id] = struct{}{}
}

func (q *Queue) onConfigAvailable(class, key string) {
	q.processReady(q.waitConfig, Key{Class: class, Key: key}, func(e *entry, k Key) { delete(e.remainingConfig, k) })
}

func (q *Queue) onOperAvailable(class, key string) {
	q.processReady(q.waitOper, Key{Class: class, Key: key}, func(e *entry, k Key) { delete(e.remainingOper, k) })
}

// processReady clears k from every job waiting on it and launches any job
// that becomes fully satisfied as a result.
func (q *Queue) processReady(set map[Key]map[string]struct{}, k Key, clear func(*entry, Key)) {
	q.mu.Lock()
	ids := set[k]
	delete(set, k)

	var ready []runnable
	for id := range ids {
		e, ok := q.jobs[id]
		if !ok {
			continue
		}
		clear(e, k)
		if len(e.remainingConfig) == 0 && len(e.remainingOper) == 0 {
			ready = append(ready, e.job)
			delete(q.jobs, id)
		}
	}
	q.mu.Unlock()

	for _, j := range ready {
		q.launch(context.Background(), j)
	}
}

func (q *Queue) launch(ctx context.Context, job runnable) {
	q.g.Go(func() error {
		if err := job.run(ctx, q.registry); err != nil {
			q.logger.WithError(err).WithField("job", job.id()).Warn("dependent job failed")
		}
		return nil
	})
}

// Pending reports how many jobs are currently parked, for diagnostics.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// StartExpirySweeper runs a periodic re-check of every parked job's
// remaining dependencies against the registry's IN_TRANSIT expiry window
// (spec §4.6: a job "remains queued" while a dependency is IN_TRANSIT
// "unless its transit timestamp has expired"). A dependency's own
// status/timestamp never changes on its own, so without this sweep a job
// parked behind an IN_TRANSIT key that is never reconfirmed would wait
// forever once its expiry window quietly elapses. The sweep cadence is
// paced by a rate.Limiter allowing one sweep per interval; the first sweep
// runs immediately. It runs until ctx is done.
func (q *Queue) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	go func() {
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			q.sweepExpired(ctx)
		}
	}()
}

func (q *Queue) sweepExpired(ctx context.Context) {
	q.mu.Lock()
	var ready []runnable
	for id, e := range q.jobs {
		for k := range e.remainingConfig {
			if _, ok := q.registry.IsAvailableOrExpired(deviceinfo.SideConfig, k.Class, k.Key); ok {
				delete(e.remainingConfig, k)
				q.removeFromWaitSet(q.waitConfig, k, id)
			}
		}
		for k := range e.remainingOper {
			if _, ok := q.registry.IsAvailableOrExpired(deviceinfo.SideOper, k.Class, k.Key); ok {
				delete(e.remainingOper, k)
				q.removeFromWaitSet(q.waitOper, k, id)
			}
		}
		if len(e.remainingConfig) == 0 && len(e.remainingOper) == 0 {
			ready = append(ready, e.job)
			delete(q.jobs, id)
		}
	}
	q.mu.Unlock()

	for _, j := range ready {
		q.logger.WithField("job", j.id()).Debug("dependent job replayed after transit-expiry sweep")
		q.launch(ctx, j)
	}
}

func (q *Queue) removeFromWaitSet(set map[Key]map[string]struct{}, k Key, id string) {
	ids, ok := set[k]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(set, k)
	}
}
