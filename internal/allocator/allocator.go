// Package allocator assigns each process one application instance ID,
// coordinating with concurrently running instances solely through a shared
// record namespace. The only cross-process primitive is the store's
// conditional create: record existence is the claim, record absence is a
// free slot, and the smallest free slot always wins.
package allocator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idclaim/idclaim/internal/lifecycle"
	"github.com/idclaim/idclaim/internal/store"
	"github.com/idclaim/idclaim/pkg/instanceid"
)

// Config configures an Allocator.
type Config struct {
	// InstanceName is written into the claim record for diagnostics.
	InstanceName string

	// Notifier, when set, triggers a best-effort Release on shutdown.
	// The subscription is registered at construction and removed after
	// Release or Close.
	Notifier lifecycle.Notifier

	// OnReleaseError receives errors from the best-effort release.
	// When nil, release errors are discarded: at shutdown there is no
	// safe continuation, and a missed release only leaks a slot.
	OnReleaseError func(error)

	// Metrics, when set, records protocol metrics.
	Metrics *Metrics
}

// Allocator owns at most one instance ID for the life of the process.
// Acquire runs the claim protocol once and caches the result; Release
// retires the claim during shutdown. Safe for concurrent use.
type Allocator struct {
	repo store.Repo
	cfg  Config

	unsubscribe func()

	mu       sync.Mutex
	id       instanceid.ID
	released bool
}

// New creates an allocator over the given record namespace. If a notifier
// is configured, the allocator subscribes for shutdown immediately.
func New(repo store.Repo, cfg Config) *Allocator {
	a := &Allocator{repo: repo, cfg: cfg}
	if cfg.Notifier != nil {
		a.unsubscribe = cfg.Notifier.Subscribe(func() {
			a.Release(context.Background())
		})
	}
	return a
}

// ID returns the held instance ID, or instanceid.None before a successful
// Acquire.
func (a *Allocator) ID() instanceid.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

// Acquire returns this process's instance ID, claiming one on first call.
// Concurrent callers block until the first attempt finishes and then all
// observe the same cached value; the store is contacted at most once per
// process lifetime.
func (a *Allocator) Acquire(ctx context.Context) (instanceid.ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.id != instanceid.None {
		return a.id, nil
	}

	start := time.Now()
	id, err := a.acquireLocked(ctx)
	if err != nil {
		return instanceid.None, err
	}

	a.id = id
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.AcquireDuration.Observe(time.Since(start).Seconds())
		a.cfg.Metrics.HeldID.Set(float64(id))
	}
	log.Info().
		Str("instance", a.cfg.InstanceName).
		Str("id", id.String()).
		Msg("instance ID acquired")
	return id, nil
}

// acquireLocked runs the claim loop. Caller holds a.mu.
func (a *Allocator) acquireLocked(ctx context.Context) (instanceid.ID, error) {
	if err := a.repo.EnsureNamespace(ctx); err != nil {
		return instanceid.None, fmt.Errorf("ensure namespace: %w", err)
	}

	// Built once; reused across retries.
	content := recordContent(a.cfg.InstanceName, time.Now())

	for {
		if err := ctx.Err(); err != nil {
			return instanceid.None, err
		}

		names, err := a.repo.ListRecordNames(ctx)
		if err != nil {
			return instanceid.None, fmt.Errorf("list records: %w", err)
		}

		candidate, err := nextFreeID(names)
		if err != nil {
			return instanceid.None, err
		}

		if a.cfg.Metrics != nil {
			a.cfg.Metrics.AttemptsTotal.Inc()
		}
		created, err := a.repo.CreateRecord(ctx, candidate.String(), content, false)
		if err != nil {
			return instanceid.None, fmt.Errorf("claim record %s: %w", candidate, err)
		}
		if !created {
			// Another instance won the race for this slot. Expected;
			// re-list and try the next free one.
			if a.cfg.Metrics != nil {
				a.cfg.Metrics.RacesTotal.Inc()
			}
			log.Debug().
				Str("id", candidate.String()).
				Msg("lost claim race, retrying")
			continue
		}
		return candidate, nil
	}
}

// nextFreeID finds the smallest unclaimed ID among the given record names.
// Store listing order is never trusted: names are parsed and sorted
// numerically before the gap scan, since lexicographic listings place "10"
// before "2" and would break the scan.
func nextFreeID(names []string) (instanceid.ID, error) {
	ids := make([]int, 0, len(names))
	for _, name := range names {
		id, err := instanceid.Parse(name)
		if err != nil {
			return instanceid.None, &ForeignRecordError{Name: name}
		}
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	last := 0
	for _, id := range ids {
		if id == last {
			continue
		}
		if id > last+1 {
			return instanceid.ID(last + 1), nil
		}
		last = id
	}
	if last >= int(instanceid.Max) {
		return instanceid.None, ErrSpaceExhausted
	}
	return instanceid.ID(last + 1), nil
}

// Release retires the held claim, including any derived artifacts of the
// record. Best-effort: failures go to the configured handler, never to the
// caller, and shutdown proceeds regardless. Calling Release without a
// successful Acquire, or a second time, is a no-op.
func (a *Allocator) Release(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.id == instanceid.None || a.released {
		return
	}
	a.released = true

	if a.cfg.Metrics != nil {
		a.cfg.Metrics.ReleasesTotal.Inc()
	}
	if err := a.repo.DeleteRecord(ctx, a.id.String(), true); err != nil {
		if a.cfg.Metrics != nil {
			a.cfg.Metrics.ReleaseFailuresTotal.Inc()
		}
		if a.cfg.OnReleaseError != nil {
			a.cfg.OnReleaseError(err)
		}
	} else {
		log.Info().
			Str("instance", a.cfg.InstanceName).
			Str("id", a.id.String()).
			Msg("instance ID released")
	}
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.HeldID.Set(0)
	}
	a.unsubscribeLocked()
}

// Close removes the shutdown subscription without releasing the claim.
// For allocators discarded before shutdown.
func (a *Allocator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unsubscribeLocked()
}

func (a *Allocator) unsubscribeLocked() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}
