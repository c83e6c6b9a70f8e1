package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/microtask/dispatch/internal/config"
	"github.com/microtask/dispatch/internal/eventbus"
	"github.com/microtask/dispatch/internal/metrics"
	"github.com/microtask/dispatch/internal/task"
	taskrepo "github.com/microtask/dispatch/internal/task/repositoryimpl"
	"github.com/microtask/dispatch/internal/work"
	workrepo "github.com/microtask/dispatch/internal/work/repositoryimpl"
	"github.com/microtask/dispatch/pkg/storage"
)

// fakeClock lets tests advance time past lease expiries deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	tasks     task.Repository
	works     work.Repository
	gen       *Generator
	scheduler *Scheduler
	processor *Processor
	service   *Service
	bus       *eventbus.Bus
	env       *config.DispatchEnv
	clock     *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	env := &config.DispatchEnv{
		LeaseDuration:             2 * time.Hour,
		SweepInterval:             time.Minute,
		ClaimAttempts:             3,
		DefaultModificationRounds: 3,
	}
	bus := eventbus.New()
	collector := metrics.NewCollector(prometheus.NewRegistry())
	tasks := taskrepo.NewYAMLRepository(store)
	works := workrepo.NewYAMLRepository(store)
	gen := NewGenerator(env)

	clock := &fakeClock{t: time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)}
	scheduler := NewScheduler(works, bus, collector, env)
	scheduler.now = clock.Now
	processor := NewProcessor(tasks, works, gen, bus, collector)
	processor.now = clock.Now
	service := NewService(tasks, works, gen, bus, collector, env)
	service.now = clock.Now

	return &fixture{
		tasks:     tasks,
		works:     works,
		gen:       gen,
		scheduler: scheduler,
		processor: processor,
		service:   service,
		bus:       bus,
		env:       env,
		clock:     clock,
	}
}
