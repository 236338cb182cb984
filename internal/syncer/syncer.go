// Package syncer keeps the state store current by refreshing every resource
// on a fixed interval and on demand.
package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-ui/internal/state"
)

const (
	defaultInterval          = 30 * time.Second
	defaultDetailConcurrency = 4
)

// Store describes the state-store operations used by the refresh loop.
// *state.Store satisfies it.
type Store interface {
	Connect(ctx context.Context) state.Outcome
	Refresh(ctx context.Context, resource string) (state.Outcome, error)
	RefreshMachineDetail(ctx context.Context, id string) state.Outcome
	MachineDetailIDs() []string
}

// Config contains refresh-loop settings.
type Config struct {
	Interval          time.Duration
	RefreshOnStartup  bool
	DetailConcurrency int
}

// Counts tallies refresh outcomes within one cycle.
type Counts struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Status captures current and last-run cycle state.
type Status struct {
	Ready          bool       `json:"ready"`
	InProgress     bool       `json:"in_progress"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	LastCompleteAt *time.Time `json:"last_complete_at,omitempty"`
	LastCounts     Counts     `json:"last_counts"`
	SuccessfulRuns int64      `json:"successful_runs"`
	FailedRuns     int64      `json:"failed_runs"`
}

// Syncer runs periodic and on-demand refresh cycles. A failed fetch is never
// retried within a cycle; the next cycle fetches again.
type Syncer struct {
	store Store
	log   zerolog.Logger

	interval          time.Duration
	refreshOnStartup  bool
	detailConcurrency int
	forceCh           chan chan Counts

	runMu   sync.Mutex
	stateMu sync.RWMutex
	status  Status

	ready atomic.Bool
}

// New creates a new refresh loop.
func New(st Store, cfg Config, logger zerolog.Logger) *Syncer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	concurrency := cfg.DetailConcurrency
	if concurrency <= 0 {
		concurrency = defaultDetailConcurrency
	}

	return &Syncer{
		store:             st,
		log:               logger,
		interval:          interval,
		refreshOnStartup:  cfg.RefreshOnStartup,
		detailConcurrency: concurrency,
		forceCh:           make(chan chan Counts),
	}
}

// Run starts the refresh loop and blocks until ctx is canceled.
func (s *Syncer) Run(ctx context.Context) {
	if s.refreshOnStartup {
		s.logCycle("initial refresh", s.RefreshOnce(ctx))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logCycle("periodic refresh", s.RefreshOnce(ctx))
		case resultCh := <-s.forceCh:
			resultCh <- s.RefreshOnce(ctx)
			ticker.Reset(s.interval)
		}
	}
}

// Trigger requests an immediate cycle and waits for its counts.
func (s *Syncer) Trigger(ctx context.Context) (Counts, error) {
	resultCh := make(chan Counts, 1)

	select {
	case s.forceCh <- resultCh:
	case <-ctx.Done():
		return Counts{}, ctx.Err()
	}

	select {
	case counts := <-resultCh:
		return counts, nil
	case <-ctx.Done():
		return Counts{}, ctx.Err()
	}
}

// IsReady reports whether at least one cycle has connected successfully.
func (s *Syncer) IsReady() bool {
	return s.ready.Load()
}

// Status returns the latest cycle status snapshot.
func (s *Syncer) Status() Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	statusCopy := s.status
	statusCopy.Ready = s.ready.Load()
	statusCopy.LastAttemptAt = cloneTimePtr(s.status.LastAttemptAt)
	statusCopy.LastCompleteAt = cloneTimePtr(s.status.LastCompleteAt)
	return statusCopy
}

// RefreshOnce runs one cycle: connect, then every wholesale resource in
// parallel, then every machine detail already in the cache.
func (s *Syncer) RefreshOnce(ctx context.Context) Counts {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	startedAt := time.Now().UTC()
	s.updateStatus(func(st *Status) {
		st.InProgress = true
		st.LastAttemptAt = &startedAt
	})
	defer s.updateStatus(func(st *Status) {
		st.InProgress = false
	})

	var tally counter
	connected := s.store.Connect(ctx)
	tally.add(connected)
	if connected == state.OutcomeUpdated {
		s.ready.Store(true)
	}

	var wg sync.WaitGroup
	for _, resource := range state.Resources() {
		if resource == state.ResourceVersion {
			continue
		}
		wg.Add(1)
		go func(resource string) {
			defer wg.Done()
			outcome, err := s.store.Refresh(ctx, resource)
			if err != nil {
				s.log.Error().Err(err).Str("resource", resource).Msg("refresh rejected")
				return
			}
			tally.add(outcome)
		}(resource)
	}
	wg.Wait()

	sem := make(chan struct{}, s.detailConcurrency)
	for _, id := range s.store.MachineDetailIDs() {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			tally.add(s.store.RefreshMachineDetail(ctx, id))
		}(id)
	}
	wg.Wait()

	counts := tally.counts()
	completedAt := time.Now().UTC()
	s.updateStatus(func(st *Status) {
		st.LastCompleteAt = &completedAt
		st.LastCounts = counts
		if counts.Failed > 0 {
			st.FailedRuns++
		} else {
			st.SuccessfulRuns++
		}
	})
	return counts
}

func (s *Syncer) logCycle(msg string, counts Counts) {
	event := s.log.Debug()
	if counts.Failed > 0 {
		event = s.log.Warn()
	}
	event.Int("updated", counts.Updated).Int("failed", counts.Failed).Msg(msg)
}

func (s *Syncer) updateStatus(fn func(*Status)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	fn(&s.status)
}

type counter struct {
	updated atomic.Int64
	failed  atomic.Int64
}

func (c *counter) add(outcome state.Outcome) {
	if outcome == state.OutcomeUpdated {
		c.updated.Add(1)
		return
	}
	c.failed.Add(1)
}

func (c *counter) counts() Counts {
	return Counts{Updated: int(c.updated.Load()), Failed: int(c.failed.Load())}
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copyValue := *value
	return &copyValue
}
