// Package job drives transcription jobs from submission to a terminal state
// and hands completed results to the edit layer.
package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/metrics"
	"github.com/scribeworks/transcript-engine/internal/runner"
)

// State is the client-side view of a job's lifecycle.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

var (
	// ErrJobFailed means the runner reported FAILED. No automatic retry.
	ErrJobFailed = errors.New("transcription job failed")

	// ErrPollDeadline means polling exceeded the configured maximum
	// duration. The remote job is left untouched.
	ErrPollDeadline = errors.New("poll deadline exceeded")
)

// StatusSource is the slice of the runner client the poller needs.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (*runner.StatusResponse, error)
}

// Poller owns one job's submit-to-terminal lifecycle. It polls the runner on
// a fixed interval; transient poll failures are logged and polling
// continues. Stopping a poller is silent cancellation, no FAILED state is
// synthesized.
type Poller struct {
	source   StatusSource
	recordID string
	jobID    string
	interval time.Duration
	maxPoll  time.Duration
	log      zerolog.Logger

	// onTransition fires on every observed state change; onTerminal fires
	// exactly once when a terminal status is consumed.
	onTransition func(p *Poller, state State)
	onTerminal   func(p *Poller, res *runner.StatusResponse)

	mu      sync.Mutex
	state   State
	lastErr error

	// snapshotSaved guards the one-time initial document write against
	// duplicate terminal observations.
	snapshotSaved atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Source       StatusSource
	RecordID     string
	JobID        string
	Interval     time.Duration
	MaxPoll      time.Duration // 0 = unbounded
	OnTransition func(p *Poller, state State)
	OnTerminal   func(p *Poller, res *runner.StatusResponse)
	Log          zerolog.Logger
}

// NewPoller creates a poller in the QUEUED state (a job handle exists, so
// submission already happened) and starts its polling loop.
func NewPoller(opts PollerOptions) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		source:       opts.Source,
		recordID:     opts.RecordID,
		jobID:        opts.JobID,
		interval:     opts.Interval,
		maxPoll:      opts.MaxPoll,
		onTransition: opts.OnTransition,
		onTerminal:   opts.OnTerminal,
		log: opts.Log.With().
			Str("component", "poller").
			Str("record_id", opts.RecordID).
			Str("job_id", opts.JobID).
			Logger(),
		state:  StateQueued,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if p.onTransition == nil {
		p.onTransition = func(*Poller, State) {}
	}
	if p.onTerminal == nil {
		p.onTerminal = func(*Poller, *runner.StatusResponse) {}
	}
	go p.run(ctx)
	return p
}

// JobID returns the runner's opaque handle.
func (p *Poller) JobID() string { return p.jobID }

// RecordID returns the metadata record this job belongs to.
func (p *Poller) RecordID() string { return p.recordID }

// State returns the last observed state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the terminal error, if any: ErrJobFailed after a FAILED
// status, ErrPollDeadline after a poll timeout, nil otherwise.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// fail marks the job failed after its polling loop already finished, for
// post-completion errors like an initial snapshot that could not be written.
func (p *Poller) fail(err error) {
	p.mu.Lock()
	p.state = StateFailed
	p.lastErr = err
	p.mu.Unlock()
}

// Stop cancels polling. No further transitions occur; the remote job keeps
// running unobserved.
func (p *Poller) Stop() {
	p.cancel()
	<-p.done
}

// Done is closed when the polling loop exits.
func (p *Poller) Done() <-chan struct{} { return p.done }

// claimInitialSnapshot returns true exactly once per job, guarding the
// one-time initial document write.
func (p *Poller) claimInitialSnapshot() bool {
	return p.snapshotSaved.CompareAndSwap(false, true)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.maxPoll > 0 {
		timer := time.NewTimer(p.maxPoll)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline:
			p.mu.Lock()
			p.lastErr = ErrPollDeadline
			p.mu.Unlock()
			p.log.Warn().Dur("max_poll", p.maxPoll).Msg("poll deadline exceeded, giving up")
			return

		case <-ticker.C:
			metrics.StatusPollsTotal.Inc()
			res, err := p.source.Status(ctx, p.jobID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Transient: keep polling on the next tick.
				p.log.Warn().Err(err).Msg("status poll failed")
				continue
			}

			state := stateFor(res.Status)
			if p.setState(state) {
				p.onTransition(p, state)
			}

			switch res.Status {
			case runner.StatusCompleted:
				p.onTerminal(p, res)
				return
			case runner.StatusFailed:
				p.mu.Lock()
				p.lastErr = ErrJobFailed
				p.mu.Unlock()
				p.onTerminal(p, res)
				return
			}
		}
	}
}

// setState records a state change and reports whether it was new.
func (p *Poller) setState(s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == s {
		return false
	}
	p.state = s
	return true
}

func stateFor(s runner.Status) State {
	switch s {
	case runner.StatusQueued:
		return StateQueued
	case runner.StatusRunning:
		return StateRunning
	case runner.StatusCompleted:
		return StateCompleted
	case runner.StatusFailed:
		return StateFailed
	default:
		return StateRunning
	}
}
