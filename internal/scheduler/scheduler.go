// Package scheduler polls the external risk-monitoring feed on cron
// schedules and opens a response run for each fresh alert.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chainsight/responder/internal/collab"
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// RunStarter is the interface the poller uses to open runs.
// Satisfied by the engine (narrow on purpose).
type RunStarter interface {
	Start(ctx context.Context, event state.DisruptionEvent) (string, schema.Outcome, error)
}

// Watch is one polled (region, category) pair with its cron schedule.
type Watch struct {
	Region   string          `json:"region"`
	Category schema.Category `json:"category"`
	Cron     string          `json:"cron"`
}

// Poller drives the alert watches. Each due watch fetches the feed and
// starts a run per previously unseen alert.
type Poller struct {
	feed    collab.AlertFeed
	starter RunStarter
	parser  cron.Parser
	logger  *slog.Logger

	mu      sync.Mutex
	watches []watchState
	seen    map[string]struct{} // alert IDs already turned into runs
	cancel  context.CancelFunc
	done    chan struct{}
}

type watchState struct {
	Watch
	schedule cron.Schedule
	nextRun  time.Time
}

// NewPoller validates the watch cron expressions up front.
func NewPoller(feed collab.AlertFeed, starter RunStarter, watches []Watch, logger *slog.Logger) (*Poller, error) {
	p := &Poller{
		feed:    feed,
		starter: starter,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:  logger,
		seen:    make(map[string]struct{}),
	}

	now := time.Now().UTC()
	for _, w := range watches {
		if !w.Category.Valid() {
			return nil, fmt.Errorf("watch has unknown category %q", string(w.Category))
		}
		schedule, err := p.parser.Parse(w.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron expression %q: %w", w.Cron, err)
		}
		p.watches = append(p.watches, watchState{
			Watch:    w,
			schedule: schedule,
			nextRun:  schedule.Next(now),
		})
	}
	return p, nil
}

// Start launches the background polling loop with a 60s ticker.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return fmt.Errorf("poller already started")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(pollCtx)
	p.logger.Info("alert poller started", slog.Int("watches", len(p.watches)))
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	p.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs every due watch once and reschedules it.
func (p *Poller) Tick(ctx context.Context) {
	now := time.Now().UTC()

	p.mu.Lock()
	var due []int
	for i := range p.watches {
		if !p.watches[i].nextRun.After(now) {
			due = append(due, i)
			p.watches[i].nextRun = p.watches[i].schedule.Next(now)
		}
	}
	p.mu.Unlock()

	for _, i := range due {
		w := p.watches[i].Watch
		if err := p.poll(ctx, w); err != nil {
			p.logger.Error("alert poll failed",
				slog.String("region", w.Region),
				slog.String("category", string(w.Category)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// poll fetches the feed for one watch and opens runs for fresh alerts.
func (p *Poller) poll(ctx context.Context, w Watch) error {
	alerts, err := p.feed.Fetch(ctx, w.Region, w.Category)
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		if !p.markSeen(alert.AlertID) {
			continue
		}
		event := state.DisruptionEvent{
			ID:       alert.AlertID,
			Category: alert.Category,
			Payload: map[string]any{
				"region":      alert.Region,
				"description": alert.Details,
			},
			ReceivedAt: alert.Timestamp,
		}
		runID, outcome, err := p.starter.Start(ctx, event)
		if err != nil {
			p.logger.Error("failed to start run for alert",
				slog.String("alert_id", alert.AlertID),
				slog.String("error", err.Error()),
			)
			p.unmarkSeen(alert.AlertID)
			continue
		}
		p.logger.Info("run opened from alert",
			slog.String("alert_id", alert.AlertID),
			slog.String("run_id", runID),
			slog.String("outcome", string(outcome)),
		)
	}
	return nil
}

// markSeen returns true the first time an alert ID is observed.
func (p *Poller) markSeen(alertID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[alertID]; ok {
		return false
	}
	p.seen[alertID] = struct{}{}
	return true
}

func (p *Poller) unmarkSeen(alertID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, alertID)
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	p.logger.Info("alert poller stopped")
	return nil
}

// NextRun reports when a watch will next fire, for status surfaces.
func (p *Poller) NextRun(region string, category schema.Category) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.watches {
		if w.Region == region && w.Category == category {
			return w.nextRun, true
		}
	}
	return time.Time{}, false
}
