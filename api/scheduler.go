/*
scheduler.go - Periodic schedule consistency checker

PURPOSE:
  The installment engine treats two conditions as warnings, not errors:
  the rows of a schedule not adding up to the policy premium, and the row
  count differing from quantidade_parcelas. Nobody sees those warnings
  unless they open the policy. The checker walks every policy on an
  interval, derives its schedule and keeps a report of every mismatch for
  the back office.

DESIGN:
  - Background goroutine with a configurable check interval
  - Read only: it derives schedules, it never saves them
  - Keeps only the latest report; a save refreshes the saved policy's
    entries through CheckPolicy

USAGE:
  checker := NewConsistencyChecker(store, logger)
  checker.Start()
  // ... later
  checker.Stop()

SEE ALSO:
  - parcela/summary.go: Mismatch tolerance
  - handlers.go: GetConsistency / RunConsistency endpoints
*/
package api

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/parcela-engine/parcela"
)

// IssueKind names a soft-invariant violation.
type IssueKind string

const (
	IssueSumMismatch   IssueKind = "sum_mismatch"
	IssueCountMismatch IssueKind = "count_mismatch"
)

// ConsistencyIssue is one violation on one policy.
type ConsistencyIssue struct {
	PolicyID parcela.PolicyID
	Kind     IssueKind
	Expected string
	Actual   string
	Source   parcela.Source
}

// ConsistencyReport is the outcome of one pass over every policy.
type ConsistencyReport struct {
	RunAt    time.Time
	Duration time.Duration
	Checked  int
	Issues   []ConsistencyIssue
	Err      error
}

// PolicyLister is the store surface the checker reads.
type PolicyLister interface {
	ListPolicies(ctx context.Context) ([]parcela.Policy, error)
}

// ConsistencyChecker periodically derives every schedule and reports
// mismatches.
type ConsistencyChecker struct {
	Policies      PolicyLister
	Deriver       *parcela.Deriver
	CheckInterval time.Duration
	Enabled       bool
	Logger        *zap.Logger

	latest ConsistencyReport
	mu     sync.RWMutex

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	startMu sync.Mutex
}

// NewConsistencyChecker creates a checker over store.
func NewConsistencyChecker(store Store, logger *zap.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsistencyChecker{
		Policies:      store,
		Deriver:       parcela.NewDeriver(store, logger),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        logger.Named("consistency"),
	}
}

// Start begins the periodic checks.
func (c *ConsistencyChecker) Start() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !c.Enabled || c.CheckInterval <= 0 {
		c.Logger.Info("checker disabled, not starting")
		return
	}
	if c.ticker != nil {
		return
	}

	c.ticker = time.NewTicker(c.CheckInterval)
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.run(c.ticker, c.stop)

	c.Logger.Info("checker started", zap.Duration("interval", c.CheckInterval))
}

// Stop stops the checker and waits for a running pass to finish.
func (c *ConsistencyChecker) Stop() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.ticker != nil {
		c.ticker.Stop()
		close(c.stop)
		c.wg.Wait()
		c.ticker = nil
		c.Logger.Info("checker stopped")
	}
}

func (c *ConsistencyChecker) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer c.wg.Done()

	// Run immediately on start
	c.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			c.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow checks every policy and replaces the latest report.
func (c *ConsistencyChecker) RunNow(ctx context.Context) ConsistencyReport {
	started := time.Now()
	report := ConsistencyReport{RunAt: started}

	policies, err := c.Policies.ListPolicies(ctx)
	if err != nil {
		c.Logger.Error("listing policies failed", zap.Error(err))
		report.Err = err
	}
	for _, p := range policies {
		report.Issues = append(report.Issues, c.check(ctx, p)...)
		report.Checked++
	}
	report.Duration = time.Since(started)

	c.mu.Lock()
	c.latest = report
	c.mu.Unlock()

	if len(report.Issues) > 0 {
		c.Logger.Warn("schedules out of line with their policies",
			zap.Int("checked", report.Checked), zap.Int("issues", len(report.Issues)))
	} else {
		c.Logger.Debug("all schedules consistent", zap.Int("checked", report.Checked))
	}
	return report
}

// CheckPolicy re-checks one policy and updates its entries in the latest
// report. A nil policy (deleted) only removes them.
func (c *ConsistencyChecker) CheckPolicy(ctx context.Context, id parcela.PolicyID, p *parcela.Policy) {
	var issues []ConsistencyIssue
	if p != nil {
		issues = c.check(ctx, *p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.latest.Issues[:0:0]
	for _, issue := range c.latest.Issues {
		if issue.PolicyID != id {
			kept = append(kept, issue)
		}
	}
	kept = append(kept, issues...)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].PolicyID < kept[j].PolicyID })
	c.latest.Issues = kept
}

// Latest returns the most recent report. RunAt is zero before the first run.
func (c *ConsistencyChecker) Latest() ConsistencyReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.latest
	r.Issues = append([]ConsistencyIssue(nil), c.latest.Issues...)
	return r
}

func (c *ConsistencyChecker) check(ctx context.Context, p parcela.Policy) []ConsistencyIssue {
	d := c.Deriver.Derive(ctx, p)
	s := parcela.Summarize(p, d.Rows)

	var issues []ConsistencyIssue
	if s.Mismatch {
		issues = append(issues, ConsistencyIssue{
			PolicyID: p.ID,
			Kind:     IssueSumMismatch,
			Expected: money(s.Premium),
			Actual:   money(s.Total),
			Source:   d.Source,
		})
	}
	if n, ok := p.Record.Int(parcela.FieldQuantidadeParcelas); ok && n > 0 && n != len(d.Rows) {
		issues = append(issues, ConsistencyIssue{
			PolicyID: p.ID,
			Kind:     IssueCountMismatch,
			Expected: strconv.Itoa(n),
			Actual:   strconv.Itoa(len(d.Rows)),
			Source:   d.Source,
		})
	}
	return issues
}
