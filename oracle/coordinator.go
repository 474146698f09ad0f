// Package oracle orchestrates heartbeat cycles: probe every registered
// relay, commit the survivor set into a Merkle root for the current epoch
// and publish it to the anchor. Cycles are independent; a failure aborts
// the cycle without partial publication and the next run starts fresh.
package oracle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/directory"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/log"
	"github.com/relaypulse/relaypulse/merkle"
	"github.com/relaypulse/relaypulse/relayerrors"
)

// LivenessProbe is the single-shot connectivity check run per relay.
type LivenessProbe interface {
	Alive(ctx context.Context, endpoint string) bool
}

// RootPublisher is the anchor surface the coordinator writes to.
type RootPublisher interface {
	PublishRoot(caller common.Address, e epoch.Epoch, root common.Hash) error
}

// DefaultParallelism bounds concurrent probes per cycle.
const DefaultParallelism = 16

// Config wires one coordinator.
type Config struct {
	// Identity is the admin identity publications are attributed to.
	Identity common.Address
	// Directory enumerates the relays to probe.
	Directory directory.Directory
	// Clock supplies the cycle's epoch.
	Clock *epoch.Clock
	// Probe runs the per-relay liveness check.
	Probe LivenessProbe
	// Anchor receives the published root.
	Anchor RootPublisher
	// Parallelism bounds concurrent probes. Zero picks DefaultParallelism.
	Parallelism int
	// ProbesPerSecond rate-limits probe launches. Zero means unlimited.
	ProbesPerSecond float64
	// PageSize bounds one directory read. Zero picks the directory default.
	PageSize int
}

// CycleReport summarizes one heartbeat cycle for operators and the
// status API.
type CycleReport struct {
	Epoch     epoch.Epoch      `json:"epoch"`
	Started   time.Time        `json:"started"`
	Finished  time.Time        `json:"finished"`
	Probed    int              `json:"probed"`
	Survivors []common.Address `json:"survivors"`
	Root      common.Hash      `json:"root"`
	Published bool             `json:"published"`
}

// Coordinator runs heartbeat cycles. Safe for one cycle at a time; the
// run mutex serializes overlapping triggers.
type Coordinator struct {
	cfg     Config
	limiter *rate.Limiter

	runMu sync.Mutex

	mu   sync.Mutex
	last *CycleReport
}

func New(cfg Config) *Coordinator {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	var limiter *rate.Limiter
	if cfg.ProbesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProbesPerSecond), cfg.Parallelism)
	}
	return &Coordinator{cfg: cfg, limiter: limiter}
}

// LastReport returns the most recent completed cycle, published or not.
func (c *Coordinator) LastReport() (CycleReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return CycleReport{}, false
	}
	return *c.last, true
}

func (c *Coordinator) setReport(r *CycleReport) {
	c.mu.Lock()
	c.last = r
	c.mu.Unlock()
}

// RunCycle performs one full heartbeat cycle. All probes settle before
// the survivor set is read (join barrier, never first-probe-wins: every
// surviving relay must be included).
func (c *Coordinator) RunCycle(ctx context.Context) (*CycleReport, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	report := &CycleReport{
		Epoch:   c.cfg.Clock.CurrentEpoch(),
		Started: time.Now(),
	}
	defer func() {
		report.Finished = time.Now()
		c.setReport(report)
	}()

	entries := directory.Enumerate(c.cfg.Directory, c.cfg.PageSize)
	report.Probed = len(entries)
	if len(entries) == 0 {
		log.Warn(log.OracleMonitoring, "cycle aborted", "epoch", uint64(report.Epoch), "reason", "empty directory")
		return report, relayerrors.ErrOEmptyDirectory
	}

	alive := c.probeAll(ctx, entries)
	if err := ctx.Err(); err != nil {
		// cancelled mid-probe: discard partial results, publish nothing
		log.Warn(log.OracleMonitoring, "cycle cancelled", "epoch", uint64(report.Epoch), "err", err)
		return report, err
	}

	// survivors keep directory order so leaf lists are consistent
	// across proof generation
	for i, entry := range entries {
		if alive[i] {
			report.Survivors = append(report.Survivors, entry.Address)
		}
	}
	if len(report.Survivors) == 0 {
		log.Warn(log.OracleMonitoring, "cycle aborted", "epoch", uint64(report.Epoch), "reason", "no relays alive", "probed", report.Probed)
		return report, relayerrors.ErrONoRelaysAlive
	}

	leaves := make([]common.Hash, len(report.Survivors))
	for i, addr := range report.Survivors {
		leaves[i] = merkle.LeafHash(addr, report.Epoch)
	}
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return report, err
	}
	report.Root = tree.Root()

	if err := c.cfg.Anchor.PublishRoot(c.cfg.Identity, report.Epoch, report.Root); err != nil {
		log.Error(log.OracleMonitoring, "publish failed", "epoch", uint64(report.Epoch), "err", err)
		return report, err
	}
	report.Published = true
	log.Info(log.OracleMonitoring, "cycle complete",
		"epoch", uint64(report.Epoch), "probed", report.Probed,
		"alive", len(report.Survivors), "root", report.Root.String_short())
	return report, nil
}

// probeAll fans the liveness checks out over a bounded worker pool and
// waits for every probe to settle.
func (c *Coordinator) probeAll(ctx context.Context, entries []directory.Entry) []bool {
	alive := make([]bool, len(entries))
	sem := make(chan struct{}, c.cfg.Parallelism)
	var wg sync.WaitGroup

	for i, entry := range entries {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				break
			}
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, entry directory.Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			alive[i] = c.cfg.Probe.Alive(ctx, entry.URL)
			log.Trace(log.ProbeMonitoring, "probe settled", "relay", entry.Address.String_short(), "url", entry.URL, "alive", alive[i])
		}(i, entry)
	}
	wg.Wait()
	return alive
}

// RunEvery triggers a cycle every interval until ctx is cancelled.
// Cycle errors are logged and swallowed: the process survives and the
// next scheduled run retries with fresh epoch and liveness data.
func (c *Coordinator) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.Warn(log.OracleMonitoring, "cycle failed, will retry", "err", err, "retry_in", interval.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
