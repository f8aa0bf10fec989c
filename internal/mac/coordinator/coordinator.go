// Package coordinator wires the Node Registry, Slot Allocator, Message
// Queues, Phase State Machine and Uplink Dispatcher into the concurrency
// model from §5: the Phase task and the Inbound task run as independent
// goroutines sharing state only through the registry/allocator's own
// locks and the queues. The transport reader/writer tasks are external
// collaborators (§1, §5) supplied by internal/gateway; the Coordinator
// only owns the two queues they drain/fill.
package coordinator

import (
	"context"
	"sync"

	"github.com/Long0307/LoRa-GW-SV/internal/config"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/dispatch"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/phase"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/queue"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/registry"
	"github.com/Long0307/LoRa-GW-SV/internal/mac/schedule"
)

// Coordinator is the single actor described in §9 "Global mutable state ->
// task-local state + channels": it holds the registry and schedule
// exclusively, and every other task communicates with it only through the
// Inbound/Outbound queues or the exported accessor methods below (which
// simply delegate to the already-locked registry/allocator).
type Coordinator struct {
	Registry *registry.Registry
	Schedule *schedule.Allocator
	Inbound  *queue.Queue
	Outbound *queue.Queue

	Phase      *phase.SM
	Dispatcher *dispatch.Dispatcher

	cfg config.Config
}

// New builds a Coordinator from a normalized Config. The application
// hooks Dispatcher.OnData and Phase.OnFrame are left unset; callers assign
// them after construction (§1 "application-domain handler" is an external
// collaborator).
func New(cfg config.Config) *Coordinator {
	reg := registry.New()
	alloc := schedule.New(int(cfg.ChannelCount), cfg.FrameFactor)
	inbound := queue.New()
	outbound := queue.New()

	return &Coordinator{
		Registry:   reg,
		Schedule:   alloc,
		Inbound:    inbound,
		Outbound:   outbound,
		Phase:      phase.New(cfg, reg, alloc, outbound),
		Dispatcher: dispatch.New(inbound, reg),
		cfg:        cfg,
	}
}

// Config returns the normalized configuration the Coordinator was built
// with.
func (c *Coordinator) Config() config.Config {
	return c.cfg
}

// Run starts the Phase task and the Inbound task and blocks until ctx is
// cancelled and both have exited (§5 "Cancellation": no unbounded work
// remains in flight).
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.Phase.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.Dispatcher.Run(ctx)
	}()

	wg.Wait()
}

// RequestPhaseTransition implements the operator console's "PT" command
// (§6).
func (c *Coordinator) RequestPhaseTransition() {
	c.Phase.RequestTransition()
}

// NodeSnapshot implements the operator console's "d" (dump nodes)
// command (§6), surfacing exactly the fields device_management.c's
// dmPrintNodeList dumped (§SPEC_FULL "Supplemented features" #1).
func (c *Coordinator) NodeSnapshot() []registry.Node {
	return c.Registry.Snapshot()
}

// CurrentPhase reports the phase the coordinator is presently running,
// for console status output.
func (c *Coordinator) CurrentPhase() phase.Phase {
	return c.Phase.Current()
}
