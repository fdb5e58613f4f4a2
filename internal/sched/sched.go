// Package sched is the slot pipeline glue: the cell registry and
// dispatcher that ties cellsched, interslice, intraslice, harq, event,
// uci and metrics together behind one exported
// SlotIndication(ctx, slTx, cellIndex) entry point, generalizing the "one
// struct owns the whole component graph" idiom to a multi-cell registry
// other packages reach through rather than wiring components ad hoc at
// each call site.
package sched

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/cellsched"
	"github.com/your-org/gnb-scheduler/internal/collab"
	"github.com/your-org/gnb-scheduler/internal/config"
	"github.com/your-org/gnb-scheduler/internal/event"
	"github.com/your-org/gnb-scheduler/internal/grid"
	"github.com/your-org/gnb-scheduler/internal/interslice"
	"github.com/your-org/gnb-scheduler/internal/intraslice"
	"github.com/your-org/gnb-scheduler/internal/metrics"
	"github.com/your-org/gnb-scheduler/internal/policy"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/slice"
	"github.com/your-org/gnb-scheduler/internal/uci"
	"github.com/your-org/gnb-scheduler/internal/ue"
)

// CellHandle is everything the dispatcher needs to keep alongside a
// cell's own scheduler: the per-cell collaborators callers (e.g. a PHY
// adapter's event producers) need direct access to outside the slot-tick
// path.
type CellHandle struct {
	Cell      *cellcfg.Cell
	Scheduler *cellsched.Scheduler
	Slices    *slice.Set
	UCI       *uci.Scheduler
	UEs       *ue.Manager
}

// Dispatcher is the scheduler's cell registry: every cell's full
// component graph, a shared event manager, and a shared metrics handler.
// One Dispatcher per process ties the whole gNB together.
type Dispatcher struct {
	mu    sync.RWMutex
	cells map[uint32]*CellHandle

	events  *event.Manager
	metrics *metrics.Handler
	logger  *zap.Logger

	schedCfg config.SchedulerConfig
}

// NewDispatcher builds an empty cell registry. AddCell installs cells
// incrementally after construction.
func NewDispatcher(schedCfg config.SchedulerConfig, events *event.Manager, metricsHandler *metrics.Handler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cells:    make(map[uint32]*CellHandle),
		events:   events,
		metrics:  metricsHandler,
		logger:   logger,
		schedCfg: schedCfg,
	}
}

// AddCellOpts carries the per-cell collaborators a caller wires at
// cell-add time beyond the pure scheduling components this package
// builds itself (common-channel sub-schedulers, fallback scheduler,
// bearer notifier — all out of scope, reached only
// through the injected interfaces).
type AddCellOpts struct {
	RingSize       uint32
	CommonChannels []collab.CommonChannelScheduler
	Fallback       collab.FallbackScheduler
	Bearer         collab.BearerNotifier
}

// AddCell builds the full per-cell component graph (ring, slice set,
// inter-/intra-slice schedulers, the UE repository whose UEs each build
// their own HARQ manager, UCI scheduler) for cell
// and registers it for SlotIndication dispatch.
func (d *Dispatcher) AddCell(cell *cellcfg.Cell, opts AddCellOpts) (*CellHandle, error) {
	if err := cell.Validate(); err != nil {
		return nil, fmt.Errorf("sched: invalid cell config: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.cells[cell.CellIndex]; exists {
		return nil, fmt.Errorf("sched: cell %d already registered", cell.CellIndex)
	}

	ringSize := opts.RingSize
	if ringSize == 0 {
		ringSize = 256
	}

	slices := slice.NewSet(cell)
	ring := grid.NewRing(ringSize, cell.NofPRBs)

	pol := buildPolicy(d.schedCfg.Strategy)

	intraCaps := intraslice.Caps{
		MaxPDSCHsPerSlot:             d.schedCfg.MaxPDSCHsPerSlot,
		MaxPUSCHsPerSlot:             d.schedCfg.MaxPUSCHsPerSlot,
		MaxPUCCHsPerSlot:             d.schedCfg.MaxPUCCHsPerSlot,
		MaxPDCCHAllocAttemptsPerSlot: d.schedCfg.MaxPDCCHAllocAttemptsPerSlot,
		PrePolicyRRUEGroupSize:       d.schedCfg.PrePolicyRRUEGroupSize,
	}

	interSlice := interslice.NewScheduler(slices, cell.NofPRBs, cell.EnableCSIRSPDSCHMultiplexing)
	intraSlice := intraslice.NewScheduler(pol, intraCaps)
	uciSched := uci.NewScheduler(cell.PeriodicResources)
	// Every UE created through this repository gets its own HARQ manager
	// at this cell's HARQ mode and retx/ACK timeouts, rather than sharing
	// one cell-wide pool.
	ues := ue.NewManager(cell.HARQMode, d.schedCfg.DLHARQRetxTimeoutSlots, d.schedCfg.ULHARQRetxTimeoutSlots, d.schedCfg.ACKTimeoutSlots)

	d.events.RegisterCell(cell.CellIndex, event.DefaultQueueSize)

	deps := cellsched.Deps{
		Cell:           cell,
		Ring:           ring,
		Slices:         slices,
		InterSlice:     interSlice,
		IntraSlice:     intraSlice,
		UCI:            uciSched,
		Events:         d.events,
		UEs:            ues,
		Metrics:        d.metrics,
		CommonChannels: opts.CommonChannels,
		Fallback:       opts.Fallback,
		Bearer:         opts.Bearer,
		Caps:           intraCaps,
	}

	cellName := fmt.Sprintf("cell-%d", cell.CellIndex)
	scheduler := cellsched.NewScheduler(cell.CellIndex, cellName, deps, d.logger.With(zap.Uint32("cell_index", cell.CellIndex)))

	handle := &CellHandle{Cell: cell, Scheduler: scheduler, Slices: slices, UCI: uciSched, UEs: ues}
	d.cells[cell.CellIndex] = handle
	return handle, nil
}

// buildPolicy selects the intra-slice policy from strategy configuration.
func buildPolicy(cfg config.StrategyConfig) policy.Policy {
	switch cfg.Kind {
	case "time_qos":
		return policy.NewTimeQoS(cfg.Alpha, cfg.Beta, cfg.Gamma)
	default:
		return policy.NewRoundRobin(1 << 16)
	}
}

// RemoveCell stops and deregisters a cell, draining its event queue.
func (d *Dispatcher) RemoveCell(cellIndex uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cells[cellIndex]; !ok {
		return
	}
	d.events.StopCell(cellIndex)
	delete(d.cells, cellIndex)
}

// Cell returns the registered handle for cellIndex.
func (d *Dispatcher) Cell(cellIndex uint32) (*CellHandle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.cells[cellIndex]
	return h, ok
}

// StartCell/StopCell request the named cell's scheduler activate or
// deactivate on its next slot tick.
func (d *Dispatcher) StartCell(cellIndex uint32) error {
	h, ok := d.Cell(cellIndex)
	if !ok {
		return fmt.Errorf("sched: unknown cell %d", cellIndex)
	}
	h.Scheduler.RequestStart()
	return nil
}

func (d *Dispatcher) StopCell(cellIndex uint32) error {
	h, ok := d.Cell(cellIndex)
	if !ok {
		return fmt.Errorf("sched: unknown cell %d", cellIndex)
	}
	h.Scheduler.RequestStop()
	return nil
}

// SlotIndication is the scheduler's single exported entry point: run
// one cell's slot pipeline for slTx.
func (d *Dispatcher) SlotIndication(ctx context.Context, slTx ran.SlotPoint, cellIndex uint32) (*grid.SchedResult, error) {
	h, ok := d.Cell(cellIndex)
	if !ok {
		return nil, fmt.Errorf("sched: unknown cell %d", cellIndex)
	}
	return h.Scheduler.RunSlot(ctx, slTx)
}

// SlotIndicationAll runs every registered cell's slot pipeline for slTx,
// e.g. for a synthetic slot-tick driver managing several cells together.
func (d *Dispatcher) SlotIndicationAll(ctx context.Context, slTx ran.SlotPoint) map[uint32]*grid.SchedResult {
	d.mu.RLock()
	handles := make([]*CellHandle, 0, len(d.cells))
	for _, h := range d.cells {
		handles = append(handles, h)
	}
	d.mu.RUnlock()

	out := make(map[uint32]*grid.SchedResult, len(handles))
	for _, h := range handles {
		res, err := h.Scheduler.RunSlot(ctx, slTx)
		if err != nil {
			d.logger.Warn("slot indication failed", zap.Uint32("cell_index", h.Cell.CellIndex), zap.Error(err))
			continue
		}
		out[h.Cell.CellIndex] = res
	}
	return out
}

// CellDebugInfo implements metrics.CellInspector for the debug HTTP
// server's /debug/cells/{id} route.
func (d *Dispatcher) CellDebugInfo(cellIndex uint32) (map[string]any, bool) {
	h, ok := d.Cell(cellIndex)
	if !ok {
		return nil, false
	}
	return map[string]any{
		"cell_index": cellIndex,
		"active":     h.Scheduler.Active(),
		"nof_prbs":   h.Cell.NofPRBs,
		"nof_ues":    h.UEs.Count(),
		"slices":     len(h.Slices.All()),
	}, true
}
