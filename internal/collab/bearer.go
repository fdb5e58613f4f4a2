// Package collab declares the collaborator interfaces for the subsystems
// this module treats as out of scope: the RLC/F1AP bearer layer above the
// scheduler, the PHY I/O layer, and the common-channel sub-schedulers. The
// scheduler core only consumes these through the narrow contracts below;
// their implementations live outside this module.
//
// BearerNotifier exposes only enough of the F1AP UE-context/DRB setup
// vocabulary for the scheduler to react to bearer lifecycle events as
// config-applied/LCID-binding deltas.
package collab

import "context"

// DRBSetup describes one data radio bearer the F1AP layer has established
// for a UE, carrying the fields the scheduler needs to bind the bearer's
// logical channel to a RAN slice: DRB id, RLC mode and the PLMN/S-NSSAI
// identity used by slice.Set.ResolveLCID.
type DRBSetup struct {
	DRBID   uint8
	LCID    uint8
	RLCMode string // "AM", "UM"
	PLMN    string
	SNSSAI  uint32
}

// BearerNotifier is the scheduler's view of the RLC/F1AP bearer layer: a
// narrow, read-only slice of its UE-context vocabulary, exposed so the
// scheduler core can be exercised (and tested) without pulling in the
// full F1AP state machine.
type BearerNotifier interface {
	// ActiveDRBs returns the DRBs currently established for ueIndex, as
	// last reported by a UEContextSetupResponse/UEContextModificationResponse.
	ActiveDRBs(ctx context.Context, ueIndex uint32) ([]DRBSetup, error)

	// NotifyBearerReleased tells the bearer layer a DRB's logical channel
	// is being torn down (UE removal or reconfiguration), so RLC buffers
	// for it can be discarded without racing the scheduler's own teardown.
	NotifyBearerReleased(ctx context.Context, ueIndex uint32, drbID uint8) error
}

// CommonChannelScheduler is the injected collaborator for the fixed-order
// common-channel sub-schedulers (SSB, CSI-RS,
// SIB1, PUCCH guardbands, PRACH, RA, paging): each populates the slot
// result's broadcast/control PDU lists before the UE scheduler runs,
// consuming whatever used-PRB budget they claim from the grid.
type CommonChannelScheduler interface {
	// Name identifies the sub-scheduler for logging and metrics labels.
	Name() string

	// RunSlot runs the sub-scheduler for slotCount. The cell scheduler
	// passes it no grid or slot-result handle, only slotCount and budget,
	// the cell's remaining PDCCH allocation-attempt budget for the slot;
	// the returned consumed count is deducted from that budget, the same
	// way the UE scheduler's Stage 2 attempts are.
	RunSlot(ctx context.Context, slotCount uint32, budget uint32) (consumed uint32, err error)
}

// FallbackScheduler is the pre-RRC-setup (SRB0/Msg3/ContentionResolution)
// collaborator run before the inter-slice/
// intra-slice scheduler so its grants are visible in the used-PRB bitmap.
type FallbackScheduler interface {
	RunSlot(ctx context.Context, slotCount uint32) error
}
