// Package transfer implements the transfer orchestrator (C5): the
// TransferRequest state machine and its operations, grounded on
// _examples/original_source/coordinator/routers/transfers.py with the
// transition table expressed as data, following the teacher's
// internal/federation/state_machine.go "state as data" shape.
package transfer

import "github.com/lanshare/lanshare/internal/model"

// event names the transitions fire on.
type event string

const (
	eventReceiverApprove event = "receiver_approve"
	eventReceiverReject  event = "receiver_reject"
	eventExpire          event = "expire"
	eventSenderOpen      event = "sender_open"
	eventItemActive      event = "item_active"  // any item enters receiving/staged/committed
	eventAllFinal        event = "all_final"    // all items finalized/completed
	eventBulkCancel      event = "bulk_cancel"
)

// transitions is the explicit transition table of spec.md §4.5: current
// state + event -> next state. Absent entries are illegal transitions.
var transitions = map[model.TransferState]map[event]model.TransferState{
	model.TransferPendingReceiverApproval: {
		eventReceiverApprove: model.TransferApprovedPendingSenderPasscode,
		eventReceiverReject:  model.TransferRejected,
		eventExpire:          model.TransferExpired,
		eventBulkCancel:      model.TransferCancelled,
	},
	model.TransferApprovedPendingSenderPasscode: {
		eventSenderOpen: model.TransferPasscodeOpen,
		eventBulkCancel: model.TransferCancelled,
	},
	model.TransferPasscodeOpen: {
		eventItemActive: model.TransferInProgress,
		eventAllFinal:   model.TransferCompleted,
		eventBulkCancel: model.TransferCancelled,
	},
	model.TransferInProgress: {
		eventAllFinal:   model.TransferCompleted,
		eventBulkCancel: model.TransferCancelled,
	},
}

// apply returns the next state for (current, ev), and whether the
// transition is legal.
func apply(current model.TransferState, ev event) (model.TransferState, bool) {
	next, ok := transitions[current][ev]
	return next, ok
}

// aggregateItemState recomputes the transfer-level state implied by the
// full multiset of item states, per spec.md §4.5 update_item_state: "if
// every item is finalized/completed then completed; else if any item is
// receiving/staged/committed then in_progress". Returns ok=false if
// neither condition fires (caller keeps the current state).
func aggregateItemState(items []model.TransferItem) (model.TransferState, bool) {
	if len(items) == 0 {
		return "", false
	}
	allFinal := true
	anyActive := false
	for _, it := range items {
		if it.State != model.ItemFinalized {
			allFinal = false
		}
		switch it.State {
		case model.ItemReceiving, model.ItemStaged, model.ItemCommitted:
			anyActive = true
		}
	}
	if allFinal {
		return model.TransferCompleted, true
	}
	if anyActive {
		return model.TransferInProgress, true
	}
	return "", false
}
