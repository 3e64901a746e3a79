package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/events"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/passcode"
	"github.com/lanshare/lanshare/internal/permissions"
	"github.com/lanshare/lanshare/internal/ticket"
)

const transferTTL = 24 * time.Hour

// Store is the coordinatordb surface the orchestrator depends on.
type Store interface {
	GetAgentDevice(ctx context.Context, id string) (model.AgentDevice, error)
	GetShare(ctx context.Context, id string) (model.Share, error)
	CreateTransferRequest(ctx context.Context, tr model.TransferRequest, items []model.TransferItem) (model.TransferRequest, []model.TransferItem, error)
	GetTransferRequest(ctx context.Context, id string) (model.TransferRequest, error)
	ListTransferRequestsForPrincipal(ctx context.Context, principalID string) ([]model.TransferRequest, error)
	UpdateTransferRequestState(ctx context.Context, id string, state model.TransferState, reason *model.ApprovalPreferences, updatedAt time.Time) error
	DeleteTransferRequest(ctx context.Context, id string) error
	ListTransferItems(ctx context.Context, transferRequestID string) ([]model.TransferItem, error)
	GetTransferItem(ctx context.Context, id string) (model.TransferItem, error)
	UpdateTransferItemState(ctx context.Context, id string, state model.ItemState) error
	CreatePasscodeWindow(ctx context.Context, w model.PasscodeWindow) (model.PasscodeWindow, error)
	GetPasscodeWindow(ctx context.Context, transferRequestID string) (model.PasscodeWindow, error)
	UpdatePasscodeWindow(ctx context.Context, w model.PasscodeWindow) error
}

// Orchestrator implements C5's operations against Store, the C2 ACL
// engine, the C1 ticket issuer, and the C4 event broker.
type Orchestrator struct {
	store   Store
	acl     *acl.Engine
	issuer  *ticket.Issuer
	broker  *events.Broker
	window  int // passcode window seconds, spec.md §4.3 default 300
}

func New(store Store, aclEngine *acl.Engine, issuer *ticket.Issuer, broker *events.Broker, passcodeWindowSeconds int) *Orchestrator {
	if passcodeWindowSeconds <= 0 {
		passcodeWindowSeconds = passcode.DefaultWindowSeconds
	}
	return &Orchestrator{store: store, acl: aclEngine, issuer: issuer, broker: broker, window: passcodeWindowSeconds}
}

// NewItem is the caller-supplied manifest for one file in a Create call.
type NewItem struct {
	Filename string
	Size     int64
	SHA256   string
	MimeType string
}

// Create implements spec.md §4.5 "create".
func (o *Orchestrator) Create(ctx context.Context, senderPrincipalID, senderClientDeviceID, receiverDeviceID, receiverShareID string, items []NewItem) (model.TransferRequest, []model.TransferItem, error) {
	device, err := o.store.GetAgentDevice(ctx, receiverDeviceID)
	if err != nil {
		if err == coordinatordb.ErrNotFound {
			return model.TransferRequest{}, nil, apierr.New(apierr.NotFound, "receiver device not found")
		}
		return model.TransferRequest{}, nil, err
	}
	share, err := o.store.GetShare(ctx, receiverShareID)
	if err != nil {
		if err == coordinatordb.ErrNotFound {
			return model.TransferRequest{}, nil, apierr.New(apierr.NotFound, "share not found")
		}
		return model.TransferRequest{}, nil, err
	}
	if share.AgentDeviceID != device.ID {
		return model.TransferRequest{}, nil, apierr.New(apierr.Conflict, "share does not belong to device")
	}
	if device.OwnerPrincipalID != senderPrincipalID && !device.Visibility {
		return model.TransferRequest{}, nil, apierr.New(apierr.Forbidden, "device not visible to sender")
	}
	if _, err := o.acl.RequirePermission(ctx, senderPrincipalID, share, permissions.RequestSend); err != nil {
		return model.TransferRequest{}, nil, err
	}

	now := time.Now()
	tr := model.TransferRequest{
		SenderPrincipalID:    senderPrincipalID,
		SenderClientDeviceID: senderClientDeviceID,
		ReceiverDeviceID:     receiverDeviceID,
		ReceiverShareID:      receiverShareID,
		State:                model.TransferPendingReceiverApproval,
		CreatedAt:            now,
		ExpiresAt:            now.Add(transferTTL),
		UpdatedAt:            now,
	}
	dbItems := make([]model.TransferItem, 0, len(items))
	for _, it := range items {
		dbItems = append(dbItems, model.TransferItem{
			Filename: it.Filename,
			Size:     it.Size,
			SHA256:   strings.ToLower(it.SHA256),
			MimeType: it.MimeType,
			State:    model.ItemPending,
		})
	}
	tr, dbItems, err = o.store.CreateTransferRequest(ctx, tr, dbItems)
	if err != nil {
		return model.TransferRequest{}, nil, err
	}

	o.broker.Publish(device.OwnerPrincipalID, events.Event{
		Type: "transfer_requested",
		Payload: map[string]any{
			"transfer_id": tr.ID,
			"sender":      senderPrincipalID,
		},
	})
	return tr, dbItems, nil
}

// GetTransferRequest is a thin read-through to the store, used by
// handlers that need a single transfer's current state.
func (o *Orchestrator) GetTransferRequest(ctx context.Context, id string) (model.TransferRequest, error) {
	tr, err := o.store.GetTransferRequest(ctx, id)
	return tr, mapNotFound(err, "transfer not found")
}

// ListItems returns every item belonging to a transfer, used by handlers
// rendering a single transfer's full detail view.
func (o *Orchestrator) ListItems(ctx context.Context, transferRequestID string) ([]model.TransferItem, error) {
	return o.store.ListTransferItems(ctx, transferRequestID)
}

// GetTransferItem is a thin read-through to the store.
func (o *Orchestrator) GetTransferItem(ctx context.Context, id string) (model.TransferItem, error) {
	it, err := o.store.GetTransferItem(ctx, id)
	return it, mapNotFound(err, "item not found")
}

// Role selects which subset List returns.
type Role string

const (
	RoleAll      Role = "all"
	RoleIncoming Role = "incoming"
	RoleOutgoing Role = "outgoing"
)

const listLimit = 200

// List implements spec.md §4.5 "list": 200 most recent by created_at desc,
// filtered to role.
func (o *Orchestrator) List(ctx context.Context, principalID string, role Role) ([]model.TransferRequest, error) {
	all, err := o.store.ListTransferRequestsForPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	var out []model.TransferRequest
	for _, tr := range all {
		isIncoming, err := o.isIncoming(ctx, tr, principalID)
		if err != nil {
			return nil, err
		}
		switch role {
		case RoleIncoming:
			if !isIncoming {
				continue
			}
		case RoleOutgoing:
			if isIncoming {
				continue
			}
		}
		out = append(out, tr)
		if len(out) >= listLimit {
			break
		}
	}
	return out, nil
}

func (o *Orchestrator) isIncoming(ctx context.Context, tr model.TransferRequest, principalID string) (bool, error) {
	device, err := o.store.GetAgentDevice(ctx, tr.ReceiverDeviceID)
	if err != nil {
		return false, err
	}
	return device.OwnerPrincipalID == principalID, nil
}

// ClearHistory deletes every caller-visible transfer in a terminal state.
func (o *Orchestrator) ClearHistory(ctx context.Context, principalID string) error {
	all, err := o.store.ListTransferRequestsForPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	for _, tr := range all {
		if !tr.State.IsTerminal() {
			continue
		}
		if err := o.store.DeleteTransferRequest(ctx, tr.ID); err != nil {
			return err
		}
	}
	return nil
}

// CancelPending cancels every caller-visible non-terminal transfer and
// cascades its non-terminal items to cancelled, emitting
// transfer_cancelled to both parties.
func (o *Orchestrator) CancelPending(ctx context.Context, principalID string) error {
	all, err := o.store.ListTransferRequestsForPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, tr := range all {
		if tr.State.IsTerminal() {
			continue
		}
		if err := o.store.UpdateTransferRequestState(ctx, tr.ID, model.TransferCancelled, nil, now); err != nil {
			return err
		}
		items, err := o.store.ListTransferItems(ctx, tr.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.State == model.ItemFinalized || it.State == model.ItemRejected || it.State == model.ItemFailed || it.State == model.ItemCancelled {
				continue
			}
			if err := o.store.UpdateTransferItemState(ctx, it.ID, model.ItemCancelled); err != nil {
				return err
			}
		}
		device, err := o.store.GetAgentDevice(ctx, tr.ReceiverDeviceID)
		if err != nil {
			return err
		}
		payload := events.Event{Type: "transfer_cancelled", Payload: map[string]any{"transfer_id": tr.ID}}
		o.broker.Publish(tr.SenderPrincipalID, payload)
		o.broker.Publish(device.OwnerPrincipalID, payload)
	}
	return nil
}

// Approve implements spec.md §4.5 "approve": receiver-owner or ACL
// accept_incoming sets/overwrites the passcode window and transitions to
// approved_pending_sender_passcode.
func (o *Orchestrator) Approve(ctx context.Context, callerPrincipalID, transferID, code string, prefs *model.ApprovalPreferences) error {
	tr, err := o.store.GetTransferRequest(ctx, transferID)
	if err != nil {
		return mapNotFound(err, "transfer not found")
	}
	if err := o.requireReceiverAuthority(ctx, callerPrincipalID, tr, permissions.AcceptIncoming); err != nil {
		return err
	}
	if tr.State != model.TransferPendingReceiverApproval {
		return apierr.New(apierr.Conflict, "transfer not pending approval")
	}
	next, ok := apply(tr.State, eventReceiverApprove)
	if !ok {
		return apierr.New(apierr.Conflict, "illegal transition")
	}

	hash, err := passcode.Hash(code)
	if err != nil {
		return apierr.Wrap(apierr.Conflict, "invalid passcode", err)
	}
	now := time.Now()
	if _, err := o.store.CreatePasscodeWindow(ctx, model.PasscodeWindow{
		TransferRequestID: tr.ID,
		PasscodeHash:      hash,
		AttemptsLeft:      5,
		ExpiresAt:         now.Add(time.Duration(o.window) * time.Second),
	}); err != nil {
		return err
	}
	if err := o.store.UpdateTransferRequestState(ctx, tr.ID, next, prefs, now); err != nil {
		return err
	}
	o.broker.Publish(tr.SenderPrincipalID, events.Event{Type: "transfer_approved", Payload: map[string]any{"transfer_id": tr.ID}})
	return nil
}

// Reject implements spec.md §4.5 "reject": receiver owner only.
func (o *Orchestrator) Reject(ctx context.Context, callerPrincipalID, transferID string) error {
	tr, err := o.store.GetTransferRequest(ctx, transferID)
	if err != nil {
		return mapNotFound(err, "transfer not found")
	}
	device, err := o.store.GetAgentDevice(ctx, tr.ReceiverDeviceID)
	if err != nil {
		return err
	}
	if device.OwnerPrincipalID != callerPrincipalID {
		return apierr.New(apierr.Forbidden, "only the receiver owner may reject")
	}
	if tr.State != model.TransferPendingReceiverApproval {
		return apierr.New(apierr.Conflict, "transfer not pending approval")
	}
	next, _ := apply(tr.State, eventReceiverReject)
	now := time.Now()
	if err := o.store.UpdateTransferRequestState(ctx, tr.ID, next, nil, now); err != nil {
		return err
	}
	items, err := o.store.ListTransferItems(ctx, tr.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := o.store.UpdateTransferItemState(ctx, it.ID, model.ItemRejected); err != nil {
			return err
		}
	}
	o.broker.Publish(tr.SenderPrincipalID, events.Event{Type: "transfer_rejected", Payload: map[string]any{"transfer_id": tr.ID}})
	return nil
}

// OpenPasscode implements spec.md §4.5 "open_passcode": sender only,
// delegates verification to §4.3, transitions to passcode_open and mints
// a transfer_upload_ticket.
func (o *Orchestrator) OpenPasscode(ctx context.Context, callerPrincipalID, transferID, code string) (string, error) {
	tr, err := o.store.GetTransferRequest(ctx, transferID)
	if err != nil {
		return "", mapNotFound(err, "transfer not found")
	}
	if tr.SenderPrincipalID != callerPrincipalID {
		return "", apierr.New(apierr.Forbidden, "only the sender may open the passcode")
	}
	if tr.State != model.TransferApprovedPendingSenderPasscode && tr.State != model.TransferPasscodeOpen {
		return "", apierr.New(apierr.Conflict, "transfer not awaiting passcode")
	}

	win, err := o.store.GetPasscodeWindow(ctx, tr.ID)
	if err != nil {
		return "", mapNotFound(err, "passcode window not found")
	}
	now := time.Now()
	pw := passcode.Window{
		AttemptsLeft: win.AttemptsLeft,
		FailureCount: win.FailureCount,
		LockedUntil:  win.LockedUntil,
		ExpiresAt:    win.ExpiresAt,
	}
	verifyErr := pw.Verify(now, win.PasscodeHash, code)
	win.AttemptsLeft = pw.AttemptsLeft
	win.FailureCount = pw.FailureCount
	win.LockedUntil = pw.LockedUntil
	if verifyErr != nil {
		if err := o.store.UpdatePasscodeWindow(ctx, win); err != nil {
			return "", err
		}
		return "", mapPasscodeErr(verifyErr)
	}
	win.OpenedAt = &now
	win.OpenedByPrincipalID = &callerPrincipalID
	if err := o.store.UpdatePasscodeWindow(ctx, win); err != nil {
		return "", err
	}

	if tr.State == model.TransferApprovedPendingSenderPasscode {
		next, _ := apply(tr.State, eventSenderOpen)
		if err := o.store.UpdateTransferRequestState(ctx, tr.ID, next, nil, now); err != nil {
			return "", err
		}
	}

	token, err := o.issuer.Issue(ticket.Claims{
		Kind:             ticket.KindTransferUploadTicket,
		PrincipalID:      callerPrincipalID,
		TransferID:       tr.ID,
		ReceiverDeviceID: tr.ReceiverDeviceID,
		ReceiverShareID:  tr.ReceiverShareID,
	}, ticket.TTLFor(ticket.KindTransferUploadTicket), now)
	if err != nil {
		return "", err
	}

	device, err := o.store.GetAgentDevice(ctx, tr.ReceiverDeviceID)
	if err != nil {
		return "", err
	}
	o.broker.Publish(device.OwnerPrincipalID, events.Event{Type: "transfer_passcode_opened", Payload: map[string]any{"transfer_id": tr.ID}})
	return token, nil
}

// UpdateItemState implements spec.md §4.5 "update_item_state": internal,
// agent-authenticated, no-op on a terminal transfer, recomputes the
// transfer state from the full item multiset.
func (o *Orchestrator) UpdateItemState(ctx context.Context, itemID string, state model.ItemState) error {
	item, err := o.store.GetTransferItem(ctx, itemID)
	if err != nil {
		return mapNotFound(err, "item not found")
	}
	tr, err := o.store.GetTransferRequest(ctx, item.TransferRequestID)
	if err != nil {
		return mapNotFound(err, "transfer not found")
	}
	if tr.State.IsTerminal() {
		return nil
	}
	if err := o.store.UpdateTransferItemState(ctx, itemID, state); err != nil {
		return err
	}
	items, err := o.store.ListTransferItems(ctx, tr.ID)
	if err != nil {
		return err
	}
	if next, ok := aggregateItemState(items); ok && next != tr.State {
		if err := o.store.UpdateTransferRequestState(ctx, tr.ID, next, nil, time.Now()); err != nil {
			return err
		}
	}

	device, err := o.store.GetAgentDevice(ctx, tr.ReceiverDeviceID)
	if err != nil {
		return err
	}
	payload := events.Event{Type: "transfer_item_state", Payload: map[string]any{
		"transfer_id": tr.ID,
		"item_id":     itemID,
		"state":       string(state),
	}}
	o.broker.Publish(tr.SenderPrincipalID, payload)
	o.broker.Publish(device.OwnerPrincipalID, payload)
	return nil
}

// ItemManifest is returned by GetItemManifest to an agent on first sight
// of an item.
type ItemManifest struct {
	TransferID      string
	ReceiverShareID string
	ItemID          string
	Filename        string
	Size            int64
	SHA256          string
	MimeType        string
	State           model.ItemState
}

// GetItemManifest implements spec.md §4.5 "get_item_manifest": internal,
// agent-authenticated, with x-agent-device-id bound to receiver_device_id.
func (o *Orchestrator) GetItemManifest(ctx context.Context, callerAgentDeviceID, itemID string) (ItemManifest, error) {
	item, err := o.store.GetTransferItem(ctx, itemID)
	if err != nil {
		return ItemManifest{}, mapNotFound(err, "item not found")
	}
	tr, err := o.store.GetTransferRequest(ctx, item.TransferRequestID)
	if err != nil {
		return ItemManifest{}, mapNotFound(err, "transfer not found")
	}
	if tr.ReceiverDeviceID != callerAgentDeviceID {
		return ItemManifest{}, apierr.New(apierr.Forbidden, "device id mismatch")
	}
	return ItemManifest{
		TransferID:      tr.ID,
		ReceiverShareID: tr.ReceiverShareID,
		ItemID:          item.ID,
		Filename:        item.Filename,
		Size:            item.Size,
		SHA256:          item.SHA256,
		MimeType:        item.MimeType,
		State:           item.State,
	}, nil
}

func (o *Orchestrator) requireReceiverAuthority(ctx context.Context, principalID string, tr model.TransferRequest, perm permissions.Permission) error {
	device, err := o.store.GetAgentDevice(ctx, tr.ReceiverDeviceID)
	if err != nil {
		return err
	}
	if device.OwnerPrincipalID == principalID {
		return nil
	}
	share, err := o.store.GetShare(ctx, tr.ReceiverShareID)
	if err != nil {
		return err
	}
	if _, err := o.acl.RequirePermission(ctx, principalID, share, perm); err != nil {
		return err
	}
	return nil
}

func mapNotFound(err error, msg string) error {
	if err == coordinatordb.ErrNotFound {
		return apierr.New(apierr.NotFound, msg)
	}
	return err
}

func mapPasscodeErr(err error) error {
	switch err {
	case passcode.ErrLocked:
		return apierr.New(apierr.RateLimited, "passcode window locked")
	case passcode.ErrExpired:
		return apierr.New(apierr.Gone, "passcode window expired")
	default:
		return apierr.New(apierr.AuthInvalid, "invalid passcode")
	}
}
