// Package model holds the shared domain entities for the coordinator and
// agent stores.
package model

import "time"

// PrincipalStatus is the lifecycle state of a Principal.
type PrincipalStatus string

const (
	PrincipalActive   PrincipalStatus = "active"
	PrincipalDisabled PrincipalStatus = "disabled"
)

// Principal is a human identity holding ClientDevices and owning
// AgentDevices.
type Principal struct {
	ID          string
	DisplayName string
	Status      PrincipalStatus
	PublicKey   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ClientDevice is an end-user device belonging to one Principal.
type ClientDevice struct {
	ID               string
	PrincipalID      string
	Name             string
	Platform         string
	DeviceSecretHash string
	Status           PrincipalStatus
	LastSeen         *time.Time
	CreatedAt        time.Time
}

// AgentDevice is a share-hosting peer.
type AgentDevice struct {
	ID                string
	OwnerPrincipalID  string
	Name              string
	BaseURL           string
	Visibility        bool
	OnlineState       bool
	LastSeen          *time.Time
	CreatedAt         time.Time
}

// onlineWindow is how stale last_seen may be before a device is considered
// offline, per spec.md §3.
const onlineWindow = 90 * time.Second

// IsOnline reports liveness per spec.md: online_state && (now-last_seen) <= 90s.
func (a AgentDevice) IsOnline(now time.Time) bool {
	if !a.OnlineState || a.LastSeen == nil {
		return false
	}
	return now.Sub(*a.LastSeen) <= onlineWindow
}

// Share is a directory exposed by an AgentDevice.
type Share struct {
	ID            string
	AgentDeviceID string
	Name          string
	RootPath      string
	ReadOnly      bool
	CreatedAt     time.Time
}

// AclGrant is a materialized (principal_id, share_id) -> permission set row.
type AclGrant struct {
	ID             string
	PrincipalID    string
	ShareID        string
	PermissionsRaw string // canonical CSV
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransferState is a TransferRequest lifecycle state, per spec.md §4.5.
type TransferState string

const (
	TransferPendingReceiverApproval      TransferState = "pending_receiver_approval"
	TransferApprovedPendingSenderPasscode TransferState = "approved_pending_sender_passcode"
	TransferPasscodeOpen                 TransferState = "passcode_open"
	TransferInProgress                   TransferState = "in_progress"
	TransferCompleted                    TransferState = "completed"
	TransferRejected                     TransferState = "rejected"
	TransferExpired                      TransferState = "expired"
	TransferFailed                       TransferState = "failed"
	TransferCancelled                    TransferState = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s TransferState) IsTerminal() bool {
	switch s {
	case TransferCompleted, TransferRejected, TransferExpired, TransferFailed, TransferCancelled:
		return true
	default:
		return false
	}
}

// ApprovalPreferences is the structured shape stored in
// TransferRequest.Reason once the receiver approves. Supplemented from the
// original reference implementation's free-form JSON "reason" payload.
type ApprovalPreferences struct {
	DestinationPathHint string `json:"destination_path_hint,omitempty"`
	Note                string `json:"note,omitempty"`
}

// TransferRequest is a pending/active inter-principal transfer.
type TransferRequest struct {
	ID                  string
	SenderPrincipalID   string
	SenderClientDeviceID string
	ReceiverDeviceID    string
	ReceiverShareID     string
	State               TransferState
	Reason              *ApprovalPreferences
	CreatedAt           time.Time
	ExpiresAt           time.Time
	UpdatedAt           time.Time
}

// IsExpired evaluates the informational 24h expiry lazily, per spec.md §9
// open question (a): no active sweep, lazy-read only.
func (t TransferRequest) IsExpired(now time.Time) bool {
	return !t.State.IsTerminal() && now.After(t.ExpiresAt)
}

// ItemState is a TransferItem lifecycle state.
type ItemState string

const (
	ItemPending    ItemState = "pending"
	ItemReceiving  ItemState = "receiving"
	ItemStaged     ItemState = "staged"
	ItemCommitted  ItemState = "committed"
	ItemFinalized  ItemState = "finalized"
	ItemPaused     ItemState = "paused"
	ItemRejected   ItemState = "rejected"
	ItemFailed     ItemState = "failed"
	ItemCancelled  ItemState = "cancelled"
)

// UnknownSHA256 is the all-zeros sentinel meaning "unknown, skip
// verification on commit".
const UnknownSHA256 = "0000000000000000000000000000000000000000000000000000000000000000"

// SHA256HexLen is the expected length of a lowercase-hex sha256 digest.
const SHA256HexLen = 64

// TransferItem is a single file within a TransferRequest.
type TransferItem struct {
	ID                string
	TransferRequestID string
	Filename          string
	Size              int64
	SHA256            string
	MimeType          string
	State             ItemState
}

// PasscodeWindow is the per-transfer sender gate.
type PasscodeWindow struct {
	TransferRequestID   string
	PasscodeHash        string
	AttemptsLeft        int
	FailureCount        int
	LockedUntil         *time.Time
	ExpiresAt           time.Time
	OpenedAt            *time.Time
	OpenedByPrincipalID *string
}

// InboxItemState is the Agent-local staging record state.
type InboxItemState string

const (
	InboxPending   InboxItemState = "pending"
	InboxReceiving InboxItemState = "receiving"
	InboxPaused    InboxItemState = "paused"
	InboxStaged    InboxItemState = "staged"
	InboxCommitted InboxItemState = "committed"
	InboxFinalized InboxItemState = "finalized"
	InboxRejected  InboxItemState = "rejected"
	InboxCancelled InboxItemState = "cancelled"
)

// InboxTransferItem is the agent-local chunked-upload staging record.
type InboxTransferItem struct {
	TransferID     string
	ItemID         string
	ShareID        string
	Filename       string
	ExpectedSize   int64
	ExpectedSHA256 string
	ReceivedSize   int64
	PartPath       string
	InboxPath      *string
	State          InboxItemState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CompositeID is the "transfer_id:item_id" key used by the agent store.
func (i InboxTransferItem) CompositeID() string {
	return i.TransferID + ":" + i.ItemID
}

// AuditEvent is an append-only log row.
type AuditEvent struct {
	ID                string
	ActorPrincipalID  *string
	Action            string
	ResourceType      string
	ResourceID        string
	IP                string
	UserAgent         string
	MetadataJSON      string
	At                time.Time
}

// PairingSessionStatus is the lifecycle of a PairingSession.
type PairingSessionStatus string

const (
	PairingPending   PairingSessionStatus = "pending"
	PairingConfirmed PairingSessionStatus = "confirmed"
	PairingExpired   PairingSessionStatus = "expired"
)

// PairingSession is a durable pairing-code record (supplemented from the
// original reference; spec.md keeps only the attempt counters in memory,
// but the session row itself survives a coordinator restart).
type PairingSession struct {
	ID                      string
	Code                    string
	DeviceName              string
	Platform                string
	PublicKey               *string
	Status                  PairingSessionStatus
	CreatedAt               time.Time
	ExpiresAt               time.Time
	ConfirmedPrincipalID    *string
	ConfirmedClientDeviceID *string
}
