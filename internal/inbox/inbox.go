// Package inbox implements the Agent's chunked resumable upload pipeline
// (C7), grounded file-for-file on
// _examples/original_source/agent/routers/inbox.py: the offset-
// reconciliation-from-actual-file-length behavior, the truncate-on-error
// recovery, the 1 MiB-chunked SHA-256 verification on commit, and the
// collision-free rename-with-" (n)"-suffix helper are preserved exactly.
package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/ticket"
)

// DefaultUploadChunkMaxBytes is the chunk size cap used when config
// leaves upload_chunk_max_bytes unset, per spec.md §4.7.
const DefaultUploadChunkMaxBytes int64 = 8 * 1024 * 1024

const shaHashChunkSize = 1024 * 1024

// Manifest is the transfer-item manifest the Agent fetches from the
// Coordinator on first sight of an item.
type Manifest struct {
	ReceiverShareID string
	Filename        string
	Size            int64
	SHA256          string
}

// CoordinatorClient is the outbound surface used to reach the
// Coordinator for manifest lookups and item-state notifications,
// implemented by internal/coordclient.
type CoordinatorClient interface {
	FetchTransferItemManifest(ctx context.Context, transferID, itemID string) (Manifest, bool, error)
	NotifyTransferItemState(ctx context.Context, transferID, itemID string, state model.InboxItemState)
}

// Store is the agentdb surface the inbox depends on.
type Store interface {
	CreateInboxItem(ctx context.Context, it model.InboxTransferItem) (model.InboxTransferItem, error)
	GetInboxItem(ctx context.Context, transferID, itemID string) (model.InboxTransferItem, error)
	ListInboxItemsForTransfer(ctx context.Context, transferID, shareID string) ([]model.InboxTransferItem, error)
	UpdateInboxItem(ctx context.Context, it model.InboxTransferItem) error
}

// ShareStore resolves a local share by id.
type ShareStore interface {
	GetLocalShare(ctx context.Context, id string) (model.Share, error)
}

// Inbox coordinates staged-upload state and filesystem placement.
type Inbox struct {
	store               Store
	shares              ShareStore
	coord               CoordinatorClient
	issuer              *ticket.Issuer
	inboxRoot           string
	uploadChunkMaxBytes int64
}

// New constructs an Inbox rooted at inboxRoot. uploadChunkMaxBytes <= 0
// falls back to DefaultUploadChunkMaxBytes.
func New(store Store, shares ShareStore, coord CoordinatorClient, issuer *ticket.Issuer, inboxRoot string, uploadChunkMaxBytes int64) *Inbox {
	if uploadChunkMaxBytes <= 0 {
		uploadChunkMaxBytes = DefaultUploadChunkMaxBytes
	}
	return &Inbox{store: store, shares: shares, coord: coord, issuer: issuer, inboxRoot: inboxRoot, uploadChunkMaxBytes: uploadChunkMaxBytes}
}

func (ib *Inbox) verifyTicket(tok, transferID, shareID string, now time.Time) error {
	_, err := ib.issuer.Verify(tok, ticket.KindTransferUploadTicket, now, func(c ticket.Claims) bool {
		return c.TransferID == transferID && c.ReceiverShareID == shareID
	})
	if err != nil {
		return apierr.Wrap(apierr.AuthInvalid, "invalid transfer ticket", err)
	}
	return nil
}

func safeFilename(name string) (string, error) {
	cleaned := strings.TrimSpace(filepath.Base(name))
	if cleaned == "" || cleaned == "." || cleaned == string(filepath.Separator) {
		return "", apierr.New(apierr.Conflict, "invalid filename")
	}
	return cleaned, nil
}

func (ib *Inbox) partDir(transferID string) (string, error) {
	dir := filepath.Join(ib.inboxRoot, "transfers", transferID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (ib *Inbox) committedDir(transferID string) (string, error) {
	dir := filepath.Join(ib.inboxRoot, "committed", transferID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// nextAvailablePath returns path if free, else the first
// "name (n).ext"-suffixed sibling that doesn't exist, n in [1, 999].
func nextAvailablePath(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path, nil
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	for i := 1; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", apierr.New(apierr.Conflict, "failed to allocate destination filename")
}

// renameOrCopy moves src to dst, falling back to copy+remove when the
// paths straddle different filesystems (os.Rename's EXDEV case).
func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// ItemStatus is one row of a transfer's per-item staging snapshot.
type ItemStatus struct {
	ItemID       string
	Filename     string
	ExpectedSize int64
	ReceivedSize int64
	State        model.InboxItemState
}

// Status returns the per-item snapshot for transferID on shareID.
func (ib *Inbox) Status(ctx context.Context, transferID, shareID, tok string) ([]ItemStatus, error) {
	if err := ib.verifyTicket(tok, transferID, shareID, time.Now()); err != nil {
		return nil, err
	}
	items, err := ib.store.ListInboxItemsForTransfer(ctx, transferID, shareID)
	if err != nil {
		return nil, err
	}
	out := make([]ItemStatus, 0, len(items))
	for _, it := range items {
		out = append(out, ItemStatus{ItemID: it.ItemID, Filename: it.Filename, ExpectedSize: it.ExpectedSize, ReceivedSize: it.ReceivedSize, State: it.State})
	}
	return out, nil
}

// Pause transitions every pending/receiving/staged item of transferID to
// paused, notifying the coordinator of each change.
func (ib *Inbox) Pause(ctx context.Context, transferID, shareID, tok string) error {
	return ib.bulkTransition(ctx, transferID, shareID, tok, func(s model.InboxItemState) (model.InboxItemState, bool) {
		switch s {
		case model.InboxPending, model.InboxReceiving, model.InboxStaged:
			return model.InboxPaused, true
		default:
			return s, false
		}
	})
}

// Resume transitions every paused item of transferID back to receiving.
func (ib *Inbox) Resume(ctx context.Context, transferID, shareID, tok string) error {
	return ib.bulkTransition(ctx, transferID, shareID, tok, func(s model.InboxItemState) (model.InboxItemState, bool) {
		if s == model.InboxPaused {
			return model.InboxReceiving, true
		}
		return s, false
	})
}

func (ib *Inbox) bulkTransition(ctx context.Context, transferID, shareID, tok string, next func(model.InboxItemState) (model.InboxItemState, bool)) error {
	if err := ib.verifyTicket(tok, transferID, shareID, time.Now()); err != nil {
		return err
	}
	items, err := ib.store.ListInboxItemsForTransfer(ctx, transferID, shareID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, it := range items {
		newState, changed := next(it.State)
		if !changed {
			continue
		}
		it.State = newState
		it.UpdatedAt = now
		if err := ib.store.UpdateInboxItem(ctx, it); err != nil {
			return err
		}
		ib.coord.NotifyTransferItemState(ctx, transferID, it.ItemID, newState)
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, shaHashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
