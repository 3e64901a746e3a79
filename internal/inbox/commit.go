package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/lanshare/lanshare/internal/agentdb"
	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/model"
)

// CommitResult mirrors the original's commit-endpoint response body.
type CommitResult struct {
	ItemID    string
	State     model.InboxItemState
	InboxPath string
}

// Commit verifies the staged part file's size (and, unless the manifest
// sha256 is the unknown sentinel, its checksum) and moves it into the
// per-transfer committed directory, per spec.md §4.7's commit step.
func (ib *Inbox) Commit(ctx context.Context, transferID, shareID, itemID, tok string) (CommitResult, error) {
	now := time.Now()
	if err := ib.verifyTicket(tok, transferID, shareID, now); err != nil {
		return CommitResult{}, err
	}
	record, err := ib.store.GetInboxItem(ctx, transferID, itemID)
	if errors.Is(err, agentdb.ErrNotFound) || (err == nil && (record.TransferID != transferID || record.ShareID != shareID)) {
		return CommitResult{}, apierr.New(apierr.NotFound, "transfer item not found")
	}
	if err != nil {
		return CommitResult{}, err
	}

	info, err := os.Stat(record.PartPath)
	if errors.Is(err, os.ErrNotExist) {
		return CommitResult{}, apierr.New(apierr.NotFound, "transfer chunk file missing")
	}
	if err != nil {
		return CommitResult{}, err
	}
	if info.Size() != record.ExpectedSize {
		return CommitResult{}, apierr.New(apierr.Conflict, "received size does not match expected size")
	}

	if record.ExpectedSHA256 != model.UnknownSHA256 {
		digest, err := sha256File(record.PartPath)
		if err != nil {
			return CommitResult{}, err
		}
		if digest != record.ExpectedSHA256 {
			return CommitResult{}, apierr.New(apierr.Conflict, "checksum mismatch")
		}
	}

	safeName, err := safeFilename(record.Filename)
	if err != nil {
		return CommitResult{}, err
	}
	committedDir, err := ib.committedDir(transferID)
	if err != nil {
		return CommitResult{}, err
	}
	committedPath, err := nextAvailablePath(filepath.Join(committedDir, safeName))
	if err != nil {
		return CommitResult{}, err
	}
	if err := renameOrCopy(record.PartPath, committedPath); err != nil {
		return CommitResult{}, err
	}

	record.InboxPath = &committedPath
	record.State = model.InboxCommitted
	record.UpdatedAt = now
	if err := ib.store.UpdateInboxItem(ctx, record); err != nil {
		return CommitResult{}, err
	}
	ib.coord.NotifyTransferItemState(ctx, transferID, record.ItemID, record.State)
	return CommitResult{ItemID: record.ItemID, State: record.State, InboxPath: committedPath}, nil
}
