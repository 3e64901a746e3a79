package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/lanshare/lanshare/internal/agentdb"
	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/fileshare"
	"github.com/lanshare/lanshare/internal/model"
)

// FinalizeRequest places a committed item's file at its caller-chosen
// destination within the share, per spec.md §4.7's finalize step.
type FinalizeRequest struct {
	TransferID       string
	ShareID          string
	ItemID           string
	Ticket           string
	DestinationPath  string
	KeepOriginalName bool
}

// FinalizeResult mirrors the original's finalize-endpoint response body.
type FinalizeResult struct {
	ItemID    string
	State     model.InboxItemState
	FinalPath string
}

// Finalize moves a committed item's file into Share.root_path under the
// caller-supplied relative destination_path, rejecting path traversal and
// read-only shares.
func (ib *Inbox) Finalize(ctx context.Context, req FinalizeRequest) (FinalizeResult, error) {
	now := time.Now()
	if err := ib.verifyTicket(req.Ticket, req.TransferID, req.ShareID, now); err != nil {
		return FinalizeResult{}, err
	}
	record, err := ib.store.GetInboxItem(ctx, req.TransferID, req.ItemID)
	if errors.Is(err, agentdb.ErrNotFound) || (err == nil && (record.TransferID != req.TransferID || record.ShareID != req.ShareID)) {
		return FinalizeResult{}, apierr.New(apierr.NotFound, "transfer item not found")
	}
	if err != nil {
		return FinalizeResult{}, err
	}
	if record.State != model.InboxCommitted && record.State != model.InboxFinalized {
		return FinalizeResult{}, apierr.New(apierr.Conflict, "transfer item is not committed")
	}

	share, err := ib.shares.GetLocalShare(ctx, req.ShareID)
	if err != nil {
		return FinalizeResult{}, apierr.New(apierr.NotFound, "share not found")
	}
	if share.ReadOnly {
		return FinalizeResult{}, apierr.New(apierr.Forbidden, "share is read-only")
	}

	if record.InboxPath == nil {
		return FinalizeResult{}, apierr.New(apierr.NotFound, "committed file not found")
	}
	sourcePath := *record.InboxPath
	info, err := os.Stat(sourcePath)
	if err != nil || info.IsDir() {
		return FinalizeResult{}, apierr.New(apierr.NotFound, "committed file not found")
	}

	destinationDir, err := fileshare.ResolveRequestedPath(share.RootPath, req.DestinationPath)
	if err != nil {
		return FinalizeResult{}, apierr.Wrap(apierr.Forbidden, "invalid destination path", err)
	}
	if err := os.MkdirAll(destinationDir, 0o755); err != nil {
		return FinalizeResult{}, err
	}

	targetName, err := safeFilename(record.Filename)
	if !req.KeepOriginalName {
		targetName, err = safeFilename(filepath.Base(sourcePath))
	}
	if err != nil {
		return FinalizeResult{}, err
	}
	destinationPath, err := nextAvailablePath(filepath.Join(destinationDir, targetName))
	if err != nil {
		return FinalizeResult{}, err
	}
	if err := renameOrCopy(sourcePath, destinationPath); err != nil {
		return FinalizeResult{}, err
	}

	record.State = model.InboxFinalized
	record.InboxPath = &destinationPath
	record.UpdatedAt = now
	if err := ib.store.UpdateInboxItem(ctx, record); err != nil {
		return FinalizeResult{}, err
	}
	ib.coord.NotifyTransferItemState(ctx, req.TransferID, record.ItemID, record.State)
	return FinalizeResult{ItemID: record.ItemID, State: record.State, FinalPath: destinationPath}, nil
}
