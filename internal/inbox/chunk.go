package inbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lanshare/lanshare/internal/agentdb"
	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/model"
)

// ChunkRequest is one PUT of bytes onto an item's staging part file, per
// spec.md §4.7's chunk endpoint.
type ChunkRequest struct {
	TransferID    string
	ShareID       string
	ItemID        string
	Filename      string
	Size          int64
	SHA256        string
	Ticket        string
	Offset        int64
	Last          bool
	ContentLength int64 // -1 if the caller didn't send content-length
	Body          io.Reader
}

// ChunkResult mirrors the original's chunk-endpoint response body.
type ChunkResult struct {
	ItemID       string
	ReceivedSize int64
	ExpectedSize int64
	State        model.InboxItemState
}

// UploadChunk appends req's body to the item's staging part file,
// creating the staging record on first sight via the coordinator
// manifest, per spec.md §4.7.
func (ib *Inbox) UploadChunk(ctx context.Context, req ChunkRequest) (ChunkResult, error) {
	now := time.Now()
	if err := ib.verifyTicket(req.Ticket, req.TransferID, req.ShareID, now); err != nil {
		return ChunkResult{}, err
	}
	if req.ContentLength >= 0 && req.ContentLength > ib.uploadChunkMaxBytes {
		return ChunkResult{}, apierr.New(apierr.PayloadTooLarge, "chunk too large")
	}
	if req.Offset < 0 {
		return ChunkResult{}, apierr.New(apierr.Conflict, "invalid x-chunk-offset header")
	}
	safeName, err := safeFilename(req.Filename)
	if err != nil {
		return ChunkResult{}, err
	}
	sha256Lower := strings.ToLower(req.SHA256)
	if len(sha256Lower) != model.SHA256HexLen {
		return ChunkResult{}, apierr.New(apierr.Conflict, "invalid sha256")
	}

	record, err := ib.store.GetInboxItem(ctx, req.TransferID, req.ItemID)
	switch {
	case errors.Is(err, agentdb.ErrNotFound):
		record, err = ib.createFromManifest(ctx, req, safeName, sha256Lower, now)
		if err != nil {
			return ChunkResult{}, err
		}
	case err != nil:
		return ChunkResult{}, err
	}

	if record.ShareID != req.ShareID {
		return ChunkResult{}, apierr.New(apierr.Forbidden, "share mismatch for item")
	}
	if record.State == model.InboxCommitted || record.State == model.InboxFinalized {
		return ChunkResult{}, apierr.New(apierr.Conflict, "item already committed")
	}
	if record.State == model.InboxPaused {
		return ChunkResult{}, apierr.New(apierr.Conflict, "transfer is paused")
	}
	if record.ExpectedSHA256 != sha256Lower || record.ExpectedSize != req.Size {
		return ChunkResult{}, apierr.New(apierr.Conflict, "chunk metadata mismatch")
	}

	if err := os.MkdirAll(filepath.Dir(record.PartPath), 0o755); err != nil {
		return ChunkResult{}, err
	}
	currentSize, err := partFileSize(record.PartPath)
	if err != nil {
		return ChunkResult{}, err
	}
	if currentSize != record.ReceivedSize {
		record.ReceivedSize = currentSize
	}
	if req.Offset != record.ReceivedSize {
		return ChunkResult{}, apierr.New(apierr.Conflict, "unexpected chunk offset, expected "+strconv.FormatInt(record.ReceivedSize, 10))
	}

	remainingExpected := record.ExpectedSize - req.Offset
	if remainingExpected < 0 {
		return ChunkResult{}, apierr.New(apierr.Conflict, "chunk offset exceeds expected size")
	}

	written, writeErr := writeChunkAt(record.PartPath, req.Offset, req.Body, ib.uploadChunkMaxBytes, remainingExpected)
	if writeErr != nil {
		return ChunkResult{}, writeErr
	}

	record.ReceivedSize = req.Offset + written
	if req.Last && record.ReceivedSize != record.ExpectedSize {
		return ChunkResult{}, apierr.New(apierr.Conflict, "final chunk does not match expected size")
	}
	newState := model.InboxReceiving
	if req.Last {
		newState = model.InboxStaged
	}
	stateChanged := record.State != newState
	record.State = newState
	record.UpdatedAt = now
	if err := ib.store.UpdateInboxItem(ctx, record); err != nil {
		return ChunkResult{}, err
	}
	if stateChanged {
		ib.coord.NotifyTransferItemState(ctx, req.TransferID, record.ItemID, record.State)
	}
	return ChunkResult{ItemID: record.ItemID, ReceivedSize: record.ReceivedSize, ExpectedSize: record.ExpectedSize, State: record.State}, nil
}

func (ib *Inbox) createFromManifest(ctx context.Context, req ChunkRequest, safeName, sha256Lower string, now time.Time) (model.InboxTransferItem, error) {
	manifest, ok, err := ib.coord.FetchTransferItemManifest(ctx, req.TransferID, req.ItemID)
	if err != nil {
		return model.InboxTransferItem{}, apierr.Wrap(apierr.UpstreamFailure, "failed to fetch transfer item manifest", err)
	}
	if !ok {
		return model.InboxTransferItem{}, apierr.New(apierr.NotFound, "transfer item not approved")
	}
	if manifest.ReceiverShareID != req.ShareID {
		return model.InboxTransferItem{}, apierr.New(apierr.Forbidden, "share mismatch for transfer item")
	}
	expectedFilename, err := safeFilename(manifest.Filename)
	if err != nil {
		return model.InboxTransferItem{}, err
	}
	expectedSHA256 := strings.ToLower(manifest.SHA256)
	if len(expectedSHA256) != model.SHA256HexLen {
		return model.InboxTransferItem{}, apierr.New(apierr.Conflict, "transfer item manifest is invalid")
	}
	if safeName != expectedFilename || req.Size != manifest.Size || sha256Lower != expectedSHA256 {
		return model.InboxTransferItem{}, apierr.New(apierr.Conflict, "chunk metadata mismatch")
	}

	partDir, err := ib.partDir(req.TransferID)
	if err != nil {
		return model.InboxTransferItem{}, err
	}
	record := model.InboxTransferItem{
		TransferID:     req.TransferID,
		ItemID:         req.ItemID,
		ShareID:        req.ShareID,
		Filename:       expectedFilename,
		ExpectedSize:   manifest.Size,
		ExpectedSHA256: expectedSHA256,
		ReceivedSize:   0,
		PartPath:       filepath.Join(partDir, req.ItemID+".part"),
		State:          model.InboxPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return ib.store.CreateInboxItem(ctx, record)
}

func partFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// writeChunkAt opens path for read-write (creating it if absent), seeks
// to offset, and copies from body, enforcing a per-request cap
// (maxChunkBytes) and a per-item cap (remainingExpected). On any read
// error or cap violation the file is truncated back to offset, matching
// the original's truncate-on-error recovery.
func writeChunkAt(path string, offset int64, body io.Reader, maxChunkBytes, remainingExpected int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	limit := maxChunkBytes
	if remainingExpected < limit {
		limit = remainingExpected
	}
	// Read one byte beyond the limit to detect an oversized chunk.
	limited := io.LimitReader(body, limit+1)
	written, copyErr := io.Copy(f, limited)
	if copyErr != nil {
		f.Truncate(offset)
		return 0, apierr.Wrap(apierr.AuthInvalid, "failed to read chunk payload", copyErr)
	}
	if written > remainingExpected {
		f.Truncate(offset)
		return 0, apierr.New(apierr.Conflict, "chunk exceeds expected item size")
	}
	if written > maxChunkBytes {
		f.Truncate(offset)
		return 0, apierr.New(apierr.PayloadTooLarge, "chunk too large")
	}
	return written, nil
}
