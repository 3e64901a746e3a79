package inbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanshare/lanshare/internal/agentdb"
	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/ticket"
)

type fakeStore struct {
	items map[string]model.InboxTransferItem
}

func newFakeStore() *fakeStore { return &fakeStore{items: map[string]model.InboxTransferItem{}} }

func (f *fakeStore) CreateInboxItem(ctx context.Context, it model.InboxTransferItem) (model.InboxTransferItem, error) {
	f.items[it.CompositeID()] = it
	return it, nil
}

func (f *fakeStore) GetInboxItem(ctx context.Context, transferID, itemID string) (model.InboxTransferItem, error) {
	it, ok := f.items[transferID+":"+itemID]
	if !ok {
		return model.InboxTransferItem{}, agentdb.ErrNotFound
	}
	return it, nil
}

func (f *fakeStore) ListInboxItemsForTransfer(ctx context.Context, transferID, shareID string) ([]model.InboxTransferItem, error) {
	var out []model.InboxTransferItem
	for _, it := range f.items {
		if it.TransferID == transferID && it.ShareID == shareID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateInboxItem(ctx context.Context, it model.InboxTransferItem) error {
	if _, ok := f.items[it.CompositeID()]; !ok {
		return agentdb.ErrNotFound
	}
	f.items[it.CompositeID()] = it
	return nil
}

type fakeShareStore struct {
	shares map[string]model.Share
}

func (f *fakeShareStore) GetLocalShare(ctx context.Context, id string) (model.Share, error) {
	s, ok := f.shares[id]
	if !ok {
		return model.Share{}, agentdb.ErrNotFound
	}
	return s, nil
}

type fakeCoordClient struct {
	manifests map[string]Manifest
	notified  []model.InboxItemState
}

func (f *fakeCoordClient) FetchTransferItemManifest(ctx context.Context, transferID, itemID string) (Manifest, bool, error) {
	m, ok := f.manifests[transferID+":"+itemID]
	return m, ok, nil
}

func (f *fakeCoordClient) NotifyTransferItemState(ctx context.Context, transferID, itemID string, state model.InboxItemState) {
	f.notified = append(f.notified, state)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func setup(t *testing.T) (*Inbox, *fakeStore, *fakeCoordClient, string) {
	t.Helper()
	store := newFakeStore()
	shareStore := &fakeShareStore{shares: map[string]model.Share{
		"share1": {ID: "share1", Name: "share1", RootPath: t.TempDir()},
	}}
	coord := &fakeCoordClient{manifests: map[string]Manifest{}}
	issuer := ticket.NewIssuer("test-secret")
	root := t.TempDir()
	ib := New(store, shareStore, coord, issuer, root, 0)
	tok, err := issuer.Issue(ticket.Claims{Kind: ticket.KindTransferUploadTicket, TransferID: "t1", ReceiverShareID: "share1"}, ticket.TTLTransferUploadTicket, time.Now())
	require.NoError(t, err)
	return ib, store, coord, tok
}

func TestUploadChunkCreatesFromManifestThenAppendsSecondChunk(t *testing.T) {
	ib, store, coord, tok := setup(t)
	payload := []byte("hello world, this is test content")
	digest := sha256Hex(payload)
	coord.manifests["t1:item1"] = Manifest{ReceiverShareID: "share1", Filename: "greeting.txt", Size: int64(len(payload)), SHA256: digest}

	result, err := ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "greeting.txt",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 0, Last: false, ContentLength: int64(len(payload[:10])), Body: bytes.NewReader(payload[:10]),
	})
	require.NoError(t, err)
	assert.Equal(t, model.InboxReceiving, result.State)
	assert.Equal(t, int64(10), result.ReceivedSize)

	result, err = ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "greeting.txt",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 10, Last: true, ContentLength: int64(len(payload[10:])), Body: bytes.NewReader(payload[10:]),
	})
	require.NoError(t, err)
	assert.Equal(t, model.InboxStaged, result.State)
	assert.Equal(t, int64(len(payload)), result.ReceivedSize)
	assert.Len(t, coord.notified, 2)

	rec := store.items["t1:item1"]
	data, err := os.ReadFile(rec.PartPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestUploadChunkRejectsWrongOffset(t *testing.T) {
	ib, _, coord, tok := setup(t)
	payload := []byte("abcdefgh")
	digest := sha256Hex(payload)
	coord.manifests["t1:item1"] = Manifest{ReceiverShareID: "share1", Filename: "f.bin", Size: int64(len(payload)), SHA256: digest}

	_, err := ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "f.bin",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 0, ContentLength: int64(len(payload)), Body: bytes.NewReader(payload[:4]),
	})
	require.NoError(t, err)

	_, err = ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "f.bin",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 100, Last: true, ContentLength: int64(len(payload[4:])), Body: bytes.NewReader(payload[4:]),
	})
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Conflict, ae.Kind)
}

func TestUploadChunkRejectsOversizedChunk(t *testing.T) {
	store := newFakeStore()
	shareStore := &fakeShareStore{shares: map[string]model.Share{"share1": {ID: "share1", RootPath: t.TempDir()}}}
	coord := &fakeCoordClient{manifests: map[string]Manifest{}}
	issuer := ticket.NewIssuer("s")
	ib := New(store, shareStore, coord, issuer, t.TempDir(), 4) // tiny 4-byte cap
	tok, _ := issuer.Issue(ticket.Claims{Kind: ticket.KindTransferUploadTicket, TransferID: "t1", ReceiverShareID: "share1"}, ticket.TTLTransferUploadTicket, time.Now())

	payload := []byte("this payload is too big for the cap")
	digest := sha256Hex(payload)
	coord.manifests["t1:item1"] = Manifest{ReceiverShareID: "share1", Filename: "f.bin", Size: int64(len(payload)), SHA256: digest}

	_, err := ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "f.bin",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 0, ContentLength: int64(len(payload)), Body: bytes.NewReader(payload),
	})
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.PayloadTooLarge, ae.Kind)
}

func TestCommitVerifiesChecksumAndMovesToCommittedDir(t *testing.T) {
	ib, store, coord, tok := setup(t)
	payload := []byte("full file contents for commit test")
	digest := sha256Hex(payload)
	coord.manifests["t1:item1"] = Manifest{ReceiverShareID: "share1", Filename: "doc.txt", Size: int64(len(payload)), SHA256: digest}

	_, err := ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "doc.txt",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 0, Last: true, ContentLength: int64(len(payload)), Body: bytes.NewReader(payload),
	})
	require.NoError(t, err)

	result, err := ib.Commit(context.Background(), "t1", "share1", "item1", tok)
	require.NoError(t, err)
	assert.Equal(t, model.InboxCommitted, result.State)
	data, err := os.ReadFile(result.InboxPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Contains(t, coord.notified, model.InboxItemState(model.InboxCommitted))

	rec := store.items["t1:item1"]
	_, statErr := os.Stat(rec.PartPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommitRejectsChecksumMismatch(t *testing.T) {
	ib, _, coord, tok := setup(t)
	payload := []byte("original content")
	digest := sha256Hex(payload)
	coord.manifests["t1:item1"] = Manifest{ReceiverShareID: "share1", Filename: "doc.txt", Size: int64(len(payload)), SHA256: digest}

	_, err := ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "doc.txt",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 0, Last: true, ContentLength: int64(len(payload)), Body: bytes.NewReader(payload),
	})
	require.NoError(t, err)

	// Corrupt the part file after upload but before commit.
	rec, err := ib.store.GetInboxItem(context.Background(), "t1", "item1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(rec.PartPath, []byte("tampered content"), 0o644))

	_, err = ib.Commit(context.Background(), "t1", "share1", "item1", tok)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Conflict, ae.Kind)
}

func TestFinalizeMovesIntoShareRootAndRejectsTraversal(t *testing.T) {
	ib, _, coord, tok := setup(t)
	payload := []byte("finalize me")
	digest := sha256Hex(payload)
	coord.manifests["t1:item1"] = Manifest{ReceiverShareID: "share1", Filename: "final.txt", Size: int64(len(payload)), SHA256: digest}

	_, err := ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "final.txt",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 0, Last: true, ContentLength: int64(len(payload)), Body: bytes.NewReader(payload),
	})
	require.NoError(t, err)
	_, err = ib.Commit(context.Background(), "t1", "share1", "item1", tok)
	require.NoError(t, err)

	_, err = ib.Finalize(context.Background(), FinalizeRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Ticket: tok,
		DestinationPath: "../escape", KeepOriginalName: true,
	})
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Forbidden, ae.Kind)

	result, err := ib.Finalize(context.Background(), FinalizeRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Ticket: tok,
		DestinationPath: "subdir", KeepOriginalName: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.InboxFinalized, result.State)
	assert.Equal(t, filepath.Base(result.FinalPath), "final.txt")
	data, err := os.ReadFile(result.FinalPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Contains(t, coord.notified, model.InboxItemState(model.InboxFinalized))
}

func TestPauseAndResumeTransitionActiveItems(t *testing.T) {
	ib, store, coord, tok := setup(t)
	payload := []byte("partial")
	digest := sha256Hex(payload)
	coord.manifests["t1:item1"] = Manifest{ReceiverShareID: "share1", Filename: "f.bin", Size: int64(len(payload)), SHA256: digest}

	_, err := ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "f.bin",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 0, ContentLength: int64(len(payload[:3])), Body: bytes.NewReader(payload[:3]),
	})
	require.NoError(t, err)

	require.NoError(t, ib.Pause(context.Background(), "t1", "share1", tok))
	assert.Equal(t, model.InboxPaused, store.items["t1:item1"].State)

	_, err = ib.UploadChunk(context.Background(), ChunkRequest{
		TransferID: "t1", ShareID: "share1", ItemID: "item1", Filename: "f.bin",
		Size: int64(len(payload)), SHA256: digest, Ticket: tok,
		Offset: 3, Last: true, ContentLength: int64(len(payload[3:])), Body: bytes.NewReader(payload[3:]),
	})
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Conflict, ae.Kind)

	require.NoError(t, ib.Resume(context.Background(), "t1", "share1", tok))
	assert.Equal(t, model.InboxReceiving, store.items["t1:item1"].State)

	status, err := ib.Status(context.Background(), "t1", "share1", tok)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, int64(3), status[0].ReceivedSize)
}

func TestVerifyTicketRejectsWrongShareBinding(t *testing.T) {
	ib, _, _, tok := setup(t)
	_, err := ib.Status(context.Background(), "t1", "other-share", tok)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.AuthInvalid, ae.Kind)
}
