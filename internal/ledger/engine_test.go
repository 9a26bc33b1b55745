package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"receiptpocket/internal/receipt"
	"receiptpocket/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRemote struct {
	mu           sync.Mutex
	listRecords  []receipt.Receipt
	listErr      error
	listCalls    int
	listEntered  chan struct{} // signaled when List is reached, if set
	listGate     chan struct{} // List blocks on this until closed, if set
	upsertResult remote.UpsertResult
	upsertErr    error
	upserted     []receipt.Receipt
	deleted      []string
	deleteErr    error
	config       *remote.Config
	configErr    error
	savedConfig  map[string]interface{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		upsertResult: remote.UpsertResult{Success: true},
		savedConfig:  make(map[string]interface{}),
	}
}

func (f *fakeRemote) Upsert(_ context.Context, r receipt.Receipt) (remote.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return remote.UpsertResult{}, f.upsertErr
	}
	f.upserted = append(f.upserted, r)
	return f.upsertResult, nil
}

func (f *fakeRemote) List(_ context.Context) ([]receipt.Receipt, error) {
	f.mu.Lock()
	f.listCalls++
	entered, gate := f.listEntered, f.listGate
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]receipt.Receipt(nil), f.listRecords...), nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRemote) FetchConfig(_ context.Context) (*remote.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configErr != nil {
		return nil, f.configErr
	}
	if f.config == nil {
		return &remote.Config{}, nil
	}
	return f.config, nil
}

func (f *fakeRemote) SaveConfig(_ context.Context, key string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedConfig[key] = value
	return nil
}

func (f *fakeRemote) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBolt(filepath.Join(t.TempDir(), "pocket.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T, rem Remote) *Engine {
	t.Helper()
	e := NewEngine(newTestStore(t), rem, zap.NewNop())
	e.SetRole(RoleAdmin)
	return e
}

func testReceipt(id, date string) receipt.Receipt {
	return receipt.Receipt{
		ID: id, Date: date, Vendor: "vendor", Amount: 100,
		CreatedAt: date + "T10:00:00Z", Category: "その他",
	}
}

func TestApplyCreateIdempotent(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)

	r := testReceipt("RC-1", "2024-05-01")
	require.True(t, e.ApplyCreate(context.Background(), r))
	require.Len(t, e.Receipts(), 1)

	// Same id again: success without duplication, and no second push.
	require.True(t, e.ApplyCreate(context.Background(), r))
	assert.Len(t, e.Receipts(), 1)
	assert.Len(t, rem.upserted, 1)
}

func TestApplyCreateRequiresAdmin(t *testing.T) {
	rem := newFakeRemote()
	e := NewEngine(newTestStore(t), rem, zap.NewNop())
	e.SetRole(RoleViewer)

	assert.False(t, e.ApplyCreate(context.Background(), testReceipt("RC-1", "2024-05-01")))
	assert.Empty(t, e.Receipts())
}

func TestApplyCreatePushFailureLeavesNoTrace(t *testing.T) {
	rem := newFakeRemote()
	rem.upsertErr = errors.New("network down")
	e := newTestEngine(t, rem)

	assert.False(t, e.ApplyCreate(context.Background(), testReceipt("RC-1", "2024-05-01")))
	assert.Empty(t, e.Receipts())
}

func TestApplyCreateRewritesBlobURLs(t *testing.T) {
	rem := newFakeRemote()
	rem.upsertResult = remote.UpsertResult{
		Success:     true,
		URL:         "http://store/view/RC-1",
		EvidenceURL: "http://store/view/evidence-RC-1",
	}
	e := newTestEngine(t, rem)

	r := testReceipt("RC-1", "2024-05-01")
	r.ImageURL = "data:image/jpeg;base64,AAAA"
	r.EvidenceURL = "data:image/jpeg;base64,BBBB"
	require.True(t, e.ApplyCreate(context.Background(), r))

	got := e.Receipts()[0]
	assert.Equal(t, "http://store/view/RC-1", got.ImageURL)
	assert.Equal(t, "http://store/view/evidence-RC-1", got.EvidenceURL)
	assert.True(t, got.Synced)
}

func TestApplyUpdateOptimisticOnPushFailure(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("RC-1", "2024-05-01")))

	rem.upsertErr = errors.New("network down")
	updated := testReceipt("RC-1", "2024-05-01")
	updated.Vendor = "edited vendor"
	updated.Synced = true // prior flag carried by the caller

	assert.False(t, e.ApplyUpdate(context.Background(), updated))

	got := e.Receipts()[0]
	assert.Equal(t, "edited vendor", got.Vendor, "optimistic value must be kept")
	assert.True(t, got.Synced, "prior synced flag must survive a failed push")
}

func TestApplyUpdateMarksSyncedOnSuccess(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("RC-1", "2024-05-01")))

	updated := testReceipt("RC-1", "2024-05-01")
	updated.Amount = 999
	updated.Synced = false

	assert.True(t, e.ApplyUpdate(context.Background(), updated))
	got := e.Receipts()[0]
	assert.Equal(t, int64(999), got.Amount)
	assert.True(t, got.Synced)
}

func TestApplyDeleteLocalFinalOnRemoteFailure(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("RC-1", "2024-05-01")))

	rem.deleteErr = errors.New("network down")
	assert.False(t, e.ApplyDelete(context.Background(), "RC-1"))
	assert.Empty(t, e.Receipts(), "local deletion is final regardless of remote outcome")
}

func TestApplyDeleteMany(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	for _, id := range []string{"A", "B", "C"} {
		require.True(t, e.ApplyCreate(context.Background(), testReceipt(id, "2024-05-01")))
	}

	require.True(t, e.ApplyDeleteMany(context.Background(), []string{"A", "C"}))

	got := e.Receipts()
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].ID)
	assert.ElementsMatch(t, []string{"A", "C"}, rem.deleted)
}

func TestApplyDeleteMonth(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("A", "2024-05-01")))
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("B", "2024-04-15")))

	require.True(t, e.ApplyDeleteMonth(context.Background(), "2024-05"))

	got := e.Receipts()
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].ID)
}

// Spec scenario: remote gained a record the local cache has not seen.
func TestReconcileMergesNewRemoteRecord(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("A", "2024-05-01")))

	rem.listRecords = []receipt.Receipt{
		testReceipt("A", "2024-05-01"),
		testReceipt("B", "2024-05-02"),
	}

	require.True(t, e.Reconcile(context.Background(), false))

	got := e.Receipts()
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ID, "sorted by date descending")
	assert.Equal(t, "A", got[1].ID)
	for _, r := range got {
		assert.True(t, r.Synced)
	}
}

// Spec scenario: a pending local create survives a pull that has not seen it.
func TestReconcilePreservesUnsynced(t *testing.T) {
	rem := newFakeRemote()
	rem.upsertErr = errors.New("offline")
	e := newTestEngine(t, rem)

	// Seed an unsynced record directly through the store, the state a failed
	// push confirmation leaves behind.
	pending := testReceipt("A", "2024-05-01")
	pending.Synced = false
	require.NoError(t, e.store.Put(keyReceipts, []receipt.Receipt{pending}))

	rem.listRecords = nil
	require.True(t, e.Reconcile(context.Background(), false))

	got := e.Receipts()
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].ID)
	assert.False(t, got[0].Synced)
}

// Spec scenario: a deleted id returned by a lagging pull must stay deleted.
func TestReconcileTombstonePrecedence(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("A", "2024-05-01")))
	require.True(t, e.ApplyDelete(context.Background(), "A"))

	rem.listRecords = []receipt.Receipt{testReceipt("A", "2024-05-01")}
	require.True(t, e.Reconcile(context.Background(), false))

	assert.Empty(t, e.Receipts())
}

func TestReconcileDropsSyncedRecordsMissingRemotely(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("A", "2024-05-01")))

	// Another device deleted A; remote snapshot no longer carries it.
	rem.listRecords = nil
	require.True(t, e.Reconcile(context.Background(), false))

	assert.Empty(t, e.Receipts())
}

func TestReconcileSortInvariant(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)

	rem.listRecords = []receipt.Receipt{
		{ID: "A", Date: "2024-05-01", CreatedAt: "2024-05-01T08:00:00Z"},
		{ID: "B", Date: "2024-05-03", CreatedAt: "2024-05-03T08:00:00Z"},
		{ID: "C", Date: "2024-05-01", CreatedAt: "2024-05-01T12:00:00Z"},
	}
	require.True(t, e.Reconcile(context.Background(), false))

	got := e.Receipts()
	require.Len(t, got, 3)
	for i := 0; i < len(got)-1; i++ {
		ordered := got[i].Date > got[i+1].Date ||
			(got[i].Date == got[i+1].Date && got[i].CreatedAt >= got[i+1].CreatedAt)
		assert.True(t, ordered, "list out of order at %d", i)
	}
}

func TestReconcileSingleFlight(t *testing.T) {
	rem := newFakeRemote()
	rem.listEntered = make(chan struct{}, 1)
	rem.listGate = make(chan struct{})
	e := newTestEngine(t, rem)

	done := make(chan bool, 1)
	go func() { done <- e.Reconcile(context.Background(), false) }()

	// Wait until the first reconcile is inside its snapshot fetch, then a
	// second call must be a no-op.
	select {
	case <-rem.listEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("first reconcile never reached the remote")
	}
	assert.False(t, e.Reconcile(context.Background(), false))

	close(rem.listGate)
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("first reconcile never finished")
	}

	assert.Equal(t, 1, rem.listCallCount(), "exactly one fetch cycle must have run")
}

func TestReconcileAbortsWithoutMutationOnFetchFailure(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("A", "2024-05-01")))

	rem.listErr = errors.New("network down")
	assert.False(t, e.Reconcile(context.Background(), true))

	got := e.Receipts()
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, int64(0), e.SyncCount())
}

func TestReconcileAppliesConfig(t *testing.T) {
	rem := newFakeRemote()
	rem.config = &remote.Config{
		Categories:         []string{"交通費", "外注費"},
		ReimbursementNames: []string{"佐藤"},
	}
	e := newTestEngine(t, rem)

	require.True(t, e.Reconcile(context.Background(), false))
	assert.Equal(t, []string{"交通費", "外注費"}, e.Categories())
	assert.Equal(t, []string{"佐藤"}, e.ReimbursementNames())
	assert.Equal(t, int64(1), e.SyncCount())
}

func TestReconcileToleratesConfigFailure(t *testing.T) {
	rem := newFakeRemote()
	rem.configErr = errors.New("config endpoint down")
	rem.listRecords = []receipt.Receipt{testReceipt("A", "2024-05-01")}
	e := newTestEngine(t, rem)

	require.True(t, e.Reconcile(context.Background(), false))
	assert.Len(t, e.Receipts(), 1)
	assert.Equal(t, receipt.DefaultCategories, e.Categories())
}

func TestReconcileRequiresSession(t *testing.T) {
	rem := newFakeRemote()
	e := NewEngine(newTestStore(t), rem, zap.NewNop())

	assert.False(t, e.Reconcile(context.Background(), false))
	assert.Equal(t, 0, rem.listCallCount())
}

func TestFullLocalReset(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("A", "2024-05-01")))
	require.True(t, e.ApplyDelete(context.Background(), "A"))

	rem.listRecords = []receipt.Receipt{testReceipt("A", "2024-05-01")}
	require.True(t, e.FullLocalReset(context.Background()))

	// Tombstones are gone, so A comes back from the remote snapshot.
	got := e.Receipts()
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].ID)
	assert.True(t, got[0].Synced)
}

func TestTombstonesSurviveRestart(t *testing.T) {
	rem := newFakeRemote()
	store := newTestStore(t)

	e := NewEngine(store, rem, zap.NewNop())
	e.SetRole(RoleAdmin)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("A", "2024-05-01")))
	require.True(t, e.ApplyDelete(context.Background(), "A"))

	// New engine over the same store, as after a process restart.
	e2 := NewEngine(store, rem, zap.NewNop())
	rem.listRecords = []receipt.Receipt{testReceipt("A", "2024-05-01")}
	require.True(t, e2.Reconcile(context.Background(), false))

	assert.Empty(t, e2.Receipts(), "a lagging pull must not resurrect a deleted record")
}

func TestCategoryMutationsPushConfig(t *testing.T) {
	rem := newFakeRemote()
	e := newTestEngine(t, rem)
	require.True(t, e.ApplyCreate(context.Background(), testReceipt("A", "2024-05-01")))

	require.True(t, e.SetCategories(context.Background(), []string{"その他", "会議費"}))
	assert.Contains(t, rem.savedConfig, "categories")

	require.True(t, e.RenameCategory(context.Background(), "その他", "雑費"))
	assert.Equal(t, []string{"雑費", "会議費"}, e.Categories())
	assert.Equal(t, "雑費", e.Receipts()[0].Category, "receipts follow a category rename")

	require.True(t, e.RemoveCategory(context.Background(), "会議費"))
	assert.Equal(t, []string{"雑費"}, e.Categories())

	require.True(t, e.SetReimbursementNames(context.Background(), []string{"鈴木"}))
	assert.Contains(t, rem.savedConfig, "reimbursementNames")
}

func TestRolePersistsAcrossRestart(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine(store, newFakeRemote(), zap.NewNop())
	e.SetRole(RoleAdmin)

	e2 := NewEngine(store, newFakeRemote(), zap.NewNop())
	assert.Equal(t, RoleAdmin, e2.Role())

	e2.Logout()
	e3 := NewEngine(store, newFakeRemote(), zap.NewNop())
	assert.Equal(t, Role(""), e3.Role())
}
