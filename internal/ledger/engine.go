// Package ledger owns the device-local view of the expense list: it applies
// optimistic mutations, tracks deletions with tombstones, and reconciles the
// cached list against the remote record store. All merge decisions are made
// here; the remote store is treated as an unordered mirror.
package ledger

import (
	"context"
	"sync"

	"receiptpocket/internal/receipt"
	"receiptpocket/internal/remote"
	"go.uber.org/zap"
)

// Role is the session capability. Only the admin role may mutate.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Settings are display-level preferences, persisted locally only.
type Settings struct {
	AppName              string `json:"appName"`
	AutoDeleteMonths     int    `json:"autoDeleteMonths"`
	FiscalYearStartMonth int    `json:"fiscalYearStartMonth"`
}

// DefaultSettings mirrors the web client's initial state.
func DefaultSettings() Settings {
	return Settings{AppName: "領収書DB", FiscalYearStartMonth: 4}
}

// Remote is the record store surface the engine depends on.
type Remote interface {
	Upsert(ctx context.Context, r receipt.Receipt) (remote.UpsertResult, error)
	List(ctx context.Context) ([]receipt.Receipt, error)
	Delete(ctx context.Context, id string) error
	FetchConfig(ctx context.Context) (*remote.Config, error)
	SaveConfig(ctx context.Context, key string, value interface{}) error
}

// Level classifies a user-facing notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Notifier receives transient, auto-dismissing user notifications. Failures
// are surfaced here exactly once and then forgotten; there is no retry queue.
type Notifier interface {
	Notify(message string, level Level)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, Level) {}

// Engine is the local cache & merge engine. It is the only writer of the
// persisted list and tombstone set.
type Engine struct {
	store    Store
	remote   Remote
	logger   *zap.Logger
	notifier Notifier
	onChange func([]receipt.Receipt)

	mu                 sync.Mutex
	receipts           []receipt.Receipt
	tombstones         map[string]struct{}
	categories         []string
	reimbursementNames []string
	settings           Settings
	role               Role
	pulling            bool
	syncCount          int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier routes user notifications to n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithOnChange registers a callback invoked with the sorted list after every
// persisted change. The slice passed is a copy.
func WithOnChange(fn func([]receipt.Receipt)) Option {
	return func(e *Engine) { e.onChange = fn }
}

// NewEngine loads persisted state from the store and returns a ready engine.
// Unreadable state is logged and replaced with defaults rather than failing,
// so a corrupt cache never locks the user out.
func NewEngine(store Store, rem Remote, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		remote:     rem,
		logger:     logger,
		notifier:   noopNotifier{},
		tombstones: make(map[string]struct{}),
		categories: append([]string(nil), receipt.DefaultCategories...),
		settings:   DefaultSettings(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.loadState()
	return e
}

func (e *Engine) loadState() {
	if _, err := e.store.Get(keyReceipts, &e.receipts); err != nil {
		e.logger.Warn("Failed to load cached receipts, starting empty", zap.Error(err))
		e.receipts = nil
	}

	var deleted []string
	if _, err := e.store.Get(keyTombstones, &deleted); err != nil {
		e.logger.Warn("Failed to load tombstone set", zap.Error(err))
	}
	for _, id := range deleted {
		e.tombstones[id] = struct{}{}
	}

	var cats []string
	if ok, err := e.store.Get(keyCategories, &cats); err != nil {
		e.logger.Warn("Failed to load categories", zap.Error(err))
	} else if ok && len(cats) > 0 {
		e.categories = cats
	}

	if _, err := e.store.Get(keyReimbursementNames, &e.reimbursementNames); err != nil {
		e.logger.Warn("Failed to load reimbursement names", zap.Error(err))
	}

	var s Settings
	if ok, err := e.store.Get(keySettings, &s); err != nil {
		e.logger.Warn("Failed to load settings", zap.Error(err))
	} else if ok {
		e.settings = s
	}

	var role Role
	if ok, err := e.store.Get(keySessionRole, &role); err != nil {
		e.logger.Warn("Failed to load session role", zap.Error(err))
	} else if ok {
		e.role = role
	}
}

// persistReceiptsLocked sorts the list, writes it through, and publishes the
// change. Callers must hold e.mu.
func (e *Engine) persistReceiptsLocked() {
	receipt.Sort(e.receipts)
	if err := e.store.Put(keyReceipts, e.receipts); err != nil {
		e.logger.Error("Failed to persist receipt list", zap.Error(err))
	}
	if e.onChange != nil {
		e.onChange(append([]receipt.Receipt(nil), e.receipts...))
	}
}

func (e *Engine) persistTombstonesLocked() {
	ids := make([]string, 0, len(e.tombstones))
	for id := range e.tombstones {
		ids = append(ids, id)
	}
	if err := e.store.Put(keyTombstones, ids); err != nil {
		e.logger.Error("Failed to persist tombstone set", zap.Error(err))
	}
}

func (e *Engine) isAdminLocked() bool { return e.role == RoleAdmin }

// ApplyCreate registers a new receipt: push first, insert locally only once
// the store confirmed. Creating an id that already exists locally is an
// idempotent success. Returns false when the caller lacks the admin role or
// the push failed; a failed create leaves no local trace.
func (e *Engine) ApplyCreate(ctx context.Context, r receipt.Receipt) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	for _, existing := range e.receipts {
		if existing.ID == r.ID {
			e.mu.Unlock()
			e.notifier.Notify("この領収書は登録済みです", LevelInfo)
			return true
		}
	}
	fallback := ""
	if len(e.categories) > 0 {
		fallback = e.categories[0]
	}
	e.mu.Unlock()

	r.Normalize(fallback)

	result, err := e.remote.Upsert(ctx, r)
	if err != nil || !result.Success {
		e.logger.Warn("Receipt create push failed", zap.String("id", r.ID), zap.Error(err))
		e.notifier.Notify("保存に失敗しました", LevelError)
		return false
	}

	if result.URL != "" {
		r.ImageURL = result.URL
	}
	if result.EvidenceURL != "" {
		r.EvidenceURL = result.EvidenceURL
	}
	r.Synced = true

	e.mu.Lock()
	e.receipts = append(e.receipts, r)
	e.persistReceiptsLocked()
	e.mu.Unlock()

	e.notifier.Notify("クラウドに保存しました", LevelSuccess)
	return true
}

// ApplyUpdate writes the new value locally first (optimistic), then pushes.
// A failed push keeps the optimistic value with its prior synced flag; there
// is no rollback and no retry scheduling. Returns whether the push succeeded.
func (e *Engine) ApplyUpdate(ctx context.Context, r receipt.Receipt) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	fallback := ""
	if len(e.categories) > 0 {
		fallback = e.categories[0]
	}
	r.Normalize(fallback)
	for i := range e.receipts {
		if e.receipts[i].ID == r.ID {
			e.receipts[i] = r
			break
		}
	}
	e.persistReceiptsLocked()
	e.mu.Unlock()

	result, err := e.remote.Upsert(ctx, r)
	if err != nil || !result.Success {
		e.logger.Warn("Receipt update push failed", zap.String("id", r.ID), zap.Error(err))
		return false
	}

	e.mu.Lock()
	for i := range e.receipts {
		if e.receipts[i].ID == r.ID {
			e.receipts[i].Synced = true
			break
		}
	}
	e.persistReceiptsLocked()
	e.mu.Unlock()
	return true
}

// ApplyDelete removes one receipt. The id enters the tombstone set before
// the local list changes and before the remote call, so a concurrent pull
// cannot resurrect the record. The local deletion is final regardless of the
// remote outcome.
func (e *Engine) ApplyDelete(ctx context.Context, id string) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	e.tombstones[id] = struct{}{}
	e.persistTombstonesLocked()
	e.removeLocked(func(r receipt.Receipt) bool { return r.ID == id })
	e.mu.Unlock()

	if err := e.remote.Delete(ctx, id); err != nil {
		e.logger.Warn("Remote delete failed, local deletion stands", zap.String("id", id), zap.Error(err))
		e.notifier.Notify("クラウド側の削除に失敗しました", LevelInfo)
		return false
	}
	e.notifier.Notify("削除しました", LevelSuccess)
	return true
}

// ApplyDeleteMany deletes a batch of ids. Remote failures are ignored per id.
func (e *Engine) ApplyDeleteMany(ctx context.Context, ids []string) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
		e.tombstones[id] = struct{}{}
	}
	e.persistTombstonesLocked()
	e.removeLocked(func(r receipt.Receipt) bool {
		_, ok := set[r.ID]
		return ok
	})
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.remote.Delete(ctx, id); err != nil {
			e.logger.Warn("Remote delete failed during bulk delete", zap.String("id", id), zap.Error(err))
		}
	}
	e.notifier.Notify("一括削除が完了しました", LevelSuccess)
	return true
}

// ApplyDeleteMonth deletes every receipt whose date falls in the given
// month ("2024-05").
func (e *Engine) ApplyDeleteMonth(ctx context.Context, month string) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	var targets []string
	for _, r := range e.receipts {
		if r.InMonth(month) {
			targets = append(targets, r.ID)
			e.tombstones[r.ID] = struct{}{}
		}
	}
	e.persistTombstonesLocked()
	e.removeLocked(func(r receipt.Receipt) bool { return r.InMonth(month) })
	e.mu.Unlock()

	for _, id := range targets {
		if err := e.remote.Delete(ctx, id); err != nil {
			e.logger.Warn("Remote delete failed during month delete", zap.String("id", id), zap.Error(err))
		}
	}
	e.notifier.Notify("月次削除が完了しました", LevelSuccess)
	return true
}

// removeLocked drops matching receipts and persists. Callers hold e.mu.
func (e *Engine) removeLocked(match func(receipt.Receipt) bool) {
	kept := e.receipts[:0]
	for _, r := range e.receipts {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	e.receipts = kept
	e.persistReceiptsLocked()
}

// Reconcile pulls the remote snapshot and merges it into the local list:
// tombstoned ids are dropped, surviving remote records are marked synced, and
// locally-pending (unsynced) records the snapshot has not seen yet survive.
// At most one reconciliation runs at a time; a call made while one is in
// flight returns immediately without effect. A snapshot fetch failure aborts
// before any local mutation; a config fetch failure is tolerated.
func (e *Engine) Reconcile(ctx context.Context, manual bool) bool {
	e.mu.Lock()
	if e.role == "" || e.pulling {
		e.mu.Unlock()
		return false
	}
	e.pulling = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.pulling = false
		e.mu.Unlock()
	}()

	snapshot, err := e.remote.List(ctx)
	if err != nil {
		e.logger.Warn("Reconcile aborted, snapshot fetch failed", zap.Error(err))
		if manual {
			e.notifier.Notify("同期に失敗しました", LevelError)
		}
		return false
	}

	cfg, cfgErr := e.remote.FetchConfig(ctx)
	if cfgErr != nil {
		e.logger.Warn("Config fetch failed, keeping local settings", zap.Error(cfgErr))
	}

	e.mu.Lock()

	// Re-read the persisted list rather than trusting memory, to pick up
	// anything written by another process sharing the store.
	current := e.receipts
	var persisted []receipt.Receipt
	if ok, err := e.store.Get(keyReceipts, &persisted); err == nil && ok {
		current = persisted
	}

	merged := make(map[string]receipt.Receipt, len(snapshot))
	for _, r := range snapshot {
		if _, deleted := e.tombstones[r.ID]; deleted {
			continue
		}
		r.Synced = true
		merged[r.ID] = r
	}
	for _, r := range current {
		if r.Synced {
			continue
		}
		if _, deleted := e.tombstones[r.ID]; deleted {
			continue
		}
		if _, present := merged[r.ID]; !present {
			merged[r.ID] = r
		}
	}

	list := make([]receipt.Receipt, 0, len(merged))
	for _, r := range merged {
		list = append(list, r)
	}
	e.receipts = list
	e.persistReceiptsLocked()

	if cfg != nil {
		e.applyConfigLocked(cfg)
	}
	e.syncCount++
	e.mu.Unlock()

	if manual {
		e.notifier.Notify("クラウドと同期しました", LevelSuccess)
	}
	return true
}

func (e *Engine) applyConfigLocked(cfg *remote.Config) {
	if len(cfg.Categories) > 0 {
		e.categories = cfg.Categories
		if err := e.store.Put(keyCategories, cfg.Categories); err != nil {
			e.logger.Error("Failed to persist categories", zap.Error(err))
		}
	}
	if cfg.ReimbursementNames != nil {
		e.reimbursementNames = cfg.ReimbursementNames
		if err := e.store.Put(keyReimbursementNames, cfg.ReimbursementNames); err != nil {
			e.logger.Error("Failed to persist reimbursement names", zap.Error(err))
		}
	}
}

// FullLocalReset is the manual escape hatch for diverged state: it clears the
// tombstone set and the cached list, then replaces both wholesale from the
// remote snapshot.
func (e *Engine) FullLocalReset(ctx context.Context) bool {
	e.mu.Lock()
	e.tombstones = make(map[string]struct{})
	if err := e.store.Delete(keyTombstones); err != nil {
		e.logger.Error("Failed to clear tombstone set", zap.Error(err))
	}
	e.receipts = nil
	if err := e.store.Delete(keyReceipts); err != nil {
		e.logger.Error("Failed to clear cached receipts", zap.Error(err))
	}
	e.mu.Unlock()

	snapshot, err := e.remote.List(ctx)
	if err != nil {
		e.logger.Warn("Reset refetch failed", zap.Error(err))
		e.notifier.Notify("再取得に失敗しました", LevelError)
		return false
	}

	e.mu.Lock()
	for i := range snapshot {
		snapshot[i].Synced = true
	}
	e.receipts = snapshot
	e.persistReceiptsLocked()
	e.mu.Unlock()

	e.notifier.Notify("リセット完了", LevelSuccess)
	return true
}
