package ledger

import (
	"context"

	"receiptpocket/internal/receipt"
	"go.uber.org/zap"
)

// Receipts returns a copy of the current sorted list.
func (e *Engine) Receipts() []receipt.Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]receipt.Receipt(nil), e.receipts...)
}

// Categories returns a copy of the active category list.
func (e *Engine) Categories() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.categories...)
}

// ReimbursementNames returns a copy of the reimbursement-name list.
func (e *Engine) ReimbursementNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.reimbursementNames...)
}

// Settings returns the current display settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Role returns the current session role, empty when logged out.
func (e *Engine) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// SyncCount returns the number of completed reconciliations this session.
// Display seed only, not a correctness mechanism.
func (e *Engine) SyncCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncCount
}

// SetRole records a verified session role and persists it.
func (e *Engine) SetRole(role Role) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.role = role
	if err := e.store.Put(keySessionRole, role); err != nil {
		e.logger.Error("Failed to persist session role", zap.Error(err))
	}
}

// Logout clears the session role.
func (e *Engine) Logout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.role = ""
	if err := e.store.Delete(keySessionRole); err != nil {
		e.logger.Error("Failed to clear session role", zap.Error(err))
	}
}

// UpdateSettings replaces the display settings. Local only; settings are not
// part of the remote config.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
	if err := e.store.Put(keySettings, s); err != nil {
		e.logger.Error("Failed to persist settings", zap.Error(err))
	}
}

// SetCategories replaces the category list, persists the mirror, and pushes
// the new list to the remote config store best-effort.
func (e *Engine) SetCategories(ctx context.Context, categories []string) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	e.categories = append([]string(nil), categories...)
	if err := e.store.Put(keyCategories, e.categories); err != nil {
		e.logger.Error("Failed to persist categories", zap.Error(err))
	}
	e.mu.Unlock()

	e.pushConfig(ctx, "categories", categories)
	return true
}

// RenameCategory renames a category everywhere: the list, the remote config,
// and every cached receipt carrying the old name.
func (e *Engine) RenameCategory(ctx context.Context, oldName, newName string) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	for i, c := range e.categories {
		if c == oldName {
			e.categories[i] = newName
		}
	}
	if err := e.store.Put(keyCategories, e.categories); err != nil {
		e.logger.Error("Failed to persist categories", zap.Error(err))
	}
	for i := range e.receipts {
		if e.receipts[i].Category == oldName {
			e.receipts[i].Category = newName
		}
	}
	e.persistReceiptsLocked()
	cats := append([]string(nil), e.categories...)
	e.mu.Unlock()

	e.pushConfig(ctx, "categories", cats)
	return true
}

// RemoveCategory drops a category from the list. Receipts keep their old
// category string; only the selectable list shrinks.
func (e *Engine) RemoveCategory(ctx context.Context, name string) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	kept := e.categories[:0]
	for _, c := range e.categories {
		if c != name {
			kept = append(kept, c)
		}
	}
	e.categories = kept
	if err := e.store.Put(keyCategories, e.categories); err != nil {
		e.logger.Error("Failed to persist categories", zap.Error(err))
	}
	cats := append([]string(nil), e.categories...)
	e.mu.Unlock()

	e.pushConfig(ctx, "categories", cats)
	return true
}

// SetReimbursementNames replaces the reimbursement-name list and pushes it.
func (e *Engine) SetReimbursementNames(ctx context.Context, names []string) bool {
	e.mu.Lock()
	if !e.isAdminLocked() {
		e.mu.Unlock()
		return false
	}
	e.reimbursementNames = append([]string(nil), names...)
	if err := e.store.Put(keyReimbursementNames, e.reimbursementNames); err != nil {
		e.logger.Error("Failed to persist reimbursement names", zap.Error(err))
	}
	e.mu.Unlock()

	e.pushConfig(ctx, "reimbursementNames", names)
	return true
}

func (e *Engine) pushConfig(ctx context.Context, key string, value interface{}) {
	if err := e.remote.SaveConfig(ctx, key, value); err != nil {
		e.logger.Warn("Config push failed", zap.String("key", key), zap.Error(err))
	}
}
