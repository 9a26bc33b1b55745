// Package repository handles database access for the record store.
package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"receiptpocket/internal/receipt"
)

// ReceiptRepository handles receipt metadata database operations.
type ReceiptRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReceiptRepository creates a new receipt repository.
func NewReceiptRepository(db *sql.DB, logger *zap.Logger) *ReceiptRepository {
	return &ReceiptRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts a receipt row or updates the existing row with the same id.
// Immutable columns (mimeType, profile, createdAt) keep their original values
// on update.
func (r *ReceiptRepository) Upsert(rec *receipt.Receipt) error {
	query := `
		INSERT INTO receipts (
			id, title, date, vendor, amount, category, paymentMethod,
			description, referenceUrl, imageUrl, evidenceUrl, mimeType,
			fileHash, profile, createdAt, isReimbursement, reimbursedBy, assetType
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			date = excluded.date,
			vendor = excluded.vendor,
			amount = excluded.amount,
			category = excluded.category,
			paymentMethod = excluded.paymentMethod,
			description = excluded.description,
			referenceUrl = excluded.referenceUrl,
			imageUrl = excluded.imageUrl,
			evidenceUrl = excluded.evidenceUrl,
			fileHash = excluded.fileHash,
			isReimbursement = excluded.isReimbursement,
			reimbursedBy = excluded.reimbursedBy,
			assetType = excluded.assetType
	`

	_, err := r.db.Exec(query,
		rec.ID,
		rec.Title,
		rec.Date,
		rec.Vendor,
		rec.Amount,
		rec.Category,
		rec.PaymentMethod,
		rec.Description,
		rec.ReferenceURL,
		rec.ImageURL,
		rec.EvidenceURL,
		rec.MimeType,
		rec.FileHash,
		rec.Profile,
		rec.CreatedAt,
		boolToInt(rec.IsReimbursement),
		rec.ReimbursedBy,
		rec.AssetType,
	)
	if err != nil {
		r.logger.Error("Failed to upsert receipt", zap.String("id", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert receipt: %w", err)
	}
	return nil
}

// List returns all receipts ordered by date descending, then creation time
// descending.
func (r *ReceiptRepository) List() ([]receipt.Receipt, error) {
	query := `
		SELECT id, title, date, vendor, amount, category, paymentMethod,
			description, referenceUrl, imageUrl, evidenceUrl, mimeType,
			fileHash, profile, createdAt, isReimbursement, reimbursedBy, assetType
		FROM receipts
		ORDER BY date DESC, createdAt DESC
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]receipt.Receipt, 0)
	for rows.Next() {
		var rec receipt.Receipt
		var isReimbursement int
		if err := rows.Scan(
			&rec.ID,
			&rec.Title,
			&rec.Date,
			&rec.Vendor,
			&rec.Amount,
			&rec.Category,
			&rec.PaymentMethod,
			&rec.Description,
			&rec.ReferenceURL,
			&rec.ImageURL,
			&rec.EvidenceURL,
			&rec.MimeType,
			&rec.FileHash,
			&rec.Profile,
			&rec.CreatedAt,
			&isReimbursement,
			&rec.ReimbursedBy,
			&rec.AssetType,
		); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		rec.IsReimbursement = isReimbursement != 0
		receipts = append(receipts, rec)
	}
	return receipts, rows.Err()
}

// Delete removes the receipt row with the given id. Returns whether a row was
// deleted.
func (r *ReceiptRepository) Delete(id string) (bool, error) {
	result, err := r.db.Exec("DELETE FROM receipts WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to delete receipt", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete receipt: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
