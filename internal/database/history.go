package database

import (
	"context"

	"github.com/jredh-dev/goodwill/pkg/models"
)

// The two ledgers share a shape; the table name is never user input.
const (
	donationHistoryTable = "donation_status_history"
	requestHistoryTable  = "request_status_history"
)

// AppendDonationHistory appends an entry to a donation's status ledger.
func (s *Store) AppendDonationHistory(ctx context.Context, e *models.HistoryEntry) error {
	return s.appendHistory(ctx, donationHistoryTable, e)
}

// AppendRequestHistory appends an entry to a request's status ledger.
func (s *Store) AppendRequestHistory(ctx context.Context, e *models.HistoryEntry) error {
	return s.appendHistory(ctx, requestHistoryTable, e)
}

// ListDonationHistory returns a donation's ledger in append order.
func (s *Store) ListDonationHistory(ctx context.Context, donationID string) ([]models.HistoryEntry, error) {
	return s.listHistory(ctx, donationHistoryTable, donationID)
}

// ListRequestHistory returns a request's ledger in append order.
func (s *Store) ListRequestHistory(ctx context.Context, requestID string) ([]models.HistoryEntry, error) {
	return s.listHistory(ctx, requestHistoryTable, requestID)
}

func (s *Store) appendHistory(ctx context.Context, table string, e *models.HistoryEntry) error {
	q := `INSERT INTO ` + table + ` (id, parent_id, status, notes, changed_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.q.ExecContext(ctx, q, e.ID, e.ParentID, e.Status, e.Notes, e.ChangedBy, e.CreatedAt)
	if err != nil {
		return err
	}
	if seq, err := res.LastInsertId(); err == nil {
		e.Seq = seq
	}
	return nil
}

func (s *Store) listHistory(ctx context.Context, table, parentID string) ([]models.HistoryEntry, error) {
	entries := []models.HistoryEntry{}
	q := `SELECT seq, id, parent_id, status, notes, changed_by, created_at FROM ` + table + ` WHERE parent_id = ? ORDER BY seq`
	err := s.q.SelectContext(ctx, &entries, q, parentID)
	return entries, err
}
