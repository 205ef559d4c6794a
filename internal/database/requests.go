package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jredh-dev/goodwill/pkg/models"
)

const requestColumns = `id, donation_id, recipient_id, title, description, category, status, created_at, updated_at`

// CreateRequest inserts a new request. A second request for the same
// (recipient, donation) pair fails with ErrDuplicate.
func (s *Store) CreateRequest(ctx context.Context, r *models.Request) error {
	const q = `INSERT INTO requests (` + requestColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, q,
		r.ID, r.DonationID, r.RecipientID, r.Title, r.Description, r.Category,
		r.Status, r.CreatedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("request for donation %s by %s: %w", r.DonationID, r.RecipientID, ErrDuplicate)
	}
	return err
}

// GetRequest returns a request by ID. Returns (nil, nil) if absent.
func (s *Store) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	r := &models.Request{}
	ok, err := s.get(ctx, r, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	if !ok {
		return nil, err
	}
	return r, nil
}

// FindRequest returns the request a recipient made for a donation, if any.
func (s *Store) FindRequest(ctx context.Context, donationID, recipientID string) (*models.Request, error) {
	r := &models.Request{}
	ok, err := s.get(ctx, r,
		`SELECT `+requestColumns+` FROM requests WHERE donation_id = ? AND recipient_id = ?`,
		donationID, recipientID)
	if !ok {
		return nil, err
	}
	return r, nil
}

// requestRow is a request joined with its recipient's public fields.
type requestRow struct {
	models.Request
	RecipientFirstName string `db:"recipient_first_name"`
	RecipientLastName  string `db:"recipient_last_name"`
}

// ListRequestsByDonation returns every request for a donation in the order
// they were made, each with its recipient attached.
func (s *Store) ListRequestsByDonation(ctx context.Context, donationID string) ([]models.Request, error) {
	const q = `SELECT r.id, r.donation_id, r.recipient_id, r.title, r.description, r.category, r.status,
	                  r.created_at, r.updated_at,
	                  u.first_name AS recipient_first_name, u.last_name AS recipient_last_name
	           FROM requests r JOIN users u ON u.id = r.recipient_id
	           WHERE r.donation_id = ? ORDER BY r.created_at, r.id`

	var rows []requestRow
	if err := s.q.SelectContext(ctx, &rows, q, donationID); err != nil {
		return nil, err
	}

	requests := make([]models.Request, 0, len(rows))
	for _, row := range rows {
		req := row.Request
		req.Recipient = &models.Party{
			ID:        row.RecipientID,
			FirstName: row.RecipientFirstName,
			LastName:  row.RecipientLastName,
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// SetRequestStatus moves a request between statuses only if it still holds
// the expected one. Returns false if no row matched.
func (s *Store) SetRequestStatus(ctx context.Context, id string, from, to models.RequestStatus, at time.Time) (bool, error) {
	n, err := s.exec(ctx,
		`UPDATE requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, at, id, from)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountPendingRequests counts a recipient's OFFERED or ACCEPTED requests.
func (s *Store) CountPendingRequests(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.q.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM requests WHERE recipient_id = ? AND status IN ('OFFERED', 'ACCEPTED')`, recipientID)
	return n, err
}
