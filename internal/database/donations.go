package database

import (
	"context"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/jredh-dev/goodwill/pkg/models"
)

const donationColumns = `id, donor_id, title, description, category, condition, photos, location, city, state,
	zip_code, pickup_available, drop_off_available, pickup_notes, drop_off_notes, status,
	accepted_request_id, created_at, updated_at`

// CreateDonation inserts a new donation.
func (s *Store) CreateDonation(ctx context.Context, d *models.Donation) error {
	const q = `INSERT INTO donations (` + donationColumns + `)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, q,
		d.ID, d.DonorID, d.Title, d.Description, d.Category, d.Condition, d.Photos,
		d.Location, d.City, d.State, d.ZipCode, d.PickupAvailable, d.DropOffAvailable,
		d.PickupNotes, d.DropOffNotes, d.Status, d.AcceptedRequestID, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

// GetDonation returns a donation by ID. Returns (nil, nil) if absent.
func (s *Store) GetDonation(ctx context.Context, id string) (*models.Donation, error) {
	d := &models.Donation{}
	ok, err := s.get(ctx, d, `SELECT `+donationColumns+` FROM donations WHERE id = ?`, id)
	if !ok {
		return nil, err
	}
	return d, nil
}

// SearchDonations lists donations matching f, newest first. Query matches
// title, description, city or state case-insensitively.
func (s *Store) SearchDonations(ctx context.Context, f models.DonationFilter) ([]models.Donation, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(donationColumns)
	sb.From("donations")

	var where []string
	if f.Status != "" {
		where = append(where, sb.Equal("status", f.Status))
	}
	if f.Category != "" {
		where = append(where, sb.Equal("category", f.Category))
	}
	if f.Condition != "" {
		where = append(where, sb.Equal("condition", f.Condition))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		where = append(where, sb.Or(
			sb.Like("LOWER(title)", pattern),
			sb.Like("LOWER(description)", pattern),
			sb.Like("LOWER(city)", pattern),
			sb.Like("LOWER(state)", pattern),
		))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at DESC", "id")
	if f.Limit > 0 {
		sb.Limit(f.Limit).Offset(f.Offset)
	}

	query, args := sb.Build()
	donations := []models.Donation{}
	err := s.q.SelectContext(ctx, &donations, query, args...)
	return donations, err
}

// ListDonationsByDonor returns a donor's donations, newest first.
func (s *Store) ListDonationsByDonor(ctx context.Context, donorID string) ([]models.Donation, error) {
	donations := []models.Donation{}
	err := s.q.SelectContext(ctx, &donations,
		`SELECT `+donationColumns+` FROM donations WHERE donor_id = ? ORDER BY created_at DESC, id`, donorID)
	return donations, err
}

// TransitionDonation moves a donation from one status to another only if it
// is still in the expected status at write time. When acceptedRequestID is
// non-nil it is written too, but only into an empty slot. Returns false if
// no row matched, meaning another writer got there first or the donation
// does not exist.
func (s *Store) TransitionDonation(ctx context.Context, id string, from, to models.DonationStatus, acceptedRequestID *string, at time.Time) (bool, error) {
	var (
		n   int64
		err error
	)
	if acceptedRequestID != nil {
		n, err = s.exec(ctx,
			`UPDATE donations SET status = ?, accepted_request_id = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND accepted_request_id IS NULL`,
			to, *acceptedRequestID, at, id, from)
	} else {
		n, err = s.exec(ctx,
			`UPDATE donations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			to, at, id, from)
	}
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountActiveDonations counts a donor's donations that have not reached a
// terminal status.
func (s *Store) CountActiveDonations(ctx context.Context, donorID string) (int, error) {
	var n int
	err := s.q.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM donations WHERE donor_id = ? AND status IN ('OFFERED', 'ACCEPTED', 'IN_TRANSIT')`, donorID)
	return n, err
}
