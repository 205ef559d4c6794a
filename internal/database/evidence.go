package database

import (
	"context"
	"fmt"

	"github.com/jredh-dev/goodwill/pkg/models"
)

const evidenceColumns = `id, donation_id, photo_refs, signature_ref, notes, confirmed_by, created_at`

// CreateDeliveryEvidence records the stored artefacts of a delivery. A
// donation has at most one evidence record.
func (s *Store) CreateDeliveryEvidence(ctx context.Context, e *models.DeliveryEvidence) error {
	const q = `INSERT INTO delivery_evidence (` + evidenceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, q,
		e.ID, e.DonationID, e.PhotoRefs, e.SignatureRef, e.Notes, e.ConfirmedBy, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("evidence for donation %s: %w", e.DonationID, ErrDuplicate)
	}
	return err
}

// GetDeliveryEvidence returns a donation's evidence. Returns (nil, nil) if
// none was recorded.
func (s *Store) GetDeliveryEvidence(ctx context.Context, donationID string) (*models.DeliveryEvidence, error) {
	e := &models.DeliveryEvidence{}
	ok, err := s.get(ctx, e, `SELECT `+evidenceColumns+` FROM delivery_evidence WHERE donation_id = ?`, donationID)
	if !ok {
		return nil, err
	}
	return e, nil
}
