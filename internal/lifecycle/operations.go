package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/evidence"
	"github.com/jredh-dev/goodwill/pkg/models"
)

// party is how an actor relates to a donation.
type party int

const (
	notParty party = iota
	asDonor
	asRecipient
	asAdmin
)

func (p party) label() string {
	switch p {
	case asDonor:
		return "donor"
	case asRecipient:
		return "recipient"
	case asAdmin:
		return "administrator"
	default:
		return "unknown"
	}
}

// relation resolves the actor's role on d and the bound recipient's id, if
// the donation has one. The donor role wins over admin for a donor who is
// also an admin.
func (e *Engine) relation(ctx context.Context, s *database.Store, d *models.Donation, actor models.Actor) (party, string, error) {
	var recipientID string
	if d.AcceptedRequestID != nil {
		req, err := s.GetRequest(ctx, *d.AcceptedRequestID)
		if err != nil {
			return notParty, "", fmt.Errorf("get accepted request: %w", err)
		}
		if req != nil {
			recipientID = req.RecipientID
		}
	}

	switch {
	case d.DonorID == actor.ID:
		return asDonor, recipientID, nil
	case recipientID != "" && recipientID == actor.ID:
		return asRecipient, recipientID, nil
	case actor.IsAdmin():
		return asAdmin, recipientID, nil
	default:
		return notParty, recipientID, nil
	}
}

// counterpart picks who hears about a change. A donor acting before any
// recipient is bound is told about their own change so that every
// transition still leaves exactly one notice.
func counterpart(p party, d *models.Donation, recipientID string) string {
	if p == asDonor && recipientID != "" {
		return recipientID
	}
	return d.DonorID
}

// CreateDonation lists a new item in OFFERED. Photos are stored before
// anything is written; a failed write removes them again.
func (e *Engine) CreateDonation(ctx context.Context, actor models.Actor, fields models.DonationFields, photos []evidence.Upload) (_ *models.Donation, err error) {
	ctx, done := e.begin(ctx, "create_donation")
	defer done(&err)

	if actor.Role != models.RoleDonor {
		return nil, Forbidden("only donors can list donations")
	}
	if err := ValidateFields(fields); err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, Validation("at least one photo is required")
	}
	if len(photos) > e.policy.MaxPhotos {
		return nil, Validation("at most %d photos are allowed", e.policy.MaxPhotos)
	}

	at := e.now()
	d := &models.Donation{
		ID:               e.newID(),
		DonorID:          actor.ID,
		Title:            fields.Title,
		Description:      fields.Description,
		Category:         fields.Category,
		Condition:        fields.Condition,
		Location:         fields.Location,
		City:             fields.City,
		State:            fields.State,
		ZipCode:          fields.ZipCode,
		PickupAvailable:  fields.PickupAvailable,
		DropOffAvailable: fields.DropOffAvailable,
		PickupNotes:      fields.PickupNotes,
		DropOffNotes:     fields.DropOffNotes,
		Status:           models.StatusOffered,
		CreatedAt:        at,
		UpdatedAt:        at,
	}

	stored, err := e.capture.StoreDonationPhotos(ctx, d.ID, photos)
	if err != nil {
		return nil, wrapStorage(err)
	}
	d.Photos = stored.PhotoRefs

	err = e.db.InTx(ctx, func(s *database.Store) error {
		if err := s.CreateDonation(ctx, d); err != nil {
			return fmt.Errorf("create donation: %w", err)
		}
		if err := s.AppendDonationHistory(ctx, e.historyEntry(d.ID, string(models.StatusOffered), nil, actor, at)); err != nil {
			return fmt.Errorf("append donation history: %w", err)
		}
		if err := s.AppendAudit(ctx, e.auditEntry(actor, models.ActionDonationCreated, models.EntityDonation, d.ID, nil, at)); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		e.capture.Discard(ctx, stored)
		return nil, err
	}
	return d, nil
}

// SubmitRequest records a recipient's interest in an OFFERED donation and
// tells the donor. The donation itself is not changed.
func (e *Engine) SubmitRequest(ctx context.Context, actor models.Actor, donationID string) (_ *models.Request, err error) {
	ctx, done := e.begin(ctx, "submit_request")
	defer done(&err)

	if actor.Role != models.RoleRecipient {
		return nil, Forbidden("only recipients can request donations")
	}

	unlock, err := e.lock(ctx, donationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var req *models.Request
	err = e.db.InTx(ctx, func(s *database.Store) error {
		d, err := e.loadDonation(ctx, s, donationID)
		if err != nil {
			return err
		}
		if d.Status != models.StatusOffered {
			return unavailable(d.Status, models.StatusOffered)
		}

		existing, err := s.FindRequest(ctx, d.ID, actor.ID)
		if err != nil {
			return fmt.Errorf("find request: %w", err)
		}
		if existing != nil {
			return ErrDuplicateRequest
		}

		at := e.now()
		req = &models.Request{
			ID:          e.newID(),
			DonationID:  d.ID,
			RecipientID: actor.ID,
			Title:       "Request for " + d.Title,
			Description: fmt.Sprintf("Requesting %s from %s, %s", d.Title, d.City, d.State),
			Category:    d.Category,
			Status:      models.RequestOffered,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
		if err := s.CreateRequest(ctx, req); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return ErrDuplicateRequest
			}
			return fmt.Errorf("create request: %w", err)
		}
		if err := s.AppendRequestHistory(ctx, e.historyEntry(req.ID, string(models.RequestOffered), nil, actor, at)); err != nil {
			return fmt.Errorf("append request history: %w", err)
		}

		n := notice{
			userID:  d.DonorID,
			kind:    models.NotificationNewRequest,
			title:   "New Donation Request",
			message: fmt.Sprintf("%s has requested your donation %q", actor.FullName(), d.Title),
		}
		if err := s.CreateNotification(ctx, e.notification(d.ID, n, at)); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}

		details := models.Details{"donationId": d.ID}
		if err := s.AppendAudit(ctx, e.auditEntry(actor, models.ActionDonationRequested, models.EntityRequest, req.ID, details, at)); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// AcceptRequest binds one request to an OFFERED donation. This is the only
// place acceptedRequestId is ever written; a second accept on the same
// donation fails with DonationUnavailable.
func (e *Engine) AcceptRequest(ctx context.Context, actor models.Actor, donationID, requestID string) (_ *models.Donation, err error) {
	ctx, done := e.begin(ctx, "accept_request")
	defer done(&err)

	return e.mutate(ctx, actor, donationID, func(s *database.Store, d *models.Donation) (change, error) {
		if d.DonorID != actor.ID {
			return change{}, Forbidden("only the donor can accept requests for this donation")
		}
		if d.Status != models.StatusOffered {
			return change{}, unavailable(d.Status, models.StatusOffered)
		}

		req, err := s.GetRequest(ctx, requestID)
		if err != nil {
			return change{}, fmt.Errorf("get request: %w", err)
		}
		if req == nil || req.DonationID != d.ID {
			return change{}, ErrRequestMismatch
		}

		recipient, err := s.GetParty(ctx, req.RecipientID)
		if err != nil {
			return change{}, fmt.Errorf("get recipient: %w", err)
		}
		name := req.RecipientID
		if recipient != nil {
			name = recipient.FirstName + " " + recipient.LastName
		}

		return change{
			to:    models.StatusAccepted,
			notes: strPtr("Accepted request from " + name),
			bind:  req,
			notify: notice{
				userID:  req.RecipientID,
				kind:    models.NotificationStatusUpdate,
				title:   "Request Accepted!",
				message: fmt.Sprintf("Your request for %q has been accepted. You can now coordinate pickup/delivery.", d.Title),
			},
			action:  models.ActionRequestAccepted,
			details: models.Details{"requestId": req.ID, "recipientId": req.RecipientID},
		}, nil
	})
}

// UpdateStatus moves a donation along the transition table. The donor, the
// bound recipient and admins may call it. Acceptance goes through
// AcceptRequest; a direct DELIVERED is refused when the policy requires
// delivery evidence.
func (e *Engine) UpdateStatus(ctx context.Context, actor models.Actor, donationID string, target models.DonationStatus, notes string) (_ *models.Donation, err error) {
	ctx, done := e.begin(ctx, "update_status")
	defer done(&err)

	return e.mutate(ctx, actor, donationID, func(s *database.Store, d *models.Donation) (change, error) {
		p, recipientID, err := e.relation(ctx, s, d, actor)
		if err != nil {
			return change{}, err
		}
		if p == notParty {
			return change{}, Forbidden("not allowed to update this donation")
		}
		if !CanTransition(d.Status, target) || target == models.StatusAccepted {
			return change{}, invalidTransition(d.Status, target)
		}
		if target == models.StatusDelivered && e.policy.RequireDeliveryEvidence {
			return change{}, Validation("delivery evidence is required; confirm the delivery instead")
		}

		var after func(s *database.Store, at time.Time) error
		if target == models.StatusDelivered {
			// A direct DELIVERED still leaves an evidence record, with no artefacts.
			after = func(s *database.Store, at time.Time) error {
				ev := &models.DeliveryEvidence{
					ID:          e.newID(),
					DonationID:  d.ID,
					Notes:       strPtr(notes),
					ConfirmedBy: actor.ID,
					CreatedAt:   at,
				}
				if err := s.CreateDeliveryEvidence(ctx, ev); err != nil {
					return fmt.Errorf("record delivery evidence: %w", err)
				}
				return nil
			}
		}

		return change{
			to:    target,
			notes: strPtr(notes),
			notify: notice{
				userID:  counterpart(p, d, recipientID),
				kind:    models.NotificationStatusUpdate,
				title:   "Donation Status Updated",
				message: fmt.Sprintf("Donation %q status changed to %s", d.Title, target.Label()),
			},
			action: models.ActionDonationStatusUpdated,
			details: models.Details{
				"oldStatus": string(d.Status),
				"newStatus": string(target),
				"notes":     strPtr(notes),
			},
			after: after,
		}, nil
	})
}

// ConfirmDelivery stores delivery evidence and then moves an IN_TRANSIT
// donation to DELIVERED. Evidence goes first: if it cannot be stored the
// donation is not touched, and if the transition fails the stored evidence
// is removed.
func (e *Engine) ConfirmDelivery(ctx context.Context, actor models.Actor, donationID string, sub evidence.Submission) (_ *models.Donation, err error) {
	ctx, done := e.begin(ctx, "confirm_delivery")
	defer done(&err)

	unlock, err := e.lock(ctx, donationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reject early so that nothing is uploaded for a doomed confirmation.
	if err := e.checkDelivery(ctx, e.db.Store(), actor, donationID); err != nil {
		return nil, err
	}
	if e.policy.RequireDeliveryEvidence && sub.Empty() {
		return nil, Validation("at least one delivery photo or a signature is required")
	}

	stored, err := e.capture.Store(ctx, donationID, sub)
	if err != nil {
		return nil, wrapStorage(err)
	}

	var out *models.Donation
	err = e.db.InTx(ctx, func(s *database.Store) error {
		d, err := e.loadDonation(ctx, s, donationID)
		if err != nil {
			return err
		}
		p, recipientID, err := e.relation(ctx, s, d, actor)
		if err != nil {
			return err
		}
		if p == notParty {
			return Forbidden("not allowed to confirm delivery of this donation")
		}
		if d.Status != models.StatusInTransit {
			return unavailable(d.Status, models.StatusInTransit)
		}

		c := change{
			to:     models.StatusDelivered,
			notes:  strPtr(deliveryNote(p, stored)),
			notify: deliveryNotice(p, d, recipientID),
			action: models.ActionDeliveryConfirmed,
			details: models.Details{
				"oldStatus":      string(d.Status),
				"newStatus":      string(models.StatusDelivered),
				"deliveryPhotos": stored.PhotoRefs,
				"signaturePath":  stored.SignatureRef,
				"notes":          stored.Notes,
				"confirmedBy":    p.label(),
			},
			after: func(s *database.Store, at time.Time) error {
				ev := &models.DeliveryEvidence{
					ID:           e.newID(),
					DonationID:   donationID,
					PhotoRefs:    stored.PhotoRefs,
					SignatureRef: stored.SignatureRef,
					Notes:        stored.Notes,
					ConfirmedBy:  actor.ID,
					CreatedAt:    at,
				}
				if err := s.CreateDeliveryEvidence(ctx, ev); err != nil {
					return fmt.Errorf("record delivery evidence: %w", err)
				}
				return nil
			},
		}
		if err := e.apply(ctx, s, actor, d, c); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		e.capture.Discard(ctx, stored)
		return nil, err
	}
	return out, nil
}

// checkDelivery runs the confirmDelivery preconditions against the current
// state, outside any transaction.
func (e *Engine) checkDelivery(ctx context.Context, s *database.Store, actor models.Actor, donationID string) error {
	d, err := e.loadDonation(ctx, s, donationID)
	if err != nil {
		return err
	}
	p, _, err := e.relation(ctx, s, d, actor)
	if err != nil {
		return err
	}
	if p == notParty {
		return Forbidden("not allowed to confirm delivery of this donation")
	}
	if d.Status != models.StatusInTransit {
		return unavailable(d.Status, models.StatusInTransit)
	}
	return nil
}

// deliveryNote is the history note of a DELIVERED entry: the caller's
// notes, or a summary, followed by the stored evidence references.
func deliveryNote(p party, stored *evidence.Stored) string {
	var b strings.Builder
	if stored.Notes != nil {
		b.WriteString(*stored.Notes)
	} else {
		signed := "No"
		if stored.SignatureRef != nil {
			signed = "Yes"
		}
		fmt.Fprintf(&b, "Delivery confirmed by %s. Photos: %d, Signature: %s", p.label(), len(stored.PhotoRefs), signed)
	}

	refs := append([]string{}, stored.PhotoRefs...)
	if stored.SignatureRef != nil {
		refs = append(refs, *stored.SignatureRef)
	}
	if len(refs) > 0 {
		b.WriteString("\nEvidence: ")
		b.WriteString(strings.Join(refs, ", "))
	}
	return b.String()
}

func deliveryNotice(p party, d *models.Donation, recipientID string) notice {
	n := notice{
		userID: counterpart(p, d, recipientID),
		kind:   models.NotificationStatusUpdate,
	}
	switch p {
	case asRecipient:
		n.title = "Delivery Confirmed!"
		n.message = fmt.Sprintf("Delivery of %q has been confirmed by the recipient.", d.Title)
	case asAdmin:
		n.title = "Delivery Confirmed"
		n.message = fmt.Sprintf("Delivery of %q has been confirmed by an administrator.", d.Title)
	default:
		n.title = "Delivery Confirmed"
		n.message = fmt.Sprintf("Delivery of %q has been confirmed.", d.Title)
	}
	return n
}
