package lifecycle

import (
	"context"
	"fmt"

	"github.com/jredh-dev/goodwill/pkg/models"
)

const (
	defaultNotificationLimit = 50
	maxBrowseLimit           = 100
	defaultAuditLimit        = 100
)

// GetDonation returns the detail view of a donation. Any signed-in user may
// see the listing and its ledger; the full request list is shown to the
// donor and admins, while everyone else sees only their own request.
func (e *Engine) GetDonation(ctx context.Context, actor models.Actor, id string) (_ *models.DonationDetail, err error) {
	ctx, done := e.begin(ctx, "get_donation")
	defer done(&err)

	s := e.db.Store()
	d, err := e.loadDonation(ctx, s, id)
	if err != nil {
		return nil, err
	}

	detail := &models.DonationDetail{Donation: d}

	if detail.Donor, err = s.GetParty(ctx, d.DonorID); err != nil {
		return nil, fmt.Errorf("get donor: %w", err)
	}

	requests, err := s.ListRequestsByDonation(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	seeAll := d.DonorID == actor.ID || actor.IsAdmin()
	detail.Requests = make([]models.Request, 0, len(requests))
	for i := range requests {
		r := requests[i]
		if d.AcceptedRequestID != nil && r.ID == *d.AcceptedRequestID {
			detail.AcceptedRequest = &r
		}
		if seeAll || r.RecipientID == actor.ID {
			detail.Requests = append(detail.Requests, r)
		}
	}

	if detail.History, err = s.ListDonationHistory(ctx, d.ID); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if d.Status == models.StatusDelivered {
		if detail.Evidence, err = s.GetDeliveryEvidence(ctx, d.ID); err != nil {
			return nil, fmt.Errorf("get delivery evidence: %w", err)
		}
	}
	return detail, nil
}

// History returns a donation's status ledger in the order it was written.
func (e *Engine) History(ctx context.Context, actor models.Actor, donationID string) (_ []models.HistoryEntry, err error) {
	ctx, done := e.begin(ctx, "history")
	defer done(&err)

	s := e.db.Store()
	if _, err := e.loadDonation(ctx, s, donationID); err != nil {
		return nil, err
	}
	return s.ListDonationHistory(ctx, donationID)
}

// RequestHistory returns a request's ledger. Only the requesting recipient,
// the donor and admins may read it.
func (e *Engine) RequestHistory(ctx context.Context, actor models.Actor, requestID string) (_ []models.HistoryEntry, err error) {
	ctx, done := e.begin(ctx, "request_history")
	defer done(&err)

	s := e.db.Store()
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, notFound("request", requestID)
	}
	if req.RecipientID != actor.ID && !actor.IsAdmin() {
		d, err := e.loadDonation(ctx, s, req.DonationID)
		if err != nil {
			return nil, err
		}
		if d.DonorID != actor.ID {
			return nil, Forbidden("not allowed to view this request")
		}
	}
	return s.ListRequestHistory(ctx, requestID)
}

// Browse lists donations still open for requests. Whatever status f names,
// only OFFERED donations are returned.
func (e *Engine) Browse(ctx context.Context, actor models.Actor, f models.DonationFilter) (_ []models.Donation, err error) {
	ctx, done := e.begin(ctx, "browse")
	defer done(&err)

	if actor.Role != models.RoleRecipient && !actor.IsAdmin() {
		return nil, Forbidden("only recipients can browse donations")
	}
	if f.Limit <= 0 || f.Limit > maxBrowseLimit {
		f.Limit = maxBrowseLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Status = models.StatusOffered
	return e.db.Store().SearchDonations(ctx, f)
}

// MyDonations lists the actor's own donations.
func (e *Engine) MyDonations(ctx context.Context, actor models.Actor) (_ []models.Donation, err error) {
	ctx, done := e.begin(ctx, "my_donations")
	defer done(&err)

	if actor.Role != models.RoleDonor {
		return nil, Forbidden("only donors have donations")
	}
	return e.db.Store().ListDonationsByDonor(ctx, actor.ID)
}

// DashboardStats counts the actor's open work. Donors see active donations,
// recipients see pending requests; everyone sees unread notifications.
func (e *Engine) DashboardStats(ctx context.Context, actor models.Actor) (_ *models.DashboardStats, err error) {
	ctx, done := e.begin(ctx, "dashboard_stats")
	defer done(&err)

	s := e.db.Store()
	stats := &models.DashboardStats{}
	switch actor.Role {
	case models.RoleDonor:
		if stats.ActiveDonations, err = s.CountActiveDonations(ctx, actor.ID); err != nil {
			return nil, err
		}
	case models.RoleRecipient:
		if stats.PendingRequests, err = s.CountPendingRequests(ctx, actor.ID); err != nil {
			return nil, err
		}
	}
	if stats.UnreadNotifications, err = s.CountUnreadNotifications(ctx, actor.ID); err != nil {
		return nil, err
	}
	return stats, nil
}

// Notifications returns the actor's notifications, newest first.
func (e *Engine) Notifications(ctx context.Context, actor models.Actor, limit int) (_ []models.Notification, err error) {
	ctx, done := e.begin(ctx, "notifications")
	defer done(&err)

	if limit <= 0 || limit > 200 {
		limit = defaultNotificationLimit
	}
	return e.db.Store().ListNotifications(ctx, actor.ID, limit)
}

// MarkNotificationRead flags one of the actor's notifications as read.
func (e *Engine) MarkNotificationRead(ctx context.Context, actor models.Actor, id string) (err error) {
	ctx, done := e.begin(ctx, "mark_notification_read")
	defer done(&err)

	ok, err := e.db.Store().MarkNotificationRead(ctx, id, actor.ID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("notification", id)
	}
	return nil
}

// AuditTrail returns the audit entries of one entity. Admins only.
func (e *Engine) AuditTrail(ctx context.Context, actor models.Actor, entityType, entityID string) (_ []models.AuditEntry, err error) {
	ctx, done := e.begin(ctx, "audit_trail")
	defer done(&err)

	if !actor.IsAdmin() {
		return nil, Forbidden("audit trail is restricted to administrators")
	}
	switch entityType {
	case models.EntityDonation, models.EntityRequest:
	default:
		return nil, Validation("unknown entity type %q", entityType)
	}
	return e.db.Store().ListAudit(ctx, entityType, entityID)
}

// ActorAudit returns the most recent audit entries written by one user,
// newest first. Admins only.
func (e *Engine) ActorAudit(ctx context.Context, actor models.Actor, actorID string, limit int) (_ []models.AuditEntry, err error) {
	ctx, done := e.begin(ctx, "actor_audit")
	defer done(&err)

	if !actor.IsAdmin() {
		return nil, Forbidden("audit trail is restricted to administrators")
	}
	if actorID == "" {
		return nil, Validation("actorId is required")
	}
	if limit <= 0 || limit > defaultAuditLimit {
		limit = defaultAuditLimit
	}
	return e.db.Store().ListAuditByActor(ctx, actorID, limit)
}
