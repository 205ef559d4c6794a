// Package lifecycle is the donation state machine. Every status change goes
// through Engine.apply, which writes the new status, one history entry, one
// notification and one audit entry in a single transaction.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/evidence"
	"github.com/jredh-dev/goodwill/internal/lock"
	"github.com/jredh-dev/goodwill/internal/metrics"
	"github.com/jredh-dev/goodwill/internal/tracing"
	"github.com/jredh-dev/goodwill/pkg/models"
)

// Policy holds the tunable rules of the engine.
type Policy struct {
	// RequireDeliveryEvidence makes confirmDelivery demand at least one photo
	// or a signature. Off, a notes-only confirmation is accepted.
	RequireDeliveryEvidence bool
	MaxPhotos               int
	OperationTimeout        time.Duration
}

// DefaultPolicy matches the configuration defaults.
var DefaultPolicy = Policy{MaxPhotos: 5, OperationTimeout: 10 * time.Second}

// Engine runs lifecycle operations for already-authenticated actors.
type Engine struct {
	db      *database.DB
	locker  lock.Locker
	capture *evidence.Capture
	logger  *zap.Logger
	policy  Policy

	now   func() time.Time
	newID func() string
}

// New creates an engine. A nil locker falls back to an in-process one.
func New(db *database.DB, locker lock.Locker, capture *evidence.Capture, logger *zap.Logger, policy Policy) *Engine {
	if locker == nil {
		locker = lock.NewLocal(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxPhotos <= 0 {
		policy.MaxPhotos = DefaultPolicy.MaxPhotos
	}
	return &Engine{
		db:      db,
		locker:  locker,
		capture: capture,
		logger:  logger,
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// notice is the single notification a transition emits.
type notice struct {
	userID  string
	kind    models.NotificationType
	title   string
	message string
}

// change is one planned donation transition with its side effects.
type change struct {
	to      models.DonationStatus
	notes   *string
	bind    *models.Request // acceptRequest only
	notify  notice
	action  string
	details models.Details

	// after runs inside the same transaction, after the standard writes.
	after func(s *database.Store, at time.Time) error
}

// apply commits c against d, which must have been read inside the same
// transaction. On success d reflects the new state.
func (e *Engine) apply(ctx context.Context, s *database.Store, actor models.Actor, d *models.Donation, c change) error {
	from := d.Status
	if !CanTransition(from, c.to) {
		return invalidTransition(from, c.to)
	}
	if c.to == models.StatusAccepted && c.bind == nil {
		return invalidTransition(from, c.to)
	}

	at := e.now()

	var bindID *string
	if c.bind != nil {
		bindID = &c.bind.ID
	}
	ok, err := s.TransitionDonation(ctx, d.ID, from, c.to, bindID, at)
	if err != nil {
		return fmt.Errorf("update donation status: %w", err)
	}
	if !ok {
		return raced(from, c.to)
	}

	if err := s.AppendDonationHistory(ctx, e.historyEntry(d.ID, string(c.to), c.notes, actor, at)); err != nil {
		return fmt.Errorf("append donation history: %w", err)
	}

	if c.bind != nil {
		ok, err := s.SetRequestStatus(ctx, c.bind.ID, models.RequestOffered, models.RequestAccepted, at)
		if err != nil {
			return fmt.Errorf("update request status: %w", err)
		}
		if !ok {
			return raced(from, c.to)
		}
		if err := s.AppendRequestHistory(ctx, e.historyEntry(c.bind.ID, string(models.RequestAccepted), nil, actor, at)); err != nil {
			return fmt.Errorf("append request history: %w", err)
		}
	}

	if err := s.CreateNotification(ctx, e.notification(d.ID, c.notify, at)); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	if err := s.AppendAudit(ctx, e.auditEntry(actor, c.action, models.EntityDonation, d.ID, c.details, at)); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	if c.after != nil {
		if err := c.after(s, at); err != nil {
			return err
		}
	}

	d.Status = c.to
	d.UpdatedAt = at
	if bindID != nil {
		d.AcceptedRequestID = bindID
	}

	metrics.TransitionsTotal.WithLabelValues(string(from), string(c.to)).Inc()
	e.logger.Info("donation transitioned",
		zap.String("donation_id", d.ID),
		zap.String("from", string(from)),
		zap.String("to", string(c.to)),
		zap.String("actor_id", actor.ID),
	)
	return nil
}

// mutate runs plan under the donation's lock and inside one transaction.
// plan sees the donation as stored and returns the change to apply.
func (e *Engine) mutate(ctx context.Context, actor models.Actor, donationID string,
	plan func(s *database.Store, d *models.Donation) (change, error)) (*models.Donation, error) {

	unlock, err := e.lock(ctx, donationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *models.Donation
	err = e.db.InTx(ctx, func(s *database.Store) error {
		d, err := e.loadDonation(ctx, s, donationID)
		if err != nil {
			return err
		}
		c, err := plan(s, d)
		if err != nil {
			return err
		}
		if err := e.apply(ctx, s, actor, d, c); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err)
	}
	return out, nil
}

// begin bounds an operation by the policy timeout and returns the func
// that records its outcome.
func (e *Engine) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	start := time.Now()
	cancel := context.CancelFunc(func() {})
	if e.policy.OperationTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.policy.OperationTimeout)
	}
	ctx, span := tracing.Start(ctx, "lifecycle."+op)
	return ctx, func(errp *error) {
		defer cancel()
		metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if *errp == nil {
			tracing.End(span, nil)
			return
		}
		*errp = wrapStorage(*errp)
		tracing.End(span, *errp)

		kind := KindOf(*errp)
		metrics.RejectionsTotal.WithLabelValues(kind.String()).Inc()
		fields := []zap.Field{zap.String("operation", op), zap.Error(*errp)}
		if id := tracing.TraceID(ctx); id != "" {
			fields = append(fields, zap.String("trace_id", id))
		}
		switch kind {
		case KindStorage, KindInternal:
			e.logger.Error("lifecycle operation failed", fields...)
		default:
			e.logger.Debug("lifecycle operation rejected", fields...)
		}
	}
}

func (e *Engine) lock(ctx context.Context, donationID string) (func(), error) {
	unlock, err := e.locker.Lock(ctx, "donation:"+donationID)
	if err != nil {
		return nil, &Error{
			Kind:      KindStorage,
			Message:   "donation is busy",
			Retryable: true,
			Err:       err,
		}
	}
	return unlock, nil
}

func (e *Engine) loadDonation(ctx context.Context, s *database.Store, id string) (*models.Donation, error) {
	d, err := s.GetDonation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get donation: %w", err)
	}
	if d == nil {
		return nil, notFound("donation", id)
	}
	return d, nil
}

func (e *Engine) historyEntry(parentID, status string, notes *string, actor models.Actor, at time.Time) *models.HistoryEntry {
	return &models.HistoryEntry{
		ID:        e.newID(),
		ParentID:  parentID,
		Status:    status,
		Notes:     notes,
		ChangedBy: actor.ID,
		CreatedAt: at,
	}
}

func (e *Engine) notification(donationID string, n notice, at time.Time) *models.Notification {
	link := donationLink(donationID)
	return &models.Notification{
		ID:        e.newID(),
		UserID:    n.userID,
		Type:      n.kind,
		Title:     n.title,
		Message:   n.message,
		Link:      &link,
		CreatedAt: at,
	}
}

func (e *Engine) auditEntry(actor models.Actor, action, entityType, entityID string, details models.Details, at time.Time) *models.AuditEntry {
	return &models.AuditEntry{
		ID:         e.newID(),
		ActorID:    actor.ID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  at,
	}
}

func donationLink(id string) string {
	return "/dashboard/donations/" + id
}

// wrapStorage turns anything that is not already an *Error into a
// StorageError.
func wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, evidence.ErrInvalidPayload) {
		return &Error{Kind: KindValidation, Message: "invalid evidence payload", Err: err}
	}
	return &Error{
		Kind:      KindStorage,
		Message:   "storage failure",
		Retryable: database.IsRetryable(err) || errors.Is(err, lock.ErrNotAcquired),
		Err:       err,
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
