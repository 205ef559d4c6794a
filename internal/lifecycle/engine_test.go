package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/evidence"
	"github.com/jredh-dev/goodwill/internal/lock"
	"github.com/jredh-dev/goodwill/pkg/models"
)

type fixture struct {
	t      *testing.T
	db     *database.DB
	engine *Engine

	donor, otherDonor, recipient, otherRecipient, admin models.Actor
}

// brokenStore fails every write.
type brokenStore struct{}

func (brokenStore) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (brokenStore) Delete(context.Context, string) error { return nil }

func (brokenStore) Backend() string { return "broken" }

// noLock lets every caller through, leaving the database as the only guard.
type noLock struct{}

func (noLock) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type option func(*fixtureOptions)

type fixtureOptions struct {
	policy Policy
	store  evidence.BlobStore
	locker lock.Locker
}

func withPolicy(p Policy) option { return func(o *fixtureOptions) { o.policy = p } }

func withStore(s evidence.BlobStore) option { return func(o *fixtureOptions) { o.store = s } }

func withLocker(l lock.Locker) option { return func(o *fixtureOptions) { o.locker = l } }

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	dir := t.TempDir()
	o := fixtureOptions{
		policy: DefaultPolicy,
		store:  evidence.NewLocalStore(filepath.Join(dir, "uploads"), "/uploads"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.Open(filepath.Join(dir, "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		t:      t,
		db:     db,
		engine: New(db, o.locker, evidence.NewCapture(o.store, nil), nil, o.policy),
	}
	f.donor = f.user("donor-a", models.RoleDonor, "Alice", "Donor")
	f.otherDonor = f.user("donor-z", models.RoleDonor, "Zed", "Donor")
	f.recipient = f.user("recip-b", models.RoleRecipient, "Bob", "Recipient")
	f.otherRecipient = f.user("recip-c", models.RoleRecipient, "Cara", "Recipient")
	f.admin = f.user("admin-1", models.RoleAdmin, "Ada", "Admin")
	return f
}

func (f *fixture) user(id string, role models.Role, first, last string) models.Actor {
	f.t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID: id, Email: id + "@example.org", Role: role,
		FirstName: first, LastName: last, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(f.t, f.db.Store().CreateUser(context.Background(), u))
	return models.ActorFromUser(u)
}

func validFields() models.DonationFields {
	return models.DonationFields{
		Title:           "Folding wheelchair",
		Description:     "Lightweight folding wheelchair, used for two months",
		Category:        models.CategoryWheelchair,
		Condition:       models.ConditionLikeNew,
		Location:        "12 Elm Street",
		City:            "Springfield",
		State:           "IL",
		ZipCode:         "62701",
		PickupAvailable: true,
	}
}

func photo(name string) evidence.Upload {
	return evidence.Upload{Filename: name, ContentType: "image/jpeg", Data: []byte("jpeg-" + name)}
}

func (f *fixture) offered() *models.Donation {
	f.t.Helper()
	d, err := f.engine.CreateDonation(context.Background(), f.donor, validFields(), []evidence.Upload{photo("front.jpg")})
	require.NoError(f.t, err)
	return d
}

// walkTo returns a donation in the given status, reached through the
// engine with f.recipient as the bound recipient where one is needed.
func (f *fixture) walkTo(status models.DonationStatus) *models.Donation {
	f.t.Helper()
	ctx := context.Background()
	d := f.offered()
	if status == models.StatusOffered {
		return d
	}
	if status == models.StatusCancelled {
		d, err := f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusCancelled, "")
		require.NoError(f.t, err)
		return d
	}

	req, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	require.NoError(f.t, err)
	d, err = f.engine.AcceptRequest(ctx, f.donor, d.ID, req.ID)
	require.NoError(f.t, err)
	if status == models.StatusAccepted {
		return d
	}

	d, err = f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusInTransit, "")
	require.NoError(f.t, err)
	if status == models.StatusInTransit {
		return d
	}

	d, err = f.engine.ConfirmDelivery(ctx, f.recipient, d.ID, evidence.Submission{Notes: "left at door"})
	require.NoError(f.t, err)
	return d
}

type snapshot struct {
	donation      *models.Donation
	history       []models.HistoryEntry
	notifications []models.Notification
	audit         int
	evidence      *models.DeliveryEvidence
}

func (f *fixture) snapshot(donationID string) snapshot {
	f.t.Helper()
	ctx := context.Background()
	s := f.db.Store()
	var (
		snap snapshot
		err  error
	)
	snap.donation, err = s.GetDonation(ctx, donationID)
	require.NoError(f.t, err)
	snap.history, err = s.ListDonationHistory(ctx, donationID)
	require.NoError(f.t, err)
	snap.notifications, err = s.ListAllNotifications(ctx)
	require.NoError(f.t, err)
	snap.audit, err = s.CountAudit(ctx)
	require.NoError(f.t, err)
	snap.evidence, err = s.GetDeliveryEvidence(ctx, donationID)
	require.NoError(f.t, err)
	return snap
}

func statuses(entries []models.HistoryEntry) []models.DonationStatus {
	out := make([]models.DonationStatus, len(entries))
	for i, e := range entries {
		out[i] = models.DonationStatus(e.Status)
	}
	return out
}

func TestScenario_RequestAcceptShipDeliver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.offered()
	assert.Equal(t, models.StatusOffered, d.Status)
	assert.Nil(t, d.AcceptedRequestID)

	req, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestOffered, req.Status)
	assert.Equal(t, "Request for Folding wheelchair", req.Title)
	assert.Equal(t, "Requesting Folding wheelchair from Springfield, IL", req.Description)

	d, err = f.engine.AcceptRequest(ctx, f.donor, d.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, d.Status)
	require.NotNil(t, d.AcceptedRequestID)
	assert.Equal(t, req.ID, *d.AcceptedRequestID)

	stored, err := f.db.Store().GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, stored.Status)

	bobsInbox, err := f.engine.Notifications(ctx, f.recipient, 0)
	require.NoError(t, err)
	require.Len(t, bobsInbox, 1)
	assert.Equal(t, "Request Accepted!", bobsInbox[0].Title)
	assert.Equal(t, "/dashboard/donations/"+d.ID, *bobsInbox[0].Link)

	d, err = f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusInTransit, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInTransit, d.Status)

	d, err = f.engine.ConfirmDelivery(ctx, f.recipient, d.ID, evidence.Submission{Notes: "left at door"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, d.Status)
	assert.True(t, d.Status.IsTerminal())
	assert.Equal(t, req.ID, *d.AcceptedRequestID)

	history, err := f.engine.History(ctx, f.donor, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.DonationStatus{
		models.StatusOffered, models.StatusAccepted, models.StatusInTransit, models.StatusDelivered,
	}, statuses(history))
	assert.True(t, ValidWalk(statuses(history)))
	require.NotNil(t, history[1].Notes)
	assert.Equal(t, "Accepted request from Bob Recipient", *history[1].Notes)
	require.NotNil(t, history[3].Notes)
	assert.Equal(t, "left at door", *history[3].Notes)

	reqHistory, err := f.engine.RequestHistory(ctx, f.recipient, req.ID)
	require.NoError(t, err)
	require.Len(t, reqHistory, 2)
	assert.Equal(t, "OFFERED", reqHistory[0].Status)
	assert.Equal(t, "ACCEPTED", reqHistory[1].Status)

	_, err = f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusCancelled, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "DELIVERED is terminal")
}

func TestScenario_CancelFromOffered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.offered()
	d, err := f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusCancelled, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, d.Status)
	assert.Nil(t, d.AcceptedRequestID)

	_, err = f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusOffered, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitRequest_OnAcceptedDonation(t *testing.T) {
	f := newFixture(t)

	d := f.walkTo(models.StatusAccepted)
	_, err := f.engine.SubmitRequest(context.Background(), f.otherRecipient, d.ID)
	assert.ErrorIs(t, err, ErrDonationUnavailable)
	assert.Equal(t, KindDonationUnavailable, KindOf(err))
}

func TestSubmitRequest_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.offered()

	_, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	require.NoError(t, err)
	before := f.snapshot(d.ID)

	_, err = f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	requests, err := f.db.Store().ListRequestsByDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
	assert.Equal(t, before, f.snapshot(d.ID))
}

func TestSubmitRequest_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.offered()

	_, err := f.engine.SubmitRequest(ctx, f.recipient, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.SubmitRequest(ctx, f.otherDonor, d.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitRequest_NotifiesDonor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.offered()

	req, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	require.NoError(t, err)

	inbox, err := f.engine.Notifications(ctx, f.donor, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.NotificationNewRequest, inbox[0].Type)
	assert.Equal(t, `Bob Recipient has requested your donation "Folding wheelchair"`, inbox[0].Message)

	audit, err := f.engine.AuditTrail(ctx, f.admin, models.EntityRequest, req.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, models.ActionDonationRequested, audit[0].Action)
	assert.Equal(t, d.ID, audit[0].Details["donationId"])
}

func TestAcceptRequest_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.offered()
	other := f.offered()
	req, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	require.NoError(t, err)
	foreign, err := f.engine.SubmitRequest(ctx, f.otherRecipient, other.ID)
	require.NoError(t, err)

	tests := []struct {
		name       string
		actor      models.Actor
		donationID string
		requestID  string
		want       error
	}{
		{"missing donation", f.donor, "nope", req.ID, ErrNotFound},
		{"not the donor", f.otherDonor, d.ID, req.ID, ErrForbidden},
		{"admin is not the donor", f.admin, d.ID, req.ID, ErrForbidden},
		{"missing request", f.donor, d.ID, "nope", ErrRequestMismatch},
		{"request of another donation", f.donor, d.ID, foreign.ID, ErrRequestMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.snapshot(d.ID)
			_, err := f.engine.AcceptRequest(ctx, tt.actor, tt.donationID, tt.requestID)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, f.snapshot(d.ID))
		})
	}
}

func TestAcceptRequest_SecondAcceptIsUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.offered()
	first, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	require.NoError(t, err)
	second, err := f.engine.SubmitRequest(ctx, f.otherRecipient, d.ID)
	require.NoError(t, err)

	_, err = f.engine.AcceptRequest(ctx, f.donor, d.ID, first.ID)
	require.NoError(t, err)

	_, err = f.engine.AcceptRequest(ctx, f.donor, d.ID, second.ID)
	assert.ErrorIs(t, err, ErrDonationUnavailable)

	got, err := f.db.Store().GetDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, *got.AcceptedRequestID)

	// The other request is left as it was.
	loser, err := f.db.Store().GetRequest(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestOffered, loser.Status)
}

func TestAcceptRequest_ConcurrentExactlyOneWins(t *testing.T) {
	lockers := map[string]lock.Locker{
		"local lock":  lock.NewLocal(5 * time.Second),
		"no app lock": noLock{},
	}
	for name, l := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, withLocker(l))
			ctx := context.Background()

			d := f.offered()
			r1, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
			require.NoError(t, err)
			r2, err := f.engine.SubmitRequest(ctx, f.otherRecipient, d.ID)
			require.NoError(t, err)

			var (
				wg   sync.WaitGroup
				errs = make([]error, 2)
			)
			for i, reqID := range []string{r1.ID, r2.ID} {
				i, reqID := i, reqID
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = f.engine.AcceptRequest(ctx, f.donor, d.ID, reqID)
				}()
			}
			wg.Wait()

			var wins, unavailable int
			for _, err := range errs {
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrDonationUnavailable):
					unavailable++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
			assert.Equal(t, 1, wins)
			assert.Equal(t, 1, unavailable)

			got, err := f.db.Store().GetDonation(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusAccepted, got.Status)
			require.NotNil(t, got.AcceptedRequestID)
			assert.Contains(t, []string{r1.ID, r2.ID}, *got.AcceptedRequestID)

			history, err := f.db.Store().ListDonationHistory(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, []models.DonationStatus{models.StatusOffered, models.StatusAccepted}, statuses(history))
		})
	}
}

func TestUpdateStatus_IllegalTransitionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	d := f.offered()
	before := f.snapshot(d.ID)

	_, err := f.engine.UpdateStatus(context.Background(), f.donor, d.ID, models.StatusDelivered, "")
	require.Error(t, err)

	var le *Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, KindInvalidTransition, le.Kind)
	assert.Equal(t, models.StatusOffered, le.From)
	assert.Equal(t, models.StatusDelivered, le.To)

	assert.Equal(t, before, f.snapshot(d.ID))
}

func TestUpdateStatus_TransitionTable(t *testing.T) {
	for _, from := range models.DonationStatuses {
		for _, to := range models.DonationStatuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				d := f.walkTo(from)
				before := f.snapshot(d.ID)

				got, err := f.engine.UpdateStatus(context.Background(), f.donor, d.ID, to, "")

				legal := CanTransition(from, to) && to != models.StatusAccepted
				if !legal {
					assert.ErrorIs(t, err, ErrInvalidTransition)
					assert.Equal(t, before, f.snapshot(d.ID))
					return
				}
				require.NoError(t, err)
				assert.Equal(t, to, got.Status)
				if to.IsBound() || from.IsBound() {
					assert.Equal(t, before.donation.AcceptedRequestID, got.AcceptedRequestID)
				}
			})
		}
	}
}

func TestUpdateStatus_AcceptanceNeedsARequest(t *testing.T) {
	f := newFixture(t)
	d := f.offered()

	_, err := f.engine.UpdateStatus(context.Background(), f.donor, d.ID, models.StatusAccepted, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.walkTo(models.StatusAccepted)

	_, err := f.engine.UpdateStatus(ctx, f.otherRecipient, d.ID, models.StatusInTransit, "")
	assert.ErrorIs(t, err, ErrForbidden, "unbound recipient")

	_, err = f.engine.UpdateStatus(ctx, f.otherDonor, d.ID, models.StatusInTransit, "")
	assert.ErrorIs(t, err, ErrForbidden, "another donor")

	_, err = f.engine.UpdateStatus(ctx, f.donor, "missing", models.StatusInTransit, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.UpdateStatus(ctx, f.recipient, d.ID, models.StatusInTransit, "picked up")
	assert.NoError(t, err, "bound recipient")

	_, err = f.engine.UpdateStatus(ctx, f.admin, d.ID, models.StatusCancelled, "fraud report")
	assert.NoError(t, err, "admin")
}

func TestUpdateStatus_NotifiesCounterpart(t *testing.T) {
	tests := []struct {
		name   string
		from   models.DonationStatus
		actor  func(*fixture) models.Actor
		target func(*fixture) models.Actor
	}{
		{"donor with bound recipient", models.StatusAccepted, func(f *fixture) models.Actor { return f.donor }, func(f *fixture) models.Actor { return f.recipient }},
		{"recipient", models.StatusAccepted, func(f *fixture) models.Actor { return f.recipient }, func(f *fixture) models.Actor { return f.donor }},
		{"admin", models.StatusAccepted, func(f *fixture) models.Actor { return f.admin }, func(f *fixture) models.Actor { return f.donor }},
		{"donor without recipient", models.StatusOffered, func(f *fixture) models.Actor { return f.donor }, func(f *fixture) models.Actor { return f.donor }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			d := f.walkTo(tt.from)
			before := f.snapshot(d.ID)

			_, err := f.engine.UpdateStatus(ctx, tt.actor(f), d.ID, models.StatusCancelled, "")
			require.NoError(t, err)

			after := f.snapshot(d.ID)
			require.Len(t, after.notifications, len(before.notifications)+1)
			n := after.notifications[len(after.notifications)-1]
			assert.Equal(t, tt.target(f).ID, n.UserID)
			assert.Equal(t, models.NotificationStatusUpdate, n.Type)
			assert.Equal(t, `Donation "Folding wheelchair" status changed to CANCELLED`, n.Message)
		})
	}
}

func TestUpdateStatus_AuditDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.walkTo(models.StatusAccepted)

	_, err := f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusInTransit, "on the way")
	require.NoError(t, err)

	trail, err := f.engine.AuditTrail(ctx, f.admin, models.EntityDonation, d.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, models.ActionDonationCreated, trail[0].Action)
	assert.Equal(t, models.ActionRequestAccepted, trail[1].Action)
	last := trail[2]
	assert.Equal(t, models.ActionDonationStatusUpdated, last.Action)
	assert.Equal(t, "ACCEPTED", last.Details["oldStatus"])
	assert.Equal(t, "IN_TRANSIT", last.Details["newStatus"])
	assert.Equal(t, "on the way", last.Details["notes"])

	_, err = f.engine.AuditTrail(ctx, f.donor, models.EntityDonation, d.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEveryTransitionWritesOneOfEach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.offered()
	req, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	require.NoError(t, err)

	steps := []struct {
		name string
		run  func() error
	}{
		{"accept", func() error { _, err := f.engine.AcceptRequest(ctx, f.donor, d.ID, req.ID); return err }},
		{"ship", func() error {
			_, err := f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusInTransit, "")
			return err
		}},
		{"deliver", func() error {
			_, err := f.engine.ConfirmDelivery(ctx, f.donor, d.ID, evidence.Submission{})
			return err
		}},
	}
	for _, step := range steps {
		before := f.snapshot(d.ID)
		require.NoError(t, step.run(), step.name)
		after := f.snapshot(d.ID)

		assert.Len(t, after.history, len(before.history)+1, step.name)
		assert.Len(t, after.notifications, len(before.notifications)+1, step.name)
		assert.Equal(t, before.audit+1, after.audit, step.name)
	}
}

func TestConfirmDelivery_StoresEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.walkTo(models.StatusInTransit)

	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))
	d, err := f.engine.ConfirmDelivery(ctx, f.recipient, d.ID, evidence.Submission{
		Photos:    []string{img, img},
		Signature: img,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, d.Status)

	snap := f.snapshot(d.ID)
	require.NotNil(t, snap.evidence)
	assert.Len(t, snap.evidence.PhotoRefs, 2)
	require.NotNil(t, snap.evidence.SignatureRef)
	assert.Equal(t, f.recipient.ID, snap.evidence.ConfirmedBy)

	last := snap.history[len(snap.history)-1]
	require.NotNil(t, last.Notes)
	assert.True(t, strings.HasPrefix(*last.Notes, "Delivery confirmed by recipient. Photos: 2, Signature: Yes"), *last.Notes)
	assert.Contains(t, *last.Notes, *snap.evidence.SignatureRef)

	n := snap.notifications[len(snap.notifications)-1]
	assert.Equal(t, f.donor.ID, n.UserID)
	assert.Equal(t, "Delivery Confirmed!", n.Title)

	detail, err := f.engine.GetDonation(ctx, f.donor, d.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Evidence)
	assert.Equal(t, snap.evidence.PhotoRefs, detail.Evidence.PhotoRefs)
}

func TestConfirmDelivery_StorageFailureAborts(t *testing.T) {
	f := newFixture(t, withStore(brokenStore{}))
	ctx := context.Background()

	// Listing photos go through the same store, so build the donation by hand.
	d := &models.Donation{
		ID: "don-1", DonorID: f.donor.ID, Title: "Walker", Description: "A sturdy aluminium walker",
		Category: models.CategoryWalker, Condition: models.ConditionGood, Photos: models.StringList{"/uploads/w.jpg"},
		Status: models.StatusInTransit, AcceptedRequestID: strPtr("req-1"),
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	s := f.db.Store()
	require.NoError(t, s.CreateDonation(ctx, d))
	require.NoError(t, s.CreateRequest(ctx, &models.Request{
		ID: "req-1", DonationID: d.ID, RecipientID: f.recipient.ID, Title: "Request for Walker",
		Category: models.CategoryWalker, Status: models.RequestAccepted,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))

	before := f.snapshot(d.ID)
	_, err := f.engine.ConfirmDelivery(ctx, f.recipient, d.ID, evidence.Submission{
		Photos: []string{base64.StdEncoding.EncodeToString([]byte("jpg"))},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, before, f.snapshot(d.ID))
}

func TestConfirmDelivery_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	accepted := f.walkTo(models.StatusAccepted)
	_, err := f.engine.ConfirmDelivery(ctx, f.recipient, accepted.ID, evidence.Submission{Notes: "early"})
	assert.ErrorIs(t, err, ErrDonationUnavailable)

	inTransit := f.walkTo(models.StatusInTransit)
	_, err = f.engine.ConfirmDelivery(ctx, f.otherRecipient, inTransit.ID, evidence.Submission{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.ConfirmDelivery(ctx, f.recipient, inTransit.ID, evidence.Submission{Photos: []string{"data:image/png;base64,@@"}})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.engine.ConfirmDelivery(ctx, f.admin, inTransit.ID, evidence.Submission{})
	require.NoError(t, err, "admin may confirm")
}

func TestConfirmDelivery_EvidencePolicy(t *testing.T) {
	policy := DefaultPolicy
	policy.RequireDeliveryEvidence = true
	f := newFixture(t, withPolicy(policy))
	ctx := context.Background()
	d := f.walkTo(models.StatusInTransit)

	_, err := f.engine.ConfirmDelivery(ctx, f.recipient, d.ID, evidence.Submission{Notes: "trust me"})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusDelivered, "")
	assert.Equal(t, KindValidation, KindOf(err), "direct DELIVERED bypasses evidence")

	sig := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("sig"))
	_, err = f.engine.ConfirmDelivery(ctx, f.recipient, d.ID, evidence.Submission{Signature: sig})
	require.NoError(t, err)
}

func TestUpdateStatus_DirectDeliveryRecordsEmptyEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.walkTo(models.StatusInTransit)

	d, err := f.engine.UpdateStatus(ctx, f.donor, d.ID, models.StatusDelivered, "handed over")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, d.Status)

	snap := f.snapshot(d.ID)
	require.NotNil(t, snap.evidence)
	assert.Empty(t, snap.evidence.PhotoRefs)
	assert.Nil(t, snap.evidence.SignatureRef)
	require.NotNil(t, snap.evidence.Notes)
	assert.Equal(t, "handed over", *snap.evidence.Notes)
	assert.Equal(t, f.donor.ID, snap.evidence.ConfirmedBy)

	detail, err := f.engine.GetDonation(ctx, f.recipient, d.ID)
	require.NoError(t, err)
	assert.NotNil(t, detail.Evidence)
}

func TestCounterpart(t *testing.T) {
	d := &models.Donation{DonorID: "donor-a"}
	tests := []struct {
		name      string
		party     party
		recipient string
		want      string
	}{
		{"donor with bound recipient", asDonor, "recip-b", "recip-b"},
		{"donor before any binding", asDonor, "", "donor-a"},
		{"recipient", asRecipient, "recip-b", "donor-a"},
		{"admin", asAdmin, "recip-b", "donor-a"},
		{"admin before any binding", asAdmin, "", "donor-a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, counterpart(tt.party, d, tt.recipient))
		})
	}
}

func TestActorAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.walkTo(models.StatusInTransit)

	entries, err := f.engine.ActorAudit(ctx, f.admin, f.donor.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.ActionDonationStatusUpdated, entries[0].Action)
	assert.Equal(t, models.ActionDonationCreated, entries[2].Action)

	entries, err = f.engine.ActorAudit(ctx, f.admin, f.recipient.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionDonationRequested, entries[0].Action)

	_, err = f.engine.ActorAudit(ctx, f.donor, f.donor.ID, 0)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.ActorAudit(ctx, f.admin, "", 0)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCreateDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.CreateDonation(ctx, f.donor, validFields(), []evidence.Upload{photo("a.jpg"), photo("b.jpg")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffered, d.Status)
	assert.Len(t, d.Photos, 2)

	snap := f.snapshot(d.ID)
	assert.Equal(t, []models.DonationStatus{models.StatusOffered}, statuses(snap.history))
	assert.Empty(t, snap.notifications)
	assert.Equal(t, 1, snap.audit)
}

func TestCreateDonation_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := []evidence.Upload{photo("a.jpg")}

	badZip := validFields()
	badZip.ZipCode = "6270"
	shortTitle := validFields()
	shortTitle.Title = "Cane"
	badCategory := validFields()
	badCategory.Category = "SPACESHIP"

	tests := []struct {
		name   string
		actor  models.Actor
		fields models.DonationFields
		photos []evidence.Upload
		kind   Kind
	}{
		{"recipient", f.recipient, validFields(), one, KindForbidden},
		{"bad zip", f.donor, badZip, one, KindValidation},
		{"short title", f.donor, shortTitle, one, KindValidation},
		{"bad category", f.donor, badCategory, one, KindValidation},
		{"no photos", f.donor, validFields(), nil, KindValidation},
		{"too many photos", f.donor, validFields(), []evidence.Upload{
			photo("1"), photo("2"), photo("3"), photo("4"), photo("5"), photo("6"),
		}, KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateDonation(ctx, tt.actor, tt.fields, tt.photos)
			assert.Equal(t, tt.kind, KindOf(err), "err = %v", err)
		})
	}
}

func TestGetDonation_RequestVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.offered()
	_, err := f.engine.SubmitRequest(ctx, f.recipient, d.ID)
	require.NoError(t, err)
	_, err = f.engine.SubmitRequest(ctx, f.otherRecipient, d.ID)
	require.NoError(t, err)

	asDonor, err := f.engine.GetDonation(ctx, f.donor, d.ID)
	require.NoError(t, err)
	assert.Len(t, asDonor.Requests, 2)
	require.NotNil(t, asDonor.Donor)
	assert.Equal(t, "Alice", asDonor.Donor.FirstName)

	asRecipient, err := f.engine.GetDonation(ctx, f.recipient, d.ID)
	require.NoError(t, err)
	require.Len(t, asRecipient.Requests, 1)
	assert.Equal(t, f.recipient.ID, asRecipient.Requests[0].RecipientID)

	_, err = f.engine.GetDonation(ctx, f.recipient, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDashboardAndNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.walkTo(models.StatusAccepted)
	f.offered()

	donorStats, err := f.engine.DashboardStats(ctx, f.donor)
	require.NoError(t, err)
	assert.Equal(t, 2, donorStats.ActiveDonations)
	assert.Equal(t, 1, donorStats.UnreadNotifications) // the new request

	recipientStats, err := f.engine.DashboardStats(ctx, f.recipient)
	require.NoError(t, err)
	assert.Equal(t, 1, recipientStats.PendingRequests)
	assert.Equal(t, 1, recipientStats.UnreadNotifications) // the acceptance

	inbox, err := f.engine.Notifications(ctx, f.recipient, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	err = f.engine.MarkNotificationRead(ctx, f.donor, inbox[0].ID)
	assert.ErrorIs(t, err, ErrNotFound, "someone else's notification")
	require.NoError(t, f.engine.MarkNotificationRead(ctx, f.recipient, inbox[0].ID))

	recipientStats, err = f.engine.DashboardStats(ctx, f.recipient)
	require.NoError(t, err)
	assert.Zero(t, recipientStats.UnreadNotifications)

	browse, err := f.engine.Browse(ctx, f.recipient, models.DonationFilter{})
	require.NoError(t, err)
	require.Len(t, browse, 1)
	assert.NotEqual(t, d.ID, browse[0].ID)

	browse, err = f.engine.Browse(ctx, f.recipient, models.DonationFilter{Status: models.StatusAccepted})
	require.NoError(t, err)
	require.Len(t, browse, 1, "browse only ever lists OFFERED donations")
	assert.Equal(t, models.StatusOffered, browse[0].Status)

	browse, err = f.engine.Browse(ctx, f.recipient, models.DonationFilter{Query: "SPRINGFIELD", Category: models.CategoryWheelchair})
	require.NoError(t, err)
	assert.Len(t, browse, 1)

	browse, err = f.engine.Browse(ctx, f.recipient, models.DonationFilter{Category: models.CategoryWalker})
	require.NoError(t, err)
	assert.Empty(t, browse)

	mine, err := f.engine.MyDonations(ctx, f.donor)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = f.engine.Browse(ctx, f.donor, models.DonationFilter{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestLockContentionIsRetryable(t *testing.T) {
	locker := lock.NewLocal(20 * time.Millisecond)
	f := newFixture(t, withLocker(locker))
	d := f.offered()

	unlock, err := locker.Lock(context.Background(), "donation:"+d.ID)
	require.NoError(t, err)
	defer unlock()

	_, err = f.engine.UpdateStatus(context.Background(), f.donor, d.ID, models.StatusCancelled, "")
	assert.ErrorIs(t, err, ErrStorage)
	assert.True(t, IsRetryable(err))
}
