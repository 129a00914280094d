package optimizer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/offers"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/scheduler"
)

type fakeStore struct {
	owners       map[string]model.Owner
	services     map[string]model.Service
	clients      map[string]model.Client
	entries      map[string]model.WaitlistEntry
	appointments map[string]model.Appointment

	waitlistQueries int
	deleted         []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		owners:       map[string]model.Owner{},
		services:     map[string]model.Service{},
		clients:      map[string]model.Client{},
		entries:      map[string]model.WaitlistEntry{},
		appointments: map[string]model.Appointment{},
	}
}

func (f *fakeStore) OwnerByID(_ context.Context, id string) (model.Owner, error) {
	o, ok := f.owners[id]
	if !ok {
		return model.Owner{}, model.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) ServiceByID(_ context.Context, id string) (model.Service, error) {
	s, ok := f.services[id]
	if !ok {
		return model.Service{}, model.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ClientByID(_ context.Context, id string) (model.Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return model.Client{}, model.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) WaitlistForService(_ context.Context, ownerID, serviceID string) ([]model.WaitlistEntry, error) {
	f.waitlistQueries++
	var out []model.WaitlistEntry
	for _, e := range f.entries {
		if e.OwnerID == ownerID && e.ServiceID == serviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotified(_ context.Context, entryID string, at time.Time) error {
	e, ok := f.entries[entryID]
	if !ok {
		return model.ErrNotFound
	}
	e.NotifyCount++
	e.LastNotifiedAt = &at
	f.entries[entryID] = e
	return nil
}

func (f *fakeStore) DeleteEntry(_ context.Context, _, entryID string) error {
	if _, ok := f.entries[entryID]; !ok {
		return model.ErrNotFound
	}
	delete(f.entries, entryID)
	f.deleted = append(f.deleted, entryID)
	return nil
}

func (f *fakeStore) MoveCandidates(_ context.Context, ownerID string, dayStart, dayEnd, afterStart time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appointments {
		if a.OwnerID != ownerID || !a.Active() {
			continue
		}
		if a.StartAt.Before(dayStart) || !a.StartAt.Before(dayEnd) || !a.StartAt.After(afterStart) {
			continue
		}
		c, ok := f.clients[a.ClientID]
		if !ok || !c.OptInMoveEarlier {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type fakeBooker struct {
	booked       []scheduler.BookRequest
	rescheduled  []string
	bookErr      error
	rescheduleTo map[string]time.Time
}

func (f *fakeBooker) Book(_ context.Context, req scheduler.BookRequest) (model.Appointment, error) {
	if f.bookErr != nil {
		return model.Appointment{}, f.bookErr
	}
	f.booked = append(f.booked, req)
	status := model.StatusPending
	if req.Confirmed {
		status = model.StatusConfirmed
	}
	return model.Appointment{
		ID: "booked-1", OwnerID: req.OwnerID, ClientID: req.ClientID, ServiceID: req.ServiceID,
		StartAt: req.Start, EndAt: req.Start.Add(30 * time.Minute), Status: status,
	}, nil
}

func (f *fakeBooker) Reschedule(_ context.Context, apptID string, newStart time.Time) (model.Appointment, error) {
	f.rescheduled = append(f.rescheduled, apptID)
	if f.rescheduleTo == nil {
		f.rescheduleTo = map[string]time.Time{}
	}
	f.rescheduleTo[apptID] = newStart
	return model.Appointment{ID: apptID, StartAt: newStart, EndAt: newStart.Add(30 * time.Minute), Status: model.StatusConfirmed}, nil
}

type memOffers struct {
	waitlist map[string]offers.WaitlistOffer
	moves    map[string]offers.MoveOffer
}

func newMemOffers() *memOffers {
	return &memOffers{waitlist: map[string]offers.WaitlistOffer{}, moves: map[string]offers.MoveOffer{}}
}

func (m *memOffers) PutWaitlistOffer(_ context.Context, o offers.WaitlistOffer) error {
	m.waitlist[o.EntryID] = o
	return nil
}

func (m *memOffers) TakeWaitlistOffer(_ context.Context, entryID string) (offers.WaitlistOffer, error) {
	o, ok := m.waitlist[entryID]
	if !ok {
		return offers.WaitlistOffer{}, model.ErrOfferExpired
	}
	delete(m.waitlist, entryID)
	return o, nil
}

func (m *memOffers) PutMoveOffer(_ context.Context, o offers.MoveOffer) error {
	m.moves[o.AppointmentID] = o
	return nil
}

func (m *memOffers) TakeMoveOffer(_ context.Context, apptID string) (offers.MoveOffer, error) {
	o, ok := m.moves[apptID]
	if !ok {
		return offers.MoveOffer{}, model.ErrOfferExpired
	}
	delete(m.moves, apptID)
	return o, nil
}

type fakeNotifier struct {
	waitlistTo []string // entry ids, in send order
	movesTo    []string // appointment ids, in send order
}

func (f *fakeNotifier) WaitlistOffer(_ context.Context, _ model.Client, o offers.WaitlistOffer) error {
	f.waitlistTo = append(f.waitlistTo, o.EntryID)
	return nil
}

func (f *fakeNotifier) MoveOffer(_ context.Context, _ model.Client, o offers.MoveOffer) error {
	f.movesTo = append(f.movesTo, o.AppointmentID)
	return nil
}

type fakeDeferrer struct {
	gaps   []model.Gap
	runAts []time.Time
}

func (f *fakeDeferrer) Defer(_ context.Context, gap model.Gap, runAt time.Time) error {
	f.gaps = append(f.gaps, gap)
	f.runAts = append(f.runAts, runAt)
	return nil
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) Record(_ context.Context, _ string, _ model.Actor, action string, _ map[string]any) error {
	f.actions = append(f.actions, action)
	return nil
}

type fixture struct {
	store    *fakeStore
	booker   *fakeBooker
	offers   *memOffers
	notifier *fakeNotifier
	deferred *fakeDeferrer
	audit    *fakeAudit
	engine   *Engine
	now      time.Time
}

// Monday 2026-02-02, owner in UTC with quiet hours 22:00-08:00.
func newFixture() *fixture {
	qs := model.TimeOfDay(22 * 60)
	qe := model.TimeOfDay(8 * 60)
	store := newFakeStore()
	store.owners["owner-1"] = model.Owner{
		ID: "owner-1", Timezone: "UTC",
		QuietHoursStart: &qs, QuietHoursEnd: &qe,
		Settings: model.DefaultSettings(),
	}
	store.services["svc-1"] = model.Service{ID: "svc-1", OwnerID: "owner-1", DurationMin: 30, BufferMin: 10, Active: true}

	fx := &fixture{
		store:    store,
		booker:   &fakeBooker{},
		offers:   newMemOffers(),
		notifier: &fakeNotifier{},
		deferred: &fakeDeferrer{},
		audit:    &fakeAudit{},
		now:      time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
	}
	fx.engine = NewEngine(fx.store, fx.booker, fx.offers, fx.notifier, fx.deferred, fx.audit, slog.Default()).
		WithClock(func() time.Time { return fx.now })
	return fx
}

func (fx *fixture) addClient(id string, optIn bool) {
	fx.store.clients[id] = model.Client{ID: id, OwnerID: "owner-1", Phone: "+1555" + id, OptInMoveEarlier: optIn}
}

func (fx *fixture) addEntry(id string, priority int, winStart, winEnd time.Time, created time.Time) {
	fx.addClient("client-"+id, false)
	fx.store.entries[id] = model.WaitlistEntry{
		ID: id, OwnerID: "owner-1", ClientID: "client-" + id, ServiceID: "svc-1",
		WindowStart: winStart, WindowEnd: winEnd, Priority: priority, CreatedAt: created,
	}
}

func mondayAt(hour, min int) time.Time {
	return time.Date(2026, 2, 2, hour, min, 0, 0, time.UTC)
}

func testGap() model.Gap {
	return model.Gap{OwnerID: "owner-1", ServiceID: "svc-1", Start: mondayAt(9, 0), End: mondayAt(9, 30)}
}

func TestFillGapOffersCoveringEntryOnly(t *testing.T) {
	fx := newFixture()
	// Window [09:00,17:00) covers the gap; [10:00,16:00) does not.
	fx.addEntry("wide", 1, mondayAt(9, 0), mondayAt(17, 0), fx.now.Add(-2*time.Hour))
	fx.addEntry("narrow", 0, mondayAt(10, 0), mondayAt(16, 0), fx.now.Add(-3*time.Hour))

	res, err := fx.engine.FillGap(context.Background(), testGap())
	if err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	if res.WaitlistNotified != 1 {
		t.Fatalf("expected 1 notification, got %d", res.WaitlistNotified)
	}
	if len(fx.notifier.waitlistTo) != 1 || fx.notifier.waitlistTo[0] != "wide" {
		t.Fatalf("expected only the covering entry notified, got %v", fx.notifier.waitlistTo)
	}
	if e := fx.store.entries["wide"]; e.NotifyCount != 1 || e.LastNotifiedAt == nil {
		t.Fatal("notified entry must record the outreach")
	}
	if e := fx.store.entries["narrow"]; e.NotifyCount != 0 {
		t.Fatal("non-covering entry must stay untouched")
	}
}

func TestFillGapNotifiesInPriorityOrder(t *testing.T) {
	fx := newFixture()
	fx.addEntry("low", 1, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-5*time.Hour))
	fx.addEntry("high", 5, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-time.Hour))
	fx.addEntry("high-older", 5, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-4*time.Hour))

	if _, err := fx.engine.FillGap(context.Background(), testGap()); err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	want := []string{"high-older", "high", "low"}
	if len(fx.notifier.waitlistTo) != 3 {
		t.Fatalf("expected 3 notifications, got %v", fx.notifier.waitlistTo)
	}
	for i, id := range want {
		if fx.notifier.waitlistTo[i] != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, fx.notifier.waitlistTo[i])
		}
	}
}

func TestFillGapBoundsOutreach(t *testing.T) {
	fx := newFixture()
	owner := fx.store.owners["owner-1"]
	owner.Settings.MaxOutreachPerGap = 2
	fx.store.owners["owner-1"] = owner
	for _, id := range []string{"a", "b", "c", "d"} {
		fx.addEntry(id, 0, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-time.Hour))
	}

	res, err := fx.engine.FillGap(context.Background(), testGap())
	if err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	if res.WaitlistNotified != 2 {
		t.Fatalf("expected outreach capped at 2, got %d", res.WaitlistNotified)
	}
}

func TestFillGapSkipsCooldownAndCappedEntries(t *testing.T) {
	fx := newFixture()
	fx.addEntry("cooling", 5, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-5*time.Hour))
	recent := fx.now.Add(-30 * time.Minute)
	e := fx.store.entries["cooling"]
	e.NotifyCount = 1
	e.LastNotifiedAt = &recent
	fx.store.entries["cooling"] = e

	fx.addEntry("capped", 5, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-5*time.Hour))
	e = fx.store.entries["capped"]
	e.NotifyCount = 3
	fx.store.entries["capped"] = e

	fx.addEntry("fresh", 0, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-time.Hour))

	if _, err := fx.engine.FillGap(context.Background(), testGap()); err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	if len(fx.notifier.waitlistTo) != 1 || fx.notifier.waitlistTo[0] != "fresh" {
		t.Fatalf("expected only the fresh entry notified, got %v", fx.notifier.waitlistTo)
	}
}

func TestFillGapDefersDuringQuietHours(t *testing.T) {
	fx := newFixture()
	fx.now = time.Date(2026, 2, 2, 23, 0, 0, 0, time.UTC)
	fx.addEntry("ready", 5, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-5*time.Hour))

	res, err := fx.engine.FillGap(context.Background(), testGap())
	if err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	if !res.Deferred {
		t.Fatal("expected a deferred result")
	}
	if len(fx.notifier.waitlistTo) != 0 || len(fx.notifier.movesTo) != 0 {
		t.Fatal("quiet hours must send zero notifications")
	}
	if len(fx.deferred.gaps) != 1 {
		t.Fatalf("expected one deferral, got %d", len(fx.deferred.gaps))
	}
	// Quiet hours 22:00-08:00: resume next morning.
	want := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	if !fx.deferred.runAts[0].Equal(want) {
		t.Fatalf("expected resume at %s, got %s", want, fx.deferred.runAts[0])
	}
}

func TestFillGapMovesOnlyWhenWaitlistEmpty(t *testing.T) {
	fx := newFixture()
	fx.addEntry("wide", 1, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-time.Hour))
	fx.addClient("mover", true)
	fx.store.appointments["appt-later"] = model.Appointment{
		ID: "appt-later", OwnerID: "owner-1", ClientID: "mover", ServiceID: "svc-1",
		StartAt: mondayAt(14, 0), EndAt: mondayAt(14, 30), Status: model.StatusConfirmed,
	}

	res, err := fx.engine.FillGap(context.Background(), testGap())
	if err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	if res.WaitlistNotified != 1 || res.MoveOffersSent != 0 {
		t.Fatalf("waitlist outreach must preempt move offers, got %+v", res)
	}
}

func TestFillGapOffersEarlierMoveToOptedInSameDay(t *testing.T) {
	fx := newFixture()
	fx.addClient("mover", true)
	fx.addClient("homebody", false)

	fx.store.appointments["late"] = model.Appointment{
		ID: "late", OwnerID: "owner-1", ClientID: "mover", ServiceID: "svc-1",
		StartAt: mondayAt(15, 0), EndAt: mondayAt(15, 30), Status: model.StatusConfirmed,
	}
	fx.store.appointments["soon"] = model.Appointment{
		ID: "soon", OwnerID: "owner-1", ClientID: "mover", ServiceID: "svc-1",
		StartAt: mondayAt(11, 0), EndAt: mondayAt(11, 30), Status: model.StatusConfirmed,
	}
	fx.store.appointments["not-opted-in"] = model.Appointment{
		ID: "not-opted-in", OwnerID: "owner-1", ClientID: "homebody", ServiceID: "svc-1",
		StartAt: mondayAt(10, 0), EndAt: mondayAt(10, 30), Status: model.StatusConfirmed,
	}
	// Tuesday appointment: wrong day.
	fx.store.appointments["tomorrow"] = model.Appointment{
		ID: "tomorrow", OwnerID: "owner-1", ClientID: "mover", ServiceID: "svc-1",
		StartAt: mondayAt(11, 0).AddDate(0, 0, 1), EndAt: mondayAt(11, 30).AddDate(0, 0, 1), Status: model.StatusConfirmed,
	}

	res, err := fx.engine.FillGap(context.Background(), testGap())
	if err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	if res.MoveOffersSent != 2 {
		t.Fatalf("expected 2 move offers, got %d", res.MoveOffersSent)
	}
	if fx.notifier.movesTo[0] != "soon" {
		t.Fatalf("earliest candidate must be offered first, got %v", fx.notifier.movesTo)
	}
	if _, ok := fx.offers.moves["soon"]; !ok {
		t.Fatal("move offer must be stored for the response flow")
	}
}

func TestFillGapSkipsServicesThatDoNotFit(t *testing.T) {
	fx := newFixture()
	fx.store.services["svc-long"] = model.Service{ID: "svc-long", OwnerID: "owner-1", DurationMin: 60, BufferMin: 0, Active: true}
	fx.addClient("mover", true)
	fx.store.appointments["big"] = model.Appointment{
		ID: "big", OwnerID: "owner-1", ClientID: "mover", ServiceID: "svc-long",
		StartAt: mondayAt(14, 0), EndAt: mondayAt(15, 0), Status: model.StatusConfirmed,
	}

	// 30 minute gap cannot host a 60 minute service.
	res, err := fx.engine.FillGap(context.Background(), testGap())
	if err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	if res.MoveOffersSent != 0 {
		t.Fatalf("oversized service must not receive a move offer, got %d", res.MoveOffersSent)
	}
}

func TestAcceptWaitlistOfferBooksConfirmedAndDeletesEntry(t *testing.T) {
	fx := newFixture()
	fx.addEntry("wide", 1, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-time.Hour))
	if _, err := fx.engine.FillGap(context.Background(), testGap()); err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}

	appt, err := fx.engine.AcceptWaitlistOffer(context.Background(), "wide")
	if err != nil {
		t.Fatalf("AcceptWaitlistOffer failed: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("acceptance must book confirmed, got %s", appt.Status)
	}
	if len(fx.booker.booked) != 1 || !fx.booker.booked[0].Confirmed {
		t.Fatal("expected one confirmed booking through the scheduler")
	}
	if len(fx.store.deleted) != 1 || fx.store.deleted[0] != "wide" {
		t.Fatal("accepted entry must be removed from the waitlist")
	}

	// The offer is consumed: a second accept reports expiry.
	if _, err := fx.engine.AcceptWaitlistOffer(context.Background(), "wide"); !errors.Is(err, model.ErrOfferExpired) {
		t.Fatalf("expected ErrOfferExpired on reused offer, got %v", err)
	}
}

func TestAcceptWaitlistOfferSurfacesBookingConflict(t *testing.T) {
	fx := newFixture()
	fx.addEntry("wide", 1, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-time.Hour))
	if _, err := fx.engine.FillGap(context.Background(), testGap()); err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	fx.booker.bookErr = model.ErrConflict

	_, err := fx.engine.AcceptWaitlistOffer(context.Background(), "wide")
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, ok := fx.store.entries["wide"]; !ok {
		t.Fatal("entry must survive a failed acceptance")
	}
}

func TestDeclineWaitlistOfferRerunsPassForNextCandidate(t *testing.T) {
	fx := newFixture()
	fx.addEntry("first", 5, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-5*time.Hour))

	if _, err := fx.engine.FillGap(context.Background(), testGap()); err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	if len(fx.notifier.waitlistTo) != 1 {
		t.Fatalf("expected one initial offer, got %v", fx.notifier.waitlistTo)
	}

	// A second candidate joins before the decline.
	fx.addEntry("second", 0, mondayAt(8, 0), mondayAt(18, 0), fx.now.Add(-time.Hour))

	if err := fx.engine.DeclineWaitlistOffer(context.Background(), "first"); err != nil {
		t.Fatalf("DeclineWaitlistOffer failed: %v", err)
	}
	// Re-run skips "first" (cooldown from the initial notify) and reaches
	// "second".
	if len(fx.notifier.waitlistTo) != 2 || fx.notifier.waitlistTo[1] != "second" {
		t.Fatalf("expected re-run to notify the next candidate, got %v", fx.notifier.waitlistTo)
	}
}

func TestAcceptEarlierMoveReschedulesAndBackfillsOnce(t *testing.T) {
	fx := newFixture()
	fx.addClient("mover", true)
	fx.store.appointments["late"] = model.Appointment{
		ID: "late", OwnerID: "owner-1", ClientID: "mover", ServiceID: "svc-1",
		StartAt: mondayAt(15, 0), EndAt: mondayAt(15, 30), Status: model.StatusConfirmed,
	}

	if _, err := fx.engine.FillGap(context.Background(), testGap()); err != nil {
		t.Fatalf("FillGap failed: %v", err)
	}
	queriesBefore := fx.store.waitlistQueries

	moved, err := fx.engine.AcceptEarlierMove(context.Background(), "late")
	if err != nil {
		t.Fatalf("AcceptEarlierMove failed: %v", err)
	}
	if !moved.StartAt.Equal(mondayAt(9, 0)) {
		t.Fatalf("appointment must move into the gap, got %s", moved.StartAt)
	}
	if len(fx.booker.rescheduled) != 1 || fx.booker.rescheduled[0] != "late" {
		t.Fatalf("expected one reschedule, got %v", fx.booker.rescheduled)
	}
	// One backfill pass ran for the vacated 15:00 slot.
	if fx.store.waitlistQueries != queriesBefore+1 {
		t.Fatalf("expected exactly one backfill pass, got %d extra", fx.store.waitlistQueries-queriesBefore)
	}
}

func TestAcceptBackfillMoveDoesNotCascadeFurther(t *testing.T) {
	fx := newFixture()
	fx.addClient("mover", true)
	fx.offers.moves["late"] = offers.MoveOffer{
		AppointmentID: "late", OwnerID: "owner-1", ClientID: "mover", ServiceID: "svc-1",
		NewStart: mondayAt(9, 0), OrigStart: mondayAt(15, 0), OrigEnd: mondayAt(15, 30),
		Backfill: true,
	}

	if _, err := fx.engine.AcceptEarlierMove(context.Background(), "late"); err != nil {
		t.Fatalf("AcceptEarlierMove failed: %v", err)
	}
	if fx.store.waitlistQueries != 0 {
		t.Fatal("accepting a backfill offer must not start another pass")
	}
}

func TestDeclineEarlierMoveConsumesOffer(t *testing.T) {
	fx := newFixture()
	fx.offers.moves["late"] = offers.MoveOffer{
		AppointmentID: "late", OwnerID: "owner-1", ClientID: "mover", ServiceID: "svc-1",
		NewStart: mondayAt(9, 0), OrigStart: mondayAt(15, 0), OrigEnd: mondayAt(15, 30),
	}

	if err := fx.engine.DeclineEarlierMove(context.Background(), "late"); err != nil {
		t.Fatalf("DeclineEarlierMove failed: %v", err)
	}
	if len(fx.booker.rescheduled) != 0 {
		t.Fatal("decline must not reschedule anything")
	}
	if err := fx.engine.DeclineEarlierMove(context.Background(), "late"); !errors.Is(err, model.ErrOfferExpired) {
		t.Fatalf("expected ErrOfferExpired on reused offer, got %v", err)
	}
}
