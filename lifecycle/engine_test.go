package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/audit"
	"sealtrack/db"
	"sealtrack/events"
	"sealtrack/models"
	"sealtrack/portal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// tickingClock advances by a millisecond per reading so activity entries sort by insertion.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, e events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

type fixture struct {
	store    *db.MemoryStore
	seals    *db.Collection[models.Seal]
	stations *db.Collection[models.Station]
	logs     *db.Collection[models.ActivityLog]
	clock    *fakeClock
	notifier *recordingNotifier
	engine   *Engine
	central  *models.Station
	north    *models.Station
	actor    *models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()

	f := &fixture{
		store:    db.NewMemoryStore(),
		clock:    &fakeClock{now: time.Date(2024, 6, 3, 8, 30, 0, 123456789, time.UTC)},
		notifier: &recordingNotifier{},
		actor:    &models.Actor{UserID: "admin-1", Name: "Ada"},
	}
	t.Cleanup(func() { f.store.Close() })

	f.seals = db.NewCollection[models.Seal](f.store, models.CollectionSeals, db.Order{Field: "lastUpdated", Desc: true}, log)
	f.stations = db.NewCollection[models.Station](f.store, models.CollectionStations, db.Order{Field: "lastActive", Desc: true}, log)
	f.logs = db.NewCollection[models.ActivityLog](f.store, models.CollectionLogs, db.Order{Field: "timestamp", Desc: true, Limit: 100}, log)

	logClock := &tickingClock{now: f.clock.now}
	recorder := audit.NewRecorder(f.logs, logClock.Now, log)
	f.engine = NewEngine(f.seals, f.stations, recorder, log, WithClock(f.clock.Now), WithNotifier(f.notifier))

	f.central = &models.Station{Name: "Central", Type: models.StationMain, Status: models.StationActive,
		Manager: models.Manager{ID: "mgr-1", Name: "Grace", Email: "grace@example.com"}}
	f.north = &models.Station{Name: "North", Type: models.StationSub, Status: models.StationActive}
	for _, s := range []*models.Station{f.central, f.north} {
		if _, err := f.stations.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func testImage(name string) ImageUpload {
	data := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 64)...)
	return ImageUpload{Name: name, Data: data}
}

func (f *fixture) create(t *testing.T, serial string) *models.Seal {
	t.Helper()
	seal, err := f.engine.Create(context.Background(), f.actor, CreateInput{
		SerialCode: serial,
		QRCode:     "QR-" + serial,
		StationID:  f.central.ID,
		Images:     []ImageUpload{testImage("front.png")},
	})
	if err != nil {
		t.Fatalf("create %s: %v", serial, err)
	}
	return seal
}

func (f *fixture) logCount(t *testing.T) int {
	t.Helper()
	logs, err := f.logs.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return len(logs)
}

func TestCreateDefaults(t *testing.T) {
	f := newFixture(t)
	seal := f.create(t, "SN-001")

	got, err := f.seals.Get(context.Background(), seal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SealReceived {
		t.Errorf("status = %s", got.Status)
	}
	if !got.IsUnutilized {
		t.Error("new seals are unutilized")
	}
	if got.SourceStation != "Central" || got.CurrentStation != "Central" {
		t.Errorf("stations = %q / %q", got.SourceStation, got.CurrentStation)
	}
	want := f.clock.now.Truncate(time.Microsecond)
	if !got.ReceivedDate.Equal(want) || !got.LastUpdated.Equal(want) {
		t.Errorf("receivedDate = %v, lastUpdated = %v, want %v", got.ReceivedDate, got.LastUpdated, want)
	}
	if len(got.Images) != 1 || got.Images[0].Type != models.ImageInitial || !strings.HasPrefix(got.Images[0].Data, "data:image/png;base64,") {
		t.Errorf("unexpected images %+v", got.Images)
	}

	logs, _ := f.logs.List(context.Background())
	if len(logs) != 1 || logs[0].Action != "added a new seal" || logs[0].Details != "Added seal with serial code SN-001" {
		t.Errorf("unexpected activity %+v", logs)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "SN-001")

	six := make([]ImageUpload, 6)
	for i := range six {
		six[i] = testImage("img.png")
	}

	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"missing serial", CreateInput{QRCode: "Q", StationID: f.central.ID, Images: []ImageUpload{testImage("a.png")}}, "serialCode"},
		{"no images", CreateInput{SerialCode: "S", QRCode: "Q", StationID: f.central.ID}, "images"},
		{"too many images", CreateInput{SerialCode: "S", QRCode: "Q", StationID: f.central.ID, Images: six}, "images"},
		{"unknown station", CreateInput{SerialCode: "S", QRCode: "Q", StationID: "nope", Images: []ImageUpload{testImage("a.png")}}, "stationId"},
		{"duplicate serial", CreateInput{SerialCode: "SN-001", QRCode: "Q", StationID: f.central.ID, Images: []ImageUpload{testImage("a.png")}}, "serialCode"},
		{"duplicate qr", CreateInput{SerialCode: "S", QRCode: "QR-SN-001", StationID: f.central.ID, Images: []ImageUpload{testImage("a.png")}}, "qrCode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, f.actor, tt.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("expected %s to be rejected, got %v", tt.field, verr.Fields)
			}
		})
	}

	seals, _ := f.seals.List(ctx)
	if len(seals) != 1 {
		t.Errorf("rejected creates must not write, found %d seals", len(seals))
	}
	if f.logCount(t) != 1 {
		t.Errorf("rejected creates must not log, found %d entries", f.logCount(t))
	}
}

func TestDispatch(t *testing.T) {
	f := newFixture(t)
	seal := f.create(t, "SN-001")

	// The clock does not move; lastUpdated must still increase.
	got, err := f.engine.Dispatch(context.Background(), f.actor, DispatchInput{
		SealID: seal.ID, DestinationStationID: f.north.ID, Notes: "truck 7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SealInTransit || got.DestinationStation != "North" || got.Notes != "truck 7" {
		t.Errorf("unexpected seal %+v", got)
	}
	if !got.LastUpdated.After(seal.LastUpdated) {
		t.Errorf("lastUpdated %v not after %v", got.LastUpdated, seal.LastUpdated)
	}

	logs, _ := f.logs.List(context.Background())
	if logs[0].Action != "updated seal status to In Transit" || logs[0].Details != "Updated seal "+seal.ID {
		t.Errorf("unexpected activity %+v", logs[0])
	}
}

func TestDispatchRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seal := f.create(t, "SN-001")

	_, err := f.engine.Dispatch(ctx, f.actor, DispatchInput{SealID: seal.ID, DestinationStationID: f.central.ID})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("dispatch to the current station: expected validation error, got %v", err)
	}

	if _, err := f.engine.Issue(ctx, f.actor, IssueInput{SealID: seal.ID, StationID: f.central.ID}); err != nil {
		t.Fatal(err)
	}
	before := f.logCount(t)

	_, err = f.engine.Dispatch(ctx, f.actor, DispatchInput{SealID: seal.ID, DestinationStationID: f.north.ID})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := f.seals.Get(ctx, seal.ID)
	if got.Status != models.SealIssued {
		t.Errorf("rejected dispatch changed status to %s", got.Status)
	}
	if f.logCount(t) != before {
		t.Error("rejected dispatch must not be logged")
	}

	if _, err := f.engine.Dispatch(ctx, f.actor, DispatchInput{SealID: "missing", DestinationStationID: f.north.ID}); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seal := f.create(t, "SN-001")

	if _, err := f.engine.Receive(ctx, f.actor, ReceiveInput{SealID: seal.ID}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("receive of a Received seal: expected ErrInvalidTransition, got %v", err)
	}

	f.engine.Dispatch(ctx, f.actor, DispatchInput{SealID: seal.ID, DestinationStationID: f.north.ID})
	got, err := f.engine.Receive(ctx, f.actor, ReceiveInput{SealID: seal.ID, AtStationID: f.north.ID, Notes: "intact"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SealReceived || got.CurrentStation != "North" || got.Notes != "intact" {
		t.Errorf("unexpected seal %+v", got)
	}
	if n := len(f.notifier.events); n != 1 || f.notifier.events[0].Type != events.SealReceived {
		t.Errorf("expected a received event, got %+v", f.notifier.events)
	}
}

func TestIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seal := f.create(t, "SN-001")

	if _, err := f.engine.Issue(ctx, f.actor, IssueInput{SealID: seal.ID, StationID: f.north.ID}); err == nil {
		t.Fatal("issuing to a station without a manager must fail")
	}

	got, err := f.engine.Issue(ctx, f.actor, IssueInput{SealID: seal.ID, StationID: f.central.ID})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SealIssued || got.IsUnutilized {
		t.Errorf("unexpected seal %+v", got)
	}
	if got.IssuedTo == nil || got.IssuedTo.ID != "mgr-1" || got.IssuedTo.Name != "Grace" {
		t.Fatalf("issuedTo = %+v", got.IssuedTo)
	}
	if !got.IssuedTo.Timestamp.Equal(got.LastUpdated) {
		t.Errorf("issuedTo timestamp %v != lastUpdated %v", got.IssuedTo.Timestamp, got.LastUpdated)
	}
	if got.SourceStation != "Central" || got.DestinationStation != "Central" {
		t.Errorf("stations = %q -> %q", got.SourceStation, got.DestinationStation)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Recipient != "grace@example.com" {
		t.Errorf("expected an issued event for the manager, got %+v", f.notifier.events)
	}
}

func TestUpdateStatusAndUtilization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seal := f.create(t, "SN-001")

	got, err := f.engine.UpdateStatus(ctx, f.actor, StatusInput{SealID: seal.ID, Condition: ConditionDamaged})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SealDamaged {
		t.Errorf("status = %s", got.Status)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Type != events.SealDamaged {
		t.Errorf("expected damaged event, got %+v", f.notifier.events)
	}

	got, _ = f.engine.UpdateStatus(ctx, f.actor, StatusInput{SealID: seal.ID, Condition: ConditionGood})
	if got.Status != models.SealReceived {
		t.Errorf("good condition should mark Received, got %s", got.Status)
	}

	if _, err := f.engine.UpdateStatus(ctx, f.actor, StatusInput{SealID: seal.ID, Condition: "lost"}); err == nil {
		t.Error("unknown condition must be rejected")
	}

	got, err = f.engine.UpdateUtilization(ctx, f.actor, UtilizationInput{SealID: seal.ID, InUse: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.IsUnutilized {
		t.Error("in-use seal must not be unutilized")
	}
	logs, _ := f.logs.List(ctx)
	if logs[0].Action != "updated seal details" {
		t.Errorf("utilization action = %q", logs[0].Action)
	}
}

func TestAttachImageCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seal := f.create(t, "SN-001")

	for i := 0; i < 4; i++ {
		if _, err := f.engine.AttachImage(ctx, f.actor, AttachImageInput{SealID: seal.ID, Type: models.ImageDamage, Image: testImage("d.png")}); err != nil {
			t.Fatalf("image %d: %v", i+2, err)
		}
	}

	_, err := f.engine.AttachImage(ctx, f.actor, AttachImageInput{SealID: seal.ID, Type: models.ImageDamage, Image: testImage("d.png")})
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	got, _ := f.seals.Get(ctx, seal.ID)
	if len(got.Images) != 5 {
		t.Errorf("expected 5 images, got %d", len(got.Images))
	}
}

func TestAnonymousActorNotLogged(t *testing.T) {
	f := newFixture(t)
	seal := f.create(t, "SN-001")
	if _, err := f.engine.UpdateUtilization(context.Background(), nil, UtilizationInput{SealID: seal.ID, InUse: true}); err != nil {
		t.Fatal(err)
	}
	if f.logCount(t) != 1 {
		t.Errorf("expected only the create entry, got %d", f.logCount(t))
	}
}

func TestListScopeAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "SN-AAA")
	f.create(t, "SN-BBB")
	f.engine.Dispatch(ctx, f.actor, DispatchInput{SealID: a.ID, DestinationStationID: f.north.ID})

	admin := &portal.Session{Portal: portal.Admin}
	all, err := f.engine.List(ctx, admin, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != a.ID {
		t.Errorf("expected most recent first, got %+v", all)
	}

	north := &portal.Session{Portal: portal.Station, StationName: "North"}
	scoped, _ := f.engine.List(ctx, north, Filter{})
	if len(scoped) != 1 || scoped[0].ID != a.ID {
		t.Errorf("north should only see the dispatched seal, got %d", len(scoped))
	}

	found, _ := f.engine.List(ctx, admin, Filter{Search: "bbb"})
	if len(found) != 1 || found[0].SerialCode != "SN-BBB" {
		t.Errorf("search failed: %+v", found)
	}
	transit, _ := f.engine.List(ctx, admin, Filter{Status: models.SealInTransit})
	if len(transit) != 1 {
		t.Errorf("status filter failed: %d", len(transit))
	}

	south := &portal.Session{Portal: portal.Station, StationName: "South"}
	if _, err := f.engine.Get(ctx, south, a.ID); !errors.Is(err, portal.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestNextTimestamp(t *testing.T) {
	prev := time.Date(2024, 1, 1, 0, 0, 0, 5000, time.UTC)
	if got := NextTimestamp(prev.Add(-time.Second), prev); !got.Equal(prev.Add(time.Microsecond)) {
		t.Errorf("clock behind: got %v", got)
	}
	later := prev.Add(time.Hour + 999)
	if got := NextTimestamp(later, prev); !got.Equal(later.Truncate(time.Microsecond)) {
		t.Errorf("clock ahead: got %v", got)
	}
}

func TestConcurrentDispatchAndIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const rounds = 10
	writes := 0
	for i := 0; i < rounds; i++ {
		seal := f.create(t, fmt.Sprintf("SN-RACE-%d", i))
		writes++

		var wg sync.WaitGroup
		var dispatchErr, issueErr error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, dispatchErr = f.engine.Dispatch(ctx, f.actor, DispatchInput{SealID: seal.ID, DestinationStationID: f.north.ID})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, issueErr = f.engine.Issue(ctx, f.actor, IssueInput{SealID: seal.ID, StationID: f.central.ID})
		}()
		close(start)
		wg.Wait()

		if issueErr != nil {
			t.Fatalf("round %d: issue failed: %v", i, issueErr)
		}
		writes++
		switch {
		case dispatchErr == nil:
			writes++
		case !errors.Is(dispatchErr, ErrInvalidTransition):
			t.Fatalf("round %d: dispatch failed with %v", i, dispatchErr)
		}

		got, err := f.seals.Get(ctx, seal.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != models.SealIssued || got.IssuedTo == nil || got.IssuedTo.ID != "mgr-1" {
			t.Fatalf("round %d: inconsistent seal status=%s issuedTo=%+v", i, got.Status, got.IssuedTo)
		}
		if got.DestinationStation != "Central" || got.IsUnutilized {
			t.Fatalf("round %d: issue fields lost: dest=%q unutilized=%v", i, got.DestinationStation, got.IsUnutilized)
		}
	}

	if n := f.logCount(t); n != writes {
		t.Errorf("expected %d activity entries, got %d", writes, n)
	}
}

// conflictStore loses every transaction, as a store does once its retry budget is spent.
type conflictStore struct {
	*db.MemoryStore
}

func (s conflictStore) Transact(ctx context.Context, collection, id string, fn db.UpdateFunc) error {
	return fmt.Errorf("%w: %s/%s", db.ErrConflict, collection, id)
}

func TestTransitionSurfacesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seal := f.create(t, "SN-CONFLICT")
	before := f.logCount(t)

	log := zerolog.Nop()
	seals := db.NewCollection[models.Seal](conflictStore{f.store}, models.CollectionSeals, db.Order{Field: "lastUpdated", Desc: true}, log)
	engine := NewEngine(seals, f.stations, audit.NewRecorder(f.logs, nil, log), log, WithClock(f.clock.Now))

	_, err := engine.Dispatch(ctx, f.actor, DispatchInput{SealID: seal.ID, DestinationStationID: f.north.ID})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := f.seals.Get(ctx, seal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SealReceived || got.DestinationStation != "" {
		t.Errorf("seal changed after a lost transaction: %+v", got)
	}
	if after := f.logCount(t); after != before {
		t.Errorf("lost transaction was audited: %d -> %d entries", before, after)
	}
}
