package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/audit"
	"sealtrack/db"
	"sealtrack/lifecycle"
	"sealtrack/models"
	"sealtrack/portal"
)

type harness struct {
	store    *db.MemoryStore
	seals    *db.Collection[models.Seal]
	stations *db.Collection[models.Station]
	users    *db.Collection[models.User]
	logs     *db.Collection[models.ActivityLog]
	agg      *Aggregator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()
	store := db.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:    store,
		seals:    db.NewCollection[models.Seal](store, models.CollectionSeals, db.Order{Field: "lastUpdated", Desc: true}, log),
		stations: db.NewCollection[models.Station](store, models.CollectionStations, db.Order{Field: "lastActive", Desc: true}, log),
		users:    db.NewCollection[models.User](store, models.CollectionUsers, db.Order{Field: "name"}, log),
		logs:     db.NewCollection[models.ActivityLog](store, models.CollectionLogs, db.Order{Field: "timestamp", Desc: true, Limit: 100}, log),
	}
	h.agg = NewAggregator(h.seals, h.stations, h.users, nil, log)
	return h
}

func next(t *testing.T, s *Stream) View {
	t.Helper()
	select {
	case v, ok := <-s.Updates():
		if !ok {
			t.Fatal("stream closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for view")
	}
	return View{}
}

func TestWatchDeliversInitialAndUpdates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		h.seals.Create(ctx, &models.Seal{SerialCode: "S", Status: models.SealReceived, IsUnutilized: true, LastUpdated: time.Now()})
	}

	stream, err := h.agg.Watch(ctx, &portal.Session{Portal: portal.Admin})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Cancel()

	if got := stream.Initial().Seals.Total; got != 3 {
		t.Fatalf("initial total = %d, want 3", got)
	}

	h.seals.Create(ctx, &models.Seal{SerialCode: "S4", Status: models.SealDamaged, LastUpdated: time.Now()})
	v := next(t, stream)
	if v.Seals.Total != 4 || v.Seals.ByStatus[models.SealDamaged] != 1 {
		t.Errorf("after create: %+v", v.Seals)
	}

	h.users.Put(ctx, "u1", &models.User{Name: "Ada", Role: models.RoleAdmin})
	v = next(t, stream)
	if v.Overview == nil || v.Overview.TotalUsers != 1 {
		t.Errorf("admin view should track users, got %+v", v.Overview)
	}
}

func TestCancelStopsStream(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	a, _ := h.agg.Watch(ctx, &portal.Session{Portal: portal.Admin})
	b, _ := h.agg.Watch(ctx, &portal.Session{Portal: portal.Station, StationName: "North"})
	defer b.Cancel()

	a.Cancel()
	a.Cancel()
	select {
	case _, ok := <-a.Updates():
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}

	// Other subscribers keep receiving.
	h.seals.Create(ctx, &models.Seal{SerialCode: "S", CurrentStation: "North", LastUpdated: time.Now()})
	if v := next(t, b); v.Seals.Total != 1 {
		t.Errorf("station view total = %d", v.Seals.Total)
	}
}

func TestSealJourney(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	log := zerolog.Nop()

	central := &models.Station{Name: "Central", Status: models.StationActive}
	north := &models.Station{Name: "North", Status: models.StationActive}
	h.stations.Create(ctx, central)
	h.stations.Create(ctx, north)

	recorder := audit.NewRecorder(h.logs, nil, log)
	engine := lifecycle.NewEngine(h.seals, h.stations, recorder, log)
	actor := &models.Actor{UserID: "u1", Name: "Ada"}

	stream, err := h.agg.Watch(ctx, &portal.Session{Portal: portal.Admin})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Cancel()

	img := append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 32)...)
	seal, err := engine.Create(ctx, actor, lifecycle.CreateInput{
		SerialCode: "SN-100", QRCode: "QR-100", StationID: central.ID,
		Images: []lifecycle.ImageUpload{{Name: "front.jpg", Data: img}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Dispatch(ctx, actor, lifecycle.DispatchInput{SealID: seal.ID, DestinationStationID: north.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Receive(ctx, actor, lifecycle.ReceiveInput{SealID: seal.ID, AtStationID: north.ID}); err != nil {
		t.Fatal(err)
	}

	var statuses []models.SealStatus
	var prev time.Time
	for i := 0; i < 3; i++ {
		v := next(t, stream)
		if len(v.Recent) != 1 {
			t.Fatalf("view %d has %d seals", i, len(v.Recent))
		}
		observed := v.Recent[0]
		if i > 0 && !observed.LastUpdated.After(prev) {
			t.Errorf("view %d: lastUpdated %v not after %v", i, observed.LastUpdated, prev)
		}
		prev = observed.LastUpdated
		statuses = append(statuses, observed.Status)
	}
	want := []models.SealStatus{models.SealReceived, models.SealInTransit, models.SealReceived}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("observed %v, want %v", statuses, want)
		}
	}

	logs, err := h.logs.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Errorf("expected 3 activity entries, got %d", len(logs))
	}
	for _, entry := range logs {
		if entry.EntityID != seal.ID || entry.EntityType != models.EntitySeal {
			t.Errorf("entry %q refers to %s %q, want seal %q", entry.Action, entry.EntityType, entry.EntityID, seal.ID)
		}
	}
}
