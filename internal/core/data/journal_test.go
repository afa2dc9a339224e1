package data

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/packets"
	"github.com/nebulamp/netcore/internal/session"
)

type discardTransport struct{}

func (discardTransport) Write(b []byte) (int, error) { return len(b), nil }
func (discardTransport) Close() error                { return nil }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestJournal_WritesEventsAndRecords(t *testing.T) {
	db := setUpDatabase(t)
	j := NewJournal(db, testLogger(), 16)

	visit := uuid.New()
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	pos := packets.Vector3{X: 1, Y: 2, Z: 3}
	for _, kind := range []session.EventKind{session.EventConnected, session.EventSynced, session.EventDisconnected} {
		j.Record(session.Event{SessionID: visit, PlayerID: 4, Username: "Zed", Kind: kind, Position: pos, At: at})
	}
	j.Close()

	// Recording after Close is a no-op.
	j.Record(session.Event{SessionID: visit, Username: "Zed", Kind: session.EventConnected})

	events, err := SessionEvents(db, visit)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("found %d events, want 3", len(events))
	}
	got := events[2]
	got.ID = 0
	want := SessionEvent{
		SessionID:  visit.String(),
		PlayerID:   4,
		Username:   "Zed",
		Kind:       "disconnected",
		PositionX:  1,
		PositionY:  2,
		PositionZ:  3,
		OccurredAt: at,
	}
	if diff := deep.Equal(want, got); diff != nil {
		t.Errorf("event did not match expected; diff:\n%v", diff)
	}

	record, err := FindPlayerRecord(db, "zed")
	if err != nil || record == nil {
		t.Fatalf("FindPlayerRecord() = (%v, %v), want a record", record, err)
	}
	if record.LastPlayerID != 4 || record.PositionZ != 3 {
		t.Errorf("record = %+v, want player 4 at z=3", record)
	}
}

func TestRestoreDepartures(t *testing.T) {
	db := setUpDatabase(t)
	now := time.Now()
	for _, r := range []*PlayerRecord{
		{Username: "recent", PositionX: 5, LastSeen: now.Add(-time.Minute)},
		{Username: "stale", PositionX: 9, LastSeen: now.Add(-2 * time.Hour)},
	} {
		if err := SavePlayerRecord(db, r); err != nil {
			t.Fatal(err)
		}
	}

	registry := packets.NewRegistry()
	if err := registry.RegisterAll(packets.SessionPackets); err != nil {
		t.Fatal(err)
	}
	ids := session.NewIDAllocator()
	lc := session.NewLifecycle(session.LifecycleConfig{
		Registry:    registry,
		IDs:         ids,
		Logger:      testLogger(),
		DepartedTTL: time.Hour,
	})

	n, err := RestoreDepartures(db, lc, time.Hour)
	if err != nil {
		t.Fatalf("RestoreDepartures() returned an unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("RestoreDepartures() = %d, want 1", n)
	}

	join := func(name string) packets.Vector3 {
		id, _ := ids.Allocate()
		c := session.NewConn(context.Background(), id, discardTransport{}, session.ConnConfig{
			Registry: registry,
			Logger:   testLogger(),
		})
		t.Cleanup(func() { c.Close() })
		lc.Join(c)
		lc.HandleHandshake(&packets.Handshake{Username: name}, c)
		return lc.Players().Get(c).Position
	}

	if got := join("Recent"); got != (packets.Vector3{X: 5}) {
		t.Errorf("recent player's position = %v, want (5, 0, 0)", got)
	}
	if got := join("stale"); got != (packets.Vector3{}) {
		t.Errorf("stale player's position = %v, want the origin", got)
	}
}

func TestRestoreDepartures_WithoutExpiry(t *testing.T) {
	db := setUpDatabase(t)
	for _, r := range []*PlayerRecord{
		{Username: "recent", LastSeen: time.Now().Add(-time.Minute)},
		{Username: "ancient", PositionY: 3, LastSeen: time.Now().Add(-30 * 24 * time.Hour)},
	} {
		if err := SavePlayerRecord(db, r); err != nil {
			t.Fatal(err)
		}
	}

	registry := packets.NewRegistry()
	if err := registry.RegisterAll(packets.SessionPackets); err != nil {
		t.Fatal(err)
	}
	ids := session.NewIDAllocator()
	lc := session.NewLifecycle(session.LifecycleConfig{
		Registry: registry,
		IDs:      ids,
		Logger:   testLogger(),
	})

	n, err := RestoreDepartures(db, lc, 0)
	if err != nil {
		t.Fatalf("RestoreDepartures() returned an unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("RestoreDepartures() = %d, want 2", n)
	}

	id, _ := ids.Allocate()
	c := session.NewConn(context.Background(), id, discardTransport{}, session.ConnConfig{
		Registry: registry,
		Logger:   testLogger(),
	})
	t.Cleanup(func() { c.Close() })
	lc.Join(c)
	lc.HandleHandshake(&packets.Handshake{Username: "ancient"}, c)
	if got := lc.Players().Get(c).Position; got != (packets.Vector3{Y: 3}) {
		t.Errorf("ancient player's position = %v, want (0, 3, 0)", got)
	}
}
