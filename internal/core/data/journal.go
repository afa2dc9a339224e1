package data

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nebulamp/netcore/internal/packets"
	"github.com/nebulamp/netcore/internal/session"
)

const defaultJournalSize = 1024

// Journal writes session events to the database from its own goroutine so that
// the simulation goroutine never waits on a query.
type Journal struct {
	db     *gorm.DB
	logger logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	events chan session.Event
	done   chan struct{}
}

// NewJournal starts a journal that buffers up to size events.
func NewJournal(db *gorm.DB, logger logrus.FieldLogger, size int) *Journal {
	if size <= 0 {
		size = defaultJournalSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	j := &Journal{
		db:     db,
		logger: logger,
		events: make(chan session.Event, size),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

// Record queues e for writing. Events are dropped, with a warning, when the
// buffer is full or the journal has been closed.
func (j *Journal) Record(e session.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		j.logger.Debugf("[JOURNAL] dropping %s event for %s after close", e.Kind, e.Username)
		return
	}
	select {
	case j.events <- e:
	default:
		j.logger.Warnf("[JOURNAL] buffer full, dropping %s event for %s", e.Kind, e.Username)
	}
}

// Close stops accepting events and waits for the queued ones to be written.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.events)
	}
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.events {
		if err := j.write(e); err != nil {
			j.logger.Errorf("[JOURNAL] failed to record %s event for %s: %v", e.Kind, e.Username, err)
		}
	}
}

func (j *Journal) write(e session.Event) error {
	err := RecordSessionEvent(j.db, &SessionEvent{
		SessionID:  e.SessionID.String(),
		PlayerID:   e.PlayerID,
		Username:   e.Username,
		Kind:       string(e.Kind),
		PositionX:  e.Position.X,
		PositionY:  e.Position.Y,
		PositionZ:  e.Position.Z,
		OccurredAt: e.At,
	})
	if err != nil || e.Kind == session.EventSynced || e.Username == "" {
		return err
	}

	return SavePlayerRecord(j.db, &PlayerRecord{
		Username:     e.Username,
		LastPlayerID: e.PlayerID,
		PositionX:    e.Position.X,
		PositionY:    e.Position.Y,
		PositionZ:    e.Position.Z,
		LastSeen:     e.At,
	})
}

// RestoreDepartures seeds the lifecycle's departed-player cache with everybody
// seen within ttl and returns how many were restored. A ttl of zero or less
// restores every record, matching a cache that never expires.
func RestoreDepartures(db *gorm.DB, lc *session.Lifecycle, ttl time.Duration) (int, error) {
	var since time.Time
	if ttl > 0 {
		since = time.Now().Add(-ttl)
	}
	records, err := RecentPlayerRecords(db, since)
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		lc.RememberDeparture(r.Username, session.Departure{
			PlayerID: r.LastPlayerID,
			Position: packets.Vector3{X: r.PositionX, Y: r.PositionY, Z: r.PositionZ},
			LeftAt:   r.LastSeen,
		})
	}
	return len(records), nil
}
