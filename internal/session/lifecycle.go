package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/core"
	"github.com/nebulamp/netcore/internal/packets"
)

// EventKind names a change in a player's participation in the session.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventSynced       EventKind = "synced"
	EventDisconnected EventKind = "disconnected"
)

// Event is recorded in the Journal whenever a player's status changes.
type Event struct {
	SessionID uuid.UUID
	PlayerID  uint16
	Username  string
	Kind      EventKind
	Position  packets.Vector3
	At        time.Time
}

// Journal persists session events. Record is called from the simulation goroutine
// and must not block.
type Journal interface {
	Record(Event)
}

// Hooks are notified of lifecycle events on the simulation goroutine.
type Hooks struct {
	// Connected is called when a new connection joins the session as pending.
	Connected func(*Player)
	// SyncCompleted is called once each time the last syncing player finishes.
	SyncCompleted func()
	// Disconnected is called after a player has been removed and announced.
	Disconnected func(*Player)
}

// LifecycleConfig holds the dependencies of a Lifecycle.
type LifecycleConfig struct {
	Registry *packets.Registry
	// IDs must be the allocator the transports draw connection ids from.
	IDs     *IDAllocator
	Logger  logrus.FieldLogger
	Metrics *core.Metrics
	// Journal is optional.
	Journal Journal
	// How long a departed player's position is kept for when they rejoin.
	DepartedTTL time.Duration
}

// Lifecycle sequences joins, the sync barrier and departures. Every method except
// Players().Snapshot must be called from the simulation goroutine.
type Lifecycle struct {
	registry *packets.Registry
	ids      *IDAllocator
	players  *Players
	departed *departedCache
	journal  Journal
	logger   logrus.FieldLogger
	metrics  *core.Metrics
	hooks    []Hooks
}

func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Lifecycle{
		registry: cfg.Registry,
		ids:      cfg.IDs,
		players:  NewPlayers(),
		departed: newDepartedCache(cfg.DepartedTTL),
		journal:  cfg.Journal,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// AddHooks registers h. Hooks are called in the order they were added.
func (l *Lifecycle) AddHooks(h Hooks) {
	l.hooks = append(l.hooks, h)
}

func (l *Lifecycle) Players() *Players { return l.players }

// NumPlayers returns the number of players in the session, whatever their status.
func (l *Lifecycle) NumPlayers() int { return l.players.Len() }

// RememberDeparture seeds the departed-player cache, typically from storage at startup.
func (l *Lifecycle) RememberDeparture(username string, d Departure) {
	l.departed.Put(username, d)
}

// Join adds a newly accepted connection to the session as pending.
func (l *Lifecycle) Join(c *Conn) *Player {
	p := &Player{
		ID:        c.ID(),
		Conn:      c,
		JoinedAt:  time.Now(),
		SessionID: uuid.New(),
	}
	if err := l.players.Add(p); err != nil {
		l.logger.Warnf("[SESSION] %s cannot join: %v", c, err)
		return nil
	}

	l.logger.Infof("[SESSION] %s joined", c)
	l.updateGauges()
	for _, h := range l.hooks {
		if h.Connected != nil {
			h.Connected(p)
		}
	}
	return p
}

// HandleHandshake identifies a pending player and starts sending them the session
// snapshot: a HandshakeAck followed by a PlayerJoined for every connected player.
func (l *Lifecycle) HandleHandshake(pkt *packets.Handshake, c *Conn) {
	p := l.players.Get(c)
	if p == nil {
		l.logger.Warnf("[SESSION] handshake from unknown connection %s", c)
		return
	}
	if c.Status() != Pending {
		l.logger.Warnf("[SESSION] ignoring repeated handshake from %s", c)
		return
	}

	username := l.uniqueUsername(pkt.Username, p)
	departure, rejoined := l.departed.Take(username)
	l.players.Update(c, func(p *Player) {
		p.Username = username
		if rejoined {
			p.Position = departure.Position
		}
	})

	if err := l.players.Transition(c, Syncing); err != nil {
		l.logger.Errorf("[SESSION] %v", err)
		return
	}
	l.updateGauges()

	if rejoined {
		l.logger.Infof("[SESSION] %s identified as returning player %s", c, username)
	} else {
		l.logger.Infof("[SESSION] %s identified as %s", c, username)
	}
	l.record(p, EventConnected)

	c.SendPacket(&packets.HandshakeAck{
		PlayerID:   p.ID,
		NumPlayers: uint32(l.players.Len()),
		Position:   p.Position,
	})
	for _, other := range l.players.Subset(Connected) {
		c.SendPacket(&packets.PlayerJoined{
			PlayerID: other.ID,
			Username: other.Username,
			Position: other.Position,
		})
	}
}

// uniqueUsername returns requested, or a variant of it that no other player is using.
func (l *Lifecycle) uniqueUsername(requested string, p *Player) string {
	if requested == "" {
		requested = fmt.Sprintf("Player %d", p.ID)
	}
	name := requested
	for n := int(p.ID); ; n++ {
		if other := l.players.FindByUsername(name); other == nil || other == p {
			return name
		}
		name = fmt.Sprintf("%s (%d)", requested, n)
	}
}

// HandleSyncComplete marks a syncing player as connected and announces them to the
// other players. If that leaves nobody syncing, the barrier is reached: every
// connected player is told and SyncCompleted hooks fire.
func (l *Lifecycle) HandleSyncComplete(_ *packets.SyncComplete, c *Conn) {
	p := l.players.Get(c)
	if p == nil {
		l.logger.Warnf("[SESSION] sync complete from unknown connection %s", c)
		return
	}
	if err := l.players.Transition(c, Connected); err != nil {
		l.logger.Warnf("[SESSION] ignoring sync complete: %v", err)
		return
	}
	l.updateGauges()
	l.logger.Infof("[SESSION] %s finished syncing", p.Username)
	l.record(p, EventSynced)

	l.SendPacketExcluding(&packets.PlayerJoined{
		PlayerID: p.ID,
		Username: p.Username,
		Position: p.Position,
	}, c)

	// Only the transition that empties the syncing subset reaches the barrier.
	if l.players.Count(Syncing) == 0 {
		l.completeSync()
	}
}

func (l *Lifecycle) completeSync() {
	l.logger.Infof("[SESSION] all players synced (%d connected)", l.players.Count(Connected))
	l.metrics.SyncBarrierReached()
	l.SendPacket(&packets.SyncComplete{})
	for _, h := range l.hooks {
		if h.SyncCompleted != nil {
			h.SyncCompleted()
		}
	}
}

// HandlePlayerPosition records a connected player's movement and relays it to the
// other connected players.
func (l *Lifecycle) HandlePlayerPosition(pkt *packets.PlayerPosition, c *Conn) {
	if c.Status() != Connected {
		l.logger.Debugf("[SESSION] dropping position from %s while %s", c, c.Status())
		return
	}
	l.players.Update(c, func(p *Player) { p.Position = pkt.Position })
	pkt.PlayerID = c.ID()
	l.SendPacketExcluding(pkt, c)
}

func (l *Lifecycle) HandlePing(pkt *packets.Ping, c *Conn) {
	c.SendPacket(&packets.Pong{Payload: pkt.Payload})
}

// Disconnect removes the player on c from the session. The departure is announced
// and recorded before the connection is closed, and the player's id is returned to
// the allocator last so that it cannot be reused while still referenced.
func (l *Lifecycle) Disconnect(c *Conn) {
	if c.Status() == Disconnected {
		return
	}

	status := c.Status()
	p := l.players.Remove(c)
	if p != nil {
		// Syncing peers were sent this player in their snapshot, so they are told too.
		if status == Connected {
			l.SendToSubset(&packets.PlayerDisconnected{
				PlayerID:   p.ID,
				NumPlayers: uint32(l.players.Len()),
			}, func(other *Player) bool {
				s := other.Status()
				return s == Syncing || s == Connected
			})
		}
		for _, h := range l.hooks {
			if h.Disconnected != nil {
				h.Disconnected(p)
			}
		}
		if p.Username != "" {
			l.departed.Put(p.Username, Departure{PlayerID: p.ID, Position: p.Position, LeftAt: time.Now()})
		}
		l.record(p, EventDisconnected)
		l.logger.Infof("[SESSION] %s left while %s (%d players remain)", c, status, l.players.Len())
	}

	if err := c.transition(Disconnected); err != nil {
		l.logger.Errorf("[SESSION] %v", err)
	}
	if err := c.Close(); err != nil {
		l.logger.Debugf("[SESSION] error closing %s: %v", c, err)
	}
	l.updateGauges()

	if err := l.ids.Release(c.ID()); err != nil {
		l.logger.Errorf("[SESSION] invariant violated while disconnecting %s: %v", c, err)
	}
}

// SendPacket sends p to every connected player.
func (l *Lifecycle) SendPacket(p packets.Packet) {
	l.SendToSubset(p, func(player *Player) bool { return player.Status() == Connected })
}

// SendPacketExcluding sends p to every connected player except the one on exclude.
func (l *Lifecycle) SendPacketExcluding(p packets.Packet, exclude *Conn) {
	l.SendToSubset(p, func(player *Player) bool {
		return player.Conn != exclude && player.Status() == Connected
	})
}

// SendToSubset sends p to every player, in any status, for which keep returns true.
// The packet is encoded once and the same frame is queued on each connection.
func (l *Lifecycle) SendToSubset(p packets.Packet, keep func(*Player) bool) {
	recipients := l.players.Filter(keep)
	if len(recipients) == 0 {
		return
	}

	b, err := l.registry.EncodeFrame(p)
	if err != nil {
		l.logger.Errorf("[SESSION] failed to encode %T for broadcast: %v", p, err)
		return
	}
	for _, player := range recipients {
		player.Conn.SendRaw(b)
	}
}

func (l *Lifecycle) record(p *Player, kind EventKind) {
	if l.journal == nil {
		return
	}
	l.journal.Record(Event{
		SessionID: p.SessionID,
		PlayerID:  p.ID,
		Username:  p.Username,
		Kind:      kind,
		Position:  p.Position,
		At:        time.Now(),
	})
}

func (l *Lifecycle) updateGauges() {
	for _, status := range []Status{Pending, Syncing, Connected} {
		l.metrics.SetConnections(status.String(), l.players.Count(status))
	}
}
