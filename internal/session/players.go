package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nebulamp/netcore/internal/packets"
)

// Player is the session-level state of one connection.
type Player struct {
	ID       uint16
	Username string
	Position packets.Vector3
	JoinedAt time.Time
	// SessionID identifies this particular visit in the session journal.
	SessionID uuid.UUID
	Conn      *Conn
}

// Status returns the status of the player's connection.
func (p *Player) Status() Status { return p.Conn.Status() }

// PlayerInfo is a point-in-time copy of a Player that is safe to hand to other goroutines.
type PlayerInfo struct {
	ID         uint16          `json:"id"`
	Username   string          `json:"username"`
	Status     string          `json:"status"`
	Position   packets.Vector3 `json:"position"`
	RemoteAddr string          `json:"remote_addr"`
	JoinedAt   time.Time       `json:"joined_at"`
}

// Players maps connections to player state. The pending, syncing and connected
// subsets are derived from each connection's status, so Transition is the only way
// to move a player between them.
//
// Mutations happen on the simulation goroutine; the lock exists so that Snapshot
// can be called from elsewhere.
type Players struct {
	mu     sync.RWMutex
	byConn map[*Conn]*Player
}

func NewPlayers() *Players {
	return &Players{byConn: make(map[*Conn]*Player)}
}

// Add registers p, whose connection must still be pending.
func (ps *Players) Add(p *Player) error {
	if s := p.Conn.Status(); s != Pending {
		return &TransitionError{ID: p.ID, From: s, To: Pending}
	}
	ps.mu.Lock()
	ps.byConn[p.Conn] = p
	ps.mu.Unlock()
	return nil
}

// Remove unregisters the player on c and returns it, or nil if there was none.
func (ps *Players) Remove(c *Conn) *Player {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.byConn[c]
	if !ok {
		return nil
	}
	delete(ps.byConn, c)
	return p
}

// Transition moves the player on c to the next status.
func (ps *Players) Transition(c *Conn, next Status) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.byConn[c]; !ok {
		return &TransitionError{ID: c.ID(), From: c.Status(), To: next}
	}
	return c.transition(next)
}

// Update applies fn to the player on c while holding the write lock.
func (ps *Players) Update(c *Conn, fn func(*Player)) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.byConn[c]
	if ok {
		fn(p)
	}
	return ok
}

func (ps *Players) Get(c *Conn) *Player {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.byConn[c]
}

// FindByUsername returns the player using name, compared case-insensitively.
func (ps *Players) FindByUsername(name string) *Player {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, p := range ps.byConn {
		if strings.EqualFold(p.Username, name) {
			return p
		}
	}
	return nil
}

// Len returns the number of players in every subset.
func (ps *Players) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.byConn)
}

// Count returns the size of one subset.
func (ps *Players) Count(status Status) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	n := 0
	for c := range ps.byConn {
		if c.Status() == status {
			n++
		}
	}
	return n
}

// Filter returns the players matching keep, ordered by id.
func (ps *Players) Filter(keep func(*Player) bool) []*Player {
	ps.mu.RLock()
	var matched []*Player
	for _, p := range ps.byConn {
		if keep == nil || keep(p) {
			matched = append(matched, p)
		}
	}
	ps.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched
}

// Subset returns the players whose connection has the given status, ordered by id.
func (ps *Players) Subset(status Status) []*Player {
	return ps.Filter(func(p *Player) bool { return p.Status() == status })
}

// Snapshot copies every player for use outside the simulation goroutine.
func (ps *Players) Snapshot() []PlayerInfo {
	players := ps.Filter(nil)

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	infos := make([]PlayerInfo, 0, len(players))
	for _, p := range players {
		infos = append(infos, PlayerInfo{
			ID:         p.ID,
			Username:   p.Username,
			Status:     p.Status().String(),
			Position:   p.Position,
			RemoteAddr: p.Conn.RemoteAddr(),
			JoinedAt:   p.JoinedAt,
		})
	}
	return infos
}
