package session

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nebulamp/netcore/internal/packets"
)

// Departure is what the session remembers about a player after they leave.
type Departure struct {
	PlayerID uint16
	Position packets.Vector3
	LeftAt   time.Time
}

// departedCache remembers recently departed players by username so that a player
// who reconnects is placed where they left. Entries expire after the configured TTL.
type departedCache struct {
	cacheInstance *gocache.Cache
	ttl           time.Duration
}

func newDepartedCache(ttl time.Duration) *departedCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &departedCache{
		cacheInstance: gocache.New(ttl, time.Minute),
		ttl:           ttl,
	}
}

func departedKey(username string) string {
	return strings.ToLower(username)
}

// Put remembers d for username, replacing any previous entry. The entry expires one
// TTL after d.LeftAt, so departures loaded from storage keep their original deadline.
func (c *departedCache) Put(username string, d Departure) {
	ttl := gocache.DefaultExpiration
	if c.ttl != gocache.NoExpiration && !d.LeftAt.IsZero() {
		ttl = c.ttl - time.Since(d.LeftAt)
		if ttl <= 0 {
			return
		}
	}
	c.cacheInstance.Set(departedKey(username), d, ttl)
}

// Take returns and forgets the departure recorded for username.
func (c *departedCache) Take(username string) (Departure, bool) {
	key := departedKey(username)
	v, ok := c.cacheInstance.Get(key)
	if !ok {
		return Departure{}, false
	}
	c.cacheInstance.Delete(key)
	return v.(Departure), true
}

func (c *departedCache) Len() int {
	return c.cacheInstance.ItemCount()
}
