package engine

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cooldown remembers which profiles were recently blocked for each target so
// rotation can steer away from them. Entries expire after the TTL.
type Cooldown struct {
	store *cache.Cache
}

// NewCooldown creates a Cooldown with the given TTL. Expired entries are
// pruned every TTL/2, at least once a minute.
func NewCooldown(ttl time.Duration) *Cooldown {
	cleanup := ttl / 2
	if cleanup <= 0 || cleanup > time.Minute {
		cleanup = time.Minute
	}
	return &Cooldown{store: cache.New(ttl, cleanup)}
}

func cooldownKey(target, profileID string) string {
	return target + "\x00" + profileID
}

// Burn records that profileID was blocked while fetching for target.
func (c *Cooldown) Burn(target, profileID string) {
	c.store.SetDefault(cooldownKey(target, profileID), time.Now())
}

// Burned lists the profiles still cooling down for target.
func (c *Cooldown) Burned(target string) []string {
	prefix := target + "\x00"
	var ids []string
	for k := range c.store.Items() {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsBurned reports whether profileID is cooling down for target.
func (c *Cooldown) IsBurned(target, profileID string) bool {
	_, ok := c.store.Get(cooldownKey(target, profileID))
	return ok
}

// Forget clears every entry for target.
func (c *Cooldown) Forget(target string) {
	for _, id := range c.Burned(target) {
		c.store.Delete(cooldownKey(target, id))
	}
}
