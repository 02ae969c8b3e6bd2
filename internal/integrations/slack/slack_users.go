package slackbot

import (
	"context"
	"log"
	"sync"
	"time"
)

const userCacheTTL = 5 * time.Minute

type cachedName struct {
	name      string
	fetchedAt time.Time
}

// userCache remembers display names so repeated requests skip users.info.
type userCache struct {
	sync.Mutex
	names map[string]cachedName
	now   func() time.Time
}

func newUserCache() *userCache {
	return &userCache{names: make(map[string]cachedName), now: time.Now}
}

// displayName prefers the profile display name, then the real name, then the
// handle. Lookup failures yield "" and are not cached.
func (c *userCache) displayName(ctx context.Context, api slackAPI, userID string) string {
	if userID == "" {
		return ""
	}
	c.Lock()
	defer c.Unlock()

	if hit, ok := c.names[userID]; ok && c.now().Sub(hit.fetchedAt) < userCacheTTL {
		return hit.name
	}

	user, err := api.GetUserInfoContext(ctx, userID)
	if err != nil {
		log.Printf("resolve user %s error (non-fatal): %v", userID, err)
		return ""
	}
	name := user.Name
	if user.Profile.DisplayName != "" {
		name = user.Profile.DisplayName
	} else if user.RealName != "" {
		name = user.RealName
	}
	c.names[userID] = cachedName{name: name, fetchedAt: c.now()}
	return name
}
