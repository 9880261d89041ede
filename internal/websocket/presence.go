package websocket

import (
	"sort"

	"chatrelay/internal/models"
)

type presenceEntry struct {
	username string
	connID   string
}

// presenceRegistry maps a durable user id to its live connection. Only the
// hub goroutine touches it.
type presenceRegistry struct {
	byUser map[string]presenceEntry
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{byUser: make(map[string]presenceEntry)}
}

// upsert records connID as the user's connection; the last connection wins.
func (p *presenceRegistry) upsert(userID, username, connID string) {
	p.byUser[userID] = presenceEntry{username: username, connID: connID}
}

// removeIfOwned deletes the user's entry only while it still points at connID.
func (p *presenceRegistry) removeIfOwned(userID, connID string) bool {
	entry, ok := p.byUser[userID]
	if !ok || entry.connID != connID {
		return false
	}
	delete(p.byUser, userID)
	return true
}

func (p *presenceRegistry) connectionFor(userID string) (string, bool) {
	entry, ok := p.byUser[userID]
	return entry.connID, ok
}

// userForConnection reverse-resolves a live connection id.
func (p *presenceRegistry) userForConnection(connID string) (string, bool) {
	for userID, entry := range p.byUser {
		if entry.connID == connID {
			return userID, true
		}
	}
	return "", false
}

// snapshot lists online users sorted by username.
func (p *presenceRegistry) snapshot() []models.OnlineUser {
	users := make([]models.OnlineUser, 0, len(p.byUser))
	for userID, entry := range p.byUser {
		users = append(users, models.OnlineUser{
			ConnectionID: entry.connID,
			UserID:       userID,
			Username:     entry.username,
		})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].UserID < users[j].UserID
	})
	return users
}
