package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"chatrelay/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	store, err := NewDB(filepath.Join(t.TempDir(), "chat.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreateUser(t *testing.T, store *DB, id, username string) models.User {
	t.Helper()
	user := models.User{ID: id, Username: username, Password: "hash", CreatedAt: time.Now()}
	if err := store.CreateUser(context.Background(), &user); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return user
}

func TestCreateAndLookupUser(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, store, "u-1", "alice")

	byName, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if byName.ID != "u-1" || byName.Password != "hash" {
		t.Fatalf("unexpected user %+v", byName)
	}

	byID, err := store.GetUserByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("expected alice, got %s", byID.Username)
	}

	if _, err := store.GetUserByID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := store.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	store := newTestDB(t)
	mustCreateUser(t, store, "u-1", "alice")

	dup := models.User{ID: "u-2", Username: "alice", Password: "x", CreatedAt: time.Now()}
	if err := store.CreateUser(context.Background(), &dup); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestGetAllUsersSorted(t *testing.T) {
	store := newTestDB(t)
	mustCreateUser(t, store, "u-2", "zoe")
	mustCreateUser(t, store, "u-1", "amy")

	users, err := store.GetAllUsers(context.Background())
	if err != nil {
		t.Fatalf("GetAllUsers: %v", err)
	}
	if len(users) != 2 || users[0].Username != "amy" || users[1].Username != "zoe" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestQueryMessagesFilters(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, store, "a", "alice")
	mustCreateUser(t, store, "b", "bob")
	mustCreateUser(t, store, "c", "carol")

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{ID: "m1", Content: "hello general", SenderID: "a", Channel: "general", CreatedAt: base},
		{ID: "m2", Content: "hello random", SenderID: "b", Channel: "random", CreatedAt: base.Add(time.Second)},
		{ID: "m3", Content: "psst bob", SenderID: "a", RecipientID: "b", IsPrivate: true, CreatedAt: base.Add(2 * time.Second)},
		{ID: "m4", Content: "psst carol", SenderID: "b", RecipientID: "c", IsPrivate: true, CreatedAt: base.Add(3 * time.Second)},
	}
	for i := range msgs {
		if err := store.SaveMessage(ctx, &msgs[i]); err != nil {
			t.Fatalf("SaveMessage(%s): %v", msgs[i].ID, err)
		}
	}

	tests := []struct {
		name   string
		filter models.MessageFilter
		want   []string
	}{
		{name: "anonymous", filter: models.MessageFilter{}, want: []string{"m2", "m1"}},
		{name: "channel", filter: models.MessageFilter{Channel: "general"}, want: []string{"m1"}},
		{name: "channel ignores caller", filter: models.MessageFilter{UserID: "b", Channel: "random"}, want: []string{"m2"}},
		{name: "private only", filter: models.MessageFilter{UserID: "a", PrivateOnly: true}, want: []string{"m3"}},
		{name: "private only anonymous", filter: models.MessageFilter{PrivateOnly: true}, want: []string{"m2", "m1"}},
		{name: "caller unscoped", filter: models.MessageFilter{UserID: "c"}, want: []string{"m4", "m2", "m1"}},
		{name: "limit", filter: models.MessageFilter{Limit: 1}, want: []string{"m2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.QueryMessages(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryMessages: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, got)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestQueryMessagesRecordFields(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, store, "a", "alice")
	mustCreateUser(t, store, "b", "bob")

	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	msg := models.Message{ID: "m1", Content: "hi", SenderID: "a", RecipientID: "b", IsPrivate: true, CreatedAt: sent}
	if err := store.SaveMessage(ctx, &msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := store.QueryMessages(ctx, models.MessageFilter{UserID: "b", PrivateOnly: true})
	if err != nil || len(got) != 1 {
		t.Fatalf("QueryMessages: %v %+v", err, got)
	}
	rec := got[0]
	if rec.SenderName != "alice" || rec.RecipientID != "b" || !rec.IsPrivate || rec.Channel != "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.CreatedAt.Equal(sent) || rec.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp equal to %s, got %s", sent, rec.CreatedAt)
	}
}
