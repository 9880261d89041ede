package websocket

import (
	"reflect"
	"testing"
)

func TestPresenceRegistry(t *testing.T) {
	p := newPresenceRegistry()
	p.upsert("u1", "alice", "c1")
	p.upsert("u2", "bob", "c2")
	p.upsert("u1", "alice", "c3")

	if conn, ok := p.connectionFor("u1"); !ok || conn != "c3" {
		t.Fatalf("expected last connection c3, got %q %v", conn, ok)
	}
	if userID, ok := p.userForConnection("c2"); !ok || userID != "u2" {
		t.Fatalf("expected u2 for c2, got %q %v", userID, ok)
	}
	if _, ok := p.userForConnection("c1"); ok {
		t.Fatal("replaced connection should not resolve")
	}

	if p.removeIfOwned("u1", "c1") {
		t.Fatal("stale connection must not remove the entry")
	}
	if _, ok := p.connectionFor("u1"); !ok {
		t.Fatal("entry removed by a stale connection")
	}
	if !p.removeIfOwned("u1", "c3") {
		t.Fatal("owning connection should remove the entry")
	}

	snap := p.snapshot()
	if len(snap) != 1 || snap[0].Username != "bob" || snap[0].ConnectionID != "c2" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPresenceSnapshotSorted(t *testing.T) {
	p := newPresenceRegistry()
	p.upsert("u3", "carol", "c3")
	p.upsert("u1", "alice", "c1")
	p.upsert("u2", "bob", "c2")

	var names []string
	for _, u := range p.snapshot() {
		names = append(names, u.Username)
	}
	if !reflect.DeepEqual(names, []string{"alice", "bob", "carol"}) {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestChannelMembership(t *testing.T) {
	m := newChannelMembership()
	m.join("c1", "general")
	m.join("c1", "random")
	m.join("c2", "general")

	if !m.isMember("c1", "random") || m.isMember("c2", "random") {
		t.Fatal("unexpected membership for random")
	}
	if got := len(m.members("general")); got != 2 {
		t.Fatalf("expected 2 members in general, got %d", got)
	}

	m.leave("c2", "random")
	m.leave("c1", "random")
	if _, ok := m.byChannel["random"]; ok {
		t.Fatal("empty channel should be forgotten")
	}

	m.removeAll("c1")
	if m.isMember("c1", "general") {
		t.Fatal("removeAll left a membership behind")
	}
	if _, ok := m.byConn["c1"]; ok {
		t.Fatal("removeAll left the connection index behind")
	}
	if !m.isMember("c2", "general") {
		t.Fatal("removeAll touched another connection")
	}
}

func TestTypingTracker(t *testing.T) {
	tr := newTypingTracker()
	tr.set("c2", "bob", true)
	tr.set("c1", "alice", true)
	tr.set("c3", "alice", true)

	if got := tr.snapshot(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("unexpected typing names %v", got)
	}

	tr.set("c2", "bob", false)
	if tr.remove("c2") {
		t.Fatal("bob already stopped typing")
	}
	if !tr.remove("c1") {
		t.Fatal("expected c1 to be removed")
	}
	if got := tr.snapshot(); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("unexpected typing names %v", got)
	}
}
