package matchmaker

import (
	"net"
	"testing"

	"github.com/rdtc8822/battleshipd/internal/conn"
	"github.com/rdtc8822/battleshipd/internal/session"
	"github.com/rdtc8822/battleshipd/internal/user"
	"go.uber.org/zap"
)

func newTestUser(t *testing.T, name string) *user.User {
	t.Helper()
	serverSide, _ := net.Pipe()
	c := conn.New(serverSide, zap.NewNop())
	return user.New(name, name+"-uid", "127.0.0.1", c)
}

func TestTryMatchPairsTwoWaitingPlayers(t *testing.T) {
	a := newTestUser(t, "alice")
	b := newTestUser(t, "bob")
	a.SetLookingForSession(true)
	b.SetLookingForSession(true)

	id := int64(0)
	nextID := func() int64 { id++; return id }

	s := TryMatch(a, []*user.User{a, b}, nextID, zap.NewNop(), nil, func(*session.Session) {})
	if s == nil {
		t.Fatal("expected a session to be formed from two waiting players")
	}
	if a.SessionID() != 0 || b.SessionID() != 0 {
		t.Fatal("expected TryMatch to return an unstarted session, not assign ids yet")
	}

	s.Start()
	if a.SessionID() == 0 || b.SessionID() == 0 {
		t.Fatal("expected both players to be assigned the new session id once started")
	}
	if a.SessionID() != b.SessionID() {
		t.Fatal("expected both players in the same session")
	}
}

func TestTryMatchReturnsNilWithoutEnoughPlayers(t *testing.T) {
	a := newTestUser(t, "alice")
	a.SetLookingForSession(true)

	nextID := func() int64 { return 1 }
	s := TryMatch(a, []*user.User{a}, nextID, zap.NewNop(), nil, func(*session.Session) {})
	if s != nil {
		t.Fatal("expected no session with only one waiting player")
	}
}

func TestTryMatchSkipsPlayersAlreadyInSession(t *testing.T) {
	a := newTestUser(t, "alice")
	b := newTestUser(t, "bob")
	c := newTestUser(t, "carol")
	a.SetLookingForSession(true)
	b.SetLookingForSession(true)
	b.SetSessionID(99) // already playing elsewhere
	c.SetLookingForSession(true)

	id := int64(0)
	nextID := func() int64 { id++; return id }

	s := TryMatch(a, []*user.User{a, b, c}, nextID, zap.NewNop(), nil, func(*session.Session) {})
	if s == nil {
		t.Fatal("expected a and c to be matched")
	}
	found := map[string]bool{}
	for _, p := range s.Players {
		found[p.Name] = true
	}
	if !found["alice"] || !found["carol"] || found["bob"] {
		t.Fatalf("expected alice+carol matched, got %+v", s.Players)
	}
}
