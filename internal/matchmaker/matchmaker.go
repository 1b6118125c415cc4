// Package matchmaker pairs waiting users into sessions (spec.md C5),
// grounded on original_source/Server/game_session.py's Session.connect
// static method.
package matchmaker

import (
	"github.com/rdtc8822/battleshipd/internal/session"
	"github.com/rdtc8822/battleshipd/internal/store"
	"github.com/rdtc8822/battleshipd/internal/user"
	"go.uber.org/zap"
)

// MinPlayersInSession is the fixed match size (spec.md §4.5
// MIN_PLAYERS_IN_SESSION).
const MinPlayersInSession = 2

// TryMatch scans users for players not already in a session and marked
// as looking for one, starting with requester. If at least
// MinPlayersInSession are found, it constructs a new Session and returns
// it unstarted; otherwise it returns nil and requester keeps waiting.
//
// The returned Session must be registered with the server's session
// registry before Start is called on it, so that a player's SESSION_DATA
// reply — which Start's SESSION_STARTED notification can provoke as soon
// as it is sent — always finds a routable session.
//
// users should be a stable snapshot of the server's connected users.
// TryMatch does not change any player's state: each player's session id
// is set, and its looking-for-session flag cleared, only when Start is
// called on the returned Session.
func TryMatch(requester *user.User, users []*user.User, nextID func() int64, log *zap.Logger, us store.UserStore, onEnd func(*session.Session)) *session.Session {
	players := []*user.User{requester}
	seen := map[*user.User]bool{requester: true}

	for _, u := range users {
		if len(players) >= MinPlayersInSession {
			break
		}
		if u == requester || seen[u] {
			continue
		}
		if u.InSession() || !u.LookingForSession() {
			continue
		}
		players = append(players, u)
		seen[u] = true
	}

	if len(players) < MinPlayersInSession {
		return nil
	}

	id := nextID()
	s := session.New(id, players, log, us, onEnd)

	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name
	}
	log.Info("session formed", zap.Int64("session_id", id), zap.Strings("players", names))

	return s
}
