// Package server ties the protocol, connection, auth, session, and
// matchmaker layers together: it owns the listener, the user and session
// registries, and the per-connection dispatch loop (spec.md C7).
package server

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdtc8822/battleshipd/internal/authfsm"
	"github.com/rdtc8822/battleshipd/internal/conn"
	"github.com/rdtc8822/battleshipd/internal/matchmaker"
	"github.com/rdtc8822/battleshipd/internal/protocol"
	"github.com/rdtc8822/battleshipd/internal/session"
	"github.com/rdtc8822/battleshipd/internal/store"
	"github.com/rdtc8822/battleshipd/internal/user"
	"go.uber.org/zap"
)

// initAttempts/initRetryDelay bound how hard the server tries to bind its
// listening socket before giving up (original_source/Server/settings.py
// INIT_ATTEMPTS, spaced one second apart).
const (
	initAttempts   = 100
	initRetryDelay = time.Second
	acceptTimeout  = time.Second

	storeTimeout = 5 * time.Second
)

// Server accepts connections, carries them through authfsm, and owns the
// registries authfsm.Registry and matchmaker need: connected users by
// name and running sessions by id.
type Server struct {
	listener net.Listener
	log      *zap.Logger
	us       store.UserStore
	maxUsers int

	nextSessionID atomic.Int64

	mu       sync.RWMutex
	users    map[string]*user.User
	sessions map[int64]*session.Session

	stopping chan struct{}
	wg       sync.WaitGroup
}

// Listen binds bindAddr, retrying per initAttempts/initRetryDelay, and
// returns an unstarted Server.
func Listen(bindAddr string, maxUsers int, us store.UserStore, log *zap.Logger) (*Server, error) {
	var ln net.Listener
	var err error
	for attempt := 0; attempt < initAttempts; attempt++ {
		ln, err = net.Listen("tcp", bindAddr)
		if err == nil {
			break
		}
		log.Warn("failed to bind listener, retrying", zap.String("addr", bindAddr), zap.Error(err))
		time.Sleep(initRetryDelay)
	}
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: ln,
		log:      log,
		us:       us,
		maxUsers: maxUsers,
		users:    make(map[string]*user.User),
		sessions: make(map[int64]*session.Session),
		stopping: make(chan struct{}),
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// UserCount implements authfsm.Registry.
func (s *Server) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// NameTaken implements authfsm.Registry. Names are a case-insensitive
// unique key within the server (spec.md §3), matching the lowercased
// lookups in internal/persist/user_store.go.
func (s *Server) NameTaken(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[strings.ToLower(name)]
	return ok
}

func (s *Server) nextSessionIDFunc() int64 {
	return s.nextSessionID.Add(1)
}

// Serve accepts connections until Shutdown is called, handling each on
// its own goroutine. It blocks until the listener is closed.
func (s *Server) Serve() {
	s.log.Info("waiting for connections", zap.Stringer("addr", s.Addr()))
	for {
		if tcpLn, ok := s.listener.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}

		c, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopping:
				s.wg.Wait()
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(c)
	}
}

// Shutdown stops accepting new connections, disconnects every connected
// user, and closes the listener (spec.md §7 graceful shutdown).
func (s *Server) Shutdown() {
	close(s.stopping)
	s.listener.Close()

	s.mu.RLock()
	users := make([]*user.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	for _, u := range users {
		u.Conn.Disconnect()
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	c := conn.New(nc, s.log)
	u, err := authfsm.Handshake(c, s, s.us, s.maxUsers, s.log)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.users[strings.ToLower(u.Name)] = u
	s.mu.Unlock()

	c.SetOnDisconnect(func() { s.onDisconnect(u) })
	c.Handle(func(req protocol.Packet) *protocol.Packet {
		return s.dispatch(u, req)
	})
}

func (s *Server) onDisconnect(u *user.User) {
	s.mu.Lock()
	delete(s.users, strings.ToLower(u.Name))
	s.mu.Unlock()

	if u.InSession() {
		if sess := s.sessionByID(u.SessionID()); sess != nil {
			sess.PlayerDisconnected(u)
		}
	}
}

func (s *Server) sessionByID(id int64) *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (s *Server) removeSession(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
}

// dispatch routes one inbound packet per spec.md §4.3/§4.6. SESSION_DATA
// replies are sent asynchronously by the owning Session, so the common
// case here returns nil.
func (s *Server) dispatch(u *user.User, req protocol.Packet) *protocol.Packet {
	switch req.Code {
	case protocol.CodePing:
		return s.handlePing(u)
	case protocol.CodeStatus:
		return s.handleStatus(u, req)
	case protocol.CodeSessionData:
		return s.handleSessionData(u, req)
	default:
		return errorResponse(protocol.ErrUnexpectedPacket)
	}
}

func (s *Server) handlePing(u *user.User) *protocol.Packet {
	banned, err := checkBlacklisted(s.us, u.Name, u.UID)
	if err != nil {
		s.log.Error("blacklist re-check failed", zap.String("name", u.Name), zap.Error(err))
		return nil
	}
	if banned {
		u.Conn.Send(protocol.Packet{Code: protocol.CodeStatus, Payload: protocol.Int(int64(protocol.StatusBanned))})
		u.Conn.Disconnect()
		return nil
	}
	return &protocol.Packet{Code: protocol.CodeOK}
}

func (s *Server) handleStatus(u *user.User, req protocol.Packet) *protocol.Packet {
	status, ok := req.Payload.AsInt()
	if !ok {
		return errorResponse(protocol.ErrUncorrectPacket)
	}

	switch protocol.UserStatus(status) {
	case protocol.StatusFindNewSession:
		if u.InSession() {
			return errorResponse(protocol.ErrUnexpectedPacket)
		}
		u.SetLookingForSession(true)
		s.tryMatch(u)
		return nil
	case protocol.StatusLeaveSession:
		if !u.InSession() {
			return errorResponse(protocol.ErrUnexpectedPacket)
		}
		if sess := s.sessionByID(u.SessionID()); sess != nil {
			sess.PlayerLeft(u)
		}
		return nil
	case protocol.StatusDisconnected:
		return nil
	default:
		return errorResponse(protocol.ErrUnexpectedPacket)
	}
}

func (s *Server) handleSessionData(u *user.User, req protocol.Packet) *protocol.Packet {
	if !u.InSession() {
		return errorResponse(protocol.ErrUnexpectedPacket)
	}
	sess := s.sessionByID(u.SessionID())
	if sess == nil {
		return errorResponse(protocol.ErrUnexpectedPacket)
	}
	sess.Post(u, req)
	return nil
}

func (s *Server) tryMatch(requester *user.User) {
	s.mu.RLock()
	candidates := make([]*user.User, 0, len(s.users))
	for _, u := range s.users {
		candidates = append(candidates, u)
	}
	s.mu.RUnlock()

	sess := matchmaker.TryMatch(requester, candidates, s.nextSessionIDFunc, s.log, s.us, s.removeSession)
	if sess == nil {
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	// Register before starting: Start sends SESSION_STARTED to each
	// player, whose reply must find the session already routable via
	// sessionByID.
	sess.Start()
}

func checkBlacklisted(us store.UserStore, name, uid string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return us.Blacklisted(ctx, name, uid)
}

func errorResponse(code protocol.ErrorCode) *protocol.Packet {
	return &protocol.Packet{Code: protocol.CodeError, Payload: protocol.Map("error_code", protocol.Int(int64(code)))}
}
