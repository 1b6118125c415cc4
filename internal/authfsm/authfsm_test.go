package authfsm

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rdtc8822/battleshipd/internal/conn"
	"github.com/rdtc8822/battleshipd/internal/protocol"
	"github.com/rdtc8822/battleshipd/internal/store"
	"go.uber.org/zap"
)

// fakeRegistry is a trivial Registry for tests.
type fakeRegistry struct {
	count int
	taken map[string]bool
}

func (r *fakeRegistry) UserCount() int        { return r.count }
func (r *fakeRegistry) NameTaken(n string) bool { return r.taken[n] }

// memStore is a minimal in-memory store.UserStore for exercising the
// handshake without a real database.
type memStore struct {
	users     map[string]*store.UserRecord
	blacklist map[string]bool
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*store.UserRecord{}, blacklist: map[string]bool{}}
}

func (m *memStore) Find(ctx context.Context, name string) (*store.UserRecord, error) {
	return m.users[name], nil
}

func (m *memStore) Add(ctx context.Context, name, uid, password string) error {
	m.users[name] = &store.UserRecord{Name: name, PasswordHash: password, LastLoginID: uid}
	return nil
}

func (m *memStore) ValidatePassword(ctx context.Context, name, password string) (bool, error) {
	rec, ok := m.users[name]
	if !ok {
		return false, nil
	}
	return rec.PasswordHash == password, nil
}

func (m *memStore) UpdateLogin(ctx context.Context, name, uid string) error {
	rec, ok := m.users[name]
	if !ok {
		return errors.New("no such user")
	}
	rec.LastLoginID = uid
	return nil
}

func (m *memStore) Blacklisted(ctx context.Context, name, uid string) (bool, error) {
	return m.blacklist[name], nil
}

func (m *memStore) BlacklistAdd(ctx context.Context, name, uid string) error {
	m.blacklist[name] = true
	return nil
}

func (m *memStore) BlacklistRemove(ctx context.Context, name string) error {
	delete(m.blacklist, name)
	return nil
}

func (m *memStore) Stats(ctx context.Context, name string) (store.Stats, error) {
	return store.Stats{}, nil
}

func (m *memStore) RecordMatchResult(ctx context.Context, result store.MatchResult) error {
	return nil
}

// testClient drives the client side of a net.Pipe for scripted handshakes.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func (tc *testClient) send(p protocol.Packet) {
	tc.t.Helper()
	data, err := protocol.Encode(p)
	if err != nil {
		tc.t.Fatalf("encode: %v", err)
	}
	if err := protocol.WriteFrame(tc.conn, data); err != nil {
		tc.t.Fatalf("write frame: %v", err)
	}
}

func (tc *testClient) recv() protocol.Packet {
	tc.t.Helper()
	done := make(chan protocol.Packet, 1)
	go func() {
		data, err := protocol.ReadFrame(tc.conn)
		if err != nil {
			done <- protocol.Undefined
			return
		}
		done <- protocol.Decode(data)
	}()
	select {
	case p := <-done:
		return p
	case <-time.After(2 * time.Second):
		tc.t.Fatal("timed out waiting for server packet")
		return protocol.Undefined
	}
}

func newPipe(t *testing.T) (*conn.Connection, *testClient) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	c := conn.New(serverSide, zap.NewNop())
	return c, &testClient{t: t, conn: clientSide}
}

func usernameAndID(name, uid string) protocol.Packet {
	return protocol.Packet{
		Code:    protocol.CodeUsernameAndID,
		Payload: protocol.Map("name", protocol.Str(name), "uid", protocol.Str(uid)),
	}
}

func TestHandshakeRegistersNewUser(t *testing.T) {
	c, cl := newPipe(t)
	reg := &fakeRegistry{}
	us := newMemStore()

	done := make(chan error, 1)
	go func() {
		_, err := Handshake(c, reg, us, 20, zap.NewNop())
		done <- err
	}()

	cl.send(usernameAndID("alice", "uid-1"))

	if got := cl.recv(); got.Code != protocol.CodeStatus {
		t.Fatalf("expected STATUS{CONNECTED}, got %+v", got)
	}
	if got := cl.recv(); got.Code != protocol.CodeStatus {
		t.Fatalf("expected STATUS{REGISTER_REQUIRED}, got %+v", got)
	}

	cl.send(protocol.Packet{Code: protocol.CodePassword, Payload: protocol.Map("password", protocol.Str("hunter2"))})

	if got := cl.recv(); got.Code != protocol.CodeOK {
		t.Fatalf("expected OK after registration, got %+v", got)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected handshake error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}

	if _, ok := us.users["alice"]; !ok {
		t.Fatal("expected alice to be persisted")
	}
}

func TestHandshakeLoginWrongPasswordThenCorrect(t *testing.T) {
	c, cl := newPipe(t)
	reg := &fakeRegistry{}
	us := newMemStore()
	us.users["bob"] = &store.UserRecord{Name: "bob", PasswordHash: "secret", LastLoginID: "old-uid"}

	errc := make(chan error, 1)
	go func() {
		_, err := Handshake(c, reg, us, 20, zap.NewNop())
		errc <- err
	}()

	cl.send(usernameAndID("bob", "new-uid"))

	if got := cl.recv(); got.Code != protocol.CodeStatus {
		t.Fatalf("expected STATUS{CONNECTED}, got %+v", got)
	}
	if got := cl.recv(); got.Code != protocol.CodeStatus {
		t.Fatalf("expected STATUS{AUTHORIZATION_REQUIRED}, got %+v", got)
	}

	cl.send(protocol.Packet{Code: protocol.CodePassword, Payload: protocol.Map("password", protocol.Str("wrong"))})
	if got := cl.recv(); got.Code != protocol.CodeError {
		t.Fatalf("expected ERROR on wrong password, got %+v", got)
	}

	cl.send(protocol.Packet{Code: protocol.CodePassword, Payload: protocol.Map("password", protocol.Str("secret"))})
	if got := cl.recv(); got.Code != protocol.CodeOK {
		t.Fatalf("expected OK on correct password, got %+v", got)
	}

	if err := <-errc; err != nil {
		t.Fatalf("unexpected handshake error: %v", err)
	}
	if us.users["bob"].LastLoginID != "new-uid" {
		t.Fatal("expected last login id to be updated")
	}
}

func TestHandshakeRejectsBlacklistedUser(t *testing.T) {
	c, cl := newPipe(t)
	reg := &fakeRegistry{}
	us := newMemStore()
	us.blacklist["evil"] = true

	errc := make(chan error, 1)
	go func() {
		_, err := Handshake(c, reg, us, 20, zap.NewNop())
		errc <- err
	}()

	cl.send(usernameAndID("evil", "uid-x"))

	got := cl.recv()
	if got.Code != protocol.CodeStatus {
		t.Fatalf("expected STATUS{BANNED}, got %+v", got)
	}
	status, _ := got.Payload.AsInt()
	if protocol.UserStatus(status) != protocol.StatusBanned {
		t.Fatalf("expected BANNED status, got %v", status)
	}

	if err := <-errc; !errors.Is(err, ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}
}

func TestHandshakeRejectsNameAlreadyInUse(t *testing.T) {
	c, cl := newPipe(t)
	reg := &fakeRegistry{taken: map[string]bool{"dup": true}}
	us := newMemStore()

	errc := make(chan error, 1)
	go func() {
		_, err := Handshake(c, reg, us, 20, zap.NewNop())
		errc <- err
	}()

	cl.send(usernameAndID("dup", "uid-y"))

	got := cl.recv()
	if got.Code != protocol.CodeError {
		t.Fatalf("expected ERROR, got %+v", got)
	}
	code, _ := got.Payload.GetInt("error_code")
	if protocol.ErrorCode(code) != protocol.ErrNameAlreadyInUse {
		t.Fatalf("expected NAME_ALREADY_IN_USE, got %v", code)
	}

	if err := <-errc; !errors.Is(err, ErrNameInUse) {
		t.Fatalf("expected ErrNameInUse, got %v", err)
	}
}

func TestHandshakeRejectsWhenUsersLimitReached(t *testing.T) {
	c, cl := newPipe(t)
	reg := &fakeRegistry{count: 20}
	us := newMemStore()

	errc := make(chan error, 1)
	go func() {
		_, err := Handshake(c, reg, us, 20, zap.NewNop())
		errc <- err
	}()

	got := cl.recv()
	if got.Code != protocol.CodeError {
		t.Fatalf("expected ERROR, got %+v", got)
	}
	code, _ := got.Payload.GetInt("error_code")
	if protocol.ErrorCode(code) != protocol.ErrReachedUsersLimit {
		t.Fatalf("expected REACHED_USERS_LIMIT, got %v", code)
	}

	if err := <-errc; !errors.Is(err, ErrUsersLimitReached) {
		t.Fatalf("expected ErrUsersLimitReached, got %v", err)
	}
}
