// Package authfsm drives one connection through the handshake spec.md
// C4 describes as INITIAL -> VALIDATING -> CONNECTED ->
// AUTHORIZING/REGISTERING -> AUTHORIZED, grounded on
// original_source/Server/user.py's constructor and _loggin/_register
// methods.
package authfsm

import (
	"context"
	"errors"
	"time"

	"github.com/rdtc8822/battleshipd/internal/conn"
	"github.com/rdtc8822/battleshipd/internal/protocol"
	"github.com/rdtc8822/battleshipd/internal/store"
	"github.com/rdtc8822/battleshipd/internal/user"
	"go.uber.org/zap"
)

// MaxUserNameLength matches the reference MAX_USER_NAME_LENGTH; a name of
// exactly this length is already rejected (spec.md §4.4 "len(name) >=
// limit").
const MaxUserNameLength = 30

// maxLoginAttempts bounds the password retry loop for an already
// registered user (original_source/Server/user.py _loggin: attemptions
// <= 3, four tries total). Registration is not retried: the source's
// _register loop returns on its first response regardless of outcome.
const maxLoginAttempts = 4

const storeTimeout = 5 * time.Second

var (
	ErrUsersLimitReached = errors.New("authfsm: users limit reached")
	ErrProtocol          = errors.New("authfsm: unexpected or malformed packet")
	ErrNameInUse         = errors.New("authfsm: name already in use")
	ErrNameTooLong       = errors.New("authfsm: name too long")
	ErrBanned            = errors.New("authfsm: user is blacklisted")
	ErrAuthFailed        = errors.New("authfsm: authorization failed")
)

// Registry is the slice of server-owned bookkeeping the handshake needs
// before a User exists: how many users are already connected, and
// whether a name is already taken. The Server implements this.
type Registry interface {
	UserCount() int
	NameTaken(name string) bool
}

// Handshake runs the full connect-time exchange over c and returns an
// authorized *user.User on success. On any failure it has already
// disconnected c; a policy rejection (users limit, name in use, name too
// long, blacklisted, failed logins) is preceded by its STATUS/ERROR
// packet, while a malformed or unexpected packet or a store error closes
// the connection without a reply.
func Handshake(c *conn.Connection, reg Registry, us store.UserStore, maxUsers int, log *zap.Logger) (*user.User, error) {
	if reg.UserCount() >= maxUsers {
		log.Warn("rejecting connection: users limit reached", zap.String("ip", c.IP))
		c.Send(errorPacket(protocol.ErrReachedUsersLimit))
		c.Disconnect()
		return nil, ErrUsersLimitReached
	}

	req := c.Get()
	if req.Code != protocol.CodeUsernameAndID {
		c.Disconnect()
		return nil, ErrProtocol
	}
	name, ok := req.Payload.GetString("name")
	uid, ok2 := req.Payload.GetString("uid")
	if !ok || !ok2 {
		c.Disconnect()
		return nil, ErrProtocol
	}

	if reg.NameTaken(name) {
		log.Error("rejecting connection: name already in use", zap.String("name", name))
		c.Send(errorPacket(protocol.ErrNameAlreadyInUse))
		c.Disconnect()
		return nil, ErrNameInUse
	}
	if len(name) >= MaxUserNameLength {
		log.Error("rejecting connection: name too long", zap.String("name", name))
		c.Send(errorPacket(protocol.ErrNameTooLong))
		c.Disconnect()
		return nil, ErrNameTooLong
	}

	u := user.New(name, uid, c.IP, c)
	ulog := log.With(zap.String("ip", c.IP), zap.String("name", name))
	ulog.Info("new user connected")

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	banned, err := us.Blacklisted(ctx, name, uid)
	cancel()
	if err != nil {
		ulog.Error("blacklist lookup failed", zap.Error(err))
		c.Disconnect()
		return nil, err
	}
	if banned {
		ulog.Warn("disconnecting user: blacklisted")
		c.Send(statusPacket(protocol.StatusBanned))
		c.Disconnect()
		return nil, ErrBanned
	}

	c.Send(statusPacket(protocol.StatusConnected))

	ctx, cancel = context.WithTimeout(context.Background(), storeTimeout)
	record, err := us.Find(ctx, name)
	cancel()
	if err != nil {
		ulog.Error("user lookup failed", zap.Error(err))
		c.Disconnect()
		return nil, err
	}

	if record == nil {
		if err := register(c, us, u, ulog); err != nil {
			return nil, err
		}
	} else if record.LastLoginID != uid {
		if err := login(c, us, u, ulog); err != nil {
			return nil, err
		}
	}
	// record.LastLoginID == uid: already logged in, nothing further to do.

	u.SetAuthorized(true)
	return u, nil
}

func register(c *conn.Connection, us store.UserStore, u *user.User, log *zap.Logger) error {
	c.Send(statusPacket(protocol.StatusRegisterRequired))

	resp := c.Get()
	password, ok := resp.Payload.GetString("password")
	if resp.Code != protocol.CodePassword || !ok {
		c.Disconnect()
		return ErrProtocol
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	err := us.Add(ctx, u.Name, u.UID, password)
	cancel()
	if err != nil {
		log.Error("registration failed", zap.Error(err))
		c.Disconnect()
		return err
	}
	log.Info("user registered")
	c.Send(okPacket())
	return nil
}

func login(c *conn.Connection, us store.UserStore, u *user.User, log *zap.Logger) error {
	c.Send(statusPacket(protocol.StatusAuthorizationRequired))

	for attempt := 0; attempt < maxLoginAttempts; attempt++ {
		resp := c.Get()
		password, ok := resp.Payload.GetString("password")
		if resp.Code != protocol.CodePassword || !ok {
			c.Disconnect()
			return ErrProtocol
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		valid, err := us.ValidatePassword(ctx, u.Name, password)
		cancel()
		if err != nil {
			log.Error("password validation failed", zap.Error(err))
			c.Disconnect()
			return err
		}
		if valid {
			ctx, cancel = context.WithTimeout(context.Background(), storeTimeout)
			err := us.UpdateLogin(ctx, u.Name, u.UID)
			cancel()
			if err != nil {
				log.Error("update login failed", zap.Error(err))
				c.Disconnect()
				return err
			}
			log.Info("user logged in")
			c.Send(okPacket())
			return nil
		}
		c.Send(protocol.Packet{Code: protocol.CodeError})
	}

	log.Warn("disconnecting user: too many failed login attempts")
	c.Disconnect()
	return ErrAuthFailed
}

func statusPacket(status protocol.UserStatus) protocol.Packet {
	return protocol.Packet{Code: protocol.CodeStatus, Payload: protocol.Int(int64(status))}
}

func errorPacket(code protocol.ErrorCode) protocol.Packet {
	return protocol.Packet{Code: protocol.CodeError, Payload: protocol.Map("error_code", protocol.Int(int64(code)))}
}

func okPacket() protocol.Packet {
	return protocol.Packet{Code: protocol.CodeOK}
}
