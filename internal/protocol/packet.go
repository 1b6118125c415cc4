// Package protocol implements the framed binary request/response wire
// protocol between a client and the game server: packet codes, the
// self-describing payload encoding, and the length-prefixed framing.
package protocol

// Code is the packet tag. The wire form is a single byte (spec.md §4.1);
// the Go type is wider than byte so an out-of-range code (§4.1 "except
// when the code is out of [0,255]") is actually constructible and the
// Encode bound in codec.go is a real check, not dead code.
type Code int16

const (
	CodeUndefined       Code = 0
	CodeOK              Code = 1
	CodeError           Code = 2
	CodePing            Code = 3
	CodeStatus          Code = 4
	CodeUsernameAndID   Code = 5
	CodePassword        Code = 6
	CodeSessionData     Code = 7
)

// Magic is the one-byte frame marker every encoded packet starts with.
const Magic = 'H'

// IsDefined reports whether c is one of the eight recognized packet
// codes (spec.md §6). Decode uses this to reject an unrecognized code
// byte rather than passing it through.
func (c Code) IsDefined() bool {
	switch c {
	case CodeUndefined, CodeOK, CodeError, CodePing, CodeStatus,
		CodeUsernameAndID, CodePassword, CodeSessionData:
		return true
	default:
		return false
	}
}

// ErrorCode values carried in an ERROR packet's "error_code" field.
type ErrorCode byte

const (
	ErrNameAlreadyInUse  ErrorCode = 0
	ErrNameTooLong       ErrorCode = 1
	ErrReachedUsersLimit ErrorCode = 2
	ErrUnexpectedPacket  ErrorCode = 3
	ErrUncorrectPacket   ErrorCode = 4
)

// UserStatus values carried in a STATUS packet's scalar payload.
type UserStatus int64

const (
	StatusConnected             UserStatus = 1
	StatusDisconnected          UserStatus = 2
	StatusBanned                UserStatus = 3
	StatusReachedUsersLimit     UserStatus = 4
	StatusRegisterRequired      UserStatus = 5
	StatusAuthorizationRequired UserStatus = 6
	StatusFindNewSession        UserStatus = 8
	StatusLeaveSession          UserStatus = 9
)

// GameDataCode values carried in a SESSION_DATA packet's "code" field.
type GameDataCode int64

const (
	GameDataSessionStarted GameDataCode = 0
	GameDataSessionClosed  GameDataCode = 1
	GameDataGetData        GameDataCode = 2
	GameDataPostData       GameDataCode = 3
	GameDataComplete       GameDataCode = 4
	GameDataWaiting        GameDataCode = 5
)

// GameDataType values carried under SESSION_DATA.POST_DATA.data.type.
type GameDataType int64

const (
	GameDataTypeBattleFieldRequired GameDataType = 0
	GameDataTypeBattleField         GameDataType = 1
	GameDataTypeNotYourTurn         GameDataType = 2
	GameDataTypeCoordinate          GameDataType = 3
	GameDataTypeShootState          GameDataType = 4
	GameDataTypeResults             GameDataType = 5
)

// ShootState is the outcome of a single shot, as reported on the wire.
type ShootState int64

const (
	ShootUnknown      ShootState = 0
	ShootHit          ShootState = 1
	ShootMiss         ShootState = 2
	ShootAlreadyShot  ShootState = 3
)

// Packet is the unit of communication: a code plus an optional payload.
// A Packet with a nil Payload is legal (e.g. PING, OK).
type Packet struct {
	Code    Code
	Payload Value
}

// Undefined is the sentinel returned by Decode on any failure, and by
// Connection.Get on timeout or transport error.
var Undefined = Packet{Code: CodeUndefined}

// IsUndefined reports whether p is the UNDEFINED sentinel.
func (p Packet) IsUndefined() bool {
	return p.Code == CodeUndefined
}
