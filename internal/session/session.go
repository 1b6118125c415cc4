// Package session implements a running two-player match (spec.md C6): the
// SETUP -> BATTLE -> FINISHED state machine, its single-consumer event
// queue, and the exact reply logic for every GET_DATA/POST_DATA a client
// can send during a match.
package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rdtc8822/battleshipd/internal/battlefield"
	"github.com/rdtc8822/battleshipd/internal/protocol"
	"github.com/rdtc8822/battleshipd/internal/store"
	"github.com/rdtc8822/battleshipd/internal/user"
	"go.uber.org/zap"
)

// Phase is one of the three states a Session passes through in order.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseBattle
	PhaseFinished
)

// queueCapacity bounds the event queue (spec.md §4.6 "bounded FIFO,
// capacity 100").
const queueCapacity = 100

// idleTick is how often the event loop wakes with nothing queued, to
// notice a dropped connection promptly without busy-spinning. Stands in
// for the reference implementation's sleep(0.07) poll.
const idleTick = 70 * time.Millisecond

// storeTimeout bounds the RecordMatchResult call made as a session ends.
const storeTimeout = 5 * time.Second

type fieldPair struct {
	own      *battlefield.BattleField
	shotView *battlefield.BattleField
}

type inboundEvent struct {
	player *user.User
	packet protocol.Packet
}

// Session owns exactly two players, their battlefields, and the turn
// order between them. All mutable state is touched only from the single
// goroutine run by Start; every other method communicates with it over a
// channel.
type Session struct {
	ID      int64
	Players []*user.User

	log   *zap.Logger
	us    store.UserStore
	onEnd func(*Session)

	events      chan inboundEvent
	disconnects chan *user.User
	leaves      chan *user.User
	stop        chan struct{}
	done        chan struct{}
	endOnce     sync.Once

	phase       Phase
	fields      map[*user.User]*fieldPair
	attackerIdx int
	defenderIdx int
	winner      *user.User
	pendingAck  map[*user.User]bool

	startedAt time.Time
	hits      map[string]int64
	misses    map[string]int64
}

// New builds a session for exactly two players. onEnd is invoked exactly
// once, from the event-loop goroutine, after the session has torn itself
// down — the server uses it to drop the session from its registry.
func New(id int64, players []*user.User, log *zap.Logger, us store.UserStore, onEnd func(*Session)) *Session {
	return &Session{
		ID:          id,
		Players:     players,
		log:         log,
		us:          us,
		onEnd:       onEnd,
		events:      make(chan inboundEvent, queueCapacity),
		disconnects: make(chan *user.User, len(players)),
		leaves:      make(chan *user.User, len(players)),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		phase:       PhaseSetup,
		fields:      make(map[*user.User]*fieldPair, len(players)),
		attackerIdx: -1,
		defenderIdx: -1,
		hits:        make(map[string]int64),
		misses:      make(map[string]int64),
	}
}

// Start assigns each player to this session and launches the event loop.
func (s *Session) Start() {
	s.startedAt = time.Now()
	for _, p := range s.Players {
		p.SetSessionID(s.ID)
		p.SetLookingForSession(false)
		p.Conn.Send(sessionStarted(s.ID))
	}
	go s.run()
}

// Post enqueues one client packet for processing by the event loop. It
// blocks while the queue is full, but never past session termination.
func (s *Session) Post(player *user.User, p protocol.Packet) {
	select {
	case s.events <- inboundEvent{player: player, packet: p}:
	case <-s.done:
	}
}

// PlayerDisconnected notifies the session that one of its players' sockets
// has gone away. The session terminates as a whole (spec.md §4.6).
func (s *Session) PlayerDisconnected(u *user.User) {
	select {
	case s.disconnects <- u:
	case <-s.done:
	}
}

// PlayerLeft notifies the session that a player explicitly left
// (STATUS{LEAVE_SESSION}).
func (s *Session) PlayerLeft(u *user.User) {
	select {
	case s.leaves <- u:
	case <-s.done:
	}
}

// Stop terminates the session administratively (spec.md §4.6 "admin Stop()").
func (s *Session) Stop() {
	select {
	case <-s.done:
	default:
		close(s.stop)
	}
}

// Done is closed once the event loop has exited and teardown is complete.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()
	for {
		select {
		case u := <-s.disconnects:
			s.log.Info("session ending: player disconnected", zap.Int64("session_id", s.ID), zap.String("player", u.Name))
			s.terminate()
			return
		case u := <-s.leaves:
			s.log.Info("session ending: player left", zap.Int64("session_id", s.ID), zap.String("player", u.Name))
			s.terminate()
			return
		case <-s.stop:
			s.terminate()
			return
		case ev := <-s.events:
			s.handle(ev)
			if s.phase == PhaseFinished && len(s.pendingAck) == 0 {
				s.terminate()
				return
			}
		case <-ticker.C:
			// idle liveness check; PlayerDisconnected is the primary path
			for _, p := range s.Players {
				if !p.Conn.Connected() {
					s.terminate()
					return
				}
			}
		}
	}
}

func (s *Session) handle(ev inboundEvent) {
	switch s.phase {
	case PhaseSetup:
		s.handleSetup(ev)
	case PhaseBattle:
		s.handleBattle(ev)
	case PhaseFinished:
		s.handleFinished(ev)
	}
}

func (s *Session) handleSetup(ev inboundEvent) {
	code, ok := ev.packet.Payload.GetInt("code")
	if !ok {
		ev.player.Conn.Send(uncorrectPacket("missing game data code"))
		return
	}

	switch protocol.GameDataCode(code) {
	case protocol.GameDataGetData:
		s.handleSetupGetData(ev.player)
	case protocol.GameDataPostData:
		s.handleSetupPostData(ev)
	default:
		ev.player.Conn.Send(uncorrectPacket("unexpected game data code during setup"))
	}
}

func (s *Session) handleSetupGetData(p *user.User) {
	if _, ok := s.fields[p]; !ok {
		p.Conn.Send(battleFieldRequired())
		return
	}
	var waitingOn []string
	for _, other := range s.Players {
		if other == p {
			continue
		}
		if _, ok := s.fields[other]; !ok {
			waitingOn = append(waitingOn, other.Name)
		}
	}
	if len(waitingOn) == 0 {
		p.Conn.Send(waiting(""))
		return
	}
	p.Conn.Send(waiting(joinNames(waitingOn)))
}

func (s *Session) handleSetupPostData(ev inboundEvent) {
	data, ok := ev.packet.Payload.Get("data")
	if !ok {
		ev.player.Conn.Send(uncorrectPacket("missing layout data"))
		return
	}
	fieldVal, ok := data.Get("field")
	if !ok {
		ev.player.Conn.Send(uncorrectPacket("missing field grid"))
		return
	}
	rows, err := valueToRows(fieldVal)
	if err != nil {
		ev.player.Conn.Send(uncorrectPacket(err.Error()))
		return
	}

	own, err := battlefield.ValidateLayout(rows)
	if err != nil {
		ev.player.Conn.Send(uncorrectPacket(err.Error()))
		return
	}

	s.fields[ev.player] = &fieldPair{own: own, shotView: battlefield.NewEmpty()}
	ev.player.Conn.Send(complete())

	if s.allFieldsSubmitted() {
		s.startBattle()
	}
}

func (s *Session) allFieldsSubmitted() bool {
	for _, p := range s.Players {
		if _, ok := s.fields[p]; !ok {
			return false
		}
	}
	return true
}

// startBattle transitions SETUP -> BATTLE. The reference implementation
// leaves the first attacker index uninitialized (-1), producing
// NOT_YOUR_TURN for every player until one of them happens to be picked
// by whatever the original's next assignment was; this resolves that
// ambiguity by choosing the opening attacker uniformly at random so
// neither player has a positional advantage.
func (s *Session) startBattle() {
	s.phase = PhaseBattle
	s.attackerIdx = rand.Intn(len(s.Players))
	s.defenderIdx = (s.attackerIdx + 1) % len(s.Players)
}

func (s *Session) attacker() *user.User {
	if s.attackerIdx < 0 {
		return nil
	}
	return s.Players[s.attackerIdx]
}

func (s *Session) defender() *user.User {
	if s.defenderIdx < 0 {
		return nil
	}
	return s.Players[s.defenderIdx]
}

func (s *Session) handleBattle(ev inboundEvent) {
	code, ok := ev.packet.Payload.GetInt("code")
	if !ok {
		ev.player.Conn.Send(uncorrectPacket("missing game data code"))
		return
	}

	switch protocol.GameDataCode(code) {
	case protocol.GameDataGetData:
		s.handleBattleGetData(ev.player)
	case protocol.GameDataPostData:
		s.handleBattlePostData(ev)
	default:
		ev.player.Conn.Send(uncorrectPacket("unexpected game data code during battle"))
	}
}

func (s *Session) handleBattleGetData(p *user.User) {
	if p != s.attacker() {
		p.Conn.Send(notYourTurn())
		return
	}
	view := s.fields[p].shotView
	p.Conn.Send(attackerView(view, s.defender().Name))
}

func (s *Session) handleBattlePostData(ev inboundEvent) {
	if ev.player != s.attacker() {
		ev.player.Conn.Send(notYourTurn())
		return
	}
	data, ok := ev.packet.Payload.Get("data")
	if !ok {
		ev.player.Conn.Send(uncorrectPacket("missing coordinate data"))
		return
	}
	coords, ok := data.Get("coords")
	if !ok {
		ev.player.Conn.Send(uncorrectPacket("missing coords"))
		return
	}
	row, rok := coords.GetInt("row")
	col, cok := coords.GetInt("col")
	if !rok || !cok {
		ev.player.Conn.Send(uncorrectPacket("missing row/col"))
		return
	}

	attacker := s.attacker()
	defender := s.defender()
	defenderOwn := s.fields[defender].own
	attackerShotView := s.fields[attacker].shotView

	state, err := defenderOwn.Shoot(int(row), int(col))
	if err != nil {
		attacker.Conn.Send(uncorrectPacket(err.Error()))
		return
	}
	attackerShotView.Set(int(row), int(col), state)

	switch state {
	case battlefield.Hit:
		s.hits[attacker.Name]++
		if defenderOwn.IsAllShipsDestroyed() {
			s.finish(attacker)
			return
		}
		attacker.Conn.Send(shootStateHit(attackerShotView))
	case battlefield.Miss:
		s.misses[attacker.Name]++
		attacker.Conn.Send(shootStateMiss(defenderOwn))
		s.advanceTurn()
	case battlefield.AlreadyShot:
		attacker.Conn.Send(shootStateAlreadyShot())
	default:
		attacker.Conn.Send(uncorrectPacket("unresolvable shot"))
	}
}

func (s *Session) advanceTurn() {
	n := len(s.Players)
	s.attackerIdx = (s.attackerIdx + 1) % n
	s.defenderIdx = (s.defenderIdx + 1) % n
}

func (s *Session) finish(winner *user.User) {
	s.phase = PhaseFinished
	s.winner = winner
	s.pendingAck = make(map[*user.User]bool, len(s.Players)-1)
	for _, p := range s.Players {
		if p != winner {
			s.pendingAck[p] = true
		}
	}
	winner.Conn.Send(results("you"))
	s.recordStats()
}

func (s *Session) handleFinished(ev inboundEvent) {
	if ev.player == s.winner {
		ev.player.Conn.Send(results("you"))
		return
	}
	if s.pendingAck[ev.player] {
		ev.player.Conn.Send(results(s.winner.Name))
		delete(s.pendingAck, ev.player)
	}
}

func (s *Session) recordStats() {
	if s.us == nil || s.winner == nil {
		return
	}
	var losers []string
	for _, p := range s.Players {
		if p != s.winner {
			losers = append(losers, p.Name)
		}
	}
	result := store.MatchResult{
		Winner:       s.winner.Name,
		Losers:       losers,
		DurationMS:   time.Since(s.startedAt).Milliseconds(),
		HitsByPlayer: s.hits,
		MissByPlayer: s.misses,
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.us.RecordMatchResult(ctx, result); err != nil {
		s.log.Error("record match result failed", zap.Int64("session_id", s.ID), zap.Error(err))
	}
}

func (s *Session) terminate() {
	s.endOnce.Do(func() {
		for _, p := range s.Players {
			p.Conn.Send(sessionClosed())
			p.SetSessionID(0)
		}
		if s.onEnd != nil {
			s.onEnd(s)
		}
	})
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " "
		}
		out += n
	}
	return out
}
