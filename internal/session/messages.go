package session

import (
	"errors"

	"github.com/rdtc8822/battleshipd/internal/battlefield"
	"github.com/rdtc8822/battleshipd/internal/protocol"
)

// valueToRows converts the wire-encoded grid (a list of lists of
// single-character strings, spec.md §6) back into the [][]string shape
// battlefield.ValidateLayout expects.
func valueToRows(v protocol.Value) ([][]string, error) {
	rowsVal, ok := v.AsList()
	if !ok {
		return nil, errors.New("field must be a list of rows")
	}
	rows := make([][]string, len(rowsVal))
	for i, rowVal := range rowsVal {
		cellsVal, ok := rowVal.AsList()
		if !ok {
			return nil, errors.New("each row must be a list of cells")
		}
		row := make([]string, len(cellsVal))
		for j, cellVal := range cellsVal {
			cell, ok := cellVal.AsString()
			if !ok {
				return nil, errors.New("each cell must be a string")
			}
			row[j] = cell
		}
		rows[i] = row
	}
	return rows, nil
}

func gridValue(bf *battlefield.BattleField) protocol.Value {
	rows := bf.Rows()
	items := make([]protocol.Value, len(rows))
	for i, row := range rows {
		cells := make([]protocol.Value, len(row))
		for j, cell := range row {
			cells[j] = protocol.Str(cell)
		}
		items[i] = protocol.List(cells...)
	}
	return protocol.List(items...)
}

func sessionStarted(id int64) protocol.Packet {
	return protocol.Packet{
		Code:    protocol.CodeSessionData,
		Payload: protocol.Map("code", protocol.Int(int64(protocol.GameDataSessionStarted)), "session_id", protocol.Int(id)),
	}
}

func sessionClosed() protocol.Packet {
	return protocol.Packet{
		Code:    protocol.CodeSessionData,
		Payload: protocol.Map("code", protocol.Int(int64(protocol.GameDataSessionClosed))),
	}
}

func complete() protocol.Packet {
	return protocol.Packet{
		Code:    protocol.CodeSessionData,
		Payload: protocol.Map("code", protocol.Int(int64(protocol.GameDataComplete))),
	}
}

func waiting(players string) protocol.Packet {
	if players == "" {
		return protocol.Packet{
			Code:    protocol.CodeSessionData,
			Payload: protocol.Map("code", protocol.Int(int64(protocol.GameDataWaiting))),
		}
	}
	return protocol.Packet{
		Code: protocol.CodeSessionData,
		Payload: protocol.Map(
			"code", protocol.Int(int64(protocol.GameDataWaiting)),
			"player", protocol.Str(players),
		),
	}
}

func battleFieldRequired() protocol.Packet {
	return postData(protocol.Map("type", protocol.Int(int64(protocol.GameDataTypeBattleFieldRequired))))
}

func notYourTurn() protocol.Packet {
	return postData(protocol.Map("type", protocol.Int(int64(protocol.GameDataTypeNotYourTurn))))
}

func attackerView(view *battlefield.BattleField, defenderName string) protocol.Packet {
	return postData(protocol.Map(
		"type", protocol.Int(int64(protocol.GameDataTypeBattleField)),
		"field", gridValue(view),
		"player", protocol.Str(defenderName),
	))
}

func shootStateHit(view *battlefield.BattleField) protocol.Packet {
	return postData(protocol.Map(
		"type", protocol.Int(int64(protocol.GameDataTypeShootState)),
		"shoot_state", protocol.Int(int64(protocol.ShootHit)),
		"field", gridValue(view),
	))
}

func shootStateMiss(view *battlefield.BattleField) protocol.Packet {
	return postData(protocol.Map(
		"type", protocol.Int(int64(protocol.GameDataTypeShootState)),
		"shoot_state", protocol.Int(int64(protocol.ShootMiss)),
		"field", gridValue(view),
	))
}

func shootStateAlreadyShot() protocol.Packet {
	return postData(protocol.Map(
		"type", protocol.Int(int64(protocol.GameDataTypeShootState)),
		"shoot_state", protocol.Int(int64(protocol.ShootAlreadyShot)),
	))
}

func results(winnerName string) protocol.Packet {
	return postData(protocol.Map(
		"type", protocol.Int(int64(protocol.GameDataTypeResults)),
		"winner", protocol.Str(winnerName),
	))
}

func postData(data protocol.Value) protocol.Packet {
	return protocol.Packet{
		Code:    protocol.CodeSessionData,
		Payload: protocol.Map("code", protocol.Int(int64(protocol.GameDataPostData)), "data", data),
	}
}

func uncorrectPacket(msg string) protocol.Packet {
	payload := protocol.Map("error_code", protocol.Int(int64(protocol.ErrUncorrectPacket)), "msg", protocol.Str(msg))
	return protocol.Packet{Code: protocol.CodeError, Payload: payload}
}
