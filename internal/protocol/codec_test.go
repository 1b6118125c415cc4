package protocol

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{
			name: "no payload",
			pkt:  Packet{Code: CodePing},
		},
		{
			name: "scalar status payload",
			pkt:  Packet{Code: CodeStatus, Payload: Int(int64(StatusConnected))},
		},
		{
			name: "username and id",
			pkt: Packet{
				Code:    CodeUsernameAndID,
				Payload: Map("name", Str("alice"), "uid", Str("u1")),
			},
		},
		{
			name: "nested coordinate",
			pkt: Packet{
				Code: CodeSessionData,
				Payload: Map(
					"code", Int(int64(GameDataPostData)),
					"data", Map(
						"type", Int(int64(GameDataTypeCoordinate)),
						"coords", Map("row", Int(3), "col", Int(7)),
					),
				),
			},
		},
		{
			name: "board grid as nested lists",
			pkt: Packet{
				Code: CodeSessionData,
				Payload: Map(
					"field", List(
						List(Str("."), Str("S")),
						List(Str("H"), Str("M")),
					),
				),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.pkt)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded := Decode(encoded)
			if decoded.Code != tt.pkt.Code {
				t.Fatalf("code mismatch: got %v want %v", decoded.Code, tt.pkt.Code)
			}
			if !valuesEqual(decoded.Payload, tt.pkt.Payload) {
				t.Fatalf("payload mismatch: got %+v want %+v", decoded.Payload, tt.pkt.Payload)
			}
		})
	}
}

func TestDecodeMalformedYieldsUndefined(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong magic", []byte{'X', byte(CodeOK)}},
		{"truncated payload", []byte{Magic, byte(CodeStatus), tagInt, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode(tt.data); !got.IsUndefined() {
				t.Fatalf("expected UNDEFINED, got %+v", got)
			}
		})
	}
}

func TestEncodeRejectsOutOfRangeCode(t *testing.T) {
	if _, err := Encode(Packet{Code: Code(256)}); err == nil {
		t.Fatal("expected error for out-of-range code")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf fakeConn
	payload := []byte{Magic, byte(CodePing)}
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %v want %v", got, payload)
	}
}

type fakeConn struct {
	data []byte
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *fakeConn) Read(p []byte) (int, error) {
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func valuesEqual(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case kindNil:
		return true
	case kindBool:
		return a.b == b.b
	case kindInt:
		return a.i == b.i
	case kindString:
		return a.s == b.s
	case kindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !valuesEqual(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case kindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, v := range a.m {
			ov, ok := b.m[k]
			if !ok || !valuesEqual(v, ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
