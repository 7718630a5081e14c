package protocol

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewEnvelope_RoundTrip(t *testing.T) {
	ack := SyncAck{TransactionID: "tx-9"}

	env, err := NewEnvelope(TypeSyncAck, NewMsgID(), ack)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if err := env.ValidateBasic(); err != nil {
		t.Fatalf("ValidateBasic failed: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	var got SyncAck
	if err := decoded.DecodePayload(&got); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if got.TransactionID != "tx-9" {
		t.Errorf("TransactionID = %q, want tx-9", got.TransactionID)
	}
}

func TestEnvelopeValidateBasic(t *testing.T) {
	env, err := NewEnvelope(TypeBalanceUpdate, NewMsgID(), BalanceUpdate{
		Email:           "alice@example.com",
		OnlineBalance:   decimal.NewFromInt(80),
		ReservedBalance: decimal.NewFromInt(20),
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	badVersion := env
	badVersion.V = 99
	if err := badVersion.ValidateBasic(); err == nil {
		t.Error("wrong version should be rejected")
	}

	noType := env
	noType.Type = ""
	if err := noType.ValidateBasic(); err == nil {
		t.Error("missing type should be rejected")
	}

	noMsgID := env
	noMsgID.MsgID = ""
	if err := noMsgID.ValidateBasic(); err == nil {
		t.Error("missing msg_id should be rejected")
	}
}

func TestDecodePayload_Empty(t *testing.T) {
	env := Envelope{V: SyncProtocolVersion, Type: TypeSyncAck, MsgID: NewMsgID()}
	var out SyncAck
	if err := env.DecodePayload(&out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestNewMsgID_Format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMsgID()
		if len(id) != 16 {
			t.Fatalf("msg id length = %d, want 16", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate msg id: %s", id)
		}
		seen[id] = true
	}
}
