package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/devicedb"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, _, err := devicedb.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open device db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func sendTx(id string, amount int64) Transaction {
	return Transaction{
		ID:             id,
		Direction:      DirectionSend,
		Amount:         decimal.NewFromInt(amount),
		CounterpartyID: "bob@example.com",
		TimestampMs:    time.Now().UnixMilli(),
		Note:           "coffee",
		Status:         StatusPending,
	}
}

func TestSaveAndGet(t *testing.T) {
	store := openStore(t)

	tx := sendTx("tx-1", 20)
	if err := store.Save(tx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get("tx-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Direction != DirectionSend {
		t.Errorf("Direction = %q, want send", got.Direction)
	}
	if !got.Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Amount = %s, want 20", got.Amount)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Synced {
		t.Error("new transaction must not be synced")
	}
	if got.Note != "coffee" {
		t.Errorf("Note = %q, want coffee", got.Note)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := openStore(t)
	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSave_PendingToCompleted(t *testing.T) {
	store := openStore(t)

	tx := sendTx("tx-1", 20)
	if err := store.Save(tx); err != nil {
		t.Fatalf("Save pending failed: %v", err)
	}

	tx.Status = StatusCompleted
	tx.ReceiptID = "rcpt-1"
	if err := store.Save(tx); err != nil {
		t.Fatalf("Save completed failed: %v", err)
	}

	got, err := store.Get("tx-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.ReceiptID != "rcpt-1" {
		t.Errorf("ReceiptID = %q, want rcpt-1", got.ReceiptID)
	}
}

func TestSave_TerminalStatusIsSticky(t *testing.T) {
	store := openStore(t)

	tx := sendTx("tx-1", 20)
	tx.Status = StatusCompleted
	if err := store.Save(tx); err != nil {
		t.Fatalf("Save completed failed: %v", err)
	}

	// A late timeout must not downgrade a completed transaction.
	tx.Status = StatusFailed
	if err := store.Save(tx); !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("err = %v, want ErrStatusRegression", err)
	}
	tx.Status = StatusPending
	if err := store.Save(tx); !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("err = %v, want ErrStatusRegression", err)
	}

	got, _ := store.Get("tx-1")
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
}

func TestSave_RepeatedSameStatusIsSafe(t *testing.T) {
	store := openStore(t)

	tx := sendTx("tx-1", 20)
	tx.Status = StatusFailed
	if err := store.Save(tx); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := store.Save(tx); err != nil {
		t.Fatalf("repeated Save failed: %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	store := openStore(t)

	old := sendTx("tx-old", 5)
	old.TimestampMs = 1000
	recent := sendTx("tx-new", 10)
	recent.TimestampMs = 2000
	if err := store.Save(old); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(recent); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != "tx-new" || list[1].ID != "tx-old" {
		t.Errorf("order = [%s, %s], want [tx-new, tx-old]", list[0].ID, list[1].ID)
	}
}

func TestUnsyncedCompletedAndMarkSynced(t *testing.T) {
	store := openStore(t)

	done := sendTx("tx-done", 20)
	done.Status = StatusCompleted
	pending := sendTx("tx-pending", 5)
	failed := sendTx("tx-failed", 7)
	failed.Status = StatusFailed
	for _, tx := range []Transaction{done, pending, failed} {
		if err := store.Save(tx); err != nil {
			t.Fatalf("Save %s failed: %v", tx.ID, err)
		}
	}

	unsynced, err := store.UnsyncedCompleted()
	if err != nil {
		t.Fatalf("UnsyncedCompleted failed: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].ID != "tx-done" {
		t.Fatalf("unsynced = %v, want only tx-done", unsynced)
	}

	if err := store.MarkSynced("tx-done"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	got, _ := store.Get("tx-done")
	if !got.Synced {
		t.Error("transaction should be synced")
	}
	if got.Status != StatusCompleted {
		t.Errorf("MarkSynced changed status to %q", got.Status)
	}

	unsynced, err = store.UnsyncedCompleted()
	if err != nil {
		t.Fatalf("UnsyncedCompleted failed: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("unsynced = %v, want empty", unsynced)
	}

	if err := store.MarkSynced("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkSynced missing err = %v, want ErrNotFound", err)
	}
}

func TestSave_DoesNotClearSyncedFlag(t *testing.T) {
	store := openStore(t)

	tx := sendTx("tx-1", 20)
	tx.Status = StatusCompleted
	if err := store.Save(tx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.MarkSynced("tx-1"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	// Re-saving the same terminal transaction must not undo the sync mark.
	if err := store.Save(tx); err != nil {
		t.Fatalf("repeated Save failed: %v", err)
	}
	got, err := store.Get("tx-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Synced {
		t.Error("repeated Save cleared the synced flag")
	}
}
