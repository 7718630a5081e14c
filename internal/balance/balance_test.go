package balance

import (
	"context"
	"errors"
	"testing"

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

// fakeServer implements ServerClient with a fixed online balance.
type fakeServer struct {
	online   decimal.Decimal
	reserved decimal.Decimal
	fail     error
}

func (f *fakeServer) Reserve(ctx context.Context, email string, amount decimal.Decimal) (decimal.Decimal, error) {
	if f.fail != nil {
		return decimal.Zero, f.fail
	}
	if f.online.LessThan(amount) {
		return decimal.Zero, ErrInsufficientOnline
	}
	f.online = f.online.Sub(amount)
	f.reserved = f.reserved.Add(amount)
	return f.reserved, nil
}

func (f *fakeServer) Release(ctx context.Context, email string, amount decimal.Decimal) (decimal.Decimal, error) {
	if f.fail != nil {
		return decimal.Zero, f.fail
	}
	if f.reserved.LessThan(amount) {
		return decimal.Zero, ErrInsufficientOffline
	}
	f.reserved = f.reserved.Sub(amount)
	f.online = f.online.Add(amount)
	return f.reserved, nil
}

func TestStore_GetCreatesZeroRecord(t *testing.T) {
	store := openStore(t)

	rec, err := store.Get("alice@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.Amount.IsZero() {
		t.Errorf("Amount = %s, want 0", rec.Amount)
	}
}

func TestStore_CreditDebit(t *testing.T) {
	store := openStore(t)
	user := "alice@example.com"

	rec, err := store.Credit(user, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Amount = %s, want 50", rec.Amount)
	}

	rec, err = store.Debit(user, decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Amount = %s, want 30", rec.Amount)
	}

	// Survives reopen of the record.
	rec, err = store.Get(user)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("persisted Amount = %s, want 30", rec.Amount)
	}
}

func TestStore_DebitInsufficient(t *testing.T) {
	store := openStore(t)
	user := "alice@example.com"

	if _, err := store.Credit(user, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	_, err := store.Debit(user, decimal.NewFromInt(11))
	if !errors.Is(err, ErrInsufficientOffline) {
		t.Fatalf("err = %v, want ErrInsufficientOffline", err)
	}

	rec, _ := store.Get(user)
	if !rec.Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("failed debit changed balance to %s", rec.Amount)
	}
}

func TestLedger_ReserveAndRelease(t *testing.T) {
	store := openStore(t)
	server := &fakeServer{online: decimal.NewFromInt(100)}
	ledger := NewLedger(store, server, "alice@example.com")
	ctx := context.Background()

	rec, err := ledger.Reserve(ctx, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("offline = %s, want 50", rec.Amount)
	}
	if !server.online.Equal(decimal.NewFromInt(50)) {
		t.Errorf("server online = %s, want 50", server.online)
	}

	rec, err = ledger.Release(ctx, decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("offline = %s, want 20", rec.Amount)
	}
	if !server.online.Equal(decimal.NewFromInt(80)) {
		t.Errorf("server online = %s, want 80", server.online)
	}
}

func TestLedger_ReserveRejectsInvalidAmount(t *testing.T) {
	store := openStore(t)
	server := &fakeServer{online: decimal.NewFromInt(100)}
	ledger := NewLedger(store, server, "alice@example.com")
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if _, err := ledger.Reserve(ctx, decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestLedger_ReserveServerFailureLeavesLocalUntouched(t *testing.T) {
	store := openStore(t)
	server := &fakeServer{online: decimal.NewFromInt(10)}
	ledger := NewLedger(store, server, "alice@example.com")
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, decimal.NewFromInt(50))
	if !errors.Is(err, ErrInsufficientOnline) {
		t.Fatalf("err = %v, want ErrInsufficientOnline", err)
	}

	spendable, _ := ledger.Spendable()
	if !spendable.IsZero() {
		t.Errorf("offline = %s, want 0 after rejected reserve", spendable)
	}
}

func TestLedger_ReleaseChecksLocalFirst(t *testing.T) {
	store := openStore(t)
	server := &fakeServer{online: decimal.NewFromInt(0), reserved: decimal.NewFromInt(100)}
	ledger := NewLedger(store, server, "alice@example.com")
	ctx := context.Background()

	// Local device has nothing even though the server thinks value is
	// reserved; release must fail locally before calling out.
	serverBefore := server.reserved
	_, err := ledger.Release(ctx, decimal.NewFromInt(10))
	if !errors.Is(err, ErrInsufficientOffline) {
		t.Fatalf("err = %v, want ErrInsufficientOffline", err)
	}
	if !server.reserved.Equal(serverBefore) {
		t.Error("server called despite local shortfall")
	}
}
