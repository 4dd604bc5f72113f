package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latecomers/internal/config"
	"latecomers/internal/store"
)

// spyStore counts the transactions that reach the store.
type spyStore struct {
	*store.Memory
	updates atomic.Int32
}

func (s *spyStore) UpdateEntry(ctx context.Context, accountID, roll string, fn store.EntryFunc) (store.Mutation, error) {
	s.updates.Add(1)
	return s.Memory.UpdateEntry(ctx, accountID, roll, fn)
}

func setup(t *testing.T) (*Service, *spyStore) {
	t.Helper()
	st := &spyStore{Memory: store.NewMemory()}
	svc := NewService(st, config.DefaultPolicy())
	svc.SetClock(func() time.Time { return time.Date(2025, 3, 10, 8, 45, 0, 0, time.UTC) })
	svc.newID = func() string { return "settlement-1" }
	return svc, st
}

func TestMarkLateCountsAndFines(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	for call := 1; call <= 6; call++ {
		res, err := svc.MarkLate(ctx, "acc", "12345")
		require.NoError(t, err)
		assert.Equal(t, call, res.Entry.Count, "call %d", call)
		assert.False(t, res.Entry.Status)
		assert.Equal(t, "3 2025", res.Entry.CreatedAt)

		wantFine := 0
		if call > 3 {
			wantFine = call - 3
		}
		assert.Equal(t, wantFine, res.Entry.Fine, "call %d", call)
		assert.Equal(t, call > 3, res.Fined)
	}
}

func TestMarkLateNotices(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	res, err := svc.MarkLate(ctx, "acc", "54321")
	require.NoError(t, err)
	assert.Equal(t, "Roll number 54321 marked as late (1/3)", res.Notice)

	for i := 0; i < 3; i++ {
		res, err = svc.MarkLate(ctx, "acc", "54321")
		require.NoError(t, err)
	}
	assert.True(t, res.Fined)
	assert.Contains(t, res.Notice, "Collect ID")
	assert.Contains(t, res.Notice, "late 4 times")
}

func TestMarkLateRejectsInvalidRollNumbers(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	for _, roll := range []string{"0", "00000", "123", "123456", "abcde", "12a45", "", "-1234", " 1234"} {
		t.Run(roll, func(t *testing.T) {
			_, err := svc.MarkLate(ctx, "acc", roll)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
	assert.Equal(t, int32(0), st.updates.Load())
}

func TestMarkLateRequiresAccount(t *testing.T) {
	svc, st := setup(t)
	_, err := svc.MarkLate(context.Background(), "", "12345")
	assert.ErrorIs(t, err, ErrNoAccount)
	assert.Equal(t, int32(0), st.updates.Load())
}

func TestMarkLateConcurrentNoLostUpdate(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	const marks = 40
	var wg sync.WaitGroup
	for i := 0; i < marks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MarkLate(ctx, "acc", "11111")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acc, err := st.Account(ctx, "acc")
	require.NoError(t, err)
	e := acc.Entries["11111"]
	assert.Equal(t, marks, e.Count)
	assert.Equal(t, marks-3, e.Fine)
}

func TestMarkLateAccountFull(t *testing.T) {
	st := store.NewMemory()
	policy := config.DefaultPolicy()
	policy.MaxEntries = 2
	svc := NewService(st, policy)
	ctx := context.Background()

	_, err := svc.MarkLate(ctx, "acc", "10001")
	require.NoError(t, err)
	_, err = svc.MarkLate(ctx, "acc", "10002")
	require.NoError(t, err)

	_, err = svc.MarkLate(ctx, "acc", "10003")
	assert.ErrorIs(t, err, ErrAccountFull)

	// existing roll numbers keep working
	_, err = svc.MarkLate(ctx, "acc", "10001")
	assert.NoError(t, err)
}

func seedEntry(t *testing.T, st store.Ledgers, accountID, roll string, e store.LedgerEntry) {
	t.Helper()
	_, err := st.UpdateEntry(context.Background(), accountID, roll, func(store.Snapshot) (store.Mutation, error) {
		return store.Mutation{Entry: e}, nil
	})
	require.NoError(t, err)
}

func TestSettleArchivesAndResets(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()
	require.NoError(t, svc.RegisterAccount(ctx, "acc", "CSE"))
	seedEntry(t, st, "acc", "12345", store.LedgerEntry{Count: 5, Fine: 2, CreatedAt: "2 2025"})

	rec, err := svc.Settle(ctx, "acc", "12345", true)
	require.NoError(t, err)
	assert.Equal(t, "acc_12345", rec.ID)
	assert.Equal(t, int64(100), rec.TotalAmount)
	assert.Equal(t, 5, rec.Count)
	assert.Equal(t, 2, rec.Fine)
	assert.True(t, rec.Status)
	assert.Equal(t, "CSE", rec.Dept)
	assert.Equal(t, "2 2025", rec.CreatedAt)
	assert.Equal(t, "settlement-1", rec.SettlementID)
	assert.False(t, rec.ArchivedAt.IsZero())

	stored, ok := st.ArchiveRecord("acc_12345")
	require.True(t, ok)
	assert.Equal(t, rec, stored)

	acc, err := st.Account(ctx, "acc")
	require.NoError(t, err)
	e := acc.Entries["12345"]
	assert.Equal(t, 0, e.Count)
	assert.Equal(t, 0, e.Fine)
	assert.True(t, e.Status)
}

func TestSettleTwiceIsRejected(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()
	seedEntry(t, st, "acc", "12345", store.LedgerEntry{Count: 4, Fine: 1, CreatedAt: "3 2025"})

	_, err := svc.Settle(ctx, "acc", "12345", true)
	require.NoError(t, err)

	_, err = svc.Settle(ctx, "acc", "12345", true)
	assert.ErrorIs(t, err, ErrNotFined)

	rec, ok := st.ArchiveRecord("acc_12345")
	require.True(t, ok)
	assert.Equal(t, int64(50), rec.TotalAmount, "retry must not overwrite the archive with zeroed data")
}

func TestSettleRejections(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()
	seedEntry(t, st, "acc", "22222", store.LedgerEntry{Count: 3, CreatedAt: "3 2025"})
	seedEntry(t, st, "acc", "33333", store.LedgerEntry{Count: 6, Fine: 3, CreatedAt: "3 2025"})
	before := st.updates.Load()

	_, err := svc.Settle(ctx, "acc", "33333", false)
	assert.ErrorIs(t, err, ErrNotConfirmed)

	for _, roll := range []string{"123456", "12a45", "0", ""} {
		_, err = svc.Settle(ctx, "acc", roll, true)
		assert.True(t, IsValidation(err), roll)
	}
	assert.Equal(t, before, st.updates.Load())

	_, err = svc.Settle(ctx, "acc", "22222", true)
	assert.ErrorIs(t, err, ErrNotFined)
	_, err = svc.Settle(ctx, "acc", "44444", true)
	assert.ErrorIs(t, err, ErrNotFined)

	_, ok := st.ArchiveRecord("acc_22222")
	assert.False(t, ok)
}

func TestSettleStoreFailureLeavesEntry(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()
	seedEntry(t, st, "acc", "12345", store.LedgerEntry{Count: 5, Fine: 2, CreatedAt: "3 2025"})

	boom := errors.New("unavailable")
	st.FailCommits(boom)
	_, err := svc.Settle(ctx, "acc", "12345", true)
	assert.ErrorIs(t, err, boom)
	st.FailCommits(nil)

	_, ok := st.ArchiveRecord("acc_12345")
	assert.False(t, ok)
	acc, err := st.Account(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, 5, acc.Entries["12345"].Count)
}

func TestLeadingZeroRollSharesEntryKey(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()
	// entry written by the web scanner under +rollNumber
	seedEntry(t, st, "acc", "1234", store.LedgerEntry{Count: 3, CreatedAt: "3 2025"})

	res, err := svc.MarkLate(ctx, "acc", "01234")
	require.NoError(t, err)
	assert.Equal(t, "1234", res.Entry.RollNumber)
	assert.Equal(t, 4, res.Entry.Count)
	assert.Equal(t, 1, res.Entry.Fine)
	assert.Equal(t, "Collect ID! Roll number 1234 has been late 4 times. Fine will be applied.", res.Notice)

	acc, err := st.Account(ctx, "acc")
	require.NoError(t, err)
	assert.Len(t, acc.Entries, 1)
	_, padded := acc.Entries["01234"]
	assert.False(t, padded)

	rec, err := svc.Settle(ctx, "acc", "1234", true)
	require.NoError(t, err)
	assert.Equal(t, "acc_1234", rec.ID)
	assert.Equal(t, int64(50), rec.TotalAmount)

	_, err = svc.Settle(ctx, "acc", "01234", true)
	assert.ErrorIs(t, err, ErrNotFined)
}

func TestEntryKey(t *testing.T) {
	assert.Equal(t, "12345", EntryKey("12345"))
	assert.Equal(t, "1234", EntryKey("01234"))
	assert.Equal(t, "5", EntryKey("00005"))

	key, err := ParseEntryKey("00042")
	require.NoError(t, err)
	assert.Equal(t, "42", key)
	key, err = ParseEntryKey("42")
	require.NoError(t, err)
	assert.Equal(t, "42", key)
}

func TestFinedView(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()
	require.NoError(t, svc.RegisterAccount(ctx, "acc", "ECE"))
	seedEntry(t, st, "acc", "10001", store.LedgerEntry{Count: 4, Fine: 1})
	seedEntry(t, st, "acc", "10002", store.LedgerEntry{Count: 7, Fine: 4})
	seedEntry(t, st, "acc", "20003", store.LedgerEntry{Count: 4, Fine: 1})
	seedEntry(t, st, "acc", "10004", store.LedgerEntry{Count: 2})

	view, err := svc.Fined(ctx, "acc", "")
	require.NoError(t, err)
	assert.Equal(t, "ECE", view.Dept)
	require.Len(t, view.Entries, 3)
	assert.Equal(t, "10002", view.Entries[0].RollNumber)
	assert.Equal(t, "10001", view.Entries[1].RollNumber)
	assert.Equal(t, "20003", view.Entries[2].RollNumber)
	assert.Equal(t, int64(300), view.TotalPending)

	view, err = svc.Fined(ctx, "acc", " 2000 ")
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "20003", view.Entries[0].RollNumber)
}

func TestPeriodTag(t *testing.T) {
	assert.Equal(t, "3 2025", PeriodTag(time.March, 2025))
	assert.Equal(t, "12 2024", PeriodOf(time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)))
}

func TestCurrentPeriodUsesPolicyTimezone(t *testing.T) {
	svc, _ := setup(t)
	// 20:00 UTC on the last day of March is already April in Asia/Kolkata
	svc.SetClock(func() time.Time { return time.Date(2025, 3, 31, 20, 0, 0, 0, time.UTC) })
	assert.Equal(t, "4 2025", svc.CurrentPeriod())
}
