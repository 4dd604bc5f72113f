// Package ledger implements late marking and fine settlement for scanning-station accounts.
package ledger

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"latecomers/internal/config"
	"latecomers/internal/metrics"
	"latecomers/internal/store"
)

// MarkResult is the outcome of a late mark.
type MarkResult struct {
	Entry  store.LedgerEntry `json:"entry"`
	Fined  bool              `json:"fined"`
	Notice string            `json:"notice"`
}

// FinedView lists an account's roll numbers that are over the late threshold.
type FinedView struct {
	AccountID    string              `json:"account_id"`
	Dept         string              `json:"dept"`
	Entries      []store.LedgerEntry `json:"entries"`
	TotalPending int64               `json:"total_pending"`
}

// Service coordinates late marks and settlements against the ledger store.
type Service struct {
	store  store.Ledgers
	policy config.Policy
	loc    *time.Location
	now    func() time.Time
	newID  func() string
}

// NewService creates a service backed by a ledger store.
func NewService(st store.Ledgers, policy config.Policy) *Service {
	return &Service{
		store:  st,
		policy: policy,
		loc:    policy.Location(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetClock replaces the clock used to derive period tags.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Policy returns the fine policy the service applies.
func (s *Service) Policy() config.Policy { return s.policy }

// Amount returns the currency amount owed for fine units.
func (s *Service) Amount(fine int) int64 {
	return int64(fine) * s.policy.FineUnitPrice
}

// CurrentPeriod returns the period tag of the present moment.
func (s *Service) CurrentPeriod() string {
	return PeriodOf(s.now().In(s.loc))
}

// MarkLate records one late arrival for roll under its EntryKey. Count and fine are decided and
// written in a single store transaction, so concurrent marks never lose an
// increment and the fine always matches the marks that crossed the threshold.
func (s *Service) MarkLate(ctx context.Context, accountID, roll string) (MarkResult, error) {
	if accountID == "" {
		return MarkResult{}, ErrNoAccount
	}
	if err := ValidateRollNumber(roll); err != nil {
		metrics.RejectedMarks.Inc()
		return MarkResult{}, err
	}

	roll = EntryKey(roll)
	period := s.CurrentPeriod()
	mut, err := s.store.UpdateEntry(ctx, accountID, roll, func(cur store.Snapshot) (store.Mutation, error) {
		if !cur.Exists && cur.Entries >= s.policy.MaxEntries {
			return store.Mutation{}, ErrAccountFull
		}
		e := cur.Entry
		if !cur.Exists {
			e = store.LedgerEntry{RollNumber: roll}
		}
		e.Count++
		e.Status = false
		e.CreatedAt = period
		if e.Count > s.policy.LateThreshold {
			e.Fine++
		}
		return store.Mutation{Entry: e}, nil
	})
	if err != nil {
		return MarkResult{}, fmt.Errorf("mark %s late: %w", roll, err)
	}

	res := MarkResult{Entry: mut.Entry, Fined: mut.Entry.Count > s.policy.LateThreshold}
	if res.Fined {
		metrics.LateMarks.WithLabelValues("fined").Inc()
		res.Notice = fmt.Sprintf("Collect ID! Roll number %s has been late %d times. Fine will be applied.", roll, mut.Entry.Count)
	} else {
		metrics.LateMarks.WithLabelValues("marked").Inc()
		res.Notice = fmt.Sprintf("Roll number %s marked as late (%d/%d)", roll, mut.Entry.Count, s.policy.LateThreshold)
	}
	return res, nil
}

// Fined returns the account's entries over the threshold whose roll number
// contains query, most late first, with the total pending amount.
func (s *Service) Fined(ctx context.Context, accountID, query string) (FinedView, error) {
	if accountID == "" {
		return FinedView{}, ErrNoAccount
	}
	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return FinedView{}, fmt.Errorf("load account: %w", err)
	}

	view := FinedView{AccountID: accountID, Dept: acc.Dept, Entries: []store.LedgerEntry{}}
	query = strings.ToLower(strings.TrimSpace(query))
	for roll, e := range acc.Entries {
		if e.Count <= s.policy.LateThreshold {
			continue
		}
		view.TotalPending += s.Amount(e.Fine)
		if query != "" && !strings.Contains(strings.ToLower(roll), query) {
			continue
		}
		e.RollNumber = roll
		view.Entries = append(view.Entries, e)
	}
	sort.Slice(view.Entries, func(i, j int) bool {
		a, b := view.Entries[i], view.Entries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.RollNumber < b.RollNumber
	})
	return view, nil
}

// Settle archives roll's outstanding fine and resets its ledger entry. roll
// may be given as scanned or as its EntryKey. The archive write and the reset
// happen in one transaction; a roll number that is not over the threshold,
// including one already settled, is rejected with ErrNotFined and nothing is
// written.
func (s *Service) Settle(ctx context.Context, accountID, roll string, confirmed bool) (store.ArchiveRecord, error) {
	if accountID == "" {
		return store.ArchiveRecord{}, ErrNoAccount
	}
	roll, err := ParseEntryKey(roll)
	if err != nil {
		return store.ArchiveRecord{}, err
	}
	if !confirmed {
		return store.ArchiveRecord{}, ErrNotConfirmed
	}

	settlementID := s.newID()
	mut, err := s.store.UpdateEntry(ctx, accountID, roll, func(cur store.Snapshot) (store.Mutation, error) {
		if !cur.Exists || cur.Entry.Count <= s.policy.LateThreshold {
			return store.Mutation{}, ErrNotFined
		}
		rec := store.ArchiveRecord{
			ID:           store.ArchiveKey(accountID, roll),
			AccountID:    accountID,
			RollNumber:   roll,
			Dept:         cur.Dept,
			Count:        cur.Entry.Count,
			Fine:         cur.Entry.Fine,
			TotalAmount:  s.Amount(cur.Entry.Fine),
			Status:       true,
			CreatedAt:    cur.Entry.CreatedAt,
			SettlementID: settlementID,
		}
		reset := store.LedgerEntry{
			RollNumber: roll,
			Count:      0,
			Fine:       0,
			Status:     true,
			CreatedAt:  cur.Entry.CreatedAt,
		}
		return store.Mutation{Entry: reset, Archive: &rec}, nil
	})
	if err != nil {
		return store.ArchiveRecord{}, fmt.Errorf("settle %s: %w", roll, err)
	}

	rec := *mut.Archive
	metrics.Settlements.Inc()
	metrics.SettledAmount.Add(float64(rec.TotalAmount))
	log.Printf("[SETTLE] account=%s roll=%s amount=%d settlement=%s", accountID, roll, rec.TotalAmount, rec.SettlementID)
	return rec, nil
}

// Account returns the account document.
func (s *Service) Account(ctx context.Context, accountID string) (store.Account, error) {
	if accountID == "" {
		return store.Account{}, ErrNoAccount
	}
	return s.store.Account(ctx, accountID)
}

// RegisterAccount creates a scanning-station account with its department.
func (s *Service) RegisterAccount(ctx context.Context, accountID, dept string) error {
	if accountID == "" {
		return ErrNoAccount
	}
	return s.store.RegisterAccount(ctx, accountID, strings.TrimSpace(dept))
}
