// Package memory is an in-process implementation of every store port, used by
// tests and single-node development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/persistence"
)

type credKey struct {
	user     string
	provider domain.Provider
}

type entryKey struct {
	user string
	date time.Time
}

type recordKey struct {
	provider domain.Provider
	id       string
}

// Store keeps all state in maps. Daily entry merges serialize per entry key.
type Store struct {
	mu          sync.RWMutex
	credentials map[credKey]domain.Credential
	entries     map[entryKey]*domain.DailyEntry
	records     map[recordKey]domain.ExternalActivityRecord
	runs        []domain.SyncOutcome

	locksMu sync.Mutex
	locks   map[entryKey]*sync.Mutex

	now func() time.Time
}

func New() *Store {
	return &Store{
		credentials: make(map[credKey]domain.Credential),
		entries:     make(map[entryKey]*domain.DailyEntry),
		records:     make(map[recordKey]domain.ExternalActivityRecord),
		locks:       make(map[entryKey]*sync.Mutex),
		now:         time.Now,
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Get(_ context.Context, userID string, provider domain.Provider) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[credKey{userID, provider}]
	if !ok || (c.AccessToken == "" && c.RefreshToken == "") {
		return nil, nil
	}
	return cloneCredential(c), nil
}

func (s *Store) Save(_ context.Context, c domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey{c.UserID, c.Provider}
	if prev, ok := s.credentials[key]; ok {
		if c.LastSyncAt == nil {
			c.LastSyncAt = prev.LastSyncAt
		}
		if c.Watermark == nil {
			c.Watermark = prev.Watermark
		}
	}
	c.UpdatedAt = s.now().UTC()
	s.credentials[key] = *cloneCredential(c)
	return nil
}

func (s *Store) Clear(_ context.Context, userID string, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credKey{userID, provider}] = domain.Credential{
		UserID:    userID,
		Provider:  provider,
		UpdatedAt: s.now().UTC(),
	}
	return nil
}

func (s *Store) UpdateTokens(_ context.Context, c domain.Credential, prevAccess, prevRefresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey{c.UserID, c.Provider}
	cur, ok := s.credentials[key]
	if !ok || (cur.AccessToken == "" && cur.RefreshToken == "") ||
		cur.AccessToken != prevAccess || cur.RefreshToken != prevRefresh {
		return domain.ErrCredentialChanged
	}
	cur.AccessToken = c.AccessToken
	cur.RefreshToken = c.RefreshToken
	cur.ExpiresAt = nil
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cur.ExpiresAt = &t
	}
	cur.UpdatedAt = s.now().UTC()
	s.credentials[key] = cur
	return nil
}

func (s *Store) ListConnected(_ context.Context, provider domain.Provider) ([]domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Credential
	for k, c := range s.credentials {
		if k.provider == provider && c.Connected() {
			out = append(out, *cloneCredential(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) MarkSynced(_ context.Context, userID string, provider domain.Provider, at time.Time, watermark *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey{userID, provider}
	c, ok := s.credentials[key]
	if !ok || c.AccessToken == "" {
		return nil
	}
	at = at.UTC()
	c.LastSyncAt = &at
	if watermark != nil && (c.Watermark == nil || watermark.After(*c.Watermark)) {
		w := *watermark
		c.Watermark = &w
	}
	s.credentials[key] = c
	return nil
}

func (s *Store) entryLock(key entryKey) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) MergeDay(ctx context.Context, merge domain.DayMerge) (domain.DayMergeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.DayMergeResult{}, err
	}
	key := entryKey{merge.UserID, merge.Date}
	lock := s.entryLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.DayMergeResult
	entry, ok := s.entries[key]
	if ok {
		entry = cloneEntry(entry)
	} else {
		entry = domain.NewDailyEntry(merge.UserID, merge.Date, domain.CreatedBySync, now)
		res.Created = true
	}
	res.Updated, res.SkippedManual = entry.ApplyProvider(merge.Provider, merge.Totals)
	if res.Created || len(res.Updated) > 0 {
		entry.UpdatedAt = now
	}
	s.entries[key] = entry

	for _, rec := range merge.Records {
		rk := recordKey{rec.Provider, rec.ExternalID}
		prev, exists := s.records[rk]
		if exists && prev.PayloadHash == rec.PayloadHash && prev.UserID == rec.UserID {
			continue
		}
		rec.UpdatedAt = now
		rec.CreatedAt = now
		if exists {
			rec.CreatedAt = prev.CreatedAt
		}
		s.records[rk] = rec
		res.RecordsStored++
	}
	return res, nil
}

func (s *Store) GetEntry(_ context.Context, userID string, date time.Time) (*domain.DailyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryKey{userID, date}]
	if !ok {
		return nil, nil
	}
	return cloneEntry(e), nil
}

func (s *Store) SaveManual(_ context.Context, m domain.ManualEntry) (*domain.DailyEntry, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	key := entryKey{m.UserID, m.Date}
	lock := s.entryLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok {
		entry = cloneEntry(entry)
	} else {
		entry = domain.NewDailyEntry(m.UserID, m.Date, domain.CreatedByManual, now)
	}
	entry.ApplyManual(m)
	entry.UpdatedAt = now
	s.entries[key] = entry
	return cloneEntry(entry), nil
}

func (s *Store) GetExternalActivity(_ context.Context, provider domain.Provider, externalID string) (*domain.ExternalActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{provider, externalID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListExternalActivities pages newest first. An empty provider lists all.
func (s *Store) ListExternalActivities(_ context.Context, userID string, provider domain.Provider, cursor *domain.Cursor, limit int) ([]domain.ExternalActivityRecord, *domain.Cursor, error) {
	s.mu.RLock()
	var all []domain.ExternalActivityRecord
	for _, rec := range s.records {
		if rec.UserID != userID || (provider != "" && rec.Provider != provider) {
			continue
		}
		if !persistence.Before(cursor, rec.OccurredAt, rec.ExternalID) {
			continue
		}
		all = append(all, rec)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].OccurredAt.Equal(all[j].OccurredAt) {
			return all[i].ExternalID > all[j].ExternalID
		}
		return all[i].OccurredAt.After(all[j].OccurredAt)
	})
	if limit <= 0 || len(all) <= limit {
		return all, nil, nil
	}
	page := all[:limit]
	last := page[len(page)-1]
	return page, &domain.Cursor{OccurredAt: last.OccurredAt, ID: last.ExternalID}, nil
}

func (s *Store) RecordOutcome(_ context.Context, outcome domain.SyncOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, outcome)
	return nil
}

// Outcomes returns recorded sync outcomes in insertion order.
func (s *Store) Outcomes() []domain.SyncOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SyncOutcome(nil), s.runs...)
}

func cloneCredential(c domain.Credential) *domain.Credential {
	out := c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	if c.LastSyncAt != nil {
		t := *c.LastSyncAt
		out.LastSyncAt = &t
	}
	if c.Watermark != nil {
		t := *c.Watermark
		out.Watermark = &t
	}
	return &out
}

func cloneEntry(e *domain.DailyEntry) *domain.DailyEntry {
	out := *e
	out.Sources = make(map[domain.Field]domain.Source, len(e.Sources))
	for f, s := range e.Sources {
		out.Sources[f] = s
	}
	return &out
}

var (
	_ domain.CredentialStore = (*Store)(nil)
	_ domain.EntryStore      = (*Store)(nil)
	_ domain.ActivityStore   = (*Store)(nil)
	_ domain.SyncRunStore    = (*Store)(nil)
)
