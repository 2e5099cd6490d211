package store

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/util"
)

type userName struct {
	userID string
	key    string
}

type categoryKey struct {
	userID string
	typ    models.FinanceType
	key    string
}

// InMemoryStore keeps everything in process memory. It is safe for concurrent use.
type InMemoryStore struct {
	mu sync.Mutex

	states       map[string]models.ConversationState
	habits       map[userName]models.Habit
	dayLogs      map[userName]models.DailyLog // key is the date
	customFields map[string][]models.CustomFieldDef
	products     map[userName]models.Product
	nutrition    []models.NutritionEntry
	categories   map[categoryKey]models.FinanceCategory
	nextCatID    int64
	finance      []models.FinanceEntry
	reminders    map[string]models.Reminder
	receipts     []models.Receipt
	responses    []models.Response
	dedup        map[string]*DedupRecord
	outbox       []*OutboxMessage
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:       make(map[string]models.ConversationState),
		habits:       make(map[userName]models.Habit),
		dayLogs:      make(map[userName]models.DailyLog),
		customFields: make(map[string][]models.CustomFieldDef),
		products:     make(map[userName]models.Product),
		categories:   make(map[categoryKey]models.FinanceCategory),
		reminders:    make(map[string]models.Reminder),
		dedup:        make(map[string]*DedupRecord),
	}
}

func cloneState(st models.ConversationState) models.ConversationState {
	st.Answers = st.Answers.Clone()
	if st.CustomDefs != nil {
		defs := make([]models.CustomFieldDef, len(st.CustomDefs))
		copy(defs, st.CustomDefs)
		st.CustomDefs = defs
	}
	return st
}

func (s *InMemoryStore) GetConversationState(ctx context.Context, userID string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	c := cloneState(st)
	return &c, nil
}

func (s *InMemoryStore) ListConversationStates(ctx context.Context) ([]models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, cloneState(st))
	}
	return out, nil
}

func (s *InMemoryStore) SaveConversationState(ctx context.Context, state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = cloneState(state)
	return nil
}

func (s *InMemoryStore) DeleteConversationState(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

func (s *InMemoryStore) UpsertHabit(ctx context.Context, h models.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userName{h.UserID, nameKey(h.Name)}
	if old, ok := s.habits[k]; ok {
		h.CreatedAt = old.CreatedAt
	}
	s.habits[k] = h
	return nil
}

func (s *InMemoryStore) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Habit
	for k, h := range s.habits {
		if k.userID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) DeleteHabit(ctx context.Context, userID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userName{userID, nameKey(name)}
	_, ok := s.habits[k]
	delete(s.habits, k)
	return ok, nil
}

func (s *InMemoryStore) MergeDailyLog(ctx context.Context, userID, date string, data map[string]any, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userName{userID, date}
	log, ok := s.dayLogs[k]
	if !ok {
		log = models.DailyLog{UserID: userID, Date: date, Data: make(map[string]any)}
	} else {
		log.Data = maps.Clone(log.Data)
	}
	maps.Copy(log.Data, data)
	log.UpdatedAt = now
	s.dayLogs[k] = log
	return nil
}

func (s *InMemoryStore) ListDailyLogs(ctx context.Context, userID, from, to string) ([]models.DailyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DailyLog
	for k, l := range s.dayLogs {
		if k.userID == userID && l.Date >= from && l.Date <= to {
			l.Data = maps.Clone(l.Data)
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *InMemoryStore) RecentDailyLogs(ctx context.Context, userID string, limit int) ([]models.DailyLog, error) {
	all, _ := s.ListDailyLogs(ctx, userID, "", "9999-12-31")
	sort.Slice(all, func(i, j int) bool { return all[i].Date > all[j].Date })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *InMemoryStore) AddCustomField(ctx context.Context, def models.CustomFieldDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.customFields[def.UserID] {
		if nameKey(d.Name) == nameKey(def.Name) {
			return ErrDuplicate
		}
	}
	s.customFields[def.UserID] = append(s.customFields[def.UserID], def)
	return nil
}

func (s *InMemoryStore) ListCustomFields(ctx context.Context, userID string) ([]models.CustomFieldDef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defs := s.customFields[userID]
	out := make([]models.CustomFieldDef, len(defs))
	copy(out, defs)
	return out, nil
}

func (s *InMemoryStore) DeleteCustomField(ctx context.Context, userID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defs := s.customFields[userID]
	for i, d := range defs {
		if nameKey(d.Name) == nameKey(name) {
			s.customFields[userID] = append(defs[:i:i], defs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ReplaceCustomField(ctx context.Context, def models.CustomFieldDef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defs := s.customFields[def.UserID]
	kept := make([]models.CustomFieldDef, 0, len(defs)+1)
	for _, d := range defs {
		if nameKey(d.Name) != nameKey(def.Name) {
			kept = append(kept, d)
		}
	}
	replaced := len(kept) < len(defs)
	s.customFields[def.UserID] = append(kept, def)
	return replaced, nil
}

func (s *InMemoryStore) UpsertProduct(ctx context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[userName{p.UserID, nameKey(p.Name)}] = p
	return nil
}

func (s *InMemoryStore) GetProduct(ctx context.Context, userID, name string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[userName{userID, nameKey(name)}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) ListProducts(ctx context.Context, userID string) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Product
	for k, p := range s.products {
		if k.userID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) DeleteProduct(ctx context.Context, userID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userName{userID, nameKey(name)}
	_, ok := s.products[k]
	delete(s.products, k)
	return ok, nil
}

func (s *InMemoryStore) AddNutritionEntry(ctx context.Context, e models.NutritionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nutrition = append(s.nutrition, e)
	return nil
}

func (s *InMemoryStore) ListNutritionEntries(ctx context.Context, userID, from, to string) ([]models.NutritionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NutritionEntry
	for _, e := range s.nutrition {
		if e.UserID == userID && e.Date >= from && e.Date <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListFinanceCategories(ctx context.Context, userID string, t models.FinanceType) ([]models.FinanceCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FinanceCategory
	for k, c := range s.categories {
		if k.userID == userID && (t == "" || k.typ == t) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CreateFinanceCategory(ctx context.Context, userID, name string, t models.FinanceType) (models.FinanceCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := categoryKey{userID, t, nameKey(name)}
	if _, ok := s.categories[k]; ok {
		return models.FinanceCategory{}, ErrDuplicate
	}
	s.nextCatID++
	c := models.FinanceCategory{ID: s.nextCatID, UserID: userID, Name: name, Type: t, CreatedAt: time.Now()}
	s.categories[k] = c
	return c, nil
}

func (s *InMemoryStore) AddFinanceEntry(ctx context.Context, e models.FinanceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finance = append(s.finance, e)
	return nil
}

func (s *InMemoryStore) ListFinanceEntries(ctx context.Context, userID, from, to string) ([]models.FinanceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FinanceEntry
	for _, e := range s.finance {
		if e.UserID == userID && e.Date >= from && e.Date <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SetReminder(ctx context.Context, r models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.UserID] = r
	return nil
}

func (s *InMemoryStore) GetReminder(ctx context.Context, userID string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *InMemoryStore) DeleteReminder(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reminders[userID]
	delete(s.reminders, userID)
	return ok, nil
}

func (s *InMemoryStore) ListReminders(ctx context.Context) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Response, len(s.responses))
	copy(out, s.responses)
	return out, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		now := time.Now()
		r.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(ctx context.Context, userID, kind, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey {
				slog.Debug("InMemoryStore.EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", m.ID)
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := &OutboxMessage{
		ID:        util.NewID("outbox_"),
		UserID:    userID,
		Kind:      kind,
		Body:      body,
		Status:    OutboxStatusQueued,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.outbox = append(s.outbox, m)
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutboxMessage
	for _, m := range s.outbox {
		if len(out) >= limit {
			break
		}
		if m.Status != OutboxStatusQueued || (m.NextAttemptAt != nil && m.NextAttemptAt.After(now)) {
			continue
		}
		m.Status = OutboxStatusSending
		locked := now
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) findOutbox(id string) *OutboxMessage {
	for _, m := range s.outbox {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findOutbox(id); m != nil {
		m.Status = OutboxStatusSent
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findOutbox(id); m != nil {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		next := nextAttemptAt
		m.NextAttemptAt = &next
		m.LockedAt = nil
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

var _ Store = (*InMemoryStore)(nil)
