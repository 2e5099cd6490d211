package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/TrackPipe/internal/flow"
	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/reminder"
	"github.com/BTreeMap/TrackPipe/internal/report"
	"github.com/BTreeMap/TrackPipe/internal/scheduler"
	"github.com/BTreeMap/TrackPipe/internal/store"
	"github.com/BTreeMap/TrackPipe/internal/tracker"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newBot(t *testing.T) (*Bot, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(
		flow.DefaultRegistry(flow.FormDeps{Categories: st, Products: st}),
		flow.NewStoreBasedStateManager(st),
		tracker.NewSink(st, tracker.WithLocation(time.UTC)),
		st,
		flow.WithClock(clock),
	)
	reporter := report.NewReporter(st, report.WithClock(clock), report.WithLocation(time.UTC))
	sched := scheduler.NewScheduler(scheduler.WithLocation(time.UTC))
	t.Cleanup(sched.Stop)
	reminders := reminder.NewService(st, sched, reminder.WithClock(clock), reminder.WithLocation(time.UTC))
	b := New(engine, reporter, st,
		WithReminders(reminders), WithOutbox(st), WithClock(clock), WithPublicURL("https://bot.example.com/"))
	return b, st
}

// say sends each message in order and returns the last reply.
func say(t *testing.T, b *Bot, msgs ...string) string {
	t.Helper()
	var reply string
	for _, m := range msgs {
		var err error
		reply, err = b.Handle(context.Background(), "u1", m)
		require.NoError(t, err, "message %q", m)
	}
	return reply
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in, name, args string
		ok             bool
	}{
		{"/remind 09:00", "/remind", "09:00", true},
		{"/Day@TrackPipeBot", "/day", "", true},
		{"/ДЕНЬ", "/день", "", true},
		{"/deletehabit  Утренний бег ", "/deletehabit", "Утренний бег", true},
		{"привет", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
}

func TestStaticCommands(t *testing.T) {
	b, _ := newBot(t)
	assert.Equal(t, textStart, say(t, b, "/start"))
	assert.Equal(t, textHelp, say(t, b, "/help"))
	assert.Equal(t, textUnknownCommand, say(t, b, "/nope"))
	assert.Equal(t, textUnknownInput, say(t, b, "привет"))
	assert.Contains(t, b.Commands(), "/деньги")
}

func TestDayLogConversation(t *testing.T) {
	b, st := newBot(t)

	assert.Contains(t, say(t, b, "/день"), "воды")
	reply := say(t, b, "много")
	assert.Contains(t, reply, "⚠️")
	assert.Contains(t, reply, "воды", "validation error repeats the question")

	reply = say(t, b, "1500", "0", "да", "7.5", "8", "Хороший день")
	assert.Equal(t, textDayLogSaved, reply)

	logs, err := st.ListDailyLogs(context.Background(), "u1", "2026-03-10", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1500), logs[0].Data["water"])
	assert.Contains(t, say(t, b, "/history"), "2026-03-10")
}

func TestHabitConversationAndDelete(t *testing.T) {
	b, _ := newBot(t)

	reply := say(t, b, "/add", "Бег")
	assert.Contains(t, reply, "1. ✅ Полезная", "choices are rendered as a numbered list")
	reply = say(t, b, "1", "количество", "км", "2", "1")
	assert.Equal(t, "✅ Привычка 'Бег' добавлена.", reply)

	assert.Contains(t, say(t, b, "/report"), "Бег")
	assert.Contains(t, say(t, b, "/deletehabit"), "Бег")
	assert.Equal(t, "❌ Привычка 'Бег' удалена.", say(t, b, "/deletehabit Бег"))
	assert.Equal(t, "Привычка 'Бег' не найдена.", say(t, b, "/deletehabit Бег"))
	assert.Equal(t, textNoHabits, say(t, b, "/deletehabit"))
}

func TestFinanceConversation(t *testing.T) {
	b, _ := newBot(t)

	reply := say(t, b, "/finance", "расход", "1500,5", "Такси")
	assert.Equal(t, "✅ Расход добавлен: 1500.50 ₽ (Такси)", reply)

	reply = say(t, b, "/деньги", "-")
	assert.Contains(t, reply, "сумму")
	reply = say(t, b, "200")
	assert.Contains(t, reply, "Такси", "known categories are suggested")
	say(t, b, "такси")

	assert.Contains(t, say(t, b, "/balance"), "1700.50")
	assert.Contains(t, say(t, b, "/categories"), "Такси")
}

func TestFormInProgressAndCancel(t *testing.T) {
	b, _ := newBot(t)

	assert.Equal(t, textCancelIdle, say(t, b, "/cancel"))
	say(t, b, "/day")

	reply := say(t, b, "/food")
	assert.Contains(t, reply, textFormInProgress)
	assert.Contains(t, reply, "воды", "the pending question is repeated")

	assert.Equal(t, textCancelActive, say(t, b, "Отмена"))
	assert.Contains(t, say(t, b, "/food"), "приём пищи")
	assert.Equal(t, textCancelActive, say(t, b, "/cancel"))
}

func TestFoodWithCatalogProduct(t *testing.T) {
	b, _ := newBot(t)

	assert.Equal(t, "✅ Продукт 'Овсянка' добавлен!", say(t, b, "/editproduct Овсянка;350;12;6;60;0;1"))
	assert.Equal(t, "✅ Продукт 'Овсянка' обновлён!", say(t, b, "/editproduct овсянка;360;12,5;6;60;0;1"))
	assert.Equal(t, textProductFormat, say(t, b, "/editproduct Овсянка;много"))
	assert.Equal(t, textProductFormat, say(t, b, "/editproduct Овсянка;-1;0;0;0;0;0"))
	assert.Contains(t, say(t, b, "/products"), "Овсянка")

	reply := say(t, b, "/food", "завтрак", "овсянка", "50")
	assert.Equal(t, "✅ Записано: овсянка, 50 г. Итог за день: /today", reply)
	assert.Contains(t, say(t, b, "/today"), "180")

	assert.Equal(t, "❌ Продукт 'Овсянка' удалён.", say(t, b, "/delproduct Овсянка"))
	assert.Equal(t, textProductNameNeeded, say(t, b, "/delproduct"))
}

func TestCustomFieldCommands(t *testing.T) {
	b, st := newBot(t)

	assert.Equal(t, textNoCustomFields, say(t, b, "/delcustom"))
	assert.Equal(t, "✅ Поле 'steps' добавлено в итоги дня.", say(t, b, "/custom", "steps", "число"))

	reply := say(t, b, "/day", "1", "0", "нет", "8", "5", "-")
	assert.Contains(t, reply, "steps", "custom fields follow the fixed questions")
	assert.Equal(t, textDayLogSaved, say(t, b, "12000"))

	logs, _ := st.ListDailyLogs(context.Background(), "u1", "2026-03-10", "2026-03-10")
	require.Len(t, logs, 1)
	assert.Equal(t, int64(12000), logs[0].Data["steps"])

	assert.Equal(t, "❌ Поле 'steps' удалено.", say(t, b, "/delcustom steps"))
}

func TestReminderCommands(t *testing.T) {
	b, st := newBot(t)

	assert.Equal(t, "🔔 Напоминание установлено на 09:05", say(t, b, "/remind 9:05"))
	assert.Equal(t, textRemindFormat, say(t, b, "/remind 25:00"))
	assert.Equal(t, textRemindFormat, say(t, b, "/remind"))

	r, err := st.GetReminder(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "09:05", r.Time)

	assert.Equal(t, textRemindOff, say(t, b, "/remind_off"))
	assert.Equal(t, textRemindNone, say(t, b, "/remind_off"))
}

func TestRemindersDisabled(t *testing.T) {
	st := store.NewInMemoryStore()
	b := New(&fakeEngine{}, report.NewReporter(st), st)
	assert.Equal(t, textRemindDisabled, say(t, b, "/remind 09:00"))
}

func TestExport(t *testing.T) {
	b, _ := newBot(t)
	assert.Equal(t, "📊 Выгрузка в Excel: https://bot.example.com/users/u1/export.xlsx", say(t, b, "/export"))

	st := store.NewInMemoryStore()
	plain := New(&fakeEngine{}, report.NewReporter(st), st)
	assert.Contains(t, say(t, plain, "/export"), "GET /users/u1/export.xlsx")
}

type fakeEngine struct {
	err error
}

func (f *fakeEngine) Start(ctx context.Context, userID string, kind models.FormKind) (flow.Result, error) {
	return flow.Result{}, f.err
}

func (f *fakeEngine) Advance(ctx context.Context, userID, input string) (flow.Result, error) {
	return flow.Result{}, f.err
}

func (f *fakeEngine) Cancel(ctx context.Context, userID string) (flow.CancelOutcome, error) {
	return flow.CancelledIdle, f.err
}

func (f *fakeEngine) CurrentPrompt(ctx context.Context, userID string) (*flow.Prompt, error) {
	return nil, flow.ErrNoActiveForm
}

func TestStorageFailureAsksToResend(t *testing.T) {
	st := store.NewInMemoryStore()
	b := New(&fakeEngine{err: &flow.StorageError{Op: "save state", Err: errors.New("disk full")}}, report.NewReporter(st), st)

	assert.Equal(t, textStorageFailure, say(t, b, "1500"))
	assert.Equal(t, textStorageFailure, say(t, b, "/day"))
}

func TestOtherEngineErrorsPropagate(t *testing.T) {
	st := store.NewInMemoryStore()
	b := New(&fakeEngine{err: flow.ErrUnknownForm}, report.NewReporter(st), st)

	_, err := b.Handle(context.Background(), "u1", "/day")
	assert.ErrorIs(t, err, flow.ErrUnknownForm)
}

func TestBrokenFormIsReported(t *testing.T) {
	st := store.NewInMemoryStore()
	b := New(&fakeEngine{err: fmt.Errorf("%w: no field x", flow.ErrUnknownBranch)}, report.NewReporter(st), st)
	assert.Equal(t, textFormFailed, say(t, b, "1500"))
}

type recordingOutbox struct {
	kinds, bodies []string
}

func (r *recordingOutbox) EnqueueOutboxMessage(ctx context.Context, userID, kind, body, dedupeKey string) (string, error) {
	r.kinds = append(r.kinds, kind)
	r.bodies = append(r.bodies, body)
	return "id", nil
}

func TestNotifyExpired(t *testing.T) {
	st := store.NewInMemoryStore()
	ob := &recordingOutbox{}
	b := New(&fakeEngine{}, report.NewReporter(st), st, WithOutbox(ob), WithClock(clock))

	b.NotifyExpired(context.Background(), "u1", models.FormDayLog)
	assert.Equal(t, []string{KindFormExpired}, ob.kinds)
	assert.Equal(t, []string{textFormExpired}, ob.bodies)

	// Without an outbox the notice is dropped.
	New(&fakeEngine{}, report.NewReporter(st), st).NotifyExpired(context.Background(), "u1", models.FormDayLog)
}
