package supervisor

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"controlplane/internal/logbuf"
	"controlplane/internal/registry"
	"controlplane/internal/store"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, registry.New(), nil, logbuf.New(nil), 0, 0), st
}

func TestReconcileFixesDrift(t *testing.T) {
	sup, st := newTestSupervisor(t)

	b := &store.Bot{Name: "drifted", Token: "t"}
	if err := st.CreateBot(b); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	if err := st.SetRunning(b.ID, true); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}

	// The bot is marked running in the store but was never actually
	// started, so the active set has no entry for it.
	sup.Reconcile()

	got, err := st.Bot(b.ID)
	if err != nil {
		t.Fatalf("Bot: %v", err)
	}
	if got.IsRunning {
		t.Error("expected Reconcile to clear the drifted is_running flag")
	}
}

func TestReconcileLeavesActiveBotsAlone(t *testing.T) {
	sup, st := newTestSupervisor(t)

	b := &store.Bot{Name: "active", Token: "t"}
	if err := st.CreateBot(b); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	if err := st.SetRunning(b.ID, true); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}

	sup.mu.Lock()
	sup.active[b.ID] = &worker{done: make(chan struct{})}
	sup.mu.Unlock()

	sup.Reconcile()

	got, err := st.Bot(b.ID)
	if err != nil {
		t.Fatalf("Bot: %v", err)
	}
	if !got.IsRunning {
		t.Error("Reconcile should not touch a bot that is genuinely active")
	}
}

// TestHandlePollError409RetiresWorkerNoRestart covers spec.md's "Telegram
// 409 on start" scenario: a WARNING log, worker removed, is_running reset
// to 0, and no auto-restart attempt by HandlePollError itself.
func TestHandlePollError409RetiresWorkerNoRestart(t *testing.T) {
	sup, st := newTestSupervisor(t)

	b := &store.Bot{Name: "conflicted", Token: "t"}
	if err := st.CreateBot(b); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	if err := st.SetRunning(b.ID, true); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}
	sup.registry.Set(b.ID, 1, 42)

	sup.mu.Lock()
	sup.active[b.ID] = &worker{done: make(chan struct{})}
	sup.mu.Unlock()

	ft := newFakeTelegram(t)
	ft.getUpdatesErr = 409
	ft.getUpdatesErrMsg = "Conflict: terminated by other long poll or webhook"
	_, pollErr := ft.bot(t).GetUpdates(tgbotapi.NewUpdate(0))
	if pollErr == nil {
		t.Fatal("expected the fake server's 409 to surface as an error")
	}

	sup.HandlePollError(b.ID, pollErr)

	if sup.IsActive(b.ID) {
		t.Error("expected the worker to be retired after a 409")
	}
	got, err := st.Bot(b.ID)
	if err != nil {
		t.Fatalf("Bot: %v", err)
	}
	if got.IsRunning {
		t.Error("expected is_running reset to false after a 409")
	}
	if _, ok := sup.registry.Get(b.ID, 1); ok {
		t.Error("expected the bot's registry entries cleared after a 409")
	}

	entries := sup.logs.Read(10, nil, nil)
	found := false
	for _, e := range entries {
		if e.Level == logbuf.LevelWarning && e.Category == logbuf.CategoryTelegram {
			found = true
		}
	}
	if !found {
		t.Error("expected a WARNING/TELEGRAM log entry for the conflict")
	}
}

func TestHandlePollError5xxLeavesWorkerActive(t *testing.T) {
	sup, st := newTestSupervisor(t)

	b := &store.Bot{Name: "flaky", Token: "t"}
	if err := st.CreateBot(b); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	sup.mu.Lock()
	sup.active[b.ID] = &worker{done: make(chan struct{})}
	sup.mu.Unlock()

	ft := newFakeTelegram(t)
	ft.getUpdatesErr = 500
	ft.getUpdatesErrMsg = "Internal Server Error"
	_, pollErr := ft.bot(t).GetUpdates(tgbotapi.NewUpdate(0))
	if pollErr == nil {
		t.Fatal("expected the fake server's 500 to surface as an error")
	}

	sup.HandlePollError(b.ID, pollErr)

	if !sup.IsActive(b.ID) {
		t.Error("a 5xx polling error must not retire the worker")
	}
}

func TestStopClosesWorkerAndClearsState(t *testing.T) {
	sup, st := newTestSupervisor(t)

	b := &store.Bot{Name: "b", Token: "t"}
	if err := st.CreateBot(b); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	if err := st.SetRunning(b.ID, true); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}

	ft := newFakeTelegram(t)
	done := make(chan struct{})
	close(done) // simulate the poll goroutine having already exited
	sup.mu.Lock()
	sup.active[b.ID] = &worker{bot: ft.bot(t), cancel: func() {}, done: done}
	sup.mu.Unlock()

	if err := sup.Stop(b.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.IsActive(b.ID) {
		t.Error("expected Stop to remove the worker from the active set")
	}
	got, err := st.Bot(b.ID)
	if err != nil {
		t.Fatalf("Bot: %v", err)
	}
	if got.IsRunning {
		t.Error("expected is_running reset to false after Stop")
	}
}

func TestIsActive(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if sup.IsActive(1) {
		t.Fatal("expected no bot to be active initially")
	}
	sup.mu.Lock()
	sup.active[1] = &worker{done: make(chan struct{})}
	sup.mu.Unlock()
	if !sup.IsActive(1) {
		t.Fatal("expected bot 1 to report active")
	}
}
