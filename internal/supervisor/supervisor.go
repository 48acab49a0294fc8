// Package supervisor maintains the set of running bot workers: start,
// stop, restart, token changes, polling error handling, and periodic
// reconciliation against the Store's is_running flag.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"controlplane/internal/logbuf"
	"controlplane/internal/pipeline"
	"controlplane/internal/registry"
	"controlplane/internal/store"
)

const (
	preStartDelay   = time.Second
	postStopQuiesce = 500 * time.Millisecond
	reconcileEvery  = 60 * time.Second

	defaultStopRetryDelay = time.Second
	defaultStopRetryCount = 3
)

type worker struct {
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor implements spec.md §4.7. It owns the active set exclusively;
// nothing else may add or remove entries.
type Supervisor struct {
	store    *store.Store
	registry *registry.Registry
	pipe     *pipeline.Pipeline
	logs     *logbuf.Buffer

	stopRetryDelay time.Duration
	stopRetryCount int

	mu      sync.Mutex
	active  map[uint]*worker
	stopCh  chan struct{}
	stopped bool
}

// New builds a Supervisor. stopRetryDelay/stopRetryCount come from
// config.SeedConfig; a zero delay or count falls back to the package
// defaults, so callers (and tests) that don't care can pass zero values.
func New(st *store.Store, reg *registry.Registry, pipe *pipeline.Pipeline, logs *logbuf.Buffer, stopRetryDelay time.Duration, stopRetryCount int) *Supervisor {
	if stopRetryDelay <= 0 {
		stopRetryDelay = defaultStopRetryDelay
	}
	if stopRetryCount <= 0 {
		stopRetryCount = defaultStopRetryCount
	}
	return &Supervisor{
		store:          st,
		registry:       reg,
		pipe:           pipe,
		logs:           logs,
		stopRetryDelay: stopRetryDelay,
		stopRetryCount: stopRetryCount,
		active:         make(map[uint]*worker),
		stopCh:         make(chan struct{}),
	}
}

// IsActive implements pipeline.ActiveSet.
func (s *Supervisor) IsActive(botID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[botID]
	return ok
}

// Start opens a polling worker for botID, per spec.md §4.7.
func (s *Supervisor) Start(botID uint) error {
	s.mu.Lock()
	if _, ok := s.active[botID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	b, err := s.store.Bot(botID)
	if err != nil {
		return err
	}

	time.Sleep(preStartDelay)

	api, err := tgbotapi.NewBotAPI(b.Token)
	if err != nil {
		s.logs.Append(logbuf.LevelError, logbuf.CategoryTelegram, "не удалось создать клиент бота", err.Error())
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{bot: api, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.active[botID] = w
	s.mu.Unlock()

	if err := s.store.SetRunning(botID, true); err != nil {
		s.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "не удалось обновить флаг is_running", err.Error())
	}

	go s.refreshIdentity(botID, api)
	go s.poll(ctx, botID, w)

	s.logs.Append(logbuf.LevelSuccess, logbuf.CategoryBot, "бот запущен", b.Name)
	return nil
}

func (s *Supervisor) refreshIdentity(botID uint, api *tgbotapi.BotAPI) {
	me, err := api.GetMe()
	if err != nil {
		s.logs.Append(logbuf.LevelWarning, logbuf.CategoryTelegram, "getMe завершился ошибкой", err.Error())
		return
	}
	if err := s.store.SetTelegramIdentity(botID, me.UserName, me.FirstName, me.ID); err != nil {
		s.logs.Append(logbuf.LevelError, logbuf.CategoryDatabase, "не удалось сохранить данные getMe", err.Error())
	}
}

// RefreshInfo performs a one-shot getMe and persists it, per spec.md
// §4.7's RefreshInfo operation.
func (s *Supervisor) RefreshInfo(botID uint) (*tgbotapi.User, error) {
	b, err := s.store.Bot(botID)
	if err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPI(b.Token)
	if err != nil {
		return nil, err
	}
	me, err := api.GetMe()
	if err != nil {
		return nil, err
	}
	if err := s.store.SetTelegramIdentity(botID, me.UserName, me.FirstName, me.ID); err != nil {
		return nil, err
	}
	return &me, nil
}

// poll runs the bot's own getUpdates loop rather than tgbotapi's
// GetUpdatesChan, so that spec.md §4.7's per-error handling (409 stops
// the worker, 5xx logs and continues) can inspect each poll's error
// directly instead of relying on the library's internal retry/log.
func (s *Supervisor) poll(ctx context.Context, botID uint, w *worker) {
	defer close(w.done)

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30
		updates, err := w.bot.GetUpdates(u)
		if err != nil {
			s.HandlePollError(botID, err)
			if !s.IsActive(botID) {
				return // HandlePollError already stopped this worker (409)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			s.dispatch(ctx, botID, w.bot, update)
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, botID uint, api *tgbotapi.BotAPI, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			s.logs.Append(logbuf.LevelError, logbuf.CategoryTelegram, "паника при обработке апдейта", "")
		}
	}()

	if update.CallbackQuery != nil {
		s.pipe.HandleCallback(ctx, api, botID, update.CallbackQuery)
		return
	}
	if update.Message != nil {
		s.pipe.HandleMessage(ctx, api, botID, update.Message)
	}
}

// HandlePollError implements spec.md §4.7's polling error handling. It
// runs on the poll goroutine itself, so a 409 tears the worker's own
// bookkeeping down in place rather than calling Stop (which would
// deadlock waiting on this very goroutine's done channel).
func (s *Supervisor) HandlePollError(botID uint, err error) {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		switch {
		case tgErr.Code == 409:
			s.logs.Append(logbuf.LevelWarning, logbuf.CategoryTelegram, "конфликт long-polling: обнаружен другой процесс", tgErr.Message)
			s.retireWorker(botID)
			return
		case tgErr.Code >= 500:
			s.logs.Append(logbuf.LevelError, logbuf.CategoryTelegram, "ошибка сервера Telegram", tgErr.Message)
			return
		}
	}
	s.logs.Append(logbuf.LevelError, logbuf.CategoryTelegram, "ошибка получения обновлений", err.Error())
}

// retireWorker removes botID from the active set and marks it stopped in
// the Store, without waiting for the polling goroutine to exit (the
// caller IS that goroutine, about to return on its own).
func (s *Supervisor) retireWorker(botID uint) {
	s.mu.Lock()
	delete(s.active, botID)
	s.mu.Unlock()

	s.registry.ClearByBot(botID)
	if err := s.store.SetRunning(botID, false); err != nil {
		s.logs.Append(logbuf.LevelError, logbuf.CategoryDatabase, "не удалось сбросить is_running после конфликта", err.Error())
	}
}

// Stop implements spec.md §4.7's Stop operation. It must not throw: any
// residual error is logged and the active-set entry is force-removed.
func (s *Supervisor) Stop(botID uint) error {
	s.mu.Lock()
	w, ok := s.active[botID]
	if ok {
		delete(s.active, botID) // remove first so in-flight handlers drop messages
	}
	s.mu.Unlock()

	if !ok {
		return s.store.SetRunning(botID, false)
	}

	w.cancel()

	if _, err := w.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		s.logs.Append(logbuf.LevelInfo, logbuf.CategoryTelegram, "deleteWebhook: вебхук не был установлен", err.Error())
	}

stopWait:
	for i := 0; i < s.stopRetryCount; i++ {
		select {
		case <-w.done:
			break stopWait
		case <-time.After(s.stopRetryDelay):
		}
	}

	s.registry.ClearByBot(botID)
	time.Sleep(postStopQuiesce)

	if err := s.store.SetRunning(botID, false); err != nil {
		s.logs.Append(logbuf.LevelError, logbuf.CategoryDatabase, "не удалось сбросить is_running", err.Error())
	}
	s.logs.Append(logbuf.LevelInfo, logbuf.CategoryBot, "бот остановлен", "")
	return nil
}

// Toggle implements spec.md §4.7's Toggle operation.
func (s *Supervisor) Toggle(botID uint) (running bool, err error) {
	if s.IsActive(botID) {
		return false, s.Stop(botID)
	}
	if err := s.Start(botID); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateConfig implements spec.md §4.7's hot-reload rules. tokenChanged
// tells the supervisor whether a running worker must be restarted;
// unchanged tokens rely entirely on the Message Pipeline's per-message
// re-read.
func (s *Supervisor) UpdateConfig(botID uint, b *store.Bot, tokenChanged bool) error {
	running := s.IsActive(botID)

	if running && tokenChanged {
		if err := s.Stop(botID); err != nil {
			return err
		}
		if err := s.store.UpdateBot(b); err != nil {
			return err
		}
		// Per SPEC_FULL.md §9's "ambiguity, do not guess" note: no eager
		// getMe here. Start's own refreshIdentity call covers it.
		return s.Start(botID)
	}

	return s.store.UpdateBot(b)
}

// Delete implements spec.md §4.7's Delete operation.
func (s *Supervisor) Delete(botID uint) error {
	if s.IsActive(botID) {
		if err := s.Stop(botID); err != nil {
			return err
		}
	}
	return s.store.DeleteBot(botID)
}

// Reconcile implements spec.md §4.7's reconciler: repairs drift between
// is_running=1 rows and the actual active set.
func (s *Supervisor) Reconcile() {
	running, err := s.store.RunningBots()
	if err != nil {
		s.logs.Append(logbuf.LevelError, logbuf.CategoryDatabase, "reconciler: не удалось получить список ботов", err.Error())
		return
	}
	for _, b := range running {
		if !s.IsActive(b.ID) {
			if err := s.store.SetRunning(b.ID, false); err != nil {
				s.logs.Append(logbuf.LevelError, logbuf.CategoryDatabase, "reconciler: не удалось сбросить is_running", err.Error())
				continue
			}
			s.logs.Append(logbuf.LevelWarning, logbuf.CategoryBot, "reconciler: исправлено расхождение is_running", b.Name)
		}
	}
}

// RunReconciler blocks, running Reconcile every interval until ctx is
// canceled. Intended to run in its own goroutine from main.
func (s *Supervisor) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = reconcileEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile()
		}
	}
}

// ShutdownAll implements spec.md §4.7's graceful shutdown: stop every
// active worker in parallel, then clear the context registry entirely.
func (s *Supervisor) ShutdownAll() {
	s.mu.Lock()
	ids := make([]uint, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_ = s.Stop(id)
		}(id)
	}
	wg.Wait()

	s.registry.ClearAll()
}
