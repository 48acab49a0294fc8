// Command controlplane runs the multi-tenant Telegram/LLM control plane:
// it loads configuration, opens the embedded store, restarts every bot
// whose row is marked both running and active, and serves the
// administrator HTTP/JSON API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"controlplane/internal/adminapi"
	"controlplane/internal/commands"
	"controlplane/internal/config"
	"controlplane/internal/llm"
	"controlplane/internal/logbuf"
	"controlplane/internal/pipeline"
	"controlplane/internal/registry"
	"controlplane/internal/stats"
	"controlplane/internal/store"
	"controlplane/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "путь к необязательному YAML-файлу конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("конфигурация: %w", err)
	}

	logger, err := newLogger(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("логгер: %w", err)
	}
	defer logger.Sync()

	logs := logbuf.New(logger)
	statsBuf := stats.New()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("хранилище: %w", err)
	}
	defer st.Close()

	if err := st.Seed(cfg.Seed.AdminEmail, cfg.Seed.AdminPassword); err != nil {
		return fmt.Errorf("инициализация данных: %w", err)
	}

	reg := registry.New()

	observer := func(ctx context.Context, botID uint, chatID int64, family llm.Family, model string, duration time.Duration, success bool) {
		statsBuf.APICall()
		if err := st.LogAIRequest(&store.AIRequestLog{
			BotID:      botID,
			ChatID:     chatID,
			Provider:   familyName(family),
			Model:      model,
			DurationMS: duration.Milliseconds(),
			Success:    success,
		}); err != nil {
			logs.Append(logbuf.LevelError, logbuf.CategoryDatabase, "не удалось сохранить запись об AI-запросе", err.Error())
		}
	}
	adapter := llm.New(observer)

	var cache commands.DecisionCache
	if cfg.Redis.Enabled {
		redisCache, err := commands.NewRedisDecisionCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logs.Append(logbuf.LevelWarning, logbuf.CategoryServer, "не удалось подключиться к Redis, кэш решений отключён", err.Error())
		} else {
			cache = redisCache
			defer redisCache.Close()
		}
	}

	engine := commands.New(st, reg, adapter, logs, cache)

	sup := &supervisorHolder{}
	pipe := pipeline.New(st, reg, engine, adapter, logs, statsBuf, sup)
	supv := supervisor.New(st, reg, pipe, logs, cfg.Seed.StopRetryDelay, cfg.Seed.StopRetryCount)
	sup.set(supv)

	running, err := st.RunningBots()
	if err != nil {
		return fmt.Errorf("чтение списка ботов: %w", err)
	}
	for _, b := range running {
		if !b.IsActive {
			continue
		}
		if err := supv.Start(b.ID); err != nil {
			logs.Append(logbuf.LevelError, logbuf.CategoryBot, "не удалось запустить бота при старте", fmt.Sprintf("bot=%d %v", b.ID, err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go supv.RunReconciler(ctx, cfg.Seed.ReconcileEvery)

	api := adminapi.New(st, supv, reg, logs, statsBuf, adapter, cfg.Seed.SessionTTL, cfg.Server.Mode)
	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logs.Append(logbuf.LevelSuccess, logbuf.CategoryServer, "сервер запущен", cfg.Server.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http-сервер: %w", err)
		}
	case sig := <-sigCh:
		logs.Append(logbuf.LevelInfo, logbuf.CategoryServer, "получен сигнал остановки", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Append(logbuf.LevelWarning, logbuf.CategoryServer, "принудительное завершение http-сервера", err.Error())
	}

	supv.ShutdownAll()
	logs.Append(logbuf.LevelSuccess, logbuf.CategoryServer, "сервер остановлен", "")
	return nil
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func familyName(f llm.Family) string {
	switch f {
	case llm.FamilyOpenAI:
		return "openai"
	case llm.FamilyAnthropic:
		return "anthropic"
	case llm.FamilyAnthropicLike:
		return "anthropic-like"
	case llm.FamilyGemini:
		return "gemini"
	default:
		return "generic-openai-compatible"
	}
}

// supervisorHolder breaks the import cycle between pipeline (which only
// needs ActiveSet) and supervisor (which needs a *pipeline.Pipeline):
// pipeline.New is called before the *supervisor.Supervisor it will
// delegate IsActive to exists, so the holder is filled in one line later.
type supervisorHolder struct {
	sup *supervisor.Supervisor
}

func (h *supervisorHolder) set(s *supervisor.Supervisor) { h.sup = s }

func (h *supervisorHolder) IsActive(botID uint) bool {
	if h.sup == nil {
		return false
	}
	return h.sup.IsActive(botID)
}
