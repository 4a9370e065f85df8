// Package app wires configuration, logging, transport, dispatch and the
// router into one runnable bot process.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quizcast/internal/config"
	"quizcast/internal/dispatch"
	"quizcast/internal/eventbus"
	"quizcast/internal/ledger"
	"quizcast/internal/router"
	"quizcast/internal/schedule"
	"quizcast/internal/storage"
	kit "quizcast/internal/transport"
	"quizcast/internal/transport/telegram"
	"quizcast/pkg/logx"
)

// App owns every long-lived component. Construct with New, then Start,
// then Stop once the process context is cancelled.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter *telegram.Adapter
	bus     eventbus.Bus
	store   storage.Store
	led     *ledger.Ledger
	gate    *dispatch.Gate
	engine  *dispatch.Engine
	sched   *schedule.Service
	router  *router.Router

	updates chan kit.Update
	prev    *config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads the config file and builds the full component graph. Nothing
// runs yet; Start spins up the goroutines.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault(
		"telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// Bring logging up with the telegram sink disabled, point it at the
	// log chat, then apply the real config. Applying in this order avoids
	// a spurious "log_chat_id is not set" warning during bootstrap.
	lcfg := logxConfig(cfg)
	boot := lcfg
	boot.Telegram.Enabled = false
	logs, log := logx.New(boot, adapter)
	logs.SetTelegramTarget(cfg.Telegram.LogChatID)
	logs.Apply(lcfg)

	cfgm.SetLogger(log.With(logx.String("component", "config")))

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("component", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	bus := eventbus.New()
	led := ledger.New(store, log.With(logx.String("component", "ledger")))
	gate := dispatch.NewGate(cfg.ThrottleInterval())
	engine := dispatch.New(dispatchConfig(cfg), adapter, gate, led, bus,
		log.With(logx.String("component", "dispatch")))

	var sched *schedule.Service
	if cfg.Schedule.Enabled {
		sched, err = schedule.New(engine, cfg.Schedule.Timezone,
			log.With(logx.String("component", "schedule")))
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			_ = logs.Close()
			return nil, fmt.Errorf("schedule: %w", err)
		}
	}

	rt := router.New(log.With(logx.String("component", "router")),
		adapter, cfgm, engine, led, store, sched, bus)

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		adapter: adapter,
		bus:     bus,
		store:   store,
		led:     led,
		gate:    gate,
		engine:  engine,
		sched:   sched,
		router:  rt,
		prev:    cfg,
	}, nil
}

// Start begins polling, dispatching and watching the config file. It
// returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.updates = make(chan kit.Update, 256)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	a.engine.Start(runCtx)
	if a.sched != nil {
		a.sched.Start()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.router.Run(runCtx, a.updates)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx, sub)
	}()

	a.log.Info("bot started",
		logx.Int("owners", len(a.prev.Telegram.OwnerUserIDs)),
		logx.Bool("storage", a.store != nil),
		logx.Bool("schedule", a.sched != nil))
	return nil
}

// Stop tears everything down in dependency order and waits for the
// goroutines started by Start.
func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.cancel != nil {
		a.cancel()
	}
	_ = a.adapter.Stop(ctx)
	a.engine.Stop(ctx)
	if a.sched != nil {
		a.sched.Stop()
	}
	a.wg.Wait()

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("bot stopped")
	_ = a.logs.Close()
}

// reloadLoop applies committed config changes to the running services.
// Bursts of edits are coalesced down to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case next, ok := <-sub:
					if !ok {
						break drain
					}
					cfg = next
				default:
					break drain
				}
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	sections, attrs := config.SummarizeChange(a.prev, cfg)
	if len(sections) == 0 {
		a.prev = cfg
		return
	}
	a.log.Info("applying config change",
		append(attrs, logx.Any("sections", sections))...)

	a.logs.SetTelegramTarget(cfg.Telegram.LogChatID)
	a.logs.Apply(logxConfig(cfg))
	a.engine.Apply(dispatchConfig(cfg))

	if a.prev.Telegram.Token != cfg.Telegram.Token {
		a.log.Warn("telegram.token changed; restart required to take effect")
	}
	if storageChanged(a.prev, cfg) {
		a.log.Warn("storage settings changed; restart required to take effect")
	}
	if a.prev.Schedule != cfg.Schedule {
		a.log.Warn("schedule settings changed; restart required to take effect")
	}
	a.prev = cfg
}

func storageChanged(oldCfg, newCfg *config.Config) bool {
	switch {
	case oldCfg.Storage == nil && newCfg.Storage == nil:
		return false
	case oldCfg.Storage == nil || newCfg.Storage == nil:
		return true
	default:
		return *oldCfg.Storage != *newCfg.Storage
	}
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// dispatchConfig maps the file config onto the engine config. A zero
// retry_max means "not set" and falls back to three retries.
func dispatchConfig(cfg *config.Config) dispatch.Config {
	retry := cfg.Dispatch.RetryMax
	if retry == 0 {
		retry = 3
	}
	return dispatch.Config{
		Throttle:  cfg.ThrottleInterval(),
		RetryMax:  retry,
		QueueSize: cfg.Dispatch.QueueSize,
	}
}
