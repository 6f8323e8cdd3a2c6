// Package app wires the daemon together: config, logging, storage, the
// reminder scheduler, the notification port and the HTTP API.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/config"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/eventbus"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/notifier"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/remind"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/storage"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/web"
	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log      logx.Logger
	logClose func() error

	bus   eventbus.Bus
	store storage.Store
	notif *notifier.Service
	res   *swapResolver
	svc   *remind.Service
	web   *web.Server

	httpEnabled bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, logClose, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validate)

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		_ = logClose()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logClose()
		return nil, err
	}

	notifTimeout, err := config.ParseDurationField("discord.timeout", cfg.Discord.Timeout)
	if err != nil {
		_ = store.Close()
		_ = logClose()
		return nil, err
	}
	notif := notifier.New(notifier.Config{
		WebhookURL: cfg.Discord.WebhookURL,
		Username:   cfg.Discord.Username,
		RatePerSec: cfg.Discord.RatePerSec,
		Timeout:    notifTimeout,
	}, log.With(logx.String("comp", "notifier")))
	if !notif.Enabled() {
		log.Warn("discord webhook_url is empty; notifications are disabled")
	}

	res := &swapResolver{res: remind.MapResolver(cfg.Mentions)}

	remCfg, err := reminderConfig(cfg.Reminder)
	if err != nil {
		_ = store.Close()
		_ = logClose()
		return nil, err
	}
	svc := remind.New(remCfg, store, notif, res, remind.SystemClock(), bus,
		log.With(logx.String("comp", "remind")))

	a := &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		log:         log.With(logx.String("comp", "app")),
		logClose:    logClose,
		bus:         bus,
		store:       store,
		notif:       notif,
		res:         res,
		svc:         svc,
		httpEnabled: cfg.HTTP.Enabled,
	}
	if cfg.HTTP.Enabled {
		a.web = web.New(web.Config{Addr: cfg.HTTP.Addr}, store, svc, notif, res, bus,
			log.With(logx.String("comp", "web")))
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.svc.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if a.web != nil {
		if err := a.web.Start(runCtx); err != nil {
			a.svc.Stop(context.Background())
			cancel()
			return err
		}
	}

	// Item mutations from the HTTP layer drive the reminder reconcile.
	ch, unsub := a.bus.Subscribe(16)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type != eventbus.TypeItemChanged {
					continue
				}
				if _, err := a.svc.OnItemChanged(runCtx); err != nil {
					a.log.Warn("reconcile after item change failed", logx.Err(err))
				}
			}
		}
	}()

	// Config hot reload. Only the mention map applies live; everything else
	// (storage path, schedule, listen address) needs a restart.
	cfgCh := a.cfgm.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-cfgCh:
				if !ok {
					return
				}
				a.res.set(remind.MapResolver(cfg.Mentions))
				a.log.Info("applied reloaded config", logx.Int("mentions", len(cfg.Mentions)))
			}
		}
	}()

	a.log.Info("application started", logx.Bool("http", a.httpEnabled))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.web != nil {
		a.web.Stop(ctx)
	}
	a.svc.Stop(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	err := a.store.Close()
	a.log.Info("application stopped")
	if a.logClose != nil {
		_ = a.logClose()
	}
	return err
}

// reminderConfig maps duration strings onto the scheduler config. Zero values
// fall through to the scheduler's own defaults; prune retention defaults to
// 90 days here because zero means "disabled" downstream.
func reminderConfig(rc config.ReminderConfig) (remind.Config, error) {
	lead, err := config.ParseDurationField("reminder.lead", rc.Lead)
	if err != nil {
		return remind.Config{}, err
	}
	lookahead, err := config.ParseDurationField("reminder.lookahead", rc.Lookahead)
	if err != nil {
		return remind.Config{}, err
	}
	refresh, err := config.ParseDurationField("reminder.refresh_every", rc.RefreshEvery)
	if err != nil {
		return remind.Config{}, err
	}
	prune := 90 * 24 * time.Hour
	if strings.TrimSpace(rc.PruneAfter) != "" {
		prune, err = config.ParseDurationField("reminder.prune_after", rc.PruneAfter)
		if err != nil {
			return remind.Config{}, err
		}
	}
	return remind.Config{
		Lead:         lead,
		Lookahead:    lookahead,
		DigestAt:     rc.DigestAt,
		RefreshEvery: refresh,
		PruneAfter:   prune,
		Workers:      rc.Workers,
		QueueSize:    rc.QueueSize,
	}, nil
}

// validate gates config hot reloads: a file that fails here keeps the
// previous config live.
func validate(cfg *config.Config) error {
	if _, err := reminderConfig(cfg.Reminder); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("discord.timeout", cfg.Discord.Timeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

// swapResolver lets the mention map be replaced on config reload without
// rebuilding the services that hold it.
type swapResolver struct {
	mu  sync.RWMutex
	res remind.Resolver
}

func (r *swapResolver) Resolve(name string) string {
	r.mu.RLock()
	res := r.res
	r.mu.RUnlock()
	if res == nil {
		return ""
	}
	return res.Resolve(name)
}

func (r *swapResolver) set(res remind.Resolver) {
	r.mu.Lock()
	r.res = res
	r.mu.Unlock()
}
