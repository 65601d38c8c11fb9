package sync

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"field-sync-service/internal/config"
	"field-sync-service/internal/logger"
	"field-sync-service/internal/netwatch"
)

// ReconnectSource feeds connectivity transitions. The network watcher
// satisfies this.
type ReconnectSource interface {
	Subscribe() (<-chan netwatch.Event, func())
}

// Orchestrator fans five trigger sources into gated sync passes:
// a delayed attempt at startup, the periodic cron schedule, debounced
// network-reconnect events, foreground lifecycle signals, and manual
// requests. Losing the gate means skipping; nothing queues.
type Orchestrator struct {
	cfg     config.SyncConfig
	engine  *Engine
	gate    *Gate
	watcher ReconnectSource

	cron    *cron.Cron
	entryID cron.EntryID

	mu            sync.Mutex
	startupTimer  *time.Timer
	debounceTimer *time.Timer

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

func NewOrchestrator(cfg config.SyncConfig, engine *Engine, gate *Gate, watcher ReconnectSource) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		engine:  engine,
		gate:    gate,
		watcher: watcher,
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (o *Orchestrator) Start() {
	if !o.cfg.Enabled {
		logger.Log.Info("Sync orchestration is disabled")
		return
	}

	logger.Log.Info("Starting sync orchestrator",
		zap.String("interval", o.cfg.Interval),
		zap.Duration("startup_delay", o.cfg.GetStartupDelay()),
		zap.Duration("reconnect_debounce", o.cfg.GetReconnectDebounce()))

	id, err := o.cron.AddFunc(o.cfg.Interval, func() {
		o.attempt(TriggerPeriodic)
	})
	if err != nil {
		logger.Log.Error("Failed to schedule periodic sync", zap.Error(err))
	} else {
		o.entryID = id
		o.cron.Start()
	}

	o.mu.Lock()
	o.startupTimer = time.AfterFunc(o.cfg.GetStartupDelay(), func() {
		o.attempt(TriggerStartup)
	})
	o.mu.Unlock()

	if o.watcher != nil {
		events, unsubscribe := o.watcher.Subscribe()
		o.unsubscribe = unsubscribe
		o.wg.Add(1)
		go o.watchReconnect(events)
	}
}

// Stop halts the schedule and every pending timer. No trigger may fire
// against a torn-down context.
func (o *Orchestrator) Stop() {
	o.cancel()

	o.mu.Lock()
	if o.startupTimer != nil {
		o.startupTimer.Stop()
		o.startupTimer = nil
	}
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
	o.mu.Unlock()

	if o.cron != nil {
		o.cron.Stop()
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.wg.Wait()

	logger.Log.Info("Stopped sync orchestrator")
}

// Foreground handles the app-foreground lifecycle signal from the UI
// shell. The attempt runs off the caller's thread; the shell does not
// wait on sync.
func (o *Orchestrator) Foreground() {
	go o.attempt(TriggerForeground)
}

// Attempt runs one gated pass for the named trigger, reporting whether
// it ran. Manual triggers call this directly to get the result back.
func (o *Orchestrator) Attempt(ctx context.Context, trigger Trigger) (SyncResult, bool) {
	ok, reason := o.gate.CanSync(ctx)
	if !ok {
		logger.Log.Debug("Sync declined",
			zap.String("trigger", string(trigger)), zap.String("reason", reason))
		return SyncResult{ErrorMessage: reason}, false
	}

	logger.Log.Info("Sync triggered", zap.String("trigger", string(trigger)))
	return o.engine.SyncAllProjects(ctx), true
}

func (o *Orchestrator) attempt(trigger Trigger) {
	select {
	case <-o.ctx.Done():
		return
	default:
	}

	result, ran := o.Attempt(o.ctx, trigger)
	if ran && !result.Success {
		logger.Log.Warn("Sync pass failed",
			zap.String("trigger", string(trigger)),
			zap.String("error", result.ErrorMessage))
	}
}

func (o *Orchestrator) watchReconnect(events <-chan netwatch.Event) {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.onConnectivity(ev)
		}
	}
}

// onConnectivity debounces the reconnect trigger: connectivity often
// returns a beat before the session layer has re-validated, so the
// attempt waits out the debounce window. Going offline cancels any
// pending attempt.
func (o *Orchestrator) onConnectivity(ev netwatch.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
	if !ev.Online {
		return
	}

	o.debounceTimer = time.AfterFunc(o.cfg.GetReconnectDebounce(), func() {
		o.attempt(TriggerReconnect)
	})
}
