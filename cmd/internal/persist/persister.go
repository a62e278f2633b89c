package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parley/cmd/internal/chat"
)

// Source is the engine side of persistence.
type Source interface {
	Snapshot() chat.Snapshot
	Subscribe(queue int) *chat.Subscriber
	Unsubscribe(id string)
}

// Restorer receives a loaded snapshot.
type Restorer interface {
	Restore(s chat.Snapshot) error
}

// PersisterConfig controls snapshot coalescing.
type PersisterConfig struct {
	// Interval is the minimum time between two saves while changes keep coming.
	Interval time.Duration
	// Timeout bounds a single save, the final one included.
	Timeout time.Duration
	// Queue is the event queue size of the persister's subscription.
	Queue int

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Persister writes coalesced engine snapshots to a SnapshotStore.
//
// Every engine event marks the state dirty; a dirty state is saved at most once
// per Interval. Run writes a final snapshot when its context ends.
type Persister struct {
	log   *slog.Logger
	src   Source
	store SnapshotStore
	cfg   PersisterConfig

	saves *prometheus.CounterVec

	mu sync.Mutex // serializes saves
}

// NewPersister constructs a persister. Zero config fields take defaults
// (1s interval, 5s timeout, 256 queued events).
func NewPersister(src Source, store SnapshotStore, cfg PersisterConfig) (*Persister, error) {
	if src == nil {
		return nil, errors.New("persist: nil source")
	}
	if store == nil {
		return nil, errors.New("persist: nil store")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	p := &Persister{
		log:   log,
		src:   src,
		store: store,
		cfg:   cfg,
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_snapshot_saves_total",
			Help: "Snapshot saves by result.",
		}, []string{"result"}),
	}
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(p.saves); err != nil {
			return nil, fmt.Errorf("persist: register metrics: %w", err)
		}
	}
	return p, nil
}

// Run saves snapshots until ctx is done, then writes a final one.
func (p *Persister) Run(ctx context.Context) error {
	sub := p.src.Subscribe(p.cfg.Queue)
	defer p.src.Unsubscribe(sub.ID)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("snapshot.persister.start", "interval", p.cfg.Interval.String())

	dirty := false
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
			err := p.Flush(fctx)
			cancel()
			p.log.Info("snapshot.persister.stop", "final_save_ok", err == nil)
			return err

		case <-sub.Done():
			return nil

		case <-sub.Events:
			dirty = true

		case <-ticker.C:
			if !dirty {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
			err := p.Flush(sctx)
			cancel()
			if err == nil {
				dirty = false
			}
		}
	}
}

// Flush saves the current snapshot now.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.src.Snapshot()
	start := time.Now()
	if err := p.store.Save(ctx, snap); err != nil {
		p.saves.WithLabelValues("error").Inc()
		p.log.Warn("snapshot.save.fail", "err", err)
		return err
	}

	p.saves.WithLabelValues("ok").Inc()
	p.log.Debug("snapshot.save",
		"rooms", len(snap.Rooms),
		"active_room_id", snap.ActiveRoomID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Hydrate loads the stored snapshot into dst. It reports whether one was found.
func Hydrate(ctx context.Context, store SnapshotStore, dst Restorer) (bool, error) {
	snap, found, err := store.Load(ctx)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := dst.Restore(snap); err != nil {
		return false, fmt.Errorf("persist: restore snapshot: %w", err)
	}
	return true, nil
}
