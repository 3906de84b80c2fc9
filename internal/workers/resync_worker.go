package workers

import (
	"context"
	"log/slog"
	"time"
)

// Notifier - хранилище, умеющее перечитать подписки раздела.
type Notifier interface {
	Notify(partition string)
}

// ResyncWorker периодически перечитывает подписки всех разделов. Страховка
// для нескольких инстансов без брокера или при потерянном уведомлении.
type ResyncWorker struct {
	notifier   Notifier
	partitions []string
	interval   time.Duration
	log        *slog.Logger
}

func NewResyncWorker(notifier Notifier, partitions []string, interval time.Duration, log *slog.Logger) *ResyncWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ResyncWorker{
		notifier:   notifier,
		partitions: partitions,
		interval:   interval,
		log:        log.With("worker", "resync"),
	}
}

// Start запускает цикл до отмены ctx. done закрывается по выходу.
func (w *ResyncWorker) Start(ctx context.Context) (done <-chan struct{}) {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		w.loop(ctx)
	}()
	return ch
}

func (w *ResyncWorker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("resync worker started", "interval", w.interval, "partitions", len(w.partitions))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("resync worker stopped")
			return
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Tick уведомляет все разделы один раз.
func (w *ResyncWorker) Tick() {
	for _, p := range w.partitions {
		w.notifier.Notify(p)
	}
	w.log.Debug("subscriptions resynced")
}
