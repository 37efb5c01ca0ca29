package game

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// writeJob 一個背景寫入任務
type writeJob struct {
	name string
	room string
	fn   func(ctx context.Context) error
}

// writer 持久化與事件發布的背景 worker
//
// 系統設計重點：
//
// 1. 為什麼不在事件迴圈中直接寫資料庫？
//   - 廣播必須立即送出，不能等資料庫往返
//   - 記憶體中的房間狀態先行，持久化記錄隨後追上（最終一致）
//
// 2. 為什麼只有一個 goroutine？
//   - 同一場對局的 create → fill → finish 必須依序寫入
//   - FIFO 通道天然保證順序
//
// 3. 背壓：
//   - 緩衝區滿時記錄警告並阻塞等待，寧可拖慢事件迴圈也不丟失記錄
//
// 4. 錯誤處理：
//   - 寫入失敗只記錄日誌，不重試、不影響對局結果的廣播
type writer struct {
	jobs    chan writeJob
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
	once    sync.Once
}

func newWriter(buffer int, timeout time.Duration, logger *slog.Logger) *writer {
	w := &writer{
		jobs:    make(chan writeJob, buffer),
		timeout: timeout,
		logger:  logger,
	}

	w.wg.Add(1)
	go w.run()

	return w
}

// enqueue 加入寫入任務
func (w *writer) enqueue(name, room string, fn func(ctx context.Context) error) {
	job := writeJob{name: name, room: room, fn: fn}

	select {
	case w.jobs <- job:
	default:
		w.logger.Warn("寫入佇列已滿，等待 worker",
			"job", name,
			"room", room,
			"queued", len(w.jobs))
		w.jobs <- job
	}
}

func (w *writer) run() {
	defer w.wg.Done()

	for job := range w.jobs {
		w.execute(job)
	}
}

func (w *writer) execute(job writeJob) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("寫入任務 panic",
				"job", job.name,
				"room", job.room,
				"panic", r)
		}
	}()

	if err := job.fn(ctx); err != nil {
		w.logger.Error("寫入任務失敗",
			"job", job.name,
			"room", job.room,
			"error", err)
	}
}

// shutdown 關閉佇列並等待剩餘任務完成
func (w *writer) shutdown() {
	w.once.Do(func() {
		close(w.jobs)
	})
	w.wg.Wait()
}
