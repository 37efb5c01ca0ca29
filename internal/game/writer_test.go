package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestWriter_Order 任務依加入順序執行，失敗與 panic 不中斷後續任務
func TestWriter_Order(t *testing.T) {
	w := newWriter(2, time.Second, discardLogger())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	w.enqueue("create", "ABC123", record("create"))
	w.enqueue("broken", "ABC123", func(ctx context.Context) error {
		return errors.New("db down")
	})
	w.enqueue("panics", "ABC123", func(ctx context.Context) error {
		panic("boom")
	})
	// 緩衝區只有 2，以下會在佇列滿時阻塞等待
	for _, name := range []string{"fill", "finish", "publish"} {
		w.enqueue(name, "ABC123", record(name))
	}

	w.shutdown()
	w.shutdown()

	assert.Equal(t, []string{"create", "fill", "finish", "publish"}, order)
}

// TestWriter_Timeout 每個任務都有自己的逾時
func TestWriter_Timeout(t *testing.T) {
	w := newWriter(1, 20*time.Millisecond, discardLogger())

	var ctxErr error
	w.enqueue("slow", "ABC123", func(ctx context.Context) error {
		<-ctx.Done()
		ctxErr = ctx.Err()
		return ctxErr
	})
	w.shutdown()

	assert.ErrorIs(t, ctxErr, context.DeadlineExceeded)
}
