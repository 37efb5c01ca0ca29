package game

import "time"

// TimerKind 計時器類型
type TimerKind string

const (
	TimerGrace  TimerKind = "grace"  // 斷線寬限期
	TimerGame   TimerKind = "game"   // 對局時限
	TimerLinger TimerKind = "linger" // 結束後延遲刪除
)

type timerKey struct {
	kind TimerKind
	code string
}

type timerEntry struct {
	timer *time.Timer
	id    uint64
}

// Timers 以 (類型, 房間代碼) 為鍵的單次計時器
//
// 每個鍵最多一個計時器，Arm 會取消同鍵的舊計時器。
// 到期時回呼透過 post 送回事件迴圈執行；若在排隊期間被取消或重新設定，
// 舊的回呼會因 id 不符而被忽略。
//
// 所有方法都只能在事件迴圈中呼叫。
type Timers struct {
	entries map[timerKey]*timerEntry
	nextID  uint64
	post    func(func())
}

// NewTimers 創建計時器表，post 負責把函數送回事件迴圈
func NewTimers(post func(func())) *Timers {
	return &Timers{
		entries: make(map[timerKey]*timerEntry),
		post:    post,
	}
}

// Arm 設定計時器，d 之後在事件迴圈中執行 fn
func (t *Timers) Arm(kind TimerKind, code string, d time.Duration, fn func()) {
	key := timerKey{kind: kind, code: code}
	t.Cancel(kind, code)

	t.nextID++
	id := t.nextID
	entry := &timerEntry{id: id}
	entry.timer = time.AfterFunc(d, func() {
		t.post(func() {
			current, ok := t.entries[key]
			if !ok || current.id != id {
				return
			}
			delete(t.entries, key)
			fn()
		})
	})
	t.entries[key] = entry
}

// Cancel 取消計時器，返回是否有計時器被取消
func (t *Timers) Cancel(kind TimerKind, code string) bool {
	key := timerKey{kind: kind, code: code}
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

// CancelRoom 取消房間的所有計時器
func (t *Timers) CancelRoom(code string) {
	for _, kind := range []TimerKind{TimerGrace, TimerGame, TimerLinger} {
		t.Cancel(kind, code)
	}
}

// Stop 取消所有計時器
func (t *Timers) Stop() {
	for key, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, key)
	}
}

// Len 計時器數量
func (t *Timers) Len() int {
	return len(t.entries)
}
