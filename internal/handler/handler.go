// Package handler 提供唯讀的 HTTP API：健康檢查、統計、排行榜、等待中的房間。
//
// 遊戲操作只走 WebSocket，HTTP 只用於監控與大廳頁面。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/itzluthfi/tower-defense/internal/game"
	"github.com/itzluthfi/tower-defense/internal/protocol"
)

// Engine HTTP API 需要的引擎查詢
type Engine interface {
	Stats(ctx context.Context) (game.Stats, error)
	Leaderboard(ctx context.Context) ([]protocol.LeaderboardEntry, error)
	OpenMatches(ctx context.Context) ([]protocol.OpenMatch, error)
	Snapshot(ctx context.Context, code string) (*protocol.RoomSnapshot, error)
}

// Checker 依賴服務的健康檢查（例如資料庫 Ping）
type Checker func(ctx context.Context) error

// Handler HTTP 請求處理器
type Handler struct {
	engine   Engine
	checkers map[string]Checker
	logger   *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(engine Engine, logger *slog.Logger) *Handler {
	return &Handler{
		engine:   engine,
		checkers: make(map[string]Checker),
		logger:   logger,
	}
}

// AddChecker 加入 /health 要檢查的依賴
func (h *Handler) AddChecker(name string, check Checker) {
	h.checkers[name] = check
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/stats", wrap(h.stats))
	mux.HandleFunc("GET /api/v1/leaderboard", wrap(h.leaderboard))
	mux.HandleFunc("GET /api/v1/matches/open", wrap(h.openMatches))
	mux.HandleFunc("GET /api/v1/rooms/{code}", wrap(h.roomDetail))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))

	return mux
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checkers))
	for name, check := range h.checkers {
		if err := check(ctx); err != nil {
			h.logger.Warn("健康檢查失敗", "dependency", name, "error", err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	h.jsonResponse(w, map[string]any{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	}, status)
}

// stats 連線與房間統計
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// leaderboard 排行榜
func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.engine.Leaderboard(r.Context())
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonResponse(w, protocol.Leaderboard{Leaderboard: board}, http.StatusOK)
}

// openMatches 等待對手的房間
func (h *Handler) openMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.engine.OpenMatches(r.Context())
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonResponse(w, protocol.AvailableMatches{Matches: matches}, http.StatusOK)
}

// roomDetail 房間快照
func (h *Handler) roomDetail(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.PathValue("code")))

	snap, err := h.engine.Snapshot(r.Context(), code)
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonResponse(w, snap, http.StatusOK)
}

// engineError 將引擎錯誤對應到 HTTP 狀態碼
func (h *Handler) engineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrRoomNotFound):
		h.errorResponse(w, "room not found", http.StatusNotFound)
	case errors.Is(err, game.ErrEngineStopped):
		h.errorResponse(w, "server shutting down", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.errorResponse(w, "request timeout", http.StatusServiceUnavailable)
	default:
		h.logger.Error("查詢失敗", "error", err)
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
	}
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
