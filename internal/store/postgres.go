package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres PostgreSQL 實作，同時滿足 AccountStore 與 MatchStore
//
// match ID 以字串傳入並在 SQL 中轉型（$1::uuid）。
type Postgres struct {
	pool   *pgxpool.Pool
	hasher Hasher
	logger *slog.Logger
}

var (
	_ AccountStore = (*Postgres)(nil)
	_ MatchStore   = (*Postgres)(nil)
)

// OpenPool 建立並驗證連接池
func OpenPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("解析資料庫 URL 失敗: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	if minConns > 0 {
		config.MinConns = minConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("建立連接池失敗: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("連接資料庫失敗: %w", err)
	}

	return pool, nil
}

// NewPostgres 創建 PostgreSQL store
func NewPostgres(pool *pgxpool.Pool, hasher Hasher, logger *slog.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		hasher: hasher,
		logger: logger,
	}
}

// Ping 健康檢查
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// FindByUsername 依名稱查詢（不分大小寫）
func (p *Postgres) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE LOWER(username) = LOWER($1)`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &u, nil
}

// FindByID 依 ID 查詢
func (p *Postgres) FindByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &u, nil
}

// CreateUser 建立帳號
func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	u := User{Username: username, PasswordHash: passwordHash}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, created_at`,
		username, passwordHash,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// VerifyCredentials 驗證帳密
func (p *Postgres) VerifyCredentials(ctx context.Context, username, password string) (*User, error) {
	return verifyCredentials(ctx, p, p.hasher, username, password)
}

// GetStats 查詢戰績
func (p *Postgres) GetStats(ctx context.Context, id int64) (*Stats, error) {
	var s Stats
	err := p.pool.QueryRow(ctx,
		`SELECT username, wins, losses, matches_played, trophies FROM users WHERE id = $1`,
		id,
	).Scan(&s.Username, &s.Wins, &s.Losses, &s.MatchesPlayed, &s.Trophies)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &s, nil
}

// GetLeaderboard 依獎盃數排序
func (p *Postgres) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT username, trophies FROM users ORDER BY trophies DESC, id ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LeaderboardEntry, error) {
		var e LeaderboardEntry
		err := row.Scan(&e.Username, &e.Trophies)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan leaderboard: %w", err)
	}
	return entries, nil
}

// RecordMatchOutcome 在同一個交易中更新雙方戰績
func (p *Postgres) RecordMatchOutcome(ctx context.Context, attackerID, defenderID int64, attackerWon bool) error {
	const update = `
		UPDATE users
		SET matches_played = matches_played + 1,
		    wins = wins + $2,
		    losses = losses + $3,
		    trophies = trophies + $4
		WHERE id = $1`

	outcome := func(won bool) (wins, losses, trophies int) {
		if won {
			return 1, 0, TrophiesPerWin
		}
		return 0, 1, 0
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		w, l, t := outcome(attackerWon)
		tag, err := tx.Exec(ctx, update, attackerID, w, l, t)
		if err != nil {
			return fmt.Errorf("update attacker stats: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("attacker %d: %w", attackerID, ErrNotFound)
		}

		w, l, t = outcome(!attackerWon)
		tag, err = tx.Exec(ctx, update, defenderID, w, l, t)
		if err != nil {
			return fmt.Errorf("update defender stats: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("defender %d: %w", defenderID, ErrNotFound)
		}
		return nil
	})
}

// CreateWaiting 建立等待中的對局
func (p *Postgres) CreateWaiting(ctx context.Context, matchID uuid.UUID, roomCode, role string, identityID int64) error {
	query := `INSERT INTO matches (id, room_code, attacker_id, status) VALUES ($1::uuid, $2, $3, 'waiting')`
	if role == RoleDefender {
		query = `INSERT INTO matches (id, room_code, defender_id, status) VALUES ($1::uuid, $2, $3, 'waiting')`
	}

	if _, err := p.pool.Exec(ctx, query, matchID.String(), roomCode, identityID); err != nil {
		return fmt.Errorf("create waiting match: %w", err)
	}
	return nil
}

// FillSecondRole 填入第二位玩家並轉為 playing
func (p *Postgres) FillSecondRole(ctx context.Context, matchID uuid.UUID, role string, identityID int64) error {
	query := `UPDATE matches SET attacker_id = $2, status = 'playing', updated_at = NOW()
		WHERE id = $1::uuid AND status = 'waiting'`
	if role == RoleDefender {
		query = `UPDATE matches SET defender_id = $2, status = 'playing', updated_at = NOW()
			WHERE id = $1::uuid AND status = 'waiting'`
	}

	tag, err := p.pool.Exec(ctx, query, matchID.String(), identityID)
	if err != nil {
		return fmt.Errorf("fill second role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActiveForIdentity 查詢最新的進行中對局
func (p *Postgres) FindActiveForIdentity(ctx context.Context, identityID int64) (*ActiveMatch, error) {
	var (
		id         string
		active     ActiveMatch
		attackerID *int64
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, room_code, attacker_id, status
		FROM matches
		WHERE (attacker_id = $1 OR defender_id = $1)
		  AND status IN ('waiting', 'playing')
		ORDER BY created_at DESC
		LIMIT 1`,
		identityID,
	).Scan(&id, &active.RoomCode, &attackerID, &active.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active match: %w", err)
	}

	active.MatchID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse match id: %w", err)
	}
	active.Role = RoleDefender
	if attackerID != nil && *attackerID == identityID {
		active.Role = RoleAttacker
	}
	return &active, nil
}

// Finish 寫入對局結果
func (p *Postgres) Finish(ctx context.Context, matchID uuid.UUID, result MatchResult) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE matches
		SET winner_id = $2, loser_id = $3, reason = $4, base_hp_final = $5,
		    duration_sec = $6, status = 'finished', updated_at = NOW()
		WHERE id = $1::uuid AND status <> 'finished'`,
		matchID.String(), nullID(result.WinnerID), nullID(result.LoserID),
		result.Reason, result.FinalBaseHP, result.DurationSec,
	)
	if err != nil {
		return fmt.Errorf("finish match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWaiting 刪除仍在等待中的對局
func (p *Postgres) DeleteWaiting(ctx context.Context, matchID uuid.UUID) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM matches WHERE id = $1::uuid AND status = 'waiting'`,
		matchID.String(),
	); err != nil {
		return fmt.Errorf("delete waiting match: %w", err)
	}
	return nil
}

// Abandon 結束對局但不計勝負
func (p *Postgres) Abandon(ctx context.Context, matchID uuid.UUID, reason string) error {
	if _, err := p.pool.Exec(ctx, `
		UPDATE matches SET status = 'finished', reason = $2, updated_at = NOW()
		WHERE id = $1::uuid AND status <> 'finished'`,
		matchID.String(), reason,
	); err != nil {
		return fmt.Errorf("abandon match: %w", err)
	}
	return nil
}

// ListOpen 列出等待對手的對局，最新的在前
func (p *Postgres) ListOpen(ctx context.Context, limit int) ([]OpenMatch, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT m.id::text, m.room_code, m.created_at,
		       COALESCE(ua.username, ud.username, '') AS creator_name,
		       CASE WHEN m.attacker_id IS NOT NULL THEN 'defender' ELSE 'attacker' END AS needed_role
		FROM matches m
		LEFT JOIN users ua ON m.attacker_id = ua.id
		LEFT JOIN users ud ON m.defender_id = ud.id
		WHERE m.status = 'waiting'
		  AND (m.attacker_id IS NULL) <> (m.defender_id IS NULL)
		ORDER BY m.created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query open matches: %w", err)
	}

	open, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OpenMatch, error) {
		var (
			o  OpenMatch
			id string
		)
		if err := row.Scan(&id, &o.RoomCode, &o.CreatedAt, &o.CreatorName, &o.NeededRole); err != nil {
			return o, err
		}
		parsed, err := uuid.Parse(id)
		o.MatchID = parsed
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan open matches: %w", err)
	}
	return open, nil
}

// SweepStale 結束過期的未完成對局
func (p *Postgres) SweepStale(ctx context.Context, before time.Time, live []uuid.UUID, reason string) (int64, error) {
	ids := make([]string, len(live))
	for i, id := range live {
		ids[i] = id.String()
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE matches SET status = 'finished', reason = $3, updated_at = NOW()
		WHERE status IN ('waiting', 'playing')
		  AND created_at < $1
		  AND NOT (id::text = ANY($2::text[]))`,
		before, ids, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep stale matches: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetMatch 讀取完整對局記錄
func (p *Postgres) GetMatch(ctx context.Context, matchID uuid.UUID) (*MatchRecord, error) {
	var rec MatchRecord
	var attackerID, defenderID, winnerID, loserID *int64
	var reason *string
	var baseHP, duration *int

	err := p.pool.QueryRow(ctx, `
		SELECT room_code, attacker_id, defender_id, winner_id, loser_id, reason,
		       base_hp_final, duration_sec, status, created_at, updated_at
		FROM matches WHERE id = $1::uuid`,
		matchID.String(),
	).Scan(&rec.RoomCode, &attackerID, &defenderID, &winnerID, &loserID, &reason,
		&baseHP, &duration, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get match: %w", err)
	}

	rec.ID = matchID
	rec.AttackerID = deref(attackerID)
	rec.DefenderID = deref(defenderID)
	rec.WinnerID = deref(winnerID)
	rec.LoserID = deref(loserID)
	rec.BaseHPFinal = deref(baseHP)
	rec.DurationSec = deref(duration)
	rec.Reason = deref(reason)
	return &rec, nil
}

// isUniqueViolation 檢查是否為唯一鍵衝突（23505）
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
