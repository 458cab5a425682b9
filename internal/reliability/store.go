package reliability

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store 持久化可靠性统计：strategy / source 两个分区，每键原子读改写。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the sqlite database backing the reliability state.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("reliability store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single connection serializes in-process writers; WAL + busy_timeout
	// covers overlapping scheduled invocations from other processes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS strategy_stats (
		name TEXT PRIMARY KEY,
		alpha INTEGER NOT NULL,
		beta INTEGER NOT NULL,
		trades INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS source_stats (
		name TEXT PRIMARY KEY,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		grade TEXT NOT NULL,
		score REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := db.Exec(stmt)
	return err
}

// Close closes the underlying db.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("reliability store not initialized")
	}
	return db, nil
}

// GetStrategy returns the stat for a strategy, creating the 1/1 prior record
// on first reference.
func (s *Store) GetStrategy(ctx context.Context, name string) (StrategyStat, error) {
	db, err := s.handle()
	if err != nil {
		return StrategyStat{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return StrategyStat{}, fmt.Errorf("strategy name cannot be empty")
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO strategy_stats(name, alpha, beta, trades, updated_at)
		VALUES (?, 1, 1, 0, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UnixMilli()); err != nil {
		return StrategyStat{}, err
	}
	return s.readStrategy(ctx, db, name)
}

func (s *Store) readStrategy(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) (StrategyStat, error) {
	var st StrategyStat
	row := q.QueryRowContext(ctx,
		`SELECT name, alpha, beta, trades FROM strategy_stats WHERE name = ?`, name)
	if err := row.Scan(&st.Name, &st.Alpha, &st.Beta, &st.Trades); err != nil {
		return StrategyStat{}, err
	}
	return st, nil
}

// GetSource returns the stat for a source, creating a neutral default record
// on first reference.
func (s *Store) GetSource(ctx context.Context, name string) (SourceStat, error) {
	db, err := s.handle()
	if err != nil {
		return SourceStat{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return SourceStat{}, fmt.Errorf("source name cannot be empty")
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO source_stats(name, wins, losses, grade, score, updated_at)
		VALUES (?, 0, 0, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		name, neutralGrade, optimisticScore, time.Now().UnixMilli()); err != nil {
		return SourceStat{}, err
	}
	return s.readSource(ctx, db, name)
}

func (s *Store) readSource(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) (SourceStat, error) {
	var st SourceStat
	row := q.QueryRowContext(ctx,
		`SELECT name, wins, losses, grade, score FROM source_stats WHERE name = ?`, name)
	if err := row.Scan(&st.Name, &st.Wins, &st.Losses, &st.Grade, &st.Score); err != nil {
		return SourceStat{}, err
	}
	return st, nil
}

// ApplyOutcome dispatches one atomic win/loss update to the right partition.
func (s *Store) ApplyOutcome(ctx context.Context, kind Kind, key string, isWin bool) error {
	switch kind {
	case KindStrategy:
		_, err := s.ApplyStrategyOutcome(ctx, key, isWin)
		return err
	case KindSource:
		_, err := s.ApplySourceOutcome(ctx, key, isWin)
		return err
	default:
		return fmt.Errorf("unknown stat kind %q", kind)
	}
}

// ApplyStrategyOutcome bumps alpha (win) or beta (loss) and the trade count
// in a single committed transaction. Increments run inside SQL, so two
// overlapping calls for the same key can never lose an update.
func (s *Store) ApplyStrategyOutcome(ctx context.Context, name string, isWin bool) (StrategyStat, error) {
	db, err := s.handle()
	if err != nil {
		return StrategyStat{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return StrategyStat{}, fmt.Errorf("strategy name cannot be empty")
	}
	winInc, lossInc := int64(0), int64(1)
	if isWin {
		winInc, lossInc = 1, 0
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return StrategyStat{}, err
	}
	defer tx.Rollback()
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO strategy_stats(name, alpha, beta, trades, updated_at)
		VALUES (?, 1, 1, 0, ?) ON CONFLICT(name) DO NOTHING`, name, now); err != nil {
		return StrategyStat{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE strategy_stats
		SET alpha = alpha + ?, beta = beta + ?, trades = trades + 1, updated_at = ?
		WHERE name = ?`, winInc, lossInc, now, name); err != nil {
		return StrategyStat{}, err
	}
	st, err := s.readStrategy(ctx, tx, name)
	if err != nil {
		return StrategyStat{}, err
	}
	if err := tx.Commit(); err != nil {
		return StrategyStat{}, err
	}
	return st, nil
}

// ApplySourceOutcome bumps the win/loss counters and recomputes the derived
// grade and UCB score from the post-update counters, all in one transaction.
func (s *Store) ApplySourceOutcome(ctx context.Context, name string, isWin bool) (SourceStat, error) {
	db, err := s.handle()
	if err != nil {
		return SourceStat{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return SourceStat{}, fmt.Errorf("source name cannot be empty")
	}
	winInc, lossInc := int64(0), int64(1)
	if isWin {
		winInc, lossInc = 1, 0
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return SourceStat{}, err
	}
	defer tx.Rollback()
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO source_stats(name, wins, losses, grade, score, updated_at)
		VALUES (?, 0, 0, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		name, neutralGrade, optimisticScore, now); err != nil {
		return SourceStat{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE source_stats
		SET wins = wins + ?, losses = losses + ?, updated_at = ?
		WHERE name = ?`, winInc, lossInc, now, name); err != nil {
		return SourceStat{}, err
	}
	st, err := s.readSource(ctx, tx, name)
	if err != nil {
		return SourceStat{}, err
	}
	var totalObs int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(wins + losses), 0) FROM source_stats`).Scan(&totalObs); err != nil {
		return SourceStat{}, err
	}
	st.Grade = GradeFor(st.Wins, st.Losses)
	st.Score = UCBScore(st.Wins, st.Losses, totalObs)
	if _, err := tx.ExecContext(ctx, `
		UPDATE source_stats SET grade = ?, score = ? WHERE name = ?`,
		st.Grade, st.Score, name); err != nil {
		return SourceStat{}, err
	}
	if err := tx.Commit(); err != nil {
		return SourceStat{}, err
	}
	return st, nil
}

// ListStrategies returns every strategy stat, name ascending.
func (s *Store) ListStrategies(ctx context.Context) ([]StrategyStat, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT name, alpha, beta, trades FROM strategy_stats ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StrategyStat
	for rows.Next() {
		var st StrategyStat
		if err := rows.Scan(&st.Name, &st.Alpha, &st.Beta, &st.Trades); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListSources returns every source stat, name ascending.
func (s *Store) ListSources(ctx context.Context) ([]SourceStat, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT name, wins, losses, grade, score FROM source_stats ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceStat
	for rows.Next() {
		var st SourceStat
		if err := rows.Scan(&st.Name, &st.Wins, &st.Losses, &st.Grade, &st.Score); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// TotalSourceObservations returns the observation count across all sources.
func (s *Store) TotalSourceObservations(ctx context.Context) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var total int64
	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(wins + losses), 0) FROM source_stats`).Scan(&total)
	return total, err
}
