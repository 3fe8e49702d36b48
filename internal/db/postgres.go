package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// Config carries the Postgres connection settings.
type Config struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// PostgresStore persists sessions in a single sessions table, one row
// per user.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	// Set connection pool parameters
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	// Connect with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS sessions (
            user_id BIGINT PRIMARY KEY,
            chat_id BIGINT NOT NULL,
            state TEXT NOT NULL,
            onboarding_step INT NOT NULL DEFAULT 0,
            setup_step INT NOT NULL DEFAULT 0,
            display_name TEXT NOT NULL DEFAULT '',
            age INT NOT NULL DEFAULT 0,
            timezone TEXT NOT NULL DEFAULT '',
            emotional_state TEXT NOT NULL DEFAULT '',
            focus_statement TEXT NOT NULL DEFAULT '',
            goal TEXT NOT NULL DEFAULT '',
            order_id TEXT NOT NULL DEFAULT '',
            plan TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL,
            schedule_start TIMESTAMPTZ,
            schedule_interval_sec BIGINT NOT NULL DEFAULT 0,
            schedule_per_day INT NOT NULL DEFAULT 0,
            schedule_total_days INT NOT NULL DEFAULT 0,
            schedule_total_iterations INT NOT NULL DEFAULT 0,
            iteration_cursor INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL,
            last_event_at TIMESTAMPTZ NOT NULL
        )
    `

	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const sessionColumns = `
        user_id, chat_id, state, onboarding_step, setup_step,
        display_name, age, timezone, emotional_state, focus_statement,
        goal, order_id, plan, payment_status,
        schedule_start, schedule_interval_sec, schedule_per_day,
        schedule_total_days, schedule_total_iterations,
        iteration_cursor, created_at, last_event_at`

func (s *PostgresStore) Get(ctx context.Context, userID int64) (*models.UserSession, error) {
	query := `SELECT` + sessionColumns + `
        FROM sessions
        WHERE user_id = $1
    `

	sess, err := scanSession(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, wrapUnavailable("failed to get session", err)
	}
	return sess, nil
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, userID, chatID int64) (*models.UserSession, bool, error) {
	sess := models.NewUserSession(userID, chatID, time.Now().UTC())

	query := `
        INSERT INTO sessions (
            user_id, chat_id, state, payment_status, created_at, last_event_at
        )
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (user_id) DO NOTHING
    `

	tag, err := s.pool.Exec(ctx, query,
		sess.UserID, sess.ChatID, sess.State, sess.PaymentStatus,
		sess.CreatedAt, sess.LastEventAt,
	)
	if err != nil {
		return nil, false, wrapUnavailable("failed to create session", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := s.Get(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return sess, true, nil
}

func (s *PostgresStore) Update(ctx context.Context, userID int64, fn Mutator) (*models.UserSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapUnavailable("failed to begin tx", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT` + sessionColumns + `
        FROM sessions
        WHERE user_id = $1
        FOR UPDATE
    `

	sess, err := scanSession(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, wrapUnavailable("failed to load session for update", err)
	}

	if err := fn(sess); err != nil {
		return nil, err
	}

	schedStart, intervalSec, perDay, totalDays, totalIter := scheduleColumns(sess.Schedule)

	update := `
        UPDATE sessions
        SET chat_id = $2, state = $3, onboarding_step = $4, setup_step = $5,
            display_name = $6, age = $7, timezone = $8,
            emotional_state = $9, focus_statement = $10,
            goal = $11, order_id = $12, plan = $13, payment_status = $14,
            schedule_start = $15, schedule_interval_sec = $16,
            schedule_per_day = $17, schedule_total_days = $18,
            schedule_total_iterations = $19,
            iteration_cursor = $20, last_event_at = $21
        WHERE user_id = $1
    `

	_, err = tx.Exec(ctx, update,
		sess.UserID, sess.ChatID, sess.State, sess.OnboardingStep, sess.SetupStep,
		sess.Profile.DisplayName, sess.Profile.Age, sess.Profile.Timezone,
		sess.Profile.EmotionalState, sess.Profile.FocusStatement,
		sess.Goal, sess.OrderID, sess.Plan, sess.PaymentStatus,
		schedStart, intervalSec, perDay, totalDays, totalIter,
		sess.IterationCursor, sess.LastEventAt,
	)
	if err != nil {
		return nil, wrapUnavailable("failed to save session", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapUnavailable("failed to commit session update", err)
	}

	return sess, nil
}

func (s *PostgresStore) ActiveSessions(ctx context.Context) ([]*models.UserSession, error) {
	query := `SELECT` + sessionColumns + `
        FROM sessions
        WHERE state = $1
    `

	rows, err := s.pool.Query(ctx, query, models.StateActive)
	if err != nil {
		return nil, wrapUnavailable("failed to list active sessions", err)
	}
	defer rows.Close()

	var out []*models.UserSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrapUnavailable("failed to scan session", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable("failed to read sessions", err)
	}

	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*models.UserSession, error) {
	var (
		sess        models.UserSession
		state       string
		plan        string
		payStatus   string
		schedStart  *time.Time
		intervalSec int64
		perDay      int
		totalDays   int
		totalIter   int
	)

	err := row.Scan(
		&sess.UserID, &sess.ChatID, &state, &sess.OnboardingStep, &sess.SetupStep,
		&sess.Profile.DisplayName, &sess.Profile.Age, &sess.Profile.Timezone,
		&sess.Profile.EmotionalState, &sess.Profile.FocusStatement,
		&sess.Goal, &sess.OrderID, &plan, &payStatus,
		&schedStart, &intervalSec, &perDay, &totalDays, &totalIter,
		&sess.IterationCursor, &sess.CreatedAt, &sess.LastEventAt,
	)
	if err != nil {
		return nil, err
	}

	sess.State = models.State(state)
	sess.Plan = models.Plan(plan)
	sess.PaymentStatus = models.PaymentStatus(payStatus)

	if schedStart != nil {
		sess.Schedule = &models.Schedule{
			StartAt:         schedStart.UTC(),
			Interval:        time.Duration(intervalSec) * time.Second,
			PerDay:          perDay,
			TotalDays:       totalDays,
			TotalIterations: totalIter,
		}
	}

	return &sess, nil
}

func scheduleColumns(sched *models.Schedule) (start *time.Time, intervalSec int64, perDay, totalDays, totalIter int) {
	if sched == nil {
		return nil, 0, 0, 0, 0
	}
	t := sched.StartAt
	return &t, int64(sched.Interval / time.Second), sched.PerDay, sched.TotalDays, sched.TotalIterations
}
