package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
)

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusStopped   = "stopped"
	RunStatusFailed    = "failed"

	EventTypeRunFinished = "RUN_FINISHED"
)

var ErrRunNotFound = errors.New("run not found")

// Run is the stored history entry of one collection run.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Shops       []string   `json:"shops"`
	Period      string     `json:"period"`
	OutputPath  string     `json:"output_path"`
	Status      string     `json:"status"`
	ShopsDone   int        `json:"shops_done"`
	ShopsFailed int        `json:"shops_failed"`
	Rows        int        `json:"rows"`
	Stopped     bool       `json:"stopped"`
	Saved       bool       `json:"saved"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunFinishedPayload is what the outbox announces when a run ends.
type RunFinishedPayload struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Shops       []string  `json:"shops"`
	Period      string    `json:"period"`
	OutputPath  string    `json:"output_path"`
	ShopsDone   int       `json:"shops_done"`
	ShopsFailed int       `json:"shops_failed"`
	Rows        int       `json:"rows"`
	Saved       bool      `json:"saved"`
	FinishedAt  time.Time `json:"finished_at"`
}

type RunRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db, outbox: NewOutboxRepository(db)}
}

func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO ranking_runs (id, shops, period, output_path, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		run.ID, run.Shops, run.Period, run.OutputPath, run.Status, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (r *RunRepository) MarkRunning(ctx context.Context, id uuid.UUID, outputPath string) error {
	query := `
		UPDATE ranking_runs
		SET status = $1, output_path = $2, started_at = $3
		WHERE id = $4`

	result, err := r.db.Exec(ctx, query, RunStatusRunning, outputPath, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveShopItems stores the ranked rows one shop produced in a run.
func (r *RunRepository) SaveShopItems(ctx context.Context, runID uuid.UUID, res *models.ShopRunResult) (int64, error) {
	if res == nil || len(res.Items) == 0 {
		return 0, nil
	}

	scrapedAt := res.FinishedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	columns := []string{
		"run_id", "shop", "rank", "period", "name", "price_jpy", "price_krw",
		"review_count", "product_url", "total_count", "image_url", "scraped_at",
	}

	n, err := r.db.pool.CopyFrom(ctx, pgx.Identifier{"ranking_items"}, columns,
		pgx.CopyFromSlice(len(res.Items), func(i int) ([]any, error) {
			it := res.Items[i]
			return []any{
				runID, it.Shop, i + 1, string(res.Period), it.Name, it.PriceJPY, it.PriceKRW,
				it.ReviewCount, it.ProductURL, it.TotalCount, it.ImageURL, scrapedAt,
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to store items of %s: %w", res.Shop, err)
	}
	return n, nil
}

// Finish records the outcome of a run and queues its announcement in the
// same transaction.
func (r *RunRepository) Finish(ctx context.Context, run *Run) error {
	now := time.Now()
	run.CompletedAt = &now

	payload, err := json.Marshal(RunFinishedPayload{
		RunID:       run.ID.String(),
		Status:      run.Status,
		Shops:       run.Shops,
		Period:      run.Period,
		OutputPath:  run.OutputPath,
		ShopsDone:   run.ShopsDone,
		ShopsFailed: run.ShopsFailed,
		Rows:        run.Rows,
		Saved:       run.Saved,
		FinishedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run payload: %w", err)
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE ranking_runs
			SET status = $1, shops_done = $2, shops_failed = $3, rows_written = $4,
				stopped = $5, saved = $6, error_message = $7, completed_at = $8
			WHERE id = $9`

		result, err := tx.Exec(ctx, query,
			run.Status, run.ShopsDone, run.ShopsFailed, run.Rows,
			run.Stopped, run.Saved, run.Error, now, run.ID)
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrRunNotFound
		}

		return r.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
			AggregateType: "run",
			AggregateID:   run.ID.String(),
			EventType:     EventTypeRunFinished,
			Payload:       payload,
			TargetStream:  DefaultRunStream,
		})
	})
}

const runColumns = `
	id, shops, period, output_path, status, shops_done, shops_failed,
	rows_written, stopped, saved, error_message, created_at, started_at, completed_at`

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID, &run.Shops, &run.Period, &run.OutputPath, &run.Status,
		&run.ShopsDone, &run.ShopsFailed, &run.Rows, &run.Stopped, &run.Saved,
		&run.Error, &run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	)
	return run, err
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(ctx, "SELECT"+runColumns+" FROM ranking_runs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := r.db.Query(ctx,
		"SELECT"+runColumns+" FROM ranking_runs ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// Items returns the stored rows of a run in report order.
func (r *RunRepository) Items(ctx context.Context, runID uuid.UUID) ([]models.ItemRecord, error) {
	query := `
		SELECT shop, rank, name, price_jpy, price_krw, review_count,
			product_url, total_count, image_url
		FROM ranking_items
		WHERE run_id = $1
		ORDER BY scraped_at, shop, rank`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run items: %w", err)
	}
	defer rows.Close()

	var items []models.ItemRecord
	for rows.Next() {
		var it models.ItemRecord
		var rank int
		if err := rows.Scan(&it.Shop, &rank, &it.Name, &it.PriceJPY, &it.PriceKRW,
			&it.ReviewCount, &it.ProductURL, &it.TotalCount, &it.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.ImageIndex = rank - 1
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return items, nil
}
