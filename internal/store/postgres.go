package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
)

// PoolConfig sizes the database/sql pool.
type PoolConfig struct {
	MaxConns       int
	MinConns       int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string, pool PoolConfig) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxConns > 0 {
		db.SetMaxOpenConns(pool.MaxConns)
	}
	if pool.MinConns > 0 {
		db.SetMaxIdleConns(pool.MinConns)
	}
	if pool.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(pool.IdleTimeout)
	}
	p := &Postgres{db: db}
	if pool.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pool.ConnectTimeout)
		defer cancel()
	}
	if err := p.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// Ping runs a trivial query so a broken pool is detected, not just a closed socket.
func (p *Postgres) Ping(ctx context.Context) error {
	var one int
	if err := p.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("database health check: unexpected result %d", one)
	}
	return nil
}

// Orders

func (p *Postgres) CreateOrder(ctx context.Context, tenantID string, in model.OrderIn) (model.Order, error) {
	for i := 0; i < 16; i++ {
		o := model.Order{ID: newOrderID(), TenantID: tenantID, ItemName: in.ItemName, Quantity: in.Quantity}
		err := p.db.QueryRowContext(ctx, `INSERT INTO orders (id, tenant_id, item_name, quantity, status) VALUES ($1,$2,$3,$4,'pending')
            RETURNING status, created_at, updated_at`, o.ID, tenantID, in.ItemName, in.Quantity).Scan(&o.Status, &o.CreatedAt, &o.UpdatedAt)
		if err == nil {
			return o, nil
		}
		if !isUniqueViolation(err) {
			return model.Order{}, fmt.Errorf("create order: %w", err)
		}
	}
	return model.Order{}, fmt.Errorf("create order: %w", errIDSpaceExhausted)
}

func (p *Postgres) GetOrder(ctx context.Context, tenantID, id string) (model.Order, error) {
	o := model.Order{TenantID: tenantID}
	err := p.db.QueryRowContext(ctx, `SELECT id, item_name, quantity, status, created_at, updated_at FROM orders WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&o.ID, &o.ItemName, &o.Quantity, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (p *Postgres) ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Order, string, error) {
	limit = pageSize(limit)
	q := `SELECT id, item_name, quantity, status, created_at, updated_at FROM orders WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(` AND (created_at, id) < (SELECT created_at, id FROM orders WHERE tenant_id=$1 AND id=$%d)`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o := model.Order{TenantID: tenantID}
		if err := rows.Scan(&o.ID, &o.ItemName, &o.Quantity, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

// Snapshot

func (p *Postgres) UpsertTasks(ctx context.Context, tenantID string, tasks []model.TaskIn) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	for _, t := range tasks {
		_, err := tx.ExecContext(ctx, `INSERT INTO tasks (tenant_id, id, x, y, priority, estimated_duration, order_id, status)
            VALUES ($1,$2,$3,$4,$5,$6,$7,'open')
            ON CONFLICT (tenant_id, id) DO UPDATE SET x=EXCLUDED.x, y=EXCLUDED.y, priority=EXCLUDED.priority,
                estimated_duration=EXCLUDED.estimated_duration, order_id=EXCLUDED.order_id, updated_at=now()`,
			tenantID, int64(t.ID), t.Location.X, t.Location.Y, int(t.Priority), t.EstimatedDuration, nullIfEmpty(t.OrderID))
		if err != nil {
			return 0, fmt.Errorf("upsert task %d: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (p *Postgres) ListTasks(ctx context.Context, tenantID, status string) ([]model.TaskRecord, error) {
	q := `SELECT id, x, y, priority, estimated_duration, COALESCE(order_id,''), status, updated_at FROM tasks WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		q += ` AND status=$2`
		args = append(args, status)
	}
	q += ` ORDER BY seq`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TaskRecord{}
	for rows.Next() {
		var (
			rec      model.TaskRecord
			id       int64
			priority int
			dur      sql.NullFloat64
		)
		if err := rows.Scan(&id, &rec.Location.X, &rec.Location.Y, &priority, &dur, &rec.OrderID, &rec.Status, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.ID = planner.TaskID(id)
		rec.Priority = planner.Priority(priority)
		if dur.Valid {
			rec.EstimatedDuration = &dur.Float64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertWorkers(ctx context.Context, tenantID string, workers []planner.Worker) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	for _, w := range workers {
		_, err := tx.ExecContext(ctx, `INSERT INTO workers (tenant_id, id, x, y, available, current_load, max_tasks)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
            ON CONFLICT (tenant_id, id) DO UPDATE SET x=EXCLUDED.x, y=EXCLUDED.y, available=EXCLUDED.available,
                current_load=EXCLUDED.current_load, max_tasks=EXCLUDED.max_tasks, updated_at=now()`,
			tenantID, int64(w.ID), w.Location.X, w.Location.Y, w.Available, planner.ClampLoad(w.CurrentLoad), w.MaxTasks)
		if err != nil {
			return 0, fmt.Errorf("upsert worker %d: %w", w.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(workers), nil
}

func (p *Postgres) ListWorkers(ctx context.Context, tenantID string) ([]model.WorkerRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, x, y, available, current_load, max_tasks, updated_at FROM workers WHERE tenant_id=$1 ORDER BY seq`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.WorkerRecord{}
	for rows.Next() {
		var (
			rec model.WorkerRecord
			id  int64
		)
		if err := rows.Scan(&id, &rec.Location.X, &rec.Location.Y, &rec.Available, &rec.CurrentLoad, &rec.MaxTasks, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.ID = planner.WorkerID(id)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Plans

func (p *Postgres) SavePlan(ctx context.Context, rec model.PlanRecord) (model.PlanRecord, error) {
	rec.ID = uuid.New().String()
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return model.PlanRecord{}, err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PlanRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `INSERT INTO plans (id, tenant_id, mode, estimator, max_tasks_per_worker, trigger, summary)
        VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at`,
		rec.ID, rec.TenantID, rec.Mode, rec.Estimator, rec.MaxTasksPerWorker, rec.Trigger, summary).Scan(&rec.CreatedAt)
	if err != nil {
		return model.PlanRecord{}, fmt.Errorf("insert plan: %w", err)
	}
	for i, a := range rec.Assignments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO plan_assignments (plan_id, seq, task_id, worker_id, estimated_cost) VALUES ($1,$2,$3,$4,$5)`,
			rec.ID, i, int64(a.TaskID), int64(a.WorkerID), a.EstimatedCost); err != nil {
			return model.PlanRecord{}, fmt.Errorf("insert assignment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status='assigned', updated_at=now() WHERE tenant_id=$1 AND id=$2`,
			rec.TenantID, int64(a.TaskID)); err != nil {
			return model.PlanRecord{}, fmt.Errorf("mark task assigned: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.PlanRecord{}, err
	}
	if rec.Assignments == nil {
		rec.Assignments = []planner.Assignment{}
	}
	return rec, nil
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, id string) (model.PlanRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.PlanRecord{}, ErrNotFound
	}
	rec := model.PlanRecord{TenantID: tenantID}
	var summary []byte
	err := p.db.QueryRowContext(ctx, `SELECT id::text, mode, estimator, max_tasks_per_worker, trigger, summary, created_at FROM plans WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&rec.ID, &rec.Mode, &rec.Estimator, &rec.MaxTasksPerWorker, &rec.Trigger, &summary, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanRecord{}, ErrNotFound
	}
	if err != nil {
		return model.PlanRecord{}, err
	}
	if err := json.Unmarshal(summary, &rec.Summary); err != nil {
		return model.PlanRecord{}, fmt.Errorf("decode plan summary: %w", err)
	}
	rec.Assignments, err = p.planAssignments(ctx, rec.ID)
	if err != nil {
		return model.PlanRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) planAssignments(ctx context.Context, planID string) ([]planner.Assignment, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT task_id, worker_id, estimated_cost FROM plan_assignments WHERE plan_id=$1 ORDER BY seq`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []planner.Assignment{}
	for rows.Next() {
		var taskID, workerID int64
		var cost float64
		if err := rows.Scan(&taskID, &workerID, &cost); err != nil {
			return nil, err
		}
		out = append(out, planner.Assignment{TaskID: planner.TaskID(taskID), WorkerID: planner.WorkerID(workerID), EstimatedCost: cost})
	}
	return out, rows.Err()
}

// ListPlans returns plan headers and summaries newest first; assignments are
// only loaded by GetPlan.
func (p *Postgres) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.PlanRecord, string, error) {
	limit = pageSize(limit)
	var rows *sql.Rows
	var err error
	const cols = `SELECT id::text, mode, estimator, max_tasks_per_worker, trigger, summary, created_at FROM plans WHERE tenant_id=$1`
	if cursor != "" {
		if _, perr := uuid.Parse(cursor); perr != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", perr)
		}
		rows, err = p.db.QueryContext(ctx, cols+` AND (created_at, id) < (SELECT created_at, id FROM plans WHERE id=$2) ORDER BY created_at DESC, id DESC LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, cols+` ORDER BY created_at DESC, id DESC LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.PlanRecord{}
	for rows.Next() {
		rec := model.PlanRecord{TenantID: tenantID}
		var summary []byte
		if err := rows.Scan(&rec.ID, &rec.Mode, &rec.Estimator, &rec.MaxTasksPerWorker, &rec.Trigger, &summary, &rec.CreatedAt); err != nil {
			return nil, "", err
		}
		if err := json.Unmarshal(summary, &rec.Summary); err != nil {
			return nil, "", fmt.Errorf("decode plan summary: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, err := json.Marshal(req.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	filter, err := json.Marshal([]string{eventType})
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, string(filter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows, tenantID)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = pageSize(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out, err := scanSubscriptions(rows, tenantID)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func scanSubscriptions(rows *sql.Rows, tenantID string) ([]model.Subscription, error) {
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		s.TenantID = tenantID
		if err := json.Unmarshal(ev, &s.Events); err != nil {
			return nil, fmt.Errorf("decode subscription events: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(1 * time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

// FailWebhookDelivery dead-letters a delivery; failed rows are never fetched again
// unless RetryWebhookDelivery resets them.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	limit = pageSize(limit)
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url, COALESCE(response_code,0) FROM webhook_deliveries WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(` AND id::text > $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts, code int
		var nextAt sql.NullTime
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url, &code); err != nil {
			return nil, "", err
		}
		m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid {
			m["nextAttemptAt"] = nextAt.Time
		}
		if lastErr != "" {
			m["lastError"] = lastErr
		}
		if code != 0 {
			m["responseCode"] = code
		}
		out = append(out, m)
		last = id
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
