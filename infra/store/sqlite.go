package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/flexgrid/core/demand"
	"github.com/kilianp07/flexgrid/core/flexibility"
	"github.com/kilianp07/flexgrid/core/model"
)

// SQLiteStore persists assets, requests, responses and scheduled jobs
// in a single SQLite database. It backs every durable interface of the
// flexibility layer.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `
    CREATE TABLE IF NOT EXISTS assets (
        id TEXT PRIMARY KEY,
        name TEXT,
        type TEXT,
        capacity_kw REAL,
        max_capacity_kw REAL,
        min_capacity_kw REAL,
        state_of_charge REAL,
        current_power_kw REAL,
        status TEXT,
        location TEXT,
        metadata TEXT
    );
    CREATE TABLE IF NOT EXISTS requests (
        id TEXT PRIMARY KEY,
        asset_id TEXT,
        type TEXT,
        target_power_kw REAL,
        start_time INTEGER,
        end_time INTEGER,
        priority TEXT,
        status TEXT,
        reason TEXT,
        metadata TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_requests_asset ON requests(asset_id, status);
    CREATE TABLE IF NOT EXISTS responses (
        request_id TEXT,
        asset_id TEXT,
        actual_power_kw REAL,
        start_time INTEGER,
        end_time INTEGER,
        energy_impact_kwh REAL,
        cost_impact REAL,
        currency TEXT,
        status TEXT,
        metadata TEXT,
        created_at INTEGER
    );
    CREATE INDEX IF NOT EXISTS idx_responses_request ON responses(request_id);
    CREATE TABLE IF NOT EXISTS jobs (
        id TEXT PRIMARY KEY,
        request_id TEXT,
        kind TEXT,
        due_at INTEGER,
        prior_power_kw REAL,
        cancelled INTEGER NOT NULL DEFAULT 0,
        done INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_jobs_request ON jobs(request_id);
    CREATE TABLE IF NOT EXISTS telemetry (
        device_id TEXT,
        metric TEXT,
        ts INTEGER,
        value REAL
    );
    CREATE INDEX IF NOT EXISTS idx_telemetry_range ON telemetry(metric, ts);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// LoadAssets returns every registered asset.
func (s *SQLiteStore) LoadAssets(ctx context.Context) ([]model.FlexibilityAsset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type, capacity_kw,
        max_capacity_kw, min_capacity_kw, state_of_charge, current_power_kw,
        status, location, metadata FROM assets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.FlexibilityAsset
	for rows.Next() {
		var a model.FlexibilityAsset
		var typ, status, meta string
		if err := rows.Scan(&a.ID, &a.Name, &typ, &a.CapacityKW,
			&a.MaxCapacityKW, &a.MinCapacityKW, &a.StateOfCharge, &a.CurrentPowerKW,
			&status, &a.Location, &meta); err != nil {
			return nil, err
		}
		if a.Type, err = model.ParseAssetType(typ); err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.ID, err)
		}
		if a.Status, err = model.ParseAssetStatus(status); err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.ID, err)
		}
		if a.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.ID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SaveAsset inserts or updates the asset.
func (s *SQLiteStore) SaveAsset(ctx context.Context, a model.FlexibilityAsset) error {
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO assets (id, name, type,
        capacity_kw, max_capacity_kw, min_capacity_kw, state_of_charge,
        current_power_kw, status, location, metadata)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            type = excluded.type,
            capacity_kw = excluded.capacity_kw,
            max_capacity_kw = excluded.max_capacity_kw,
            min_capacity_kw = excluded.min_capacity_kw,
            state_of_charge = excluded.state_of_charge,
            current_power_kw = excluded.current_power_kw,
            status = excluded.status,
            location = excluded.location,
            metadata = excluded.metadata`,
		a.ID, a.Name, a.Type.String(), a.CapacityKW, a.MaxCapacityKW,
		a.MinCapacityKW, a.StateOfCharge, a.CurrentPowerKW,
		a.Status.String(), a.Location, meta)
	return err
}

// SaveRequest inserts the request.
func (s *SQLiteStore) SaveRequest(ctx context.Context, r model.FlexibilityRequest) error {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO requests (id, asset_id, type,
        target_power_kw, start_time, end_time, priority, status, reason, metadata)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AssetID, r.Type.String(), r.TargetPowerKW,
		r.StartTime.Unix(), r.EndTime.Unix(), r.Priority.String(),
		r.Status.String(), r.Reason, meta)
	return err
}

// UpdateRequestStatus updates the request's lifecycle status.
func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id string, status model.RequestStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE requests SET status = ? WHERE id = ?`,
		status.String(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("request not found: %s", id)
	}
	return nil
}

// Request reloads a single request; ok is false when unknown.
func (s *SQLiteStore) Request(ctx context.Context, id string) (model.FlexibilityRequest, bool, error) {
	rows, err := s.queryRequests(ctx, `SELECT id, asset_id, type, target_power_kw,
        start_time, end_time, priority, status, reason, metadata
        FROM requests WHERE id = ?`, id)
	if err != nil {
		return model.FlexibilityRequest{}, false, err
	}
	if len(rows) == 0 {
		return model.FlexibilityRequest{}, false, nil
	}
	return rows[0], true, nil
}

// Requests returns requests most-recent-first by start time, optionally
// filtered by status.
func (s *SQLiteStore) Requests(ctx context.Context, status *model.RequestStatus) ([]model.FlexibilityRequest, error) {
	q := `SELECT id, asset_id, type, target_power_kw, start_time, end_time,
        priority, status, reason, metadata FROM requests`
	var args []any
	if status != nil {
		q += ` WHERE status = ?`
		args = append(args, status.String())
	}
	q += ` ORDER BY start_time DESC`
	return s.queryRequests(ctx, q, args...)
}

// ActiveRequestsForAsset returns the asset's non-terminal requests.
func (s *SQLiteStore) ActiveRequestsForAsset(ctx context.Context, assetID string) ([]model.FlexibilityRequest, error) {
	return s.queryRequests(ctx, `SELECT id, asset_id, type, target_power_kw,
        start_time, end_time, priority, status, reason, metadata
        FROM requests WHERE asset_id = ? AND status IN (?, ?, ?)`,
		assetID, model.StatusPending.String(), model.StatusAccepted.String(),
		model.StatusInProgress.String())
}

func (s *SQLiteStore) queryRequests(ctx context.Context, q string, args ...any) ([]model.FlexibilityRequest, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.FlexibilityRequest
	for rows.Next() {
		var r model.FlexibilityRequest
		var typ, prio, status, meta string
		var start, end int64
		if err := rows.Scan(&r.ID, &r.AssetID, &typ, &r.TargetPowerKW,
			&start, &end, &prio, &status, &r.Reason, &meta); err != nil {
			return nil, err
		}
		if r.Type, err = model.ParseRequestType(typ); err != nil {
			return nil, fmt.Errorf("request %s: %w", r.ID, err)
		}
		if r.Priority, err = model.ParsePriority(prio); err != nil {
			return nil, fmt.Errorf("request %s: %w", r.ID, err)
		}
		if r.Status, err = model.ParseRequestStatus(status); err != nil {
			return nil, fmt.Errorf("request %s: %w", r.ID, err)
		}
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("request %s: %w", r.ID, err)
		}
		r.StartTime = time.Unix(start, 0).UTC()
		r.EndTime = time.Unix(end, 0).UTC()
		res = append(res, r)
	}
	return res, rows.Err()
}

// SaveResponse appends a settled response.
func (s *SQLiteStore) SaveResponse(ctx context.Context, r model.FlexibilityResponse) error {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO responses (request_id, asset_id,
        actual_power_kw, start_time, end_time, energy_impact_kwh, cost_impact,
        currency, status, metadata, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.AssetID, r.ActualPowerKW, r.StartTime.Unix(),
		r.EndTime.Unix(), r.EnergyImpactKWh, r.CostImpact, r.Currency,
		r.Status.String(), meta, time.Now().UnixNano())
	return err
}

// Responses returns the responses for a request, most-recent-first.
func (s *SQLiteStore) Responses(ctx context.Context, requestID string) ([]model.FlexibilityResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT request_id, asset_id,
        actual_power_kw, start_time, end_time, energy_impact_kwh, cost_impact,
        currency, status, metadata FROM responses
        WHERE request_id = ? ORDER BY created_at DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.FlexibilityResponse
	for rows.Next() {
		var r model.FlexibilityResponse
		var status, meta string
		var start, end int64
		if err := rows.Scan(&r.RequestID, &r.AssetID, &r.ActualPowerKW,
			&start, &end, &r.EnergyImpactKWh, &r.CostImpact, &r.Currency,
			&status, &meta); err != nil {
			return nil, err
		}
		if r.Status, err = model.ParseResponseStatus(status); err != nil {
			return nil, fmt.Errorf("response for %s: %w", r.RequestID, err)
		}
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("response for %s: %w", r.RequestID, err)
		}
		r.StartTime = time.Unix(start, 0).UTC()
		r.EndTime = time.Unix(end, 0).UTC()
		res = append(res, r)
	}
	return res, rows.Err()
}

// AllResponses returns every settlement response, most recent first.
func (s *SQLiteStore) AllResponses(ctx context.Context) ([]model.FlexibilityResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT request_id, asset_id,
        actual_power_kw, start_time, end_time, energy_impact_kwh, cost_impact,
        currency, status, metadata FROM responses ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.FlexibilityResponse
	for rows.Next() {
		var r model.FlexibilityResponse
		var status, meta string
		var start, end int64
		if err := rows.Scan(&r.RequestID, &r.AssetID, &r.ActualPowerKW,
			&start, &end, &r.EnergyImpactKWh, &r.CostImpact, &r.Currency,
			&status, &meta); err != nil {
			return nil, err
		}
		if r.Status, err = model.ParseResponseStatus(status); err != nil {
			return nil, fmt.Errorf("response for %s: %w", r.RequestID, err)
		}
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("response for %s: %w", r.RequestID, err)
		}
		r.StartTime = time.Unix(start, 0).UTC()
		r.EndTime = time.Unix(end, 0).UTC()
		res = append(res, r)
	}
	return res, rows.Err()
}

// SaveJob inserts or updates the deferred job.
func (s *SQLiteStore) SaveJob(ctx context.Context, j flexibility.Job) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (id, request_id, kind,
        due_at, prior_power_kw, cancelled, done)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            due_at = excluded.due_at,
            prior_power_kw = excluded.prior_power_kw,
            cancelled = excluded.cancelled,
            done = excluded.done`,
		j.ID, j.RequestID, j.Kind.String(), j.DueAt.Unix(), j.PriorPowerKW,
		boolInt(j.Cancelled), boolInt(j.Done))
	return err
}

// PendingJobs returns unfired, uncancelled jobs ordered by due time.
func (s *SQLiteStore) PendingJobs(ctx context.Context) ([]flexibility.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, request_id, kind, due_at,
        prior_power_kw, cancelled, done FROM jobs
        WHERE done = 0 AND cancelled = 0 ORDER BY due_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []flexibility.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// Job reloads a single job; ok is false when unknown.
func (s *SQLiteStore) Job(ctx context.Context, id string) (flexibility.Job, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, request_id, kind, due_at,
        prior_power_kw, cancelled, done FROM jobs WHERE id = ?`, id)
	if err != nil {
		return flexibility.Job{}, false, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return flexibility.Job{}, false, rows.Err()
	}
	j, err := scanJob(rows)
	if err != nil {
		return flexibility.Job{}, false, err
	}
	return j, true, nil
}

// MarkJobDone retires a fired job.
func (s *SQLiteStore) MarkJobDone(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET done = 1 WHERE id = ?`, id)
	return err
}

// CancelJobs flips the cancellation flag on the request's unfired jobs.
func (s *SQLiteStore) CancelJobs(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET cancelled = 1 WHERE request_id = ? AND done = 0`, requestID)
	return err
}

// RecordSample appends a raw telemetry reading.
func (s *SQLiteStore) RecordSample(ctx context.Context, sm demand.Sample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry (device_id, metric, ts, value) VALUES (?, ?, ?, ?)`,
		sm.DeviceID, sm.Metric, sm.Timestamp.UnixNano(), sm.Value)
	return err
}

// Samples returns raw readings for the metrics and devices in
// [start,end). A "*" device ID matches every device.
func (s *SQLiteStore) Samples(ctx context.Context, metrics, deviceIDs []string, start, end time.Time) ([]demand.Sample, error) {
	if len(metrics) == 0 {
		return nil, nil
	}
	q := `SELECT device_id, metric, ts, value FROM telemetry WHERE metric IN (?` +
		strings.Repeat(", ?", len(metrics)-1) + `)`
	args := make([]any, 0, len(metrics)+len(deviceIDs)+2)
	for _, m := range metrics {
		args = append(args, m)
	}
	wildcard := len(deviceIDs) == 0
	for _, id := range deviceIDs {
		if id == "*" {
			wildcard = true
		}
	}
	if !wildcard {
		q += ` AND device_id IN (?` + strings.Repeat(", ?", len(deviceIDs)-1) + `)`
		for _, id := range deviceIDs {
			args = append(args, id)
		}
	}
	q += ` AND ts >= ? AND ts < ? ORDER BY ts`
	args = append(args, start.UnixNano(), end.UnixNano())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []demand.Sample
	for rows.Next() {
		var sm demand.Sample
		var ts int64
		if err := rows.Scan(&sm.DeviceID, &sm.Metric, &ts, &sm.Value); err != nil {
			return nil, err
		}
		sm.Timestamp = time.Unix(0, ts).UTC()
		res = append(res, sm)
	}
	return res, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanJob(rows *sql.Rows) (flexibility.Job, error) {
	var j flexibility.Job
	var kind string
	var due int64
	var cancelled, done int
	if err := rows.Scan(&j.ID, &j.RequestID, &kind, &due, &j.PriorPowerKW,
		&cancelled, &done); err != nil {
		return flexibility.Job{}, err
	}
	k, err := flexibility.ParseJobKind(kind)
	if err != nil {
		return flexibility.Job{}, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.Kind = k
	j.DueAt = time.Unix(due, 0).UTC()
	j.Cancelled = cancelled != 0
	j.Done = done != 0
	return j, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
