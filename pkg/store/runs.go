package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"infersubc/pkg/pipeline"
	"infersubc/pkg/quant"
	"infersubc/pkg/stage"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the persisted summary of a pipeline run.
type RunRecord struct {
	ID        uuid.UUID
	Input     string
	Shape     string
	Started   time.Time
	Duration  time.Duration
	Succeeded int
	Failed    int
	Skipped   int
}

// StageRecord is the persisted outcome of one stage of a run.
type StageRecord struct {
	Stage           string
	ResultID        uuid.UUID
	Status          stage.Status
	Kernel          string
	Params          string
	Upstream        []uuid.UUID
	Reason          string
	Objects         int
	MaskFingerprint string
	Cached          bool
	Started         time.Time
	Duration        time.Duration
}

// RunDetail is everything stored for one run.
type RunDetail struct {
	Run          RunRecord
	Stages       []StageRecord
	Objects      map[string][]quant.ObjectStats
	Interactions []quant.Interaction
}

// SaveRun records a finished run, its per-stage outcomes and, when sum is
// non-nil, its quantification.
func (s *Store) SaveRun(ctx context.Context, input, shape string, rep *pipeline.Report, sum *quant.Summary) error {
	if rep == nil {
		return errors.New("save run: nil report")
	}
	counts := rep.Counts()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, input, shape, started_at, duration_ms, succeeded, failed, skipped)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rep.RunID.String(), input, shape, formatTime(rep.Started), rep.Duration.Milliseconds(),
			counts[stage.Succeeded], counts[stage.Failed], counts[stage.Skipped],
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for pos, name := range rep.Order {
			res, ok := rep.Results[name]
			if !ok || res == nil {
				continue
			}
			if err := insertStage(ctx, tx, rep.RunID, pos, res); err != nil {
				return err
			}
		}

		if sum == nil {
			return nil
		}
		for _, name := range sum.ClassNames() {
			for _, o := range sum.Classes[name].Objects {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO object_stats (
                        run_id, stage, label, area, centroid_z, centroid_y, centroid_x,
                        major_axis, minor_axis, eccentricity, orientation
                    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					rep.RunID.String(), name, o.Label, o.Area, o.Centroid.Z, o.Centroid.Y, o.Centroid.X,
					o.MajorAxis, o.MinorAxis, o.Eccentricity, o.Orientation,
				); err != nil {
					return fmt.Errorf("insert object stats for %s: %w", name, err)
				}
			}
		}
		for _, in := range sum.Interactions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO interactions (run_id, class_a, class_b, overlap, fraction, mean_nearest)
                 VALUES (?, ?, ?, ?, ?, ?)`,
				rep.RunID.String(), in.A, in.B, in.Overlap, in.Fraction, in.MeanNearest,
			); err != nil {
				return fmt.Errorf("insert interaction %s/%s: %w", in.A, in.B, err)
			}
		}
		return nil
	})
}

func insertStage(ctx context.Context, tx *sql.Tx, runID uuid.UUID, pos int, res *stage.Result) error {
	upstream := make([]string, len(res.Provenance.Upstream))
	for i, id := range res.Provenance.Upstream {
		upstream[i] = id.String()
	}
	var objects int
	var fingerprint string
	if res.Labels != nil {
		objects = res.Labels.Count()
		fingerprint = res.Labels.Fingerprint()
	}
	var params string
	if !res.Provenance.Params.IsZero() {
		params = res.Provenance.Params.Key()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stage_results (
            run_id, stage, position, result_id, status, kernel, params, upstream, reason,
            objects, mask_fingerprint, cached, started_at, duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID.String(), res.Stage, pos, res.ID.String(), res.Status.String(),
		nullableString(res.Provenance.Kernel), nullableString(params),
		nullableString(strings.Join(upstream, ",")), nullableString(res.Reason()),
		objects, nullableString(fingerprint), res.Provenance.Cached,
		formatTime(res.Started), res.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("insert stage result %s: %w", res.Stage, err)
	}
	return nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT id, input, shape, started_at, duration_ms, succeeded, failed, skipped
              FROM runs ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		rec       RunRecord
		id        string
		started   string
		durMillis int64
	)
	if err := row.Scan(&id, &rec.Input, &rec.Shape, &started, &durMillis, &rec.Succeeded, &rec.Failed, &rec.Skipped); err != nil {
		return RunRecord{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return RunRecord{}, fmt.Errorf("parse run id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.Started = parseTime(started)
	rec.Duration = time.Duration(durMillis) * time.Millisecond
	return rec, nil
}

// LoadRun returns everything stored for the run with the given id.
func (s *Store) LoadRun(ctx context.Context, id uuid.UUID) (*RunDetail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input, shape, started_at, duration_ms, succeeded, failed, skipped FROM runs WHERE id = ?`,
		id.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	detail := &RunDetail{Run: run, Objects: make(map[string][]quant.ObjectStats)}
	if detail.Stages, err = s.loadStages(ctx, id); err != nil {
		return nil, err
	}
	if err := s.loadObjects(ctx, id, detail.Objects); err != nil {
		return nil, err
	}
	if detail.Interactions, err = s.loadInteractions(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Store) loadStages(ctx context.Context, id uuid.UUID) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, result_id, status, kernel, params, upstream, reason, objects,
                mask_fingerprint, cached, started_at, duration_ms
         FROM stage_results WHERE run_id = ? ORDER BY position`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load stage results: %w", err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		var (
			rec                                           StageRecord
			resultID, status, started                     string
			kernel, params, upstream, reason, fingerprint sql.NullString
			durMillis                                     int64
		)
		if err := rows.Scan(&rec.Stage, &resultID, &status, &kernel, &params, &upstream, &reason,
			&rec.Objects, &fingerprint, &rec.Cached, &started, &durMillis); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		if rec.ResultID, err = uuid.Parse(resultID); err != nil {
			return nil, fmt.Errorf("parse result id %q: %w", resultID, err)
		}
		if rec.Status, err = stage.ParseStatus(status); err != nil {
			return nil, err
		}
		rec.Kernel = kernel.String
		rec.Params = params.String
		rec.Reason = reason.String
		rec.MaskFingerprint = fingerprint.String
		if upstream.Valid && upstream.String != "" {
			for _, raw := range strings.Split(upstream.String, ",") {
				up, err := uuid.Parse(raw)
				if err != nil {
					return nil, fmt.Errorf("parse upstream id %q: %w", raw, err)
				}
				rec.Upstream = append(rec.Upstream, up)
			}
		}
		rec.Started = parseTime(started)
		rec.Duration = time.Duration(durMillis) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) loadObjects(ctx context.Context, id uuid.UUID, into map[string][]quant.ObjectStats) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, label, area, centroid_z, centroid_y, centroid_x,
                major_axis, minor_axis, eccentricity, orientation
         FROM object_stats WHERE run_id = ? ORDER BY stage, label`, id.String())
	if err != nil {
		return fmt.Errorf("load object stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			o    quant.ObjectStats
		)
		if err := rows.Scan(&name, &o.Label, &o.Area, &o.Centroid.Z, &o.Centroid.Y, &o.Centroid.X,
			&o.MajorAxis, &o.MinorAxis, &o.Eccentricity, &o.Orientation); err != nil {
			return fmt.Errorf("scan object stats: %w", err)
		}
		into[name] = append(into[name], o)
	}
	return rows.Err()
}

func (s *Store) loadInteractions(ctx context.Context, id uuid.UUID) ([]quant.Interaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class_a, class_b, overlap, fraction, mean_nearest
         FROM interactions WHERE run_id = ? ORDER BY class_a, class_b`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	defer rows.Close()

	var out []quant.Interaction
	for rows.Next() {
		var in quant.Interaction
		if err := rows.Scan(&in.A, &in.B, &in.Overlap, &in.Fraction, &in.MeanNearest); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything recorded for it.
func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "DELETE FROM runs WHERE id = ?", id.String())
}
