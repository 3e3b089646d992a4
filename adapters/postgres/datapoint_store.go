package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
	"protosignal/ports"
)

// DataPointStoreImpl reads the collection subsystem's validated submissions.
// Read-only by contract: the engine never writes data points. Failures wrap
// core.ErrStoreUnavailable so the cache retry policy recognizes them.
type DataPointStoreImpl struct {
	db *sqlx.DB
}

// NewDataPointStore creates a new PostgreSQL data point store
func NewDataPointStore(db *sqlx.DB) ports.DataPointStorePort {
	return &DataPointStoreImpl{db: db}
}

// Fetch returns every validated data point for the protocol in recording order
func (s *DataPointStoreImpl) Fetch(ctx context.Context, protocolID core.ProtocolID) ([]analysis.DataPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, protocol_id, participant_id, type, payload, recorded_at, quality_flags
		FROM data_points
		WHERE protocol_id = $1
		ORDER BY recorded_at, id`,
		protocolID.String())
	if err != nil {
		return nil, core.NewStoreError(err)
	}
	defer rows.Close()

	var points []analysis.DataPoint
	for rows.Next() {
		var (
			p          analysis.DataPoint
			id         string
			proto      string
			part       string
			kind       string
			payload    []byte
			recordedAt time.Time
			flags      pq.StringArray
		)
		if err := rows.Scan(&id, &proto, &part, &kind, &payload, &recordedAt, &flags); err != nil {
			return nil, core.NewStoreError(err)
		}

		p.ID = core.DataPointID(id)
		p.ProtocolID = core.ProtocolID(proto)
		p.ParticipantID = core.ParticipantID(part)
		p.Type = analysis.DataPointType(kind)
		p.RecordedAt = core.NewTimestamp(recordedAt)
		p.QualityFlags = flags

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p.Payload); err != nil {
				return nil, core.NewStoreError(err)
			}
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStoreError(err)
	}
	return points, nil
}

// LatestRecordedAt returns the newest recording timestamp, or a zero
// timestamp for a protocol with no data yet
func (s *DataPointStoreImpl) LatestRecordedAt(ctx context.Context, protocolID core.ProtocolID) (core.Timestamp, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT max(recorded_at) FROM data_points WHERE protocol_id = $1`,
		protocolID.String()).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !latest.Valid) {
		return core.Timestamp{}, nil
	}
	if err != nil {
		return core.Timestamp{}, core.NewStoreError(err)
	}
	return core.NewTimestamp(latest.Time), nil
}
