package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/homeservice-dispatch/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS rides (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	technician_id TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	dest_lat      DOUBLE PRECISION NOT NULL,
	dest_lon      DOUBLE PRECISION NOT NULL,
	active        BOOLEAN NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS ride_pings (
	ride_id  TEXT NOT NULL,
	lat      DOUBLE PRECISION NOT NULL,
	lon      DOUBLE PRECISION NOT NULL,
	heading  DOUBLE PRECISION NOT NULL,
	at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (ride_id, at)
);`

// Execer is the subset of *sql.DB the store needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type PostgresStore struct {
	db Execer
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreWith(db Execer) *PostgresStore { return &PostgresStore{db: db} }

// Migrate creates the ride tables when missing.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, job_id, technician_id, user_id, dest_lat, dest_lon, active, started_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.JobID, r.TechnicianID, r.UserID, r.Destination.Lat, r.Destination.Lon, r.Active, r.StartedAt)
	return err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	var ended any
	if !r.EndedAt.IsZero() {
		ended = r.EndedAt
	}
	_, err := p.db.ExecContext(ctx, `UPDATE rides SET active=$1, ended_at=$2 WHERE id=$3`, r.Active, ended, r.ID)
	return err
}

// SavePing is idempotent per (ride, timestamp) so redelivered pings are safe.
func (p *PostgresStore) SavePing(ctx context.Context, pg models.Ping) error {
	at := pg.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_pings(ride_id, lat, lon, heading, at) VALUES($1,$2,$3,$4,$5) ON CONFLICT (ride_id, at) DO NOTHING`,
		pg.RideID, pg.Lat, pg.Lon, pg.Heading, at)
	return err
}
