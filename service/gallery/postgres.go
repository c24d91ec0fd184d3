package gallery

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/khaledhikmat/fr-go/model"
	"golang.org/x/xerrors"
)

// Postgres keeps the gallery in a known_faces table. A name may own several
// descriptors.
type Postgres struct {
	conn *pgx.Conn
}

// NewPostgres connects and makes sure the schema exists.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, xerrors.Errorf("connect gallery database: %w", err)
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, xerrors.Errorf("failed to initialize gallery schema: %w", err)
	}

	return &Postgres{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS known_faces (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			descriptor REAL[] NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS known_faces_name_idx ON known_faces (name);
	`)
	return err
}

func (s *Postgres) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

func (s *Postgres) Identities(ctx context.Context) ([]model.Identity, error) {
	rows, err := s.conn.Query(ctx, `SELECT name, descriptor FROM known_faces ORDER BY id`)
	if err != nil {
		return nil, xerrors.Errorf("query known faces: %w", err)
	}

	identities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Identity, error) {
		var id model.Identity
		err := row.Scan(&id.Name, &id.Descriptor)
		return id, err
	})
	if err != nil {
		return nil, xerrors.Errorf("scan known faces: %w", err)
	}

	return usable(identities), nil
}

// Import inserts every usable identity in one transaction and returns how many
// were written.
func (s *Postgres) Import(ctx context.Context, identities []model.Identity) (int, error) {
	kept := usable(identities)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, id := range kept {
		batch.Queue(`INSERT INTO known_faces (name, descriptor) VALUES ($1, $2)`, id.Name, id.Descriptor)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, xerrors.Errorf("insert known faces: %w", err)
	}

	return len(kept), tx.Commit(ctx)
}

// Reset drops the gallery table.
func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS known_faces CASCADE`)
	return err
}
