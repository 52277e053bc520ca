package facedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/facegate/facegate/internal/config"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// descriptorDim is the dlib face descriptor length stored in the vector column.
const descriptorDim = 128

// PostgresStore keeps the collection in PostgreSQL with a pgvector column
// for encodings. Save replaces the variant's rows in one transaction and
// rows load back ordered by insertion id, so iteration order round-trips the
// same way as the file blob.
type PostgresStore struct {
	db      *sql.DB
	variant string
}

// NewPostgresStore opens a connection pool, verifies it, and ensures the
// schema exists. The variant keys this store's rows so the encoding and
// detection backends never cross-read.
func NewPostgresStore(cfg *config.DatabaseConfig, variant string) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{db: db, variant: variant}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS known_faces (
			id            BIGSERIAL PRIMARY KEY,
			variant       TEXT NOT NULL,
			name          TEXT NOT NULL,
			encoding      vector(%d),
			region_top    INTEGER,
			region_right  INTEGER,
			region_bottom INTEGER,
			region_left   INTEGER,
			added_at      TIMESTAMPTZ NOT NULL,
			UNIQUE (variant, name)
		)`, descriptorDim),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Load() ([]KnownFace, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, encoding, region_top, region_right, region_bottom, region_left, added_at
		FROM known_faces
		WHERE variant = $1
		ORDER BY id
	`, s.variant)
	if err != nil {
		return nil, fmt.Errorf("loading known faces: %w", err)
	}
	defer rows.Close()

	var faces []KnownFace
	for rows.Next() {
		var (
			face                     KnownFace
			encoding                 sql.NullString
			top, right, bottom, left sql.NullInt64
		)
		if err := rows.Scan(&face.Name, &encoding, &top, &right, &bottom, &left, &face.AddedAt); err != nil {
			return nil, fmt.Errorf("scanning known face: %w", err)
		}
		if encoding.Valid {
			var vec pgvector.Vector
			if err := vec.Scan([]byte(encoding.String)); err != nil {
				return nil, fmt.Errorf("parsing encoding for %s: %w", face.Name, err)
			}
			face.Encoding = vec.Slice()
		}
		if top.Valid {
			face.Region = &Region{
				Top:    int(top.Int64),
				Right:  int(right.Int64),
				Bottom: int(bottom.Int64),
				Left:   int(left.Int64),
			}
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading known faces: %w", err)
	}
	return faces, nil
}

func (s *PostgresStore) Save(faces []KnownFace) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM known_faces WHERE variant = $1`, s.variant); err != nil {
		return fmt.Errorf("clearing known faces: %w", err)
	}

	for _, face := range faces {
		var encoding any
		if len(face.Encoding) > 0 {
			encoding = pgvector.NewVector(face.Encoding)
		}
		var top, right, bottom, left any
		if face.Region != nil {
			top, right, bottom, left = face.Region.Top, face.Region.Right, face.Region.Bottom, face.Region.Left
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO known_faces (variant, name, encoding, region_top, region_right, region_bottom, region_left, added_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, s.variant, face.Name, encoding, top, right, bottom, left, face.AddedAt); err != nil {
			return fmt.Errorf("inserting %s: %w", face.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
