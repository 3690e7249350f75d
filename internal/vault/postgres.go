package vault

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/efreitasn/stockshares/internal/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore is a Store in a PostgreSQL table shared by every node of
// the process; rows are scoped by node name.
type PostgresStore struct {
	db   *sqlx.DB
	node string
}

// OpenPostgres connects to dsn and applies pending migrations.
func OpenPostgres(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	src := &migrate.EmbedFileSystemMigrationSource{FileSystem: migrations, Root: "migrations"}
	if _, err := migrate.Exec(db, "postgres", src, migrate.Up); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// NewPostgresStore returns the store for one node. Closing it does not
// close db.
func NewPostgresStore(db *sqlx.DB, node string) *PostgresStore {
	return &PostgresStore{db: db, node: node}
}

type stateRow struct {
	TxID  string `db:"tx_id"`
	Index int    `db:"output_index"`
	State []byte `db:"state"`
}

func (s *PostgresStore) Record(ctx context.Context, produced []ledger.StateAndRef, consumed []ledger.StateRef) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting vault transaction: %w", err)
	}
	defer tx.Rollback()

	for _, sr := range produced {
		b, err := json.Marshal(sr.State)
		if err != nil {
			return fmt.Errorf("encoding state %s: %w", sr.Ref, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO vault_states (node, tx_id, output_index, kind, state)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (node, tx_id, output_index) DO NOTHING`,
			s.node, string(sr.Ref.TxID), sr.Ref.Index, string(sr.State.Kind()), b)
		if err != nil {
			return fmt.Errorf("inserting state %s: %w", sr.Ref, err)
		}
	}
	for _, ref := range consumed {
		_, err := tx.ExecContext(ctx,
			`UPDATE vault_states SET consumed = TRUE
			 WHERE node = $1 AND tx_id = $2 AND output_index = $3`,
			s.node, string(ref.TxID), ref.Index)
		if err != nil {
			return fmt.Errorf("consuming state %s: %w", ref, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Unconsumed(ctx context.Context, kind ledger.StateKind) ([]ledger.StateAndRef, error) {
	var rows []stateRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT tx_id, output_index, state FROM vault_states
		 WHERE node = $1 AND kind = $2 AND NOT consumed
		 ORDER BY tx_id, output_index`,
		s.node, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying %s states: %w", kind, err)
	}
	out := make([]ledger.StateAndRef, 0, len(rows))
	for _, r := range rows {
		var st ledger.TransactionState
		if err := json.Unmarshal(r.State, &st); err != nil {
			return nil, fmt.Errorf("decoding state %s:%d: %w", r.TxID, r.Index, err)
		}
		out = append(out, ledger.StateAndRef{State: st, Ref: ledger.StateRef{TxID: ledger.SecureHash(r.TxID), Index: r.Index}})
	}
	return out, nil
}

func (s *PostgresStore) Close() error { return nil }
