package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/florinutz/deltashare/internal/migrate"
	"github.com/florinutz/deltashare/sharingerr"
)

// PGStore is a Registry backed by the deltashare_shared_tables table. A
// share or schema exists while at least one table row references it.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore connects a pool to the database. Call Init before first use on
// a fresh database.
func NewPGStore(ctx context.Context, connString string, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect registry database: %w", err)
	}
	return &PGStore{
		pool:   pool,
		logger: logger.With("component", "registry_pg"),
	}, nil
}

// Init applies the registry migrations.
func (s *PGStore) Init(ctx context.Context) error {
	return migrate.Run(ctx, s.pool, s.logger)
}

// Ping checks database connectivity; used for readiness.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) Close() {
	s.pool.Close()
}

// Put inserts or updates a table. Empty IDs get their defaults.
func (s *PGStore) Put(ctx context.Context, t Table) (Table, error) {
	if t.Share == "" || t.Schema == "" || t.Name == "" || t.Location == "" {
		return Table{}, &sharingerr.InvalidRequestError{Field: "table", Reason: "share, schema, name and location are required"}
	}
	t.ShareID = cmp.Or(t.ShareID, DefaultShareID(t.Share))
	t.ID = cmp.Or(t.ID, DefaultTableID(t.Share, t.Schema, t.Name))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deltashare_shared_tables (share_name, schema_name, table_name, table_id, share_id, location)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (share_name, schema_name, table_name)
		DO UPDATE SET table_id = EXCLUDED.table_id, share_id = EXCLUDED.share_id, location = EXCLUDED.location`,
		t.Share, t.Schema, t.Name, t.ID, t.ShareID, t.Location,
	)
	if err != nil {
		return Table{}, fmt.Errorf("put table %s: %w", t.FullName(), err)
	}
	s.logger.Info("table registered", "table", t.FullName(), "id", t.ID, "location", t.Location)
	return t, nil
}

// Delete removes a table, reporting whether it existed.
func (s *PGStore) Delete(ctx context.Context, share, schema, table string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM deltashare_shared_tables WHERE share_name = $1 AND schema_name = $2 AND table_name = $3`,
		share, schema, table,
	)
	if err != nil {
		return false, fmt.Errorf("delete table %s.%s.%s: %w", share, schema, table, err)
	}
	return tag.RowsAffected() > 0, nil
}

const tableColumns = `table_name, schema_name, share_name, share_id, table_id, location`

func scanTable(row pgx.CollectableRow) (Table, error) {
	var t Table
	err := row.Scan(&t.Name, &t.Schema, &t.Share, &t.ShareID, &t.ID, &t.Location)
	return t, err
}

func (s *PGStore) Lookup(ctx context.Context, share, schema, table string) (Table, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT `+tableColumns+` FROM deltashare_shared_tables
		 WHERE share_name = $1 AND schema_name = $2 AND table_name = $3`,
		share, schema, table,
	)
	t, err := pgx.CollectExactlyOneRow(rows, scanTable)
	if errors.Is(err, pgx.ErrNoRows) {
		return Table{}, s.notFound(ctx, share, schema, table)
	}
	if err != nil {
		return Table{}, fmt.Errorf("lookup table: %w", err)
	}
	return t, nil
}

// notFound names the outermost missing level.
func (s *PGStore) notFound(ctx context.Context, share, schema, table string) error {
	if ok, err := s.exists(ctx, `share_name = $1`, share); err != nil {
		return err
	} else if !ok {
		return &sharingerr.NotFoundError{Kind: "share", Name: share}
	}
	if schema != "" {
		if ok, err := s.exists(ctx, `share_name = $1 AND schema_name = $2`, share, schema); err != nil {
			return err
		} else if !ok {
			return &sharingerr.NotFoundError{Kind: "schema", Name: share + "." + schema}
		}
	}
	if table == "" {
		return nil
	}
	return &sharingerr.NotFoundError{Kind: "table", Name: share + "." + schema + "." + table}
}

func (s *PGStore) exists(ctx context.Context, where string, args ...any) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deltashare_shared_tables WHERE `+where+`)`, args...).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check registry: %w", err)
	}
	return ok, nil
}

func (s *PGStore) Shares(ctx context.Context) ([]Share, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT share_name, min(share_id) FROM deltashare_shared_tables GROUP BY share_name ORDER BY share_name`)
	shares, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Share, error) {
		var sh Share
		err := row.Scan(&sh.Name, &sh.ID)
		return sh, err
	})
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return shares, nil
}

func (s *PGStore) Share(ctx context.Context, name string) (Share, error) {
	sh := Share{Name: name}
	err := s.pool.QueryRow(ctx,
		`SELECT min(share_id) FROM deltashare_shared_tables WHERE share_name = $1 HAVING count(*) > 0`, name,
	).Scan(&sh.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Share{}, &sharingerr.NotFoundError{Kind: "share", Name: name}
	}
	if err != nil {
		return Share{}, fmt.Errorf("get share: %w", err)
	}
	return sh, nil
}

func (s *PGStore) Schemas(ctx context.Context, share string) ([]Schema, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT DISTINCT schema_name FROM deltashare_shared_tables WHERE share_name = $1 ORDER BY schema_name`, share)
	schemas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Schema, error) {
		sc := Schema{Share: share}
		err := row.Scan(&sc.Name)
		return sc, err
	})
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	if len(schemas) == 0 {
		return nil, &sharingerr.NotFoundError{Kind: "share", Name: share}
	}
	return schemas, nil
}

func (s *PGStore) Tables(ctx context.Context, share, schema string) ([]Table, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT `+tableColumns+` FROM deltashare_shared_tables
		 WHERE share_name = $1 AND schema_name = $2 ORDER BY table_name`, share, schema)
	tables, err := pgx.CollectRows(rows, scanTable)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, s.notFound(ctx, share, schema, "")
	}
	return tables, nil
}

func (s *PGStore) AllTables(ctx context.Context, share string) ([]Table, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT `+tableColumns+` FROM deltashare_shared_tables
		 WHERE share_name = $1 ORDER BY schema_name, table_name`, share)
	tables, err := pgx.CollectRows(rows, scanTable)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, &sharingerr.NotFoundError{Kind: "share", Name: share}
	}
	return tables, nil
}
