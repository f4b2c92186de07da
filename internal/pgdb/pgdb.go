package pgdb

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/witnz/clusterlog/internal/storage"
)

const userTablesQuery = `SELECT schemaname, relname FROM pg_stat_user_tables`

// Database reports on a PostgreSQL database. Every call opens its own
// short-lived connection.
type Database struct {
	name           string
	connString     string
	replConnString string
}

type ReplicationStatus struct {
	SystemID string
	Timeline int32
	XLogPos  string
	Database string
}

func New(name, connString, replConnString string) *Database {
	return &Database{
		name:           name,
		connString:     connString,
		replConnString: replConnString,
	}
}

func (d *Database) Name() string {
	return d.name
}

// Tables returns exact row counts for every user table.
func (d *Database) Tables(ctx context.Context) ([]storage.TableInfo, error) {
	conn, err := pgx.Connect(ctx, d.connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.name, err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, userTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	type relation struct{ schema, name string }
	var relations []relation
	for rows.Next() {
		var r relation
		if err := rows.Scan(&r.schema, &r.name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		relations = append(relations, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]storage.TableInfo, 0, len(relations))
	for _, r := range relations {
		ident := pgx.Identifier{r.schema, r.name}
		var count int64
		if err := conn.QueryRow(ctx, "SELECT count(*) FROM "+ident.Sanitize()).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", ident.Sanitize(), err)
		}
		tables = append(tables, storage.TableInfo{
			Name:  displayName(r.schema, r.name),
			Count: count,
		})
	}

	return tables, nil
}

// ReplicationStatus runs IDENTIFY_SYSTEM over a replication connection.
func (d *Database) ReplicationStatus(ctx context.Context) (*ReplicationStatus, error) {
	if d.replConnString == "" {
		return nil, fmt.Errorf("no replication connection configured for %s", d.name)
	}

	conn, err := pgconn.Connect(ctx, d.replConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to open replication connection: %w", err)
	}
	defer conn.Close(ctx)

	ident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to identify system: %w", err)
	}

	return &ReplicationStatus{
		SystemID: ident.SystemID,
		Timeline: ident.Timeline,
		XLogPos:  ident.XLogPos.String(),
		Database: ident.DBName,
	}, nil
}

func (s *ReplicationStatus) String() string {
	return fmt.Sprintf("system=%s timeline=%d xlogpos=%s database=%s",
		s.SystemID, s.Timeline, s.XLogPos, s.Database)
}

func displayName(schema, name string) string {
	if schema == "" || schema == "public" {
		return name
	}
	return schema + "." + name
}
