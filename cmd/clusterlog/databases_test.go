package main

import (
	"context"
	"testing"

	"github.com/witnz/clusterlog/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Node: config.NodeConfig{ID: "node1", DataDir: t.TempDir()},
		Databases: []config.DatabaseConfig{
			{Name: "main"},
			{Name: "audit", Driver: config.DriverBolt},
			{Name: "warehouse", Driver: config.DriverPostgres},
		},
		Postgres: config.PostgresConfig{Host: "localhost", Port: 5432, Database: "app", User: "app"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestOpenDatabases(t *testing.T) {
	dbs, err := openDatabases(testConfig(t))
	if err != nil {
		t.Fatalf("openDatabases: %v", err)
	}
	defer dbs.Close()

	if len(dbs.bolt) != 2 {
		t.Errorf("expected 2 bolt databases, got %d", len(dbs.bolt))
	}
	if len(dbs.postgres) != 1 {
		t.Errorf("expected 1 postgres database, got %d", len(dbs.postgres))
	}

	var names []string
	for _, db := range dbs.all {
		names = append(names, db.Name())
	}
	want := []string{"main", "audit", "warehouse"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected config order %v, got %v", want, names)
			break
		}
	}

	if len(dbs.statsSources()) != 2 {
		t.Errorf("expected 2 stats sources, got %d", len(dbs.statsSources()))
	}
	if n := len(dbs.replicationSources()); n != 0 {
		t.Errorf("expected no replication sources without opt-in, got %d", n)
	}
}

func TestOpenDatabasesReplicationOptIn(t *testing.T) {
	cfg := &config.Config{
		Node: config.NodeConfig{ID: "node1", DataDir: t.TempDir()},
		Databases: []config.DatabaseConfig{
			{Name: "sales", Driver: config.DriverPostgres, Database: "sales"},
			{Name: "billing", Driver: config.DriverPostgres, Database: "billing", Replication: true},
		},
		Postgres: config.PostgresConfig{Host: "h", Port: 5432, User: "ro"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	dbs, err := openDatabases(cfg)
	if err != nil {
		t.Fatalf("openDatabases: %v", err)
	}
	defer dbs.Close()

	if len(dbs.postgres) != 2 {
		t.Fatalf("expected 2 postgres databases, got %d", len(dbs.postgres))
	}
	sources := dbs.replicationSources()
	if len(sources) != 1 || sources[0].Name() != "billing" {
		t.Errorf("expected only billing as replication source, got %d sources", len(sources))
	}
}

func TestDatabasesStore(t *testing.T) {
	dbs, err := openDatabases(testConfig(t))
	if err != nil {
		t.Fatalf("openDatabases: %v", err)
	}
	defer dbs.Close()

	store, err := dbs.store("main")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Put("users", "1", []byte("alice")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tables, err := store.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(tables) != 1 || tables[0].Count != 1 {
		t.Errorf("unexpected tables: %+v", tables)
	}

	if _, err := dbs.store("warehouse"); err == nil {
		t.Error("expected error for postgres database")
	}
	if _, err := dbs.store("missing"); err == nil {
		t.Error("expected error for unknown database")
	}
}
