package main

import (
	"errors"
	"fmt"

	"github.com/witnz/clusterlog/internal/clusterlog"
	"github.com/witnz/clusterlog/internal/config"
	"github.com/witnz/clusterlog/internal/maintenance"
	"github.com/witnz/clusterlog/internal/pgdb"
	"github.com/witnz/clusterlog/internal/storage"
)

// databases holds every configured database in config order.
type databases struct {
	bolt     []*storage.Storage
	postgres []*pgdb.Database
	replicas []*pgdb.Database
	all      []clusterlog.Database
}

func openDatabases(cfg *config.Config) (*databases, error) {
	dbs := &databases{}

	for _, dbCfg := range cfg.Databases {
		switch dbCfg.Driver {
		case config.DriverPostgres:
			conn, repl := cfg.PostgresConnStrings(dbCfg)
			pg := pgdb.New(dbCfg.Name, conn, repl)
			dbs.postgres = append(dbs.postgres, pg)
			if dbCfg.Replication {
				dbs.replicas = append(dbs.replicas, pg)
			}
			dbs.all = append(dbs.all, pg)
		default:
			store, err := storage.Open(dbCfg.Name, cfg.BoltPath(dbCfg))
			if err != nil {
				dbs.Close()
				return nil, fmt.Errorf("failed to open database %s: %w", dbCfg.Name, err)
			}
			dbs.bolt = append(dbs.bolt, store)
			dbs.all = append(dbs.all, store)
		}
	}

	return dbs, nil
}

func (d *databases) store(name string) (*storage.Storage, error) {
	for _, s := range d.bolt {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no bolt database named %s", name)
}

func (d *databases) statsSources() []maintenance.StatsSource {
	sources := make([]maintenance.StatsSource, 0, len(d.bolt))
	for _, s := range d.bolt {
		sources = append(sources, s)
	}
	return sources
}

func (d *databases) replicationSources() []maintenance.ReplicationSource {
	sources := make([]maintenance.ReplicationSource, 0, len(d.replicas))
	for _, pg := range d.replicas {
		sources = append(sources, pg)
	}
	return sources
}

func (d *databases) Close() error {
	var errs []error
	for _, s := range d.bolt {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
