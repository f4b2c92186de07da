package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/witnz/clusterlog/internal/logging"
)

const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"

	LogStoreBolt       = "bolt"
	LogStoreRaftBoltDB = "raft-boltdb"

	ClusterChannel = "cluster"
)

type Config struct {
	Node      NodeConfig       `mapstructure:"node"`
	Raft      RaftConfig       `mapstructure:"raft"`
	Databases []DatabaseConfig `mapstructure:"databases"`
	Postgres  PostgresConfig   `mapstructure:"postgres"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Tasks     TasksConfig      `mapstructure:"tasks"`
	Alerts    AlertsConfig     `mapstructure:"alerts"`
}

type NodeConfig struct {
	ID        string            `mapstructure:"id"`
	BindAddr  string            `mapstructure:"bind_addr"`
	DataDir   string            `mapstructure:"data_dir"`
	Bootstrap bool              `mapstructure:"bootstrap"`
	PeerAddrs map[string]string `mapstructure:"peer_addrs"`
}

type RaftConfig struct {
	Enabled                    bool   `mapstructure:"enabled"`
	LogStore                   string `mapstructure:"log_store"`
	LeadershipTransferInterval string `mapstructure:"leadership_transfer_interval"`
}

type DatabaseConfig struct {
	Name   string `mapstructure:"name"`
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`

	// postgres only. Database defaults to postgres.database; Replication
	// needs a role with the REPLICATION attribute.
	Database    string `mapstructure:"database"`
	Replication bool   `mapstructure:"replication"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type LoggingConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Channels map[string]string `mapstructure:"channels"`
}

type TasksConfig struct {
	ClusterLog TaskConfig `mapstructure:"cluster_log"`
}

type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type AlertsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("raft.log_store", LogStoreBolt)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("tasks.cluster_log.enabled", true)
	v.SetDefault("tasks.cluster_log.interval", "1m")
	v.SetDefault("postgres.port", 5432)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}
	if c.Raft.Enabled && c.Node.BindAddr == "" {
		return fmt.Errorf("node.bind_addr is required when raft is enabled")
	}

	if c.Raft.LogStore == "" {
		c.Raft.LogStore = LogStoreBolt
	}
	if c.Raft.LogStore != LogStoreBolt && c.Raft.LogStore != LogStoreRaftBoltDB {
		return fmt.Errorf("invalid raft.log_store: %s (valid options: %s, %s)",
			c.Raft.LogStore, LogStoreBolt, LogStoreRaftBoltDB)
	}
	if c.Raft.LeadershipTransferInterval != "" {
		if _, err := time.ParseDuration(c.Raft.LeadershipTransferInterval); err != nil {
			return fmt.Errorf("invalid raft.leadership_transfer_interval: %w", err)
		}
	}

	seen := make(map[string]bool)
	pgNames := make(map[string]string)
	for i := range c.Databases {
		db := &c.Databases[i]
		if db.Name == "" {
			return fmt.Errorf("databases[%d].name is required", i)
		}
		if seen[db.Name] {
			return fmt.Errorf("duplicate database name: %s", db.Name)
		}
		seen[db.Name] = true

		if db.Driver == "" {
			db.Driver = DriverBolt
		}
		switch db.Driver {
		case DriverBolt:
		case DriverPostgres:
			if db.Database == "" {
				db.Database = c.Postgres.Database
			}
			if c.Postgres.Host == "" || c.Postgres.User == "" || db.Database == "" {
				return fmt.Errorf("database %s uses postgres but postgres.host, postgres.user and a database name are not all set", db.Name)
			}
			if other, ok := pgNames[db.Database]; ok {
				return fmt.Errorf("databases %s and %s both point at postgres database %s", other, db.Name, db.Database)
			}
			pgNames[db.Database] = db.Name
		default:
			return fmt.Errorf("invalid driver for database %s: %s", db.Name, db.Driver)
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	for name, lvl := range c.Logging.Channels {
		if _, err := logging.ParseLevel(lvl); err != nil {
			return fmt.Errorf("invalid logging.channels.%s: %w", name, err)
		}
	}

	if c.Tasks.ClusterLog.Interval == "" {
		c.Tasks.ClusterLog.Interval = "1m"
	}
	interval, err := time.ParseDuration(c.Tasks.ClusterLog.Interval)
	if err != nil {
		return fmt.Errorf("invalid tasks.cluster_log.interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("tasks.cluster_log.interval must be positive")
	}

	return nil
}

// BoltPath resolves the file of a bolt database, defaulting to
// <data_dir>/<name>.db.
func (c *Config) BoltPath(db DatabaseConfig) string {
	if db.Path != "" {
		return db.Path
	}
	return filepath.Join(c.Node.DataDir, db.Name+".db")
}

func (c *Config) ClusterLogInterval() time.Duration {
	d, _ := time.ParseDuration(c.Tasks.ClusterLog.Interval)
	return d
}

func (c *Config) LeadershipTransferInterval() time.Duration {
	d, _ := time.ParseDuration(c.Raft.LeadershipTransferInterval)
	return d
}

func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	cfg.Channels = c.Logging.Channels
	return cfg
}

func (p *PostgresConfig) ConnectionString(dbname string) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		p.Host, p.Port, dbname, p.User, p.Password)
}

func (p *PostgresConfig) ReplicationConnectionString(dbname string) string {
	return p.ConnectionString(dbname) + " replication=database"
}

// PostgresConnStrings returns the query and replication connection strings
// of a postgres database entry. The replication string is empty unless the
// entry enables replication.
func (c *Config) PostgresConnStrings(db DatabaseConfig) (conn, repl string) {
	dbname := db.Database
	if dbname == "" {
		dbname = c.Postgres.Database
	}
	conn = c.Postgres.ConnectionString(dbname)
	if db.Replication {
		repl = c.Postgres.ReplicationConnectionString(dbname)
	}
	return conn, repl
}
