package consensus

import (
	"errors"
	"time"
)

var (
	ErrNotLeader      = errors.New("not the leader")
	ErrNotInitialized = errors.New("raft not initialized")
	ErrUnknownDB      = errors.New("unknown database")
)

type LogEntryType string

const (
	LogEntryPut    LogEntryType = "put"
	LogEntryDelete LogEntryType = "delete"
)

// LogEntry is a single replicated row mutation.
type LogEntry struct {
	Type      LogEntryType `json:"type"`
	Database  string       `json:"database"`
	Table     string       `json:"table"`
	Key       string       `json:"key"`
	Value     []byte       `json:"value,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type ServerInfo struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Suffrage string `json:"suffrage"`
	Leader   bool   `json:"leader"`
}
