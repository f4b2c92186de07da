package consensus

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/witnz/clusterlog/internal/storage"
)

// FSM applies replicated row mutations to the local named databases.
type FSM struct {
	mu        sync.RWMutex
	databases map[string]*storage.Storage
}

func NewFSM(stores ...*storage.Storage) *FSM {
	databases := make(map[string]*storage.Storage, len(stores))
	for _, s := range stores {
		databases[s.Name()] = s
	}
	return &FSM{
		databases: databases,
	}
}

func (f *FSM) Apply(log *raft.Log) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var entry LogEntry
	if err := json.Unmarshal(log.Data, &entry); err != nil {
		return fmt.Errorf("failed to unmarshal log entry: %w", err)
	}

	store, ok := f.databases[entry.Database]
	if !ok {
		return fmt.Errorf("%s: %w", entry.Database, ErrUnknownDB)
	}

	switch entry.Type {
	case LogEntryPut:
		return store.Put(entry.Table, entry.Key, entry.Value)
	case LogEntryDelete:
		return store.Delete(entry.Table, entry.Key)
	default:
		return fmt.Errorf("unknown log entry type: %s", entry.Type)
	}
}

type fsmState struct {
	Databases map[string]storage.Snapshot `json:"databases"`
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state := fsmState{Databases: make(map[string]storage.Snapshot, len(f.databases))}
	for name, store := range f.databases {
		snap, err := store.Export()
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", name, err)
		}
		state.Databases[name] = snap
	}

	return &fsmSnapshot{state: state}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer rc.Close()

	var state fsmState
	if err := json.NewDecoder(rc).Decode(&state); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	// databases missing from the snapshot are restored empty
	for name, store := range f.databases {
		if err := store.Import(state.Databases[name]); err != nil {
			return fmt.Errorf("failed to restore %s: %w", name, err)
		}
	}

	return nil
}

type fsmSnapshot struct {
	state fsmState
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.state); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {
}
