package metadatalog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dreamware/shardvault/internal/rpc"
)

// FileRecord is the materialized view's record for one uploaded file:
// its shard list and, per shard, the replica set it was written to at
// upload. Later ShardReplicaAdd/ShardReplicaRemove records update only
// the view's shard -> replica-set map (ShardReplicas), not this record.
// This is the read model the coordinator's search/list/download
// flows consult; it is never the source of truth — the committed log
// is — but it is kept durable so a restarted coordinator does not need
// to replay the entire log to serve reads.
type FileRecord struct {
	Owner     string             `json:"owner"`
	Name      string             `json:"name"`
	SizeBytes int64              `json:"size_bytes"`
	ShardIDs  []int64            `json:"shard_ids"`
	Replicas  map[int64][]string `json:"replicas"`
	CreatedAt time.Time          `json:"created_at"`
}

// View is the copy-on-write materialized view over the committed
// metadata log: owner/file -> shards, and shard -> replica set.
// Readers always get an independent copy, never a handle into live
// state, so a coordinator request can range over a snapshot while the
// apply loop keeps advancing.
type View struct {
	mu    sync.RWMutex
	files map[string]FileRecord // key: owner + "/" + name
	shard map[int64][]string    // shard id -> replica node ids

	db *badger.DB // local persistence only; nil disables durability (tests)
}

// NewView constructs an empty view, optionally backed by a badger
// database at dir for durability across restarts. Passing "" keeps the
// view in memory only.
func NewView(dir string) (*View, error) {
	v := &View{
		files: make(map[string]FileRecord),
		shard: make(map[int64][]string),
	}
	if dir == "" {
		return v, nil
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("metadatalog: opening view store: %w", err)
	}
	v.db = db
	if err := v.loadFromDB(); err != nil {
		db.Close()
		return nil, err
	}
	return v, nil
}

// Close releases the underlying badger database, if any.
func (v *View) Close() error {
	if v.db == nil {
		return nil
	}
	return v.db.Close()
}

func fileKey(owner, name string) string { return owner + "/" + name }

func (v *View) loadFromDB() error {
	return v.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(val []byte) error {
				if len(key) > 5 && key[:5] == "file:" {
					var rec FileRecord
					if err := json.Unmarshal(val, &rec); err != nil {
						return err
					}
					v.files[fileKey(rec.Owner, rec.Name)] = rec
				} else if len(key) > 6 && key[:6] == "shard:" {
					var replicas []string
					if err := json.Unmarshal(val, &replicas); err != nil {
						return err
					}
					var shardID int64
					fmt.Sscanf(key[6:], "%d", &shardID)
					v.shard[shardID] = replicas
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Apply advances the view over one committed log entry. It is only
// ever called by the log's apply loop, after commit and idempotency
// dedup, so it never needs to itself be idempotent against replays of
// the same entry — but it is safe to call twice regardless, since each
// operation is a plain upsert.
func (v *View) Apply(entry rpc.LogEntry) error {
	switch entry.Kind {
	case rpc.EntryFilePut:
		var p rpc.FilePutPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("metadatalog: decoding file_put payload: %w", err)
		}
		return v.applyFilePut(p)
	case rpc.EntryFileDelete:
		var p rpc.FileDeletePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("metadatalog: decoding file_delete payload: %w", err)
		}
		return v.applyFileDelete(p)
	case rpc.EntryShardReplicaAdd:
		var p rpc.ShardReplicaAddPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("metadatalog: decoding shard_replica_add payload: %w", err)
		}
		return v.applyReplicaAdd(p)
	case rpc.EntryShardReplicaRemove:
		var p rpc.ShardReplicaRemovePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("metadatalog: decoding shard_replica_remove payload: %w", err)
		}
		return v.applyReplicaRemove(p)
	default:
		return fmt.Errorf("metadatalog: unknown entry kind %q", entry.Kind)
	}
}

func (v *View) applyFilePut(p rpc.FilePutPayload) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec := FileRecord{
		Owner: p.Owner, Name: p.Name, SizeBytes: p.SizeBytes,
		ShardIDs: p.ShardIDs, Replicas: p.Replicas, CreatedAt: p.CreatedAt,
	}
	v.files[fileKey(p.Owner, p.Name)] = rec
	for shardID, replicas := range p.Replicas {
		v.shard[shardID] = append([]string(nil), replicas...)
	}
	return v.persistFile(rec)
}

func (v *View) applyFileDelete(p rpc.FileDeletePayload) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := fileKey(p.Owner, p.Name)
	delete(v.files, key)
	if v.db == nil {
		return nil
	}
	return v.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("file:" + key))
	})
}

func (v *View) applyReplicaAdd(p rpc.ShardReplicaAddPayload) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range v.shard[p.ShardID] {
		if id == p.NodeID {
			return nil // already present, no-op per the idempotent-repair contract
		}
	}
	v.shard[p.ShardID] = append(v.shard[p.ShardID], p.NodeID)
	return v.persistShard(p.ShardID)
}

func (v *View) applyReplicaRemove(p rpc.ShardReplicaRemovePayload) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	replicas := v.shard[p.ShardID]
	out := replicas[:0]
	for _, id := range replicas {
		if id != p.NodeID {
			out = append(out, id)
		}
	}
	v.shard[p.ShardID] = out
	return v.persistShard(p.ShardID)
}

func (v *View) persistFile(rec FileRecord) error {
	if v.db == nil {
		return nil
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return v.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("file:"+fileKey(rec.Owner, rec.Name)), buf)
	})
}

func (v *View) persistShard(shardID int64) error {
	if v.db == nil {
		return nil
	}
	buf, err := json.Marshal(v.shard[shardID])
	if err != nil {
		return err
	}
	return v.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fmt.Sprintf("shard:%d", shardID)), buf)
	})
}

// File returns a copy of the record for owner/name, if present.
func (v *View) File(owner, name string) (FileRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.files[fileKey(owner, name)]
	if !ok {
		return FileRecord{}, false
	}
	return copyFileRecord(rec), true
}

// ListFiles returns a copy of every file owned by owner.
func (v *View) ListFiles(owner string) []FileRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []FileRecord
	for _, rec := range v.files {
		if rec.Owner == owner {
			out = append(out, copyFileRecord(rec))
		}
	}
	return out
}

// SearchFiles returns a copy of every file owned by owner whose name
// has the given prefix.
func (v *View) SearchFiles(owner, prefix string) []FileRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []FileRecord
	for _, rec := range v.files {
		if rec.Owner == owner && hasPrefix(rec.Name, prefix) {
			out = append(out, copyFileRecord(rec))
		}
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ShardReplicas returns a copy of the replica set currently recorded
// for shardID.
func (v *View) ShardReplicas(shardID int64) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.shard[shardID]...)
}

// AllShardReplicas returns a copy of the full shard -> replica-set map.
func (v *View) AllShardReplicas() map[int64][]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[int64][]string, len(v.shard))
	for id, replicas := range v.shard {
		out[id] = append([]string(nil), replicas...)
	}
	return out
}

func copyFileRecord(rec FileRecord) FileRecord {
	out := rec
	out.ShardIDs = append([]int64(nil), rec.ShardIDs...)
	out.Replicas = make(map[int64][]string, len(rec.Replicas))
	for id, replicas := range rec.Replicas {
		out.Replicas[id] = append([]string(nil), replicas...)
	}
	return out
}
