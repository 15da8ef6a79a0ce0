// Package metadatalog implements the cluster's leader-elected
// replicated metadata log (spec §4.6): term-numbered leader election
// over a fixed peer set, majority-quorum commit of file-put/delete and
// shard-replica-membership records, and the copy-on-write materialized
// view those records project into read-optimized form.
//
// No consensus library exists anywhere in the retrieval pack, so the
// election and replication state machine here is hand-rolled directly
// against the standard library, following the shape of the cluster's
// own RPC conventions (request/response structs, PostJSON transport)
// rather than any third-party Raft implementation.
package metadatalog

import "fmt"

// Open constructs a fully wired Log: its on-disk segment, its
// materialized view (badger-backed if viewDir is non-empty), and the
// election/replication state machine itself. segmentPath and viewDir
// may both be "" for an in-memory-only instance (tests).
func Open(cfg Config, segmentPath, viewDir string) (*Log, func() error, error) {
	var store *segmentStore
	if segmentPath != "" {
		s, err := openSegmentStore(segmentPath)
		if err != nil {
			return nil, nil, fmt.Errorf("metadatalog: opening log: %w", err)
		}
		store = s
	}

	view := cfg.View
	if view == nil {
		v, err := NewView(viewDir)
		if err != nil {
			if store != nil {
				store.Close()
			}
			return nil, nil, err
		}
		view = v
	}

	cfg.Store = store
	cfg.View = view
	l := New(cfg)

	closeFn := func() error {
		var err error
		if store != nil {
			err = store.Close()
		}
		if cerr := view.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
	return l, closeFn, nil
}
