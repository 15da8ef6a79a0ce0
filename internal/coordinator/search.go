package coordinator

import (
	"github.com/dreamware/shardvault/internal/metadatalog"
	"github.com/dreamware/shardvault/internal/rpc"
)

func toListResponse(files []metadatalog.FileRecord) rpc.ListResponse {
	out := rpc.ListResponse{Files: make([]rpc.FileSummary, 0, len(files))}
	for _, f := range files {
		out.Files = append(out.Files, rpc.FileSummary{
			Owner: f.Owner, Name: f.Name, SizeBytes: f.SizeBytes,
			ShardIDs: f.ShardIDs, CreatedAt: f.CreatedAt,
		})
	}
	return out
}

// List returns every file owned by owner, as recorded in the
// materialized view — a pure read against committed state, no RPCs.
func (c *Coordinator) List(owner string) []metadatalog.FileRecord {
	if c.log == nil || c.log.View() == nil {
		return nil
	}
	return c.log.View().ListFiles(owner)
}

// Search returns every file owned by owner whose name starts with
// prefix.
func (c *Coordinator) Search(owner, prefix string) []metadatalog.FileRecord {
	if c.log == nil || c.log.View() == nil {
		return nil
	}
	return c.log.View().SearchFiles(owner, prefix)
}
