package drivetree

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dtnitsch/drive-ocr/models"
	"github.com/dtnitsch/drive-ocr/pkg/retry"
)

// Unbounded tells the walker to recurse without a depth limit.
const Unbounded = 0

// Walker enumerates every descendant leaf of a root folder. Folders are
// traversed, not emitted. Emission order is an implementation detail;
// consumers must not rely on it.
type Walker struct {
	store    Store
	policy   retry.Policy
	logger   *slog.Logger
	maxDepth int

	unclassified int
}

func NewWalker(store Store, policy retry.Policy, maxDepth int, logger *slog.Logger) *Walker {
	return &Walker{store: store, policy: policy, logger: logger, maxDepth: maxDepth}
}

// Walk sends a descriptor for every leaf under rootID to out. Page listing
// failures are retried with backoff; once retries are exhausted the whole
// walk fails, because a partially listed tree cannot be trusted. The caller
// owns out and closes it after Walk returns.
func (w *Walker) Walk(ctx context.Context, rootID string, out chan<- models.Descriptor) error {
	if err := w.walkFolder(ctx, rootID, nil, 1, out); err != nil {
		return fmt.Errorf("walk of %s failed: %w", rootID, err)
	}
	if w.unclassified > 0 {
		w.logger.Warn("Walk finished with unclassified nodes skipped", "count", w.unclassified)
	}
	return nil
}

// Unclassified reports how many nodes could not be classified as folder or
// fetchable file and were skipped.
func (w *Walker) Unclassified() int { return w.unclassified }

func (w *Walker) walkFolder(ctx context.Context, folderID string, path []string, depth int, out chan<- models.Descriptor) error {
	pageToken := ""
	for {
		var nodes []Node
		var next string
		_, err := w.policy.Do(ctx, w.logger, "drive.list", func() error {
			var listErr error
			nodes, next, listErr = w.store.ListChildren(ctx, folderID, pageToken)
			return listErr
		})
		if err != nil {
			return err
		}

		for _, n := range nodes {
			switch {
			case n.MimeType == models.FolderMimeType:
				if w.maxDepth != Unbounded && depth >= w.maxDepth {
					w.logger.Info("Depth limit reached, not descending", "folder", n.Name, "depth", depth)
					continue
				}
				if err := w.walkFolder(ctx, n.ID, append(append([]string{}, path...), n.Name), depth+1, out); err != nil {
					return err
				}
			case !fetchable(n):
				w.unclassified++
				w.logger.Warn("Skipping unclassified node", "id", n.ID, "name", n.Name, "mime_type", n.MimeType)
			default:
				desc := models.Descriptor{
					ID:           n.ID,
					Name:         n.Name,
					Path:         path,
					MimeType:     n.MimeType,
					Size:         n.Size,
					ModifiedTime: n.ModifiedTime,
					ParentID:     folderID,
				}
				select {
				case out <- desc:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		if next == "" {
			return nil
		}
		pageToken = next
	}
}

// fetchable reports whether the node has downloadable bytes. Google-native
// documents (docs, sheets, ...) have no media to fetch and would need an
// export flow this tool does not implement.
func fetchable(n Node) bool {
	if n.ID == "" || n.MimeType == "" {
		return false
	}
	return !strings.HasPrefix(n.MimeType, "application/vnd.google-apps.")
}
