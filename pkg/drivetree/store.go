// Package drivetree walks a Google Drive folder hierarchy into a flat
// sequence of document descriptors.
package drivetree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dtnitsch/drive-ocr/pkg/retry"
)

// Node is one child entry returned by a listing page.
type Node struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	ModifiedTime time.Time
}

// Store is the boundary to the remote tree: paginated child listing and
// byte fetching. Tests substitute a fake; production uses Drive v3.
type Store interface {
	ListChildren(ctx context.Context, folderID, pageToken string) (nodes []Node, nextPageToken string, err error)
	FetchBytes(ctx context.Context, id string) ([]byte, error)
}

// DriveStore implements Store against the Drive v3 API.
type DriveStore struct {
	svc *drive.Service
}

// NewDriveStore builds a read-only Drive client. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS when set, otherwise application default
// credentials.
func NewDriveStore(ctx context.Context) (*DriveStore, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &DriveStore{svc: svc}, nil
}

func (s *DriveStore) ListChildren(ctx context.Context, folderID, pageToken string) ([]Node, string, error) {
	call := s.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
		Fields("nextPageToken, files(id, name, mimeType, size, modifiedTime)").
		PageSize(1000).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, "", classify("drive.list", err)
	}
	nodes := make([]Node, 0, len(resp.Files))
	for _, f := range resp.Files {
		var modified time.Time
		if f.ModifiedTime != "" {
			modified, _ = time.Parse(time.RFC3339, f.ModifiedTime)
		}
		nodes = append(nodes, Node{
			ID:           f.Id,
			Name:         f.Name,
			MimeType:     f.MimeType,
			Size:         f.Size,
			ModifiedTime: modified,
		})
	}
	return nodes, resp.NextPageToken, nil
}

func (s *DriveStore) FetchBytes(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, classify("drive.get", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient("drive.get", err)
	}
	return data, nil
}

// classify maps Drive API failures onto the retry taxonomy: quota and
// server errors are transient, auth failures are fatal, a vanished node is
// permanent for that node.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 429 || gerr.Code >= 500:
			return retry.Transient(op, err)
		case gerr.Code == 401 || gerr.Code == 403:
			return retry.Fatal(op, err)
		case gerr.Code == 404:
			return retry.Permanent(op, err)
		}
		return retry.Permanent(op, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return retry.Transient(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient(op, err)
	}
	return retry.Transient(op, err)
}
