package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/ports"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Client implements ports.ArtifactStore on Google Drive. Logical folder paths
// such as "Dealers/Acme Motors" are resolved one segment at a time below the
// root folder; resolved ids are cached for the life of the client.
type Client struct {
	srv      *drive.Service
	folderID string

	mu       sync.Mutex
	folders  map[string]string
	createMu sync.Mutex
}

var _ ports.ArtifactStore = (*Client)(nil)

// NewClient roots every logical path at folderID ("root" when empty).
func NewClient(srv *drive.Service, folderID string) *Client {
	if folderID == "" {
		folderID = "root"
	}
	return &Client{srv: srv, folderID: folderID, folders: map[string]string{"": folderID}}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) List(ctx context.Context, folder string) ([]ports.Artifact, error) {
	folder = cleanPath(folder)
	id, err := c.resolveFolder(ctx, folder, false)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}

	var out []ports.Artifact
	q := fmt.Sprintf("'%s' in parents and mimeType != '%s' and trashed = false", escapeQuery(id), folderMimeType)
	err = c.srv.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name, webViewLink)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				out = append(out, ports.Artifact{ID: f.Id, Name: f.Name, Link: f.WebViewLink, Path: path.Join(folder, f.Name)})
			}
			return nil
		})
	if err != nil {
		return nil, driveError(err, "gdrive.List", "list folder")
	}
	return out, nil
}

func (c *Client) Put(ctx context.Context, in ports.PutArtifactInput) (ports.Artifact, error) {
	if in.Name == "" {
		return ports.Artifact{}, apperrors.ValidationField("name", "artifact name is required")
	}
	folder := cleanPath(in.Folder)
	parent, err := c.resolveFolder(ctx, folder, true)
	if err != nil {
		return ports.Artifact{}, err
	}

	call := c.srv.Files.Create(&drive.File{Name: in.Name, Parents: []string{parent}}).
		Fields("id, name, webViewLink").
		SupportsAllDrives(true)
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.Artifact{}, driveError(err, "gdrive.Put", "upload")
	}
	return ports.Artifact{ID: created.Id, Name: created.Name, Link: created.WebViewLink, Path: path.Join(folder, in.Name)}, nil
}

func (c *Client) Move(ctx context.Context, a ports.Artifact, folder string) error {
	from, err := c.resolveFolder(ctx, cleanPath(path.Dir(a.Path)), false)
	if err != nil {
		return err
	}
	to, err := c.resolveFolder(ctx, cleanPath(folder), true)
	if err != nil {
		return err
	}

	call := c.srv.Files.Update(a.ID, &drive.File{}).
		AddParents(to).
		SupportsAllDrives(true)
	if from != "" {
		call = call.RemoveParents(from)
	}
	if _, err := call.Context(ctx).Do(); err != nil {
		return driveError(err, "gdrive.Move", "move file")
	}
	return nil
}

// resolveFolder walks folder below the root. With create=false a missing
// segment yields "" and no error. c.mu guards only the id cache; Drive calls
// run unlocked except folder creation, which is serialized on createMu so two
// publishes into a new folder do not create it twice.
func (c *Client) resolveFolder(ctx context.Context, folder string, create bool) (string, error) {
	if id, ok := c.cached(folder); ok {
		return id, nil
	}

	parent := c.folderID
	walked := ""
	for _, seg := range strings.Split(folder, "/") {
		walked = path.Join(walked, seg)
		if id, ok := c.cached(walked); ok {
			parent = id
			continue
		}
		id, err := c.findFolder(ctx, parent, seg)
		if err != nil {
			return "", err
		}
		if id == "" {
			if !create {
				return "", nil
			}
			if id, err = c.createFolder(ctx, parent, seg, walked); err != nil {
				return "", err
			}
		}
		c.remember(walked, id)
		parent = id
	}
	return parent, nil
}

func (c *Client) createFolder(ctx context.Context, parent, name, walked string) (string, error) {
	c.createMu.Lock()
	defer c.createMu.Unlock()

	// Another caller may have created it while we waited.
	if id, ok := c.cached(walked); ok {
		return id, nil
	}
	id, err := c.findFolder(ctx, parent, name)
	if err != nil || id != "" {
		return id, err
	}
	created, err := c.srv.Files.Create(&drive.File{Name: name, MimeType: folderMimeType, Parents: []string{parent}}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", driveError(err, "gdrive.resolveFolder", "create folder "+walked)
	}
	c.remember(walked, created.Id)
	return created.Id, nil
}

func (c *Client) cached(folder string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.folders[folder]
	return id, ok
}

func (c *Client) remember(folder, id string) {
	c.mu.Lock()
	c.folders[folder] = id
	c.mu.Unlock()
}

func (c *Client) findFolder(ctx context.Context, parent, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parent), folderMimeType)
	res, err := c.srv.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", driveError(err, "gdrive.findFolder", "lookup folder "+name)
	}
	if len(res.Files) == 0 {
		return "", nil
	}
	return res.Files[0].Id, nil
}

// escapeQuery quotes a value for a Drive search string literal.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func cleanPath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// driveError marks quota and server failures retryable.
func driveError(err error, op, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.WrapWithCode(err, apperrors.CodeTimeout, op, msg)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500, gerr.Code == http.StatusForbidden && isRateLimit(gerr):
			return apperrors.Unavailable("gdrive", err).WithField("op", op)
		case gerr.Code == http.StatusNotFound:
			return apperrors.WrapWithCode(err, apperrors.CodeNotFound, op, msg)
		}
		return apperrors.Wrap(err, op, msg)
	}
	return apperrors.Unavailable("gdrive", err).WithField("op", op)
}

func isRateLimit(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
