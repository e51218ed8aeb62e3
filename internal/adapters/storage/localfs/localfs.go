package localfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/ports"
)

// LocalFS implements ports.ArtifactStore on the local filesystem. Logical
// folder paths map to directories under root; an artifact's ID is its
// slash-separated path relative to root.
type LocalFS struct {
	root string
}

var _ ports.ArtifactStore = (*LocalFS)(nil)

func New(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) List(ctx context.Context, folder string) ([]ports.Artifact, error) {
	rel, dir, err := l.resolve(folder)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "localfs.List", "read dir")
	}
	var out []ports.Artifact
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, l.artifact(path.Join(rel, e.Name())))
	}
	return out, nil
}

// Put writes through a temp file and renames it into place, so a reader never
// sees a partial artifact.
func (l *LocalFS) Put(ctx context.Context, in ports.PutArtifactInput) (ports.Artifact, error) {
	const op = "localfs.Put"
	if in.Name == "" || strings.ContainsAny(in.Name, `/\`) {
		return ports.Artifact{}, apperrors.ValidationField("name", "artifact name must be a plain file name")
	}
	rel, dir, err := l.resolve(in.Folder)
	if err != nil {
		return ports.Artifact{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ports.Artifact{}, apperrors.Wrap(err, op, "create folder")
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return ports.Artifact{}, apperrors.Wrap(err, op, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in.Reader); err != nil {
		tmp.Close()
		return ports.Artifact{}, apperrors.Wrap(err, op, "write")
	}
	if err := tmp.Close(); err != nil {
		return ports.Artifact{}, apperrors.Wrap(err, op, "close")
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, in.Name)); err != nil {
		return ports.Artifact{}, apperrors.Wrap(err, op, "rename")
	}
	return l.artifact(path.Join(rel, in.Name)), nil
}

func (l *LocalFS) Move(ctx context.Context, a ports.Artifact, folder string) error {
	const op = "localfs.Move"
	_, src, err := l.resolve(a.ID)
	if err != nil {
		return err
	}
	_, dir, err := l.resolve(folder)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(err, op, "create folder")
	}
	if err := os.Rename(src, filepath.Join(dir, filepath.Base(src))); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.NotFound("artifact", a.ID)
		}
		return apperrors.Wrap(err, op, "rename")
	}
	return nil
}

func (l *LocalFS) artifact(rel string) ports.Artifact {
	abs, _ := filepath.Abs(filepath.Join(l.root, filepath.FromSlash(rel)))
	return ports.Artifact{
		ID:   rel,
		Name: path.Base(rel),
		Link: "file://" + filepath.ToSlash(abs),
		Path: rel,
	}
}

// resolve cleans a logical path and maps it under root. Paths cannot
// climb out of root.
func (l *LocalFS) resolve(logical string) (rel, abs string, err error) {
	rel = strings.Trim(path.Clean("/"+filepath.ToSlash(logical)), "/")
	abs = filepath.Join(l.root, filepath.FromSlash(rel))
	if r, err := filepath.Rel(l.root, abs); err != nil || strings.HasPrefix(r, "..") {
		return "", "", apperrors.ValidationField("path", "path escapes storage root")
	}
	return rel, abs, nil
}
