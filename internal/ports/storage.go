package ports

import (
	"context"
	"io"
)

// Artifact is a stored file as the artifact store reports it.
type Artifact struct {
	// ID is the provider's handle: a Drive fileId, or the relative path on localfs.
	ID   string
	Name string
	Link string
	// Path is the logical folder path plus name, e.g. "Dealers/Acme Motors/Post 700_Acme Motors.mp4".
	Path string
}

type PutArtifactInput struct {
	// Folder is a logical, slash-separated folder path. Missing folders are created.
	Folder      string
	Name        string
	ContentType string
	Reader      io.Reader
	Size        int64
}

// ArtifactStore is durable file storage for finished renders. Implementations:
// localfs, gdrive.
type ArtifactStore interface {
	Provider() string

	// List returns the files directly inside folder. A missing folder is empty.
	List(ctx context.Context, folder string) ([]Artifact, error)
	Put(ctx context.Context, in PutArtifactInput) (Artifact, error)
	// Move relocates a into folder, keeping its name.
	Move(ctx context.Context, a Artifact, folder string) error
}
