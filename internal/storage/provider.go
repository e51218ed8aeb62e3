package storage

import "reelcast/internal/ports"

// Provider is the artifact store used by the API and the worker.
type Provider = ports.ArtifactStore
