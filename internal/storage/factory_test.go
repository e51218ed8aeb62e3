package storage

import (
	"context"
	"testing"

	"reelcast/internal/config"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, config.StorageConfig{Provider: "localfs", LocalRoot: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if p.Provider() != "localfs" {
		t.Errorf("provider = %s", p.Provider())
	}

	if _, err := NewProvider(ctx, config.StorageConfig{Provider: "s3"}); err == nil {
		t.Error("unknown provider should fail")
	}
	if _, err := NewProvider(ctx, config.StorageConfig{Provider: "gdrive"}); err == nil {
		t.Error("gdrive without credentials should fail")
	}
}
