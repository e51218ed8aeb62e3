package storage

import (
	"context"
	"fmt"

	"reelcast/internal/adapters/storage/gdrive"
	"reelcast/internal/adapters/storage/localfs"
	"reelcast/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// NewProvider builds the artifact store named by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("storage: local_root is required for localfs")
		}
		return localfs.New(cfg.LocalRoot), nil
	case "gdrive":
		return newGDriveProvider(ctx, cfg.GDrive)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

// Dealer folders are created outside this service, so the narrower
// drive.file scope cannot see them.
var driveScopes = []string{drive.DriveScope}

func newGDriveProvider(ctx context.Context, cfg config.GDriveConfig) (Provider, error) {
	var opt option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.ServiceAccountJSON), driveScopes...)
		if err != nil {
			return nil, fmt.Errorf("gdrive service account: %w", err)
		}
		opt = option.WithCredentials(creds)
	} else {
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
			return nil, fmt.Errorf("gdrive: client id, secret and refresh token are required")
		}
		conf := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       driveScopes,
		}
		tok := &oauth2.Token{RefreshToken: cfg.RefreshToken}
		opt = option.WithHTTPClient(conf.Client(ctx, tok))
	}

	srv, err := drive.NewService(ctx, opt)
	if err != nil {
		return nil, err
	}
	return gdrive.NewClient(srv, cfg.RootFolderID), nil
}
