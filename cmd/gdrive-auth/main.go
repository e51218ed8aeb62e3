// Command gdrive-auth runs the OAuth consent flow once and prints the refresh
// token the services use as GDRIVE_REFRESH_TOKEN.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"reelcast/internal/config"
	"reelcast/internal/pkg/logger"
)

func main() {
	ctx := context.Background()
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "gdrive-auth"})

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("failed to load configuration", err)
	}
	g := cfg.Storage.GDrive
	if g.ClientID == "" || g.ClientSecret == "" {
		log.Error("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required")
		return
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.LogFatal("listen for callback", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	conf := &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint:     google.Endpoint,
		// Recipient folders exist before the service sees them.
		Scopes:      []string{drive.DriveScope},
		RedirectURL: redirectURL,
	}

	state := randomState()
	// Offline access with forced consent yields a refresh token.
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("\nOpen this URL in a browser:\n\n%s\n\nWaiting for the callback on %s\n", authURL, redirectURL)

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	code, err := receiveCode(waitCtx, ln, state)
	cancel()
	if err != nil {
		log.LogFatal("authorization failed", err)
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		log.LogFatal("token exchange failed", err)
	}
	if strings.TrimSpace(tok.RefreshToken) == "" {
		fmt.Println("\nNo refresh token was returned. Revoke the app's access at")
		fmt.Println("https://myaccount.google.com/permissions and run this again.")
		return
	}
	fmt.Printf("\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
}

// receiveCode serves the OAuth redirect on ln until it delivers a code for
// state, reports an error, or ctx ends.
func receiveCode(ctx context.Context, ln net.Listener, state string) (string, error) {
	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)
	deliver := func(r result) {
		select {
		case results <- r:
		default:
		}
	}

	srv := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			var err error
			switch {
			case q.Get("state") != state:
				err = errors.New("state mismatch")
			case q.Get("error") != "":
				err = fmt.Errorf("consent denied: %s", q.Get("error"))
			case q.Get("code") == "":
				err = errors.New("callback without code")
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				deliver(result{err: err})
				return
			}
			fmt.Fprintln(w, "Authorized. You can close this window.")
			deliver(result{code: q.Get("code")})
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	select {
	case r := <-results:
		return r.code, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("no callback: %w", ctx.Err())
	}
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
