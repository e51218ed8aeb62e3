package creatomate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/ports"
)

func TestSubmit(t *testing.T) {
	var got renderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/renders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`[{"id":"rnd-1","status":"planned"}]`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Submit(context.Background(), ports.SubmitRenderInput{
		TemplateID:    "tpl",
		Modifications: map[string]string{"Public-Company-Name": "Acme"},
		Metadata:      ports.CorrelationMetadata{JobID: "job_1", RecipientID: "d1", PostIdentifier: "700"},
		WebhookURL:    "https://example.test/webhooks/render?token=s",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.ExternalID != "rnd-1" || out.Status != "planned" {
		t.Errorf("out = %+v", out)
	}
	if got.TemplateID != "tpl" || got.Modifications["Public-Company-Name"] != "Acme" {
		t.Errorf("request = %+v", got)
	}
	var meta ports.CorrelationMetadata
	if err := json.Unmarshal([]byte(got.Metadata), &meta); err != nil {
		t.Fatalf("metadata is not a JSON string: %v", err)
	}
	if meta.JobID != "job_1" || meta.PostIdentifier != "700" {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestSubmitErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   apperrors.Code
	}{
		{"rate limited", http.StatusTooManyRequests, `{"hint":"slow down"}`, apperrors.CodeUnavailable},
		{"server error", http.StatusBadGateway, ``, apperrors.CodeUnavailable},
		{"rejected", http.StatusBadRequest, `{"hint":"bad template"}`, apperrors.CodeBadRequest},
		{"empty array", http.StatusAccepted, `[]`, apperrors.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := New(Config{APIKey: "k", BaseURL: srv.URL})
			_, err := c.Submit(context.Background(), ports.SubmitRenderInput{TemplateID: "tpl"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperrors.GetCode(err); got != tt.code {
				t.Errorf("code = %s, want %s (%v)", got, tt.code, err)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/renders/rnd-9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"rnd-9","status":"succeeded","url":"https://cdn.test/rnd-9.mp4","duration":14.5,"file_size":2048,"credits":3}`))
	}))
	defer srv.Close()

	c, _ := New(Config{APIKey: "k", BaseURL: srv.URL})
	st, err := c.Status(context.Background(), "rnd-9")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "succeeded" || st.URL != "https://cdn.test/rnd-9.mp4" {
		t.Errorf("status = %+v", st)
	}
	want := models.ResultMetadata{DurationSeconds: 14.5, FileSizeBytes: 2048, CostUnits: 3}
	if st.Result != want {
		t.Errorf("result = %+v, want %+v", st.Result, want)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("CDN downloads must not carry the API key")
		}
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	c, _ := New(Config{APIKey: "k"})
	rc, size, err := c.Download(context.Background(), srv.URL+"/ok.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "video-bytes" || size != int64(len("video-bytes")) {
		t.Errorf("got %q size %d", b, size)
	}

	_, _, err = c.Download(context.Background(), srv.URL+"/missing.mp4")
	if !apperrors.IsRetryable(err) {
		t.Errorf("missing download should be retryable, got %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}); !apperrors.IsValidation(err) {
		t.Errorf("err = %v, want validation", err)
	}
}
