package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// fakeDrive serves the subset of the Drive API the uploader touches: file
// search, create, and update.
type fakeDrive struct {
	existingID string // returned by the search when non-empty
	creates    int
	updates    int
	lastQuery  string
}

func (f *fakeDrive) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
			f.lastQuery = r.URL.Query().Get("q")
			files := []map[string]any{}
			if f.existingID != "" {
				files = append(files, map[string]any{"id": f.existingID})
			}
			json.NewEncoder(w).Encode(map[string]any{"files": files})
		case r.Method == http.MethodPost:
			f.creates++
			json.NewEncoder(w).Encode(map[string]any{"id": "created-1", "webViewLink": "https://drive.example/created-1"})
		case r.Method == http.MethodPatch:
			f.updates++
			json.NewEncoder(w).Encode(map[string]any{"id": f.existingID, "webViewLink": "https://drive.example/" + f.existingID})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL)
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	})
}

func testUploader(t *testing.T, fake *fakeDrive, folderID string) *Uploader {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	service, err := gdrive.NewService(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewUploaderWithService(service, folderID)
}

func writeTempExport(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(`{"AAPL": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadCreatesNewFile(t *testing.T) {
	fake := &fakeDrive{}
	u := testUploader(t, fake, "folder1")
	path := writeTempExport(t, "prices_20240102T000000Z.json")

	info, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if info.ID != "created-1" {
		t.Errorf("ID = %q, want created-1", info.ID)
	}
	if info.Link == "" {
		t.Error("missing web link")
	}
	if fake.creates != 1 || fake.updates != 0 {
		t.Errorf("creates = %d, updates = %d; want 1, 0", fake.creates, fake.updates)
	}
	for _, want := range []string{"prices_20240102T000000Z.json", "folder1", "trashed = false"} {
		if !strings.Contains(fake.lastQuery, want) {
			t.Errorf("search query missing %q: %s", want, fake.lastQuery)
		}
	}
}

func TestUploadUpdatesExistingFile(t *testing.T) {
	fake := &fakeDrive{existingID: "existing-9"}
	u := testUploader(t, fake, "folder1")
	path := writeTempExport(t, "prices.json")

	info, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if info.ID != "existing-9" {
		t.Errorf("ID = %q, want existing-9", info.ID)
	}
	if fake.creates != 0 || fake.updates != 1 {
		t.Errorf("creates = %d, updates = %d; want 0, 1", fake.creates, fake.updates)
	}
}

func TestUploadRequiresFolder(t *testing.T) {
	u := testUploader(t, &fakeDrive{}, "")
	_, err := u.Upload(context.Background(), "whatever.json")
	if err != ErrNoFolder {
		t.Errorf("err = %v, want ErrNoFolder", err)
	}
}

func TestUploadMissingLocalFile(t *testing.T) {
	fake := &fakeDrive{}
	u := testUploader(t, fake, "folder1")

	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("want error for missing local file, got nil")
	}
	if fake.creates != 0 && fake.updates != 0 {
		t.Error("network calls made for missing local file")
	}
}

func TestEscapeQuery(t *testing.T) {
	got := escapeQuery(`it's a \ test`)
	if got != `it\'s a \\ test` {
		t.Errorf("escapeQuery = %q", got)
	}
}
