package media

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/kyc-worker/internal/assessment"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
}

func TestDiscoverMatchesNamingConvention(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "notes.txt")
	touch(t, dir, "selfie_clip.webm")
	touch(t, dir, "SELFIE_1.MOV")
	touch(t, dir, "id_back.jpg")
	touch(t, dir, "ID_Front_scan.JPEG")
	if err := os.Mkdir(filepath.Join(dir, "selfie_dir.mp4"), 0o700); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}

	files, err := Discover(dir)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if files.Video != filepath.Join(dir, "SELFIE_1.MOV") {
		t.Fatalf("unexpected video %q", files.Video)
	}
	if files.IDFront != filepath.Join(dir, "ID_Front_scan.JPEG") {
		t.Fatalf("unexpected id image %q", files.IDFront)
	}
}

func TestDiscoverMissingDirectoryIsEmpty(t *testing.T) {
	files, err := Discover(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if files != (Files{}) {
		t.Fatalf("expected no media, got %+v", files)
	}
}

func TestDiscoverUnreadableDirectoryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	touch(t, filepath.Dir(path), "file")
	if _, err := Discover(path); err == nil {
		t.Fatal("expected error when the session path is not a directory")
	}
}

func TestResolverSession(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sess-42")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatalf("failed to create session dir: %v", err)
	}
	touch(t, dir, "selfie_a.mp4")

	session, err := NewResolver(root).Session("sess-42", assessment.DefaultPrompts)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if session.ID != "sess-42" || session.Dir != dir {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.VideoPath != filepath.Join(dir, "selfie_a.mp4") || session.ReferencePath != "" {
		t.Fatalf("unexpected media %+v", session)
	}
}

func TestValidateSessionID(t *testing.T) {
	for _, id := range []string{"", "  ", ".", "..", "../etc", `a\b`, "a/b"} {
		if err := ValidateSessionID(id); !errors.Is(err, ErrInvalidSessionID) {
			t.Fatalf("expected ErrInvalidSessionID for %q, got %v", id, err)
		}
	}
	if err := ValidateSessionID("3f9c2a1e-session"); err != nil {
		t.Fatalf("expected valid id, got %v", err)
	}
}
