package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/kyc-worker/internal/assessment"
)

// ErrInvalidSessionID is returned for identifiers that would escape the media root.
var ErrInvalidSessionID = errors.New("invalid session id")

const (
	selfiePrefix  = "selfie_"
	idFrontPrefix = "id_front"
)

var (
	videoExtensions = []string{".mp4", ".mov", ".avi"}
	imageExtensions = []string{".jpg", ".jpeg", ".png"}
)

// Files lists the media discovered in one session directory.
type Files struct {
	Video   string
	IDFront string
}

// Resolver maps session identifiers to directories under a media root.
type Resolver struct {
	root string
}

// NewResolver builds a resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Dir returns the directory holding a session's media.
func (r *Resolver) Dir(sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(r.root, sessionID), nil
}

// Session resolves a session and discovers its media. A missing directory
// yields a session without media; other read errors are returned.
func (r *Resolver) Session(sessionID string, prompts []assessment.Prompt) (assessment.Session, error) {
	dir, err := r.Dir(sessionID)
	if err != nil {
		return assessment.Session{}, err
	}
	files, err := Discover(dir)
	if err != nil {
		return assessment.Session{}, err
	}
	return assessment.Session{
		ID:            sessionID,
		Dir:           dir,
		Prompts:       prompts,
		VideoPath:     files.Video,
		ReferencePath: files.IDFront,
	}, nil
}

// ValidateSessionID rejects empty identifiers and identifiers containing path elements.
func ValidateSessionID(sessionID string) error {
	switch {
	case strings.TrimSpace(sessionID) == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	case sessionID == "." || sessionID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	case strings.ContainsAny(sessionID, `/\`) || strings.ContainsRune(sessionID, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSessionID, sessionID)
	}
	return nil
}

// Discover returns the first selfie video and the first identity front image
// in dir, matching names case-insensitively.
func Discover(dir string) (Files, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Files{}, nil
		}
		return Files{}, fmt.Errorf("read session directory: %w", err)
	}

	var files Files
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		lower := strings.ToLower(name)
		if files.Video == "" && strings.HasPrefix(lower, selfiePrefix) && hasExtension(lower, videoExtensions) {
			files.Video = filepath.Join(dir, name)
		}
		if files.IDFront == "" && strings.HasPrefix(lower, idFrontPrefix) && hasExtension(lower, imageExtensions) {
			files.IDFront = filepath.Join(dir, name)
		}
	}
	return files, nil
}

func hasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
