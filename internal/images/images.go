// Package images stores puzzle and message pictures on an afero filesystem
// and maps them to public URLs under /images/.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// URLPrefix is the public path under which stored images are served.
const URLPrefix = "/images/"

// MaxSize bounds a single upload.
const MaxSize = 5 << 20

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Store struct {
	fs afero.Fs
}

func NewStore(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewDiskStore roots a store at dir, creating it if needed.
func NewDiskStore(dir string) (*Store, error) {
	osfs := afero.NewOsFs()
	if err := osfs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image dir: %w", err)
	}
	return NewStore(afero.NewBasePathFs(osfs, dir)), nil
}

// Save writes the image read from r under a fresh name and returns its public
// URL. The format is sniffed from the content, not taken from the client.
func (s *Store) Save(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", turtlesoup.ErrInvalidInput)
	}
	if len(data) > MaxSize {
		return "", fmt.Errorf("%w: image exceeds %d bytes", turtlesoup.ErrInvalidInput, MaxSize)
	}

	ext, ok := extensions[http.DetectContentType(data)]
	if !ok {
		return "", fmt.Errorf("%w: unsupported image type", turtlesoup.ErrInvalidInput)
	}

	name := uuid.NewString() + ext
	if err := afero.WriteReader(s.fs, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return URLPrefix + name, nil
}

// Open returns the stored file called name.
func (s *Store) Open(name string) (afero.File, error) {
	if !validName(name) {
		return nil, turtlesoup.ErrNotFound
	}
	f, err := s.fs.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, turtlesoup.ErrNotFound
	}
	return f, err
}

// Delete removes the image a URL points at, identified by the URL's last
// path segment. References to missing files are not an error, so cascades
// can be rerun.
func (s *Store) Delete(imageURL string) error {
	name := Name(imageURL)
	if !validName(name) {
		return nil
	}
	err := s.fs.Remove(name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// Name extracts the stored file name from an image URL.
func Name(imageURL string) string {
	if i := strings.IndexAny(imageURL, "?#"); i >= 0 {
		imageURL = imageURL[:i]
	}
	return path.Base(imageURL)
}

// ParseURL returns the stored file name behind a URL handed out by Save.
// Absolute URLs are accepted as long as their path is under URLPrefix.
func ParseURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasPrefix(u.Path, URLPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(u.Path, URLPrefix)
	if !validName(name) {
		return "", false
	}
	return name, true
}

func validName(name string) bool {
	return name != "" && name != "." && name != "/" && name != ".." && !strings.ContainsAny(name, `/\`)
}

// Check satisfies health.Checker by confirming the storage root is readable.
func (s *Store) Check(_ context.Context) error {
	_, err := s.fs.Stat("/")
	return err
}
