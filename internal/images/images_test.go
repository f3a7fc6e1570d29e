package images

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestSaveOpenDelete(t *testing.T) {
	s := NewStore(afero.NewMemMapFs())

	url, err := s.Save(bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(url, URLPrefix) || !strings.HasSuffix(url, ".png") {
		t.Fatalf("url = %q, want %s*.png", url, URLPrefix)
	}

	f, err := s.Open(Name(url))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _ := io.ReadAll(f)
	f.Close()
	if !bytes.Equal(got, pngHeader) {
		t.Errorf("content mismatch")
	}

	if err := s.Delete("https://cdn.example.com" + url + "?v=1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Open(Name(url)); !errors.Is(err, turtlesoup.ErrNotFound) {
		t.Errorf("open after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(url); err != nil {
		t.Errorf("second delete = %v, want nil", err)
	}
}

func TestSaveRejects(t *testing.T) {
	s := NewStore(afero.NewMemMapFs())

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("hello, not an image")},
		{"too large", append(append([]byte{}, pngHeader...), make([]byte, MaxSize)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Save(bytes.NewReader(tt.data)); !errors.Is(err, turtlesoup.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "secret", []byte("x"), 0o644)
	s := NewStore(afero.NewBasePathFs(fs, "/imgs"))

	for _, name := range []string{"", "..", "../secret", "a/b"} {
		if _, err := s.Open(name); !errors.Is(err, turtlesoup.ErrNotFound) {
			t.Errorf("Open(%q) = %v, want ErrNotFound", name, err)
		}
	}
}

func TestName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/images/abc.png", "abc.png"},
		{"https://host/x/y/abc.jpg?sig=1", "abc.jpg"},
		{"abc.gif#frag", "abc.gif"},
	}
	for _, tt := range tests {
		if got := Name(tt.in); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"/images/abc.png", "abc.png", true},
		{"https://soup.example/images/abc.jpg?v=2", "abc.jpg", true},
		{"https://evil.example/x/abc.png", "", false},
		{"/images/../secret", "", false},
		{"/images/", "", false},
		{"abc.png", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseURL(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseURL(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
