package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/playperu/turtlesoup/internal/database"
	"github.com/playperu/turtlesoup/internal/migrations"
	"github.com/playperu/turtlesoup/internal/store"
	"github.com/playperu/turtlesoup/internal/sweeper"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newCmd(&Config{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedOldRoom writes a room whose last activity is long past any retention
// window.
func seedOldRoom(t *testing.T, path, roomID string) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Run(db))

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewSQLiteStore(db, store.WithClock(func() time.Time { return old }))
	_, err = st.CreateRoom(ctx, turtlesoup.Room{
		RoomID: roomID, HostID: "h-1", Title: "lighthouse", Solution: "answer",
		Status: turtlesoup.StatusActive, Active: true,
	})
	require.NoError(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	newCmd(cfg)

	assert.Equal(t, "data/turtlesoup.db", cfg.dbPath)
	assert.Equal(t, "data/images", cfg.imageDir)
	assert.Equal(t, sweeper.DefaultMaxAge, cfg.maxAge)
	assert.Equal(t, sweeper.DefaultItemDelay, cfg.itemDelay)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SOUP_MAX_AGE", "72h")
	t.Setenv("SOUP_IMAGE_DIR", "/srv/images")

	cfg := &Config{}
	newCmd(cfg)

	assert.Equal(t, 72*time.Hour, cfg.maxAge)
	assert.Equal(t, "/srv/images", cfg.imageDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{dbPath: "x.db", maxAge: time.Hour}, false},
		{"empty db", Config{maxAge: time.Hour}, true},
		{"zero max age", Config{dbPath: "x.db"}, true},
		{"negative delay", Config{dbPath: "x.db", maxAge: time.Hour, itemDelay: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpiredThenSweep(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "soup.db")
	seedOldRoom(t, dbPath, "OLD001")

	flags := []string{"--db", dbPath, "--image-dir", filepath.Join(dir, "images"), "--item-delay", "0s"}

	out, err := execute(t, "", append([]string{"expired"}, flags...)...)
	require.NoError(t, err)
	var report ExpiredReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Rooms)
	assert.Equal(t, []string{"OLD001"}, report.RoomIDs)

	out, err = execute(t, "", append([]string{"sweep"}, flags...)...)
	require.NoError(t, err)
	var res sweeper.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, sweeper.Counts{Total: 1, Success: 1}, res.Rooms)
	assert.Equal(t, sweeper.Counts{}, res.Users)
	assert.NotEmpty(t, res.Duration)
	assert.Contains(t, out, `"rooms": {`)
	assert.Contains(t, out, `"success": 1`)

	out, err = execute(t, "", append([]string{"expired"}, flags...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Rooms)
	assert.Empty(t, report.RoomIDs)
}

func TestStatusReportsSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "soup.db")
	seedOldRoom(t, dbPath, "OLD001")

	out, err := execute(t, "", "status", "--db", dbPath)
	require.NoError(t, err)

	var status StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, dbPath, status.DB)
	assert.Positive(t, status.SchemaVersion)
}

func TestSweepRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "", "sweep", "--db", database.Memory, "--max-age", "0s")
	assert.ErrorContains(t, err, "max age")
}

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"argument", "", []string{"hash-password", "--cost", "4", "open sesame"}},
		{"stdin", "open sesame\n", []string{"hash-password", "--cost", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.stdin, tt.args...)
			require.NoError(t, err)
			hash := strings.TrimSpace(out)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("open sesame")))
		})
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := execute(t, "", "hash-password")
	assert.ErrorContains(t, err, "must not be empty")
}
