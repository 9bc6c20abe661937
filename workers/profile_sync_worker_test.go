package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"esports-platform/models"
	"esports-platform/store"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profileFeed struct {
	t        *testing.T
	profiles []RemoteProfile
	status   int
	sinces   []string
}

func (f *profileFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "/api/v1/public/profiles", r.URL.Path)
	assert.Equal(f.t, "svc-token", r.Header.Get("X-Service-Token"))
	f.sinces = append(f.sinces, r.URL.Query().Get("since"))
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"users": f.profiles})
}

func newProfileWorker(t *testing.T, sink ProfileSink, feed *profileFeed) *ProfileSyncWorker {
	t.Helper()
	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)
	return NewProfileSyncWorker(sink, srv.URL, "/api/v1/public/profiles", "svc-token", time.Minute,
		clockwork.NewFakeClockAt(epoch), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProfileSyncUpsertsUsers(t *testing.T) {
	mem := store.NewMemory()
	mem.PutUser(models.User{ID: "u1", Username: "old-name", CoinBalance: 700, ComplianceStatus: models.UserStatusWarning})
	feed := &profileFeed{t: t, profiles: []RemoteProfile{
		{ExternalID: "u1", Username: "ace", AccountType: "user", LinkedAccountID: "riot-1", UpdatedAt: epoch.Add(-2 * time.Hour)},
		{ExternalID: "c1", Username: "host", AccountType: "creator", CreatorStatus: "approved", UpdatedAt: epoch.Add(-time.Hour)},
		{Username: "nameless"},
	}}
	w := newProfileWorker(t, mem, feed)

	n, err := w.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, epoch.Add(-time.Hour), w.Cursor())
	assert.Equal(t, []string{"0001-01-01T00:00:00Z"}, feed.sinces)

	u, err := mem.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ace", u.Username)
	assert.Equal(t, "riot-1", u.LinkedAccount.AccountID)
	assert.Equal(t, int64(700), u.CoinBalance)
	assert.Equal(t, models.UserStatusWarning, u.ComplianceStatus)

	c, err := mem.GetUser(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.AccountCreator, c.AccountType)
	assert.Equal(t, models.UserStatusCompliant, c.ComplianceStatus)
	profile, err := mem.GetCreatorProfile(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CreatorApproved, profile.ApplicationStatus)

	_, err = w.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(-time.Hour).Format(time.RFC3339), feed.sinces[1])
}

type flakySink struct {
	*store.Memory
	failFor string
}

func (s flakySink) UpsertUser(ctx context.Context, u *models.User) error {
	if u.ID == s.failFor {
		return errors.New("deadlock detected")
	}
	return s.Memory.UpsertUser(ctx, u)
}

func TestProfileSyncHoldsCursorOnFailure(t *testing.T) {
	feed := &profileFeed{t: t, profiles: []RemoteProfile{
		{ExternalID: "u1", Username: "a", UpdatedAt: epoch},
		{ExternalID: "u2", Username: "b", UpdatedAt: epoch},
	}}
	w := newProfileWorker(t, flakySink{Memory: store.NewMemory(), failFor: "u2"}, feed)

	n, err := w.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, w.Cursor().IsZero())

	feed.status = http.StatusBadGateway
	_, err = w.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
