package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"esports-platform/models"

	"github.com/jonboulle/clockwork"
)

// ProfileSink stores profiles mirrored from the profile service.
type ProfileSink interface {
	UpsertUser(ctx context.Context, u *models.User) error
	UpsertCreatorProfile(ctx context.Context, p *models.CreatorProfile) error
}

// RemoteProfile is one entry of the profile service's change feed.
type RemoteProfile struct {
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	AccountType       string    `json:"account_type"`
	AccountStatus     string    `json:"account_status"`
	CreatorStatus     string    `json:"creator_status,omitempty"`
	LinkedAccountID   string    `json:"linked_account_id,omitempty"`
	LinkedDisplayName string    `json:"linked_display_name,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type profileChanges struct {
	Users []RemoteProfile `json:"users"`
}

// ProfileSyncWorker mirrors user profiles into the local store so tournament
// and coin operations can resolve users without calling out.
type ProfileSyncWorker struct {
	sink         ProfileSink
	baseURL      string
	endpointPath string
	serviceToken string
	interval     time.Duration
	httpClient   *http.Client
	clock        clockwork.Clock
	logger       *slog.Logger
	cursor       time.Time
}

func NewProfileSyncWorker(sink ProfileSink, baseURL, endpointPath, serviceToken string, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *ProfileSyncWorker {
	return &ProfileSyncWorker{
		sink:         sink,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		interval:     interval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clock:        clock,
		logger:       logger,
	}
}

// Run backfills everything once, then polls for changes until ctx is
// cancelled.
func (w *ProfileSyncWorker) Run(ctx context.Context) {
	w.logger.Info("starting profile sync", "interval", w.interval)
	if _, err := w.SyncOnce(ctx); err != nil {
		w.logger.Warn("initial profile sync failed", "error", err)
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("profile sync stopped")
			return
		case <-ticker.Chan():
			if _, err := w.SyncOnce(ctx); err != nil {
				w.logger.Error("profile sync batch failed", "error", err)
			}
		}
	}
}

// SyncOnce pulls changes since the cursor. The cursor moves to the newest
// UpdatedAt seen only when every profile was stored.
func (w *ProfileSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	changes, err := w.fetch(ctx, w.cursor)
	if err != nil {
		return 0, err
	}

	var upserted, failed int
	latest := w.cursor
	for _, p := range changes {
		if p.ExternalID == "" {
			continue
		}
		if err := w.store(ctx, p); err != nil {
			failed++
			w.logger.Warn("failed to upsert profile", "external_id", p.ExternalID, "username", p.Username, "error", err)
			continue
		}
		upserted++
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
		}
	}
	if failed == 0 {
		w.cursor = latest
	}
	w.logger.Info("profile sync batch processed", "received", len(changes), "upserted", upserted, "failed", failed)
	return upserted, nil
}

// Cursor returns the UpdatedAt the next poll starts from.
func (w *ProfileSyncWorker) Cursor() time.Time {
	return w.cursor
}

func (w *ProfileSyncWorker) store(ctx context.Context, p RemoteProfile) error {
	u := &models.User{
		ID:          p.ExternalID,
		Username:    p.Username,
		Email:       p.Email,
		AccountType: accountType(p.AccountType),
		LinkedAccount: models.LinkedAccount{
			AccountID:   p.LinkedAccountID,
			DisplayName: p.LinkedDisplayName,
		},
		ComplianceStatus: models.UserStatusCompliant,
	}
	u.UpdatedAt = p.UpdatedAt
	if err := w.sink.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	if u.AccountType != models.AccountCreator || p.CreatorStatus == "" {
		return nil
	}
	if err := w.sink.UpsertCreatorProfile(ctx, &models.CreatorProfile{
		ID:                "cp-" + p.ExternalID,
		UserID:            p.ExternalID,
		ApplicationStatus: models.CreatorApplicationStatus(p.CreatorStatus),
	}); err != nil {
		return fmt.Errorf("upsert creator profile: %w", err)
	}
	return nil
}

func accountType(raw string) models.AccountType {
	switch models.AccountType(raw) {
	case models.AccountCreator:
		return models.AccountCreator
	case models.AccountAdmin:
		return models.AccountAdmin
	}
	return models.AccountUser
}

func (w *ProfileSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned %d: %s", resp.StatusCode, body)
	}

	var out profileChanges
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode profile changes: %w", err)
	}
	return out.Users, nil
}
