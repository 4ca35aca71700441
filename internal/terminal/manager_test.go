package terminal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/pkg/config"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

type stubAppGetter struct {
	detail *models.ApplicationDetail
	err    error
}

func (s *stubAppGetter) GetDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.detail, nil
}

type stubLogStore struct{}

func (stubLogStore) Open(ctx context.Context, log *models.ConnectionLog) (int64, error) { return 1, nil }
func (stubLogStore) Close(ctx context.Context, id int64, endTime time.Time) error       { return nil }

type nullSink struct{}

func (nullSink) Output(data []byte)  {}
func (nullSink) Ended(reason string) {}

func strPtr(s string) *string      { return &s }
func tsPtr(t time.Time) *time.Time { return &t }

func approvedDetail() *models.ApplicationDetail {
	return &models.ApplicationDetail{
		Application: models.Application{
			ID:           42,
			FormID:       "GL202608280001",
			ApplicantID:  100,
			Status:       models.StatusApproved,
			AccessDBUser: strPtr("appuser"),
		},
	}
}

// Each precondition failure must surface before any process is spawned, and
// with its own error so the client can show a specific refusal.
func TestCreateSessionPreconditions(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	actor := &models.JWTClaims{UserID: 200, Username: "dba1", Role: models.RoleDBA}

	tests := []struct {
		name  string
		setup func(apps *stubAppGetter)
		want  *appErrors.Error
	}{
		{
			"unknown request",
			func(apps *stubAppGetter) { apps.err = sql.ErrNoRows },
			appErrors.ErrNotFound,
		},
		{
			"not approved and not the applicant",
			func(apps *stubAppGetter) { apps.detail.Status = models.StatusReviewing },
			appErrors.ErrForbidden,
		},
		{
			"released request refuses non-applicants",
			func(apps *stubAppGetter) { apps.detail.Status = models.StatusOnline },
			appErrors.ErrForbidden,
		},
		{
			"window not started",
			func(apps *stubAppGetter) { apps.detail.AccessStartTime = tsPtr(now.Add(time.Hour)) },
			appErrors.ErrInvalidState,
		},
		{
			"window expired",
			func(apps *stubAppGetter) { apps.detail.AccessEndTime = tsPtr(now.Add(-time.Hour)) },
			appErrors.ErrInvalidState,
		},
		{
			"no db user assigned",
			func(apps *stubAppGetter) { apps.detail.AccessDBUser = nil },
			appErrors.ErrConfiguration,
		},
		{
			"no stored credentials",
			func(apps *stubAppGetter) {},
			appErrors.ErrConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apps := &stubAppGetter{detail: approvedDetail()}
			tt.setup(apps)

			// No primary alias and no credential file, so any resolve fails.
			m := NewManager(config.TerminalConfig{TranscriptDir: t.TempDir()}, apps, stubLogStore{}, nil, nil)
			m.now = func() time.Time { return now }

			_, err := m.CreateSession(context.Background(), "conn-1", actor, 42, 80, 24, nullSink{})
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, tt.want), "got %v", err)

			_, live := m.Get("conn-1")
			assert.False(t, live)
		})
	}
}

func TestCreateSessionApplicantBeforeApproval(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	apps := &stubAppGetter{detail: approvedDetail()}
	apps.detail.Status = models.StatusDraft
	apps.detail.AccessDBUser = nil

	m := NewManager(config.TerminalConfig{TranscriptDir: t.TempDir()}, apps, stubLogStore{}, nil, nil)
	m.now = func() time.Time { return now }

	// The applicant gets past the approval gate and fails later, on the
	// missing db user. A stranger is refused at the gate itself.
	applicant := &models.JWTClaims{UserID: 100, Username: "lin", Role: models.RoleUser}
	_, err := m.CreateSession(context.Background(), "c1", applicant, 42, 0, 0, nullSink{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration))

	stranger := &models.JWTClaims{UserID: 999, Username: "eve", Role: models.RoleUser}
	_, err = m.CreateSession(context.Background(), "c2", stranger, 42, 0, 0, nullSink{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	// The applicant keeps the same fallback after release.
	apps.detail.Status = models.StatusOnline
	_, err = m.CreateSession(context.Background(), "c3", applicant, 42, 0, 0, nullSink{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration))
}

type countingSink struct {
	mu    sync.Mutex
	ended []string
}

func (c *countingSink) Output(data []byte) {}

func (c *countingSink) Ended(reason string) {
	c.mu.Lock()
	c.ended = append(c.ended, reason)
	c.mu.Unlock()
}

func (c *countingSink) endedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ended)
}

// Disconnect, expiry, and process exit all funnel into Kill and can fire at
// the same time. Spawn a real process and race two Kill calls to check the
// teardown runs exactly once end to end, not just at the transcript layer.
func TestSessionKillConcurrent(t *testing.T) {
	dir := t.TempDir()
	cfg := config.TerminalConfig{
		SQLPlusPath:     "/bin/cat",
		TranscriptDir:   dir,
		CredentialFile:  writeCredentialFile(t, `{"APPUSER": "pw"}`),
		ConnectDelay:    10 * time.Millisecond,
		KillGracePeriod: 50 * time.Millisecond,
	}
	apps := &stubAppGetter{detail: approvedDetail()}
	sink := &countingSink{}
	m := NewManager(cfg, apps, stubLogStore{}, nil, nil)

	actor := &models.JWTClaims{UserID: 200, Username: "dba1", Role: models.RoleDBA}
	s, err := m.CreateSession(context.Background(), "conn-1", actor, 42, 80, 24, sink)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Kill("client disconnected")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sink.endedCount())
	_, live := m.Get("conn-1")
	assert.False(t, live)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "=== session ended"))
}

func TestManagerKillUnknownConnIsNoop(t *testing.T) {
	m := NewManager(config.TerminalConfig{}, &stubAppGetter{}, stubLogStore{}, nil, nil)
	m.Kill("nope", "client disconnected")
	m.Shutdown()
}
