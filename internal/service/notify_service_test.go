package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/pkg/config"
	"github.com/itd-tools/erp-change-portal/pkg/jobs"
)

type memUserStore struct {
	users map[int64]models.User
	dbas  []models.User
}

func (m *memUserStore) FindByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUserStore) ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error) {
	return m.dbas, nil
}

type stubTokenIssuer struct{ calls int }

func (s *stubTokenIssuer) IssueActionToken(userID, applicationID int64, action string) (string, error) {
	s.calls++
	return fmt.Sprintf("tok-%d-%d-%s", userID, applicationID, action), nil
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

type memMailer struct {
	sent []sentMail
	err  error
}

func (m *memMailer) Send(to []string, subject, htmlBody string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func newNotifyFixture() (*NotifyService, *memMailer, *stubTokenIssuer) {
	mailer := &memMailer{}
	tokens := &stubTokenIssuer{}
	users := &memUserStore{
		users: map[int64]models.User{
			11:  {ID: 11, Name: "Chen", Email: "chen@corp.example"},
			12:  {ID: 12, Name: "Wu", Email: "wu@corp.example"},
			13:  {ID: 13, Name: "NoMail"},
			100: {ID: 100, Name: "Lin", Email: "lin@corp.example"},
		},
		dbas: []models.User{
			{ID: 55, Name: "DBA One", Email: "dba1@corp.example"},
			{ID: 56, Name: "DBA Two", Email: "dba2@corp.example"},
		},
	}
	cfg := config.NotifyConfig{Enabled: true, PortalBaseURL: "https://portal.corp.example"}
	return NewNotifyService(cfg, mailer, users, tokens, nil, nil), mailer, tokens
}

func deliver(t *testing.T, s *NotifyService, intent NotificationIntent) {
	t.Helper()
	require.NoError(t, s.handleJob(context.Background(), jobs.Job{ID: "j1", Type: string(intent.Kind), Payload: intent}))
}

func TestNotifySignerPending(t *testing.T) {
	svc, mailer, tokens := newNotifyFixture()

	deliver(t, svc, NotificationIntent{
		Kind:          IntentSignerPending,
		ApplicationID: 42,
		FormID:        "GL202608280001",
		ActorName:     "Lin",
		RecipientIDs:  []int64{11, 12, 13},
	})

	// One mail per recipient with an address; each carries its own token pair.
	require.Len(t, mailer.sent, 2)
	assert.Equal(t, 4, tokens.calls)
	assert.Equal(t, []string{"chen@corp.example"}, mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].subject, "GL202608280001")
	assert.Contains(t, mailer.sent[0].body, "/public/approve?token=tok-11-42-approve")
	assert.Contains(t, mailer.sent[0].body, "/public/reject?token=tok-11-42-reject")
	assert.Contains(t, mailer.sent[1].body, "tok-12-42-approve")
}

func TestNotifyDBAPending(t *testing.T) {
	svc, mailer, _ := newNotifyFixture()

	deliver(t, svc, NotificationIntent{
		Kind:          IntentDBAPending,
		ApplicationID: 42,
		FormID:        "GL202608280001",
	})

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"dba1@corp.example", "dba2@corp.example"}, mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "/requests/42")
}

func TestNotifyApplicantResult(t *testing.T) {
	svc, mailer, _ := newNotifyFixture()

	deliver(t, svc, NotificationIntent{
		Kind:          IntentApplicantResult,
		ApplicationID: 42,
		FormID:        "GL202608280001",
		ActorName:     "DBA One",
		Comment:       `needs "backup" first`,
		ResultStatus:  models.StatusDBARejected,
		RecipientIDs:  []int64{100},
	})

	require.Len(t, mailer.sent, 1)
	body := mailer.sent[0].body
	assert.Contains(t, body, "rejected by the DBA team")
	// Comments render escaped.
	assert.Contains(t, body, "needs &#34;backup&#34; first")
	assert.False(t, strings.Contains(body, `needs "backup"`))
}

func TestNotifyProxyActed(t *testing.T) {
	svc, mailer, _ := newNotifyFixture()

	deliver(t, svc, NotificationIntent{
		Kind:          IntentProxyActed,
		ApplicationID: 42,
		FormID:        "GL202608280001",
		ActorName:     "Wu",
		RecipientIDs:  []int64{11},
	})

	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].body, "acted as your proxy")
}

func TestNotifyDisabled(t *testing.T) {
	mailer := &memMailer{}
	svc := NewNotifyService(config.NotifyConfig{Enabled: false}, mailer, &memUserStore{}, &stubTokenIssuer{}, nil, nil)

	require.NoError(t, svc.Notify(context.Background(), NotificationIntent{Kind: IntentSignerPending}))
	assert.Empty(t, mailer.sent)
}
