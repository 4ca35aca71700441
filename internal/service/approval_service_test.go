package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/internal/repository"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

type stubAppStore struct {
	detail    *models.ApplicationDetail
	detailErr error
	applyErr  error
	applied   []repository.TransitionParams
}

func (s *stubAppStore) GetDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error) {
	if s.detailErr != nil {
		return nil, s.detailErr
	}
	return s.detail, nil
}

func (s *stubAppStore) ApplyTransition(ctx context.Context, params repository.TransitionParams) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, params)
	s.detail.Status = params.ToStatus
	s.detail.CurrentStep = params.ToStep
	if params.DBAComment != nil {
		s.detail.DBAComment = params.DBAComment
	}
	return nil
}

type stubDeptStore struct {
	dept      *models.Department
	deptErr   error
	approvers []models.DepartmentApprover
}

func (s *stubDeptStore) GetByName(ctx context.Context, name string) (*models.Department, error) {
	if s.deptErr != nil {
		return nil, s.deptErr
	}
	return s.dept, nil
}

func (s *stubDeptStore) ActiveApprovers(ctx context.Context, departmentID int64) ([]models.DepartmentApprover, error) {
	return s.approvers, nil
}

type stubNotifier struct {
	intents []NotificationIntent
	err     error
}

func (s *stubNotifier) Notify(ctx context.Context, intent NotificationIntent) error {
	s.intents = append(s.intents, intent)
	return s.err
}

type stubTransitionMetrics struct {
	transitions []string
	skipped     int
}

func (s *stubTransitionMetrics) ObserveTransition(action string, status models.ApplicationStatus) {
	s.transitions = append(s.transitions, action+":"+string(status))
}

func (s *stubTransitionMetrics) NotificationSkipped() { s.skipped++ }

func int64Ptr(v int64) *int64        { return &v }
func timePtr(t time.Time) *time.Time { return &t }

func glDetail(status models.ApplicationStatus, step int) *models.ApplicationDetail {
	return &models.ApplicationDetail{
		Application: models.Application{
			ID:          42,
			FormID:      "GL202608280001",
			ApplicantID: 100,
			Status:      status,
			CurrentStep: step,
			ProgramType: models.ProgramForm,
		},
		ApplicantName:       "Lin",
		ApplicantDepartment: "Accounting",
	}
}

// Two seats on step 1, one on step 2. Seat 12 opted out of mail.
func glChain() []models.DepartmentApprover {
	return []models.DepartmentApprover{
		{ID: 1, DepartmentID: 7, StepOrder: 1, UserID: 11, Notify: true, Active: true},
		{ID: 2, DepartmentID: 7, StepOrder: 1, UserID: 12, Notify: false, Active: true},
		{ID: 3, DepartmentID: 7, StepOrder: 2, UserID: 21, Notify: true, Active: true},
	}
}

func newApprovalFixture(detail *models.ApplicationDetail) (*ApprovalService, *stubAppStore, *stubDeptStore, *stubNotifier, *stubTransitionMetrics) {
	apps := &stubAppStore{detail: detail}
	depts := &stubDeptStore{dept: &models.Department{ID: 7, Name: "Accounting", Active: true}, approvers: glChain()}
	notifier := &stubNotifier{}
	metrics := &stubTransitionMetrics{}
	svc := NewApprovalService(apps, depts, notifier, metrics, nil)
	return svc, apps, depts, notifier, metrics
}

func claims(userID int64, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Name: "actor", Role: role}
}

func TestProcessActionSubmit(t *testing.T) {
	svc, apps, _, notifier, metrics := newApprovalFixture(glDetail(models.StatusDraft, 0))

	status, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionSubmit, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, status)

	require.Len(t, apps.applied, 1)
	assert.Equal(t, models.StatusDraft, apps.applied[0].FromStatus)
	assert.Equal(t, 1, apps.applied[0].ToStep)

	require.Len(t, notifier.intents, 1)
	assert.Equal(t, IntentSignerPending, notifier.intents[0].Kind)
	assert.Equal(t, []int64{11}, notifier.intents[0].RecipientIDs)
	assert.Equal(t, []string{"submit:reviewing"}, metrics.transitions)
}

func TestProcessActionSubmitGuards(t *testing.T) {
	tests := []struct {
		name   string
		detail *models.ApplicationDetail
		actor  *models.JWTClaims
		want   *appErrors.Error
	}{
		{"not the applicant", glDetail(models.StatusDraft, 0), claims(999, models.RoleUser), appErrors.ErrForbidden},
		{"already reviewing", glDetail(models.StatusReviewing, 1), claims(100, models.RoleUser), appErrors.ErrInvalidState},
		{"already online", glDetail(models.StatusOnline, 2), claims(100, models.RoleUser), appErrors.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, apps, _, _, _ := newApprovalFixture(tt.detail)
			_, err := svc.ProcessAction(context.Background(), 42, tt.actor, ActionSubmit, "")
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, tt.want))
			assert.Empty(t, apps.applied)
		})
	}
}

func TestProcessActionSubmitResubmitAfterRejection(t *testing.T) {
	svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusManagerRejected, 1))

	status, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionSubmit, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, status)
}

func TestProcessActionSubmitEmptyChain(t *testing.T) {
	svc, apps, depts, _, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))
	depts.approvers = nil

	_, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionSubmit, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration))
	assert.Empty(t, apps.applied)
}

func TestProcessActionSubmitUnknownDepartment(t *testing.T) {
	t.Run("regular user blocked", func(t *testing.T) {
		svc, _, depts, _, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))
		depts.deptErr = sql.ErrNoRows

		_, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionSubmit, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration))
	})

	t.Run("admin bypasses", func(t *testing.T) {
		detail := glDetail(models.StatusDraft, 0)
		detail.ApplicantID = 500
		svc, apps, depts, notifier, metrics := newApprovalFixture(detail)
		depts.deptErr = sql.ErrNoRows

		status, err := svc.ProcessAction(context.Background(), 42, claims(500, models.RoleAdmin), ActionSubmit, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusReviewing, status)
		require.Len(t, apps.applied, 1)
		// Nobody to mail, but the transition still lands.
		assert.Empty(t, notifier.intents)
		assert.Equal(t, 1, metrics.skipped)
	})
}

func TestProcessActionApproveAdvancesChain(t *testing.T) {
	svc, apps, _, notifier, _ := newApprovalFixture(glDetail(models.StatusReviewing, 1))

	status, err := svc.ProcessAction(context.Background(), 42, claims(11, models.RoleManager), ActionApprove, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, status)

	require.Len(t, apps.applied, 1)
	assert.Equal(t, 2, apps.applied[0].ToStep)
	require.NotNil(t, apps.applied[0].Review)
	assert.Equal(t, models.ReviewActionApprove, apps.applied[0].Review.Action)
	assert.Equal(t, "looks fine", apps.applied[0].Review.Comment)

	require.Len(t, notifier.intents, 1)
	assert.Equal(t, IntentSignerPending, notifier.intents[0].Kind)
	assert.Equal(t, []int64{21}, notifier.intents[0].RecipientIDs)
}

func TestProcessActionApproveFinalStep(t *testing.T) {
	svc, apps, _, notifier, _ := newApprovalFixture(glDetail(models.StatusReviewing, 2))

	status, err := svc.ProcessAction(context.Background(), 42, claims(21, models.RoleManager), ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, status)

	require.Len(t, apps.applied, 1)
	assert.Equal(t, models.StatusApproved, apps.applied[0].ToStatus)

	require.Len(t, notifier.intents, 1)
	assert.Equal(t, IntentDBAPending, notifier.intents[0].Kind)
}

func TestProcessActionApproveGuards(t *testing.T) {
	tests := []struct {
		name   string
		detail *models.ApplicationDetail
		actor  *models.JWTClaims
		want   *appErrors.Error
	}{
		{"not in reviewing", glDetail(models.StatusDraft, 0), claims(11, models.RoleManager), appErrors.ErrInvalidState},
		{"stranger", glDetail(models.StatusReviewing, 1), claims(777, models.RoleManager), appErrors.ErrForbidden},
		{"step two seat acting on step one", glDetail(models.StatusReviewing, 1), claims(21, models.RoleManager), appErrors.ErrForbidden},
		{"step one seat acting on step two", glDetail(models.StatusReviewing, 2), claims(11, models.RoleManager), appErrors.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, apps, _, _, _ := newApprovalFixture(tt.detail)
			_, err := svc.ProcessAction(context.Background(), 42, tt.actor, ActionApprove, "")
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, tt.want))
			assert.Empty(t, apps.applied)
		})
	}
}

func TestProcessActionApproveByAdmin(t *testing.T) {
	svc, apps, _, _, _ := newApprovalFixture(glDetail(models.StatusReviewing, 1))

	status, err := svc.ProcessAction(context.Background(), 42, claims(999, models.RoleAdmin), ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, status)
	require.Len(t, apps.applied, 1)
	assert.Equal(t, 2, apps.applied[0].ToStep)
}

func TestProcessActionApproveByProxy(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	setup := func(start, end *time.Time) (*ApprovalService, *stubAppStore, *stubNotifier) {
		svc, apps, depts, notifier, _ := newApprovalFixture(glDetail(models.StatusReviewing, 1))
		depts.approvers[0].ProxyUserID = int64Ptr(33)
		depts.approvers[0].ProxyStartDate = start
		depts.approvers[0].ProxyEndDate = end
		svc.now = func() time.Time { return now }
		return svc, apps, notifier
	}

	t.Run("inside window", func(t *testing.T) {
		svc, apps, notifier := setup(timePtr(now.Add(-time.Hour)), timePtr(now.Add(time.Hour)))

		status, err := svc.ProcessAction(context.Background(), 42, claims(33, models.RoleUser), ActionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusReviewing, status)
		require.Len(t, apps.applied, 1)
		assert.Equal(t, int64(33), apps.applied[0].Review.ReviewerID)

		// The covered approver hears about the proxy acting on their behalf.
		require.Len(t, notifier.intents, 2)
		assert.Equal(t, IntentProxyActed, notifier.intents[1].Kind)
		assert.Equal(t, []int64{11}, notifier.intents[1].RecipientIDs)
	})

	t.Run("open ended window", func(t *testing.T) {
		svc, apps, _ := setup(nil, nil)
		_, err := svc.ProcessAction(context.Background(), 42, claims(33, models.RoleUser), ActionApprove, "")
		require.NoError(t, err)
		require.Len(t, apps.applied, 1)
	})

	t.Run("window not started", func(t *testing.T) {
		svc, apps, _ := setup(timePtr(now.Add(time.Hour)), nil)
		_, err := svc.ProcessAction(context.Background(), 42, claims(33, models.RoleUser), ActionApprove, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
		assert.Empty(t, apps.applied)
	})

	t.Run("window expired", func(t *testing.T) {
		svc, apps, _ := setup(nil, timePtr(now.Add(-time.Hour)))
		_, err := svc.ProcessAction(context.Background(), 42, claims(33, models.RoleUser), ActionApprove, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
		assert.Empty(t, apps.applied)
	})
}

func TestProcessActionReject(t *testing.T) {
	t.Run("step approver rejects during review", func(t *testing.T) {
		svc, apps, _, notifier, _ := newApprovalFixture(glDetail(models.StatusReviewing, 2))

		status, err := svc.ProcessAction(context.Background(), 42, claims(21, models.RoleManager), ActionReject, "missing test evidence")
		require.NoError(t, err)
		assert.Equal(t, models.StatusManagerRejected, status)

		require.Len(t, notifier.intents, 1)
		assert.Equal(t, IntentApplicantResult, notifier.intents[0].Kind)
		assert.Equal(t, []int64{100}, notifier.intents[0].RecipientIDs)
		assert.Equal(t, models.StatusManagerRejected, notifier.intents[0].ResultStatus)
		require.NotNil(t, apps.applied[0].Review)
		assert.Equal(t, models.ReviewActionReject, apps.applied[0].Review.Action)
	})

	t.Run("DBA rejects an approved request", func(t *testing.T) {
		svc, _, _, notifier, _ := newApprovalFixture(glDetail(models.StatusApproved, 2))

		status, err := svc.ProcessAction(context.Background(), 42, claims(55, models.RoleDBA), ActionReject, "bad plan")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDBARejected, status)
		require.Len(t, notifier.intents, 1)
		assert.Equal(t, models.StatusDBARejected, notifier.intents[0].ResultStatus)
	})

	t.Run("non DBA cannot reject approved", func(t *testing.T) {
		svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusApproved, 2))
		_, err := svc.ProcessAction(context.Background(), 42, claims(21, models.RoleManager), ActionReject, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	})

	t.Run("cannot reject a draft", func(t *testing.T) {
		svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))
		_, err := svc.ProcessAction(context.Background(), 42, claims(11, models.RoleManager), ActionReject, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	})
}

func TestProcessActionVoid(t *testing.T) {
	t.Run("applicant voids a draft", func(t *testing.T) {
		svc, apps, _, notifier, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))

		status, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionVoid, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusVoid, status)
		require.NotNil(t, apps.applied[0].Review)
		assert.Equal(t, models.ReviewActionVoid, apps.applied[0].Review.Action)
		assert.Empty(t, notifier.intents)
	})

	t.Run("applicant voids a rejected request", func(t *testing.T) {
		svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusDBARejected, 2))
		status, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionVoid, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusVoid, status)
	})

	t.Run("cannot void mid review", func(t *testing.T) {
		svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusReviewing, 1))
		_, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionVoid, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	})

	t.Run("stranger cannot void", func(t *testing.T) {
		svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))
		_, err := svc.ProcessAction(context.Background(), 42, claims(999, models.RoleUser), ActionVoid, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	})
}

func TestProcessActionOnline(t *testing.T) {
	t.Run("DBA brings an approved request online", func(t *testing.T) {
		svc, apps, _, notifier, _ := newApprovalFixture(glDetail(models.StatusApproved, 2))

		status, err := svc.ProcessAction(context.Background(), 42, claims(55, models.RoleDBA), ActionOnline, "deployed 2026-08-28")
		require.NoError(t, err)
		assert.Equal(t, models.StatusOnline, status)

		require.Len(t, apps.applied, 1)
		require.NotNil(t, apps.applied[0].DBAComment)
		assert.Equal(t, "deployed 2026-08-28", *apps.applied[0].DBAComment)

		require.Len(t, notifier.intents, 1)
		assert.Equal(t, IntentApplicantResult, notifier.intents[0].Kind)
		assert.Equal(t, models.StatusOnline, notifier.intents[0].ResultStatus)
	})

	t.Run("only from approved", func(t *testing.T) {
		svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusReviewing, 1))
		_, err := svc.ProcessAction(context.Background(), 42, claims(55, models.RoleDBA), ActionOnline, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	})

	t.Run("only a DBA", func(t *testing.T) {
		svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusApproved, 2))
		_, err := svc.ProcessAction(context.Background(), 42, claims(11, models.RoleManager), ActionOnline, "")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	})
}

func TestProcessActionStaleState(t *testing.T) {
	svc, apps, _, notifier, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))
	apps.applyErr = sql.ErrNoRows

	_, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionSubmit, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Empty(t, notifier.intents)
}

func TestProcessActionNotFound(t *testing.T) {
	svc, apps, _, _, _ := newApprovalFixture(nil)
	apps.detailErr = sql.ErrNoRows

	_, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionSubmit, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestProcessActionUnknownVerb(t *testing.T) {
	svc, _, _, _, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))
	_, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), Action("restart"), "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestProcessActionNotifyFailureDoesNotFailTransition(t *testing.T) {
	svc, apps, _, notifier, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))
	notifier.err = errors.New("smtp down")

	status, err := svc.ProcessAction(context.Background(), 42, claims(100, models.RoleUser), ActionSubmit, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, status)
	require.Len(t, apps.applied, 1)
}

// Walks one request through the whole happy path against a two step chain.
func TestProcessActionFullLifecycle(t *testing.T) {
	svc, apps, _, notifier, _ := newApprovalFixture(glDetail(models.StatusDraft, 0))
	ctx := context.Background()

	status, err := svc.ProcessAction(ctx, 42, claims(100, models.RoleUser), ActionSubmit, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusReviewing, status)

	status, err = svc.ProcessAction(ctx, 42, claims(11, models.RoleManager), ActionApprove, "ok")
	require.NoError(t, err)
	require.Equal(t, models.StatusReviewing, status)
	require.Equal(t, 2, apps.detail.CurrentStep)

	status, err = svc.ProcessAction(ctx, 42, claims(21, models.RoleManager), ActionApprove, "ok")
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, status)

	status, err = svc.ProcessAction(ctx, 42, claims(55, models.RoleDBA), ActionOnline, "deployed")
	require.NoError(t, err)
	require.Equal(t, models.StatusOnline, status)

	kinds := make([]IntentKind, 0, len(notifier.intents))
	for _, in := range notifier.intents {
		kinds = append(kinds, in.Kind)
	}
	assert.Equal(t, []IntentKind{IntentSignerPending, IntentSignerPending, IntentDBAPending, IntentApplicantResult}, kinds)
}

func TestCanApprove(t *testing.T) {
	tests := []struct {
		name   string
		detail *models.ApplicationDetail
		actor  *models.JWTClaims
		want   bool
	}{
		{"step one seat at step one", glDetail(models.StatusReviewing, 1), claims(11, models.RoleManager), true},
		{"step two seat at step one", glDetail(models.StatusReviewing, 1), claims(21, models.RoleManager), false},
		{"DBA on approved", glDetail(models.StatusApproved, 2), claims(55, models.RoleDBA), true},
		{"DBA on reviewing", glDetail(models.StatusReviewing, 1), claims(55, models.RoleDBA), false},
		{"admin on reviewing", glDetail(models.StatusReviewing, 1), claims(999, models.RoleAdmin), true},
		{"admin on terminal status", glDetail(models.StatusOnline, 2), claims(999, models.RoleAdmin), false},
		{"applicant on draft", glDetail(models.StatusDraft, 0), claims(100, models.RoleUser), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _, _ := newApprovalFixture(tt.detail)
			assert.Equal(t, tt.want, svc.CanApprove(context.Background(), tt.detail, tt.actor))
		})
	}
}
