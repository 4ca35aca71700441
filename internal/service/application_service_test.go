package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itd-tools/erp-change-portal/internal/dto"
	"github.com/itd-tools/erp-change-portal/internal/models"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

type memAppStore struct {
	detail    *models.ApplicationDetail
	detailErr error
	created   *models.Application
	updated   *models.Application
	deleted   []int64
}

func (m *memAppStore) CreateWithFormID(ctx context.Context, app *models.Application, moduleCode string) error {
	app.ID = 42
	app.FormID = moduleCode + "202608280001"
	m.created = app
	return nil
}

func (m *memAppStore) GetDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error) {
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	return m.detail, nil
}

func (m *memAppStore) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, error) {
	return []models.ApplicationDetail{*m.detail}, nil
}

func (m *memAppStore) UpdateDraft(ctx context.Context, app *models.Application) error {
	m.updated = app
	return nil
}

func (m *memAppStore) Delete(ctx context.Context, id int64) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type memFileStore struct {
	files       []models.ApplicationFile
	metaUpdates []models.FileMetaUpdate
	backupAts   []*time.Time
	created     []*models.ApplicationFile
	deleted     []int64
}

func (m *memFileStore) ListByApplication(ctx context.Context, applicationID int64) ([]models.ApplicationFile, error) {
	return m.files, nil
}

func (m *memFileStore) GetByID(ctx context.Context, id int64) (*models.ApplicationFile, error) {
	for i := range m.files {
		if m.files[i].ID == id {
			return &m.files[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memFileStore) ExistsOriginalName(ctx context.Context, applicationID int64, originalName string) (bool, error) {
	for _, f := range m.files {
		if f.OriginalName == originalName {
			return true, nil
		}
	}
	return false, nil
}

func (m *memFileStore) Create(ctx context.Context, file *models.ApplicationFile) error {
	m.created = append(m.created, file)
	return nil
}

func (m *memFileStore) UpdateMeta(ctx context.Context, applicationID int64, meta models.FileMetaUpdate, backupAt *time.Time) error {
	m.metaUpdates = append(m.metaUpdates, meta)
	m.backupAts = append(m.backupAts, backupAt)
	return nil
}

func (m *memFileStore) Delete(ctx context.Context, applicationID, fileID int64) error {
	m.deleted = append(m.deleted, fileID)
	return nil
}

type memReviewStore struct {
	reviews []models.ApplicationReview
}

func (m *memReviewStore) ListByApplication(ctx context.Context, applicationID int64) ([]models.ApplicationReview, error) {
	return m.reviews, nil
}

type memModuleStore struct {
	modules map[int64]*models.ERPModule
}

func (m *memModuleStore) GetByID(ctx context.Context, id int64) (*models.ERPModule, error) {
	mod, ok := m.modules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return mod, nil
}

func (m *memModuleStore) List(ctx context.Context) ([]models.ERPModule, error) {
	var out []models.ERPModule
	for _, mod := range m.modules {
		out = append(out, *mod)
	}
	return out, nil
}

type stubApprovalChecker struct{ allow bool }

func (s stubApprovalChecker) CanApprove(ctx context.Context, app *models.ApplicationDetail, actor *models.JWTClaims) bool {
	return s.allow
}

func newAppFixture(detail *models.ApplicationDetail) (*ApplicationService, *memAppStore, *memFileStore) {
	apps := &memAppStore{detail: detail}
	files := &memFileStore{}
	modules := &memModuleStore{modules: map[int64]*models.ERPModule{
		1: {ID: 1, Code: "GL", Name: "General Ledger", Active: true},
		2: {ID: 2, Code: "INV", Name: "Inventory", Active: false},
	}}
	svc := NewApplicationService(apps, files, &memReviewStore{}, modules, stubApprovalChecker{allow: true}, nil)
	return svc, apps, files
}

func TestApplicationCreate(t *testing.T) {
	svc, apps, _ := newAppFixture(nil)

	resp, err := svc.Create(context.Background(), claims(100, models.RoleUser), dto.CreateApplicationRequest{
		ModuleID:    int64Ptr(1),
		ProgramType: models.ProgramForm,
		Description: "add GL posting screen",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.ID)
	assert.Equal(t, "GL202608280001", resp.FormID)

	require.NotNil(t, apps.created)
	assert.Equal(t, models.StatusDraft, apps.created.Status)
	assert.Equal(t, int64(100), apps.created.ApplicantID)
}

func TestApplicationCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		req  dto.CreateApplicationRequest
	}{
		{"missing module", dto.CreateApplicationRequest{ProgramType: models.ProgramForm}},
		{"unknown module", dto.CreateApplicationRequest{ModuleID: int64Ptr(99), ProgramType: models.ProgramForm}},
		{"inactive module", dto.CreateApplicationRequest{ModuleID: int64Ptr(2), ProgramType: models.ProgramForm}},
		{"bad program type", dto.CreateApplicationRequest{ModuleID: int64Ptr(1), ProgramType: "spreadsheet"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, apps, _ := newAppFixture(nil)
			_, err := svc.Create(context.Background(), claims(100, models.RoleUser), tt.req)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
			assert.Nil(t, apps.created)
		})
	}
}

func TestApplicationUpdateEditWindow(t *testing.T) {
	req := dto.UpdateApplicationRequest{ModuleID: int64Ptr(1), ProgramType: models.ProgramSQL, Description: "rework"}

	t.Run("draft is editable", func(t *testing.T) {
		svc, apps, _ := newAppFixture(glDetail(models.StatusDraft, 0))
		require.NoError(t, svc.Update(context.Background(), 42, claims(100, models.RoleUser), req))
		require.NotNil(t, apps.updated)
		assert.Equal(t, models.ProgramSQL, apps.updated.ProgramType)
	})

	t.Run("rejected is editable", func(t *testing.T) {
		svc, _, _ := newAppFixture(glDetail(models.StatusManagerRejected, 1))
		require.NoError(t, svc.Update(context.Background(), 42, claims(100, models.RoleUser), req))
	})

	t.Run("reviewing is locked", func(t *testing.T) {
		svc, _, _ := newAppFixture(glDetail(models.StatusReviewing, 1))
		err := svc.Update(context.Background(), 42, claims(100, models.RoleUser), req)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	})

	t.Run("other users are locked out", func(t *testing.T) {
		svc, _, _ := newAppFixture(glDetail(models.StatusDraft, 0))
		err := svc.Update(context.Background(), 42, claims(999, models.RoleUser), req)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	})

	t.Run("admin may edit for others", func(t *testing.T) {
		svc, _, _ := newAppFixture(glDetail(models.StatusDraft, 0))
		require.NoError(t, svc.Update(context.Background(), 42, claims(999, models.RoleAdmin), req))
	})
}

func TestApplicationDelete(t *testing.T) {
	t.Run("owner deletes a draft", func(t *testing.T) {
		svc, apps, _ := newAppFixture(glDetail(models.StatusDraft, 0))
		require.NoError(t, svc.Delete(context.Background(), 42, claims(100, models.RoleUser)))
		assert.Equal(t, []int64{42}, apps.deleted)
	})

	t.Run("rejected requests keep their audit trail", func(t *testing.T) {
		for _, status := range []models.ApplicationStatus{models.StatusManagerRejected, models.StatusDBARejected} {
			svc, apps, _ := newAppFixture(glDetail(status, 1))
			err := svc.Delete(context.Background(), 42, claims(100, models.RoleUser))
			require.Error(t, err, status)
			assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
			assert.Empty(t, apps.deleted)
		}
	})

	t.Run("stranger cannot delete", func(t *testing.T) {
		svc, apps, _ := newAppFixture(glDetail(models.StatusDraft, 0))
		err := svc.Delete(context.Background(), 42, claims(999, models.RoleUser))
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
		assert.Empty(t, apps.deleted)
	})

	t.Run("admin may delete past draft", func(t *testing.T) {
		svc, apps, _ := newAppFixture(glDetail(models.StatusManagerRejected, 1))
		require.NoError(t, svc.Delete(context.Background(), 42, claims(999, models.RoleAdmin)))
		assert.Equal(t, []int64{42}, apps.deleted)
	})
}

func TestApplicationAddFile(t *testing.T) {
	svc, _, files := newAppFixture(glDetail(models.StatusDraft, 0))
	files.files = []models.ApplicationFile{{ID: 1, ApplicationID: 42, OriginalName: "posting.fmb"}}

	t.Run("new name accepted", func(t *testing.T) {
		f := &models.ApplicationFile{OriginalName: "report.rdf", Filename: "42_x.rdf"}
		require.NoError(t, svc.AddFile(context.Background(), 42, claims(100, models.RoleUser), f))
		assert.Equal(t, int64(42), f.ApplicationID)
		assert.Equal(t, models.FileVersionNew, f.FileVersion)
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		f := &models.ApplicationFile{OriginalName: "posting.fmb"}
		err := svc.AddFile(context.Background(), 42, claims(100, models.RoleUser), f)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})
}

func TestApplicationUpdateFilesBackupStamp(t *testing.T) {
	backedUp := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	svc, _, files := newAppFixture(glDetail(models.StatusDraft, 0))
	files.files = []models.ApplicationFile{
		{ID: 1, ApplicationID: 42, OriginalName: "a.sql", IsBackup: false},
		{ID: 2, ApplicationID: 42, OriginalName: "b.sql", IsBackup: true, BackupAt: &backedUp},
	}

	err := svc.UpdateFiles(context.Background(), 42, claims(100, models.RoleUser), dto.UpdateFilesRequest{
		Files: []models.FileMetaUpdate{
			{ID: 1, IsBackup: true},
			{ID: 2, IsBackup: true},
		},
	})
	require.NoError(t, err)

	require.Len(t, files.backupAts, 2)
	// Only the row that flipped gets a fresh timestamp.
	assert.NotNil(t, files.backupAts[0])
	assert.Nil(t, files.backupAts[1])
}

func TestApplicationUpdateFilesForeignRow(t *testing.T) {
	svc, _, files := newAppFixture(glDetail(models.StatusDraft, 0))
	files.files = []models.ApplicationFile{{ID: 1, ApplicationID: 42}}

	err := svc.UpdateFiles(context.Background(), 42, claims(100, models.RoleUser), dto.UpdateFilesRequest{
		Files: []models.FileMetaUpdate{{ID: 77}},
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, files.metaUpdates)
}

func TestApplicationGetFileOwnership(t *testing.T) {
	svc, _, files := newAppFixture(glDetail(models.StatusDraft, 0))
	files.files = []models.ApplicationFile{{ID: 5, ApplicationID: 42, OriginalName: "a.sql"}}

	got, err := svc.GetFile(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.Equal(t, "a.sql", got.OriginalName)

	// A file id that belongs to some other request reads as not found.
	_, err = svc.GetFile(context.Background(), 43, 5)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestApplicationGetIncludesCanApprove(t *testing.T) {
	svc, _, _ := newAppFixture(glDetail(models.StatusReviewing, 1))

	resp, err := svc.Get(context.Background(), 42, claims(11, models.RoleManager))
	require.NoError(t, err)
	assert.True(t, resp.CanApprove)
	assert.Equal(t, "GL202608280001", resp.FormID)
}
