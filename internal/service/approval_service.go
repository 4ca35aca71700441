package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/internal/repository"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

// Action is a workflow verb accepted by ProcessAction.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionVoid    Action = "void"
	ActionOnline  Action = "online"
)

type approvalApplicationStore interface {
	GetDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error)
	ApplyTransition(ctx context.Context, params repository.TransitionParams) error
}

type approvalDepartmentStore interface {
	GetByName(ctx context.Context, name string) (*models.Department, error)
	ActiveApprovers(ctx context.Context, departmentID int64) ([]models.DepartmentApprover, error)
}

type approvalNotifier interface {
	Notify(ctx context.Context, intent NotificationIntent) error
}

type transitionMetrics interface {
	ObserveTransition(action string, status models.ApplicationStatus)
	NotificationSkipped()
}

// ApprovalService owns the approval state machine: it computes legal
// transitions, resolves who may act now, applies the state change, and fans
// out notification intents. Notification failures are logged and swallowed;
// they never roll back or fail the transition.
type ApprovalService struct {
	apps     approvalApplicationStore
	depts    approvalDepartmentStore
	notifier approvalNotifier
	metrics  transitionMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewApprovalService constructs the service. notifier and metrics may be nil.
func NewApprovalService(apps approvalApplicationStore, depts approvalDepartmentStore, notifier approvalNotifier, metrics transitionMetrics, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		apps:     apps,
		depts:    depts,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// chain is the applicant department's resolved approval chain for one action.
// missing is set when the department row itself does not exist (only an admin
// actor may proceed past that).
type chain struct {
	approvers []models.DepartmentApprover
	missing   bool
}

func (c chain) maxStep() int {
	max := 0
	for _, a := range c.approvers {
		if a.StepOrder > max {
			max = a.StepOrder
		}
	}
	return max
}

func (c chain) atStep(step int) []models.DepartmentApprover {
	var out []models.DepartmentApprover
	for _, a := range c.approvers {
		if a.StepOrder == step {
			out = append(out, a)
		}
	}
	return out
}

// ProcessAction applies one workflow action and returns the status reached.
// The application row is re-read here, immediately before validation; callers
// must not pass in cached state.
func (s *ApprovalService) ProcessAction(ctx context.Context, applicationID int64, actor *models.JWTClaims, action Action, comment string) (models.ApplicationStatus, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}

	app, err := s.apps.GetDetail(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	var (
		params  repository.TransitionParams
		intents []NotificationIntent
	)

	switch action {
	case ActionSubmit:
		params, intents, err = s.planSubmit(ctx, app, actor)
	case ActionApprove:
		params, intents, err = s.planApprove(ctx, app, actor, comment)
	case ActionReject:
		params, intents, err = s.planReject(ctx, app, actor, comment)
	case ActionVoid:
		params, err = s.planVoid(app, actor)
	case ActionOnline:
		params, intents, err = s.planOnline(app, actor, comment)
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown action")
	}
	if err != nil {
		return "", err
	}

	if err := s.apps.ApplyTransition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another actor won the race; the caller may re-read and retry.
			return "", appErrors.Clone(appErrors.ErrConflict, "request state changed, reload and retry")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
	}

	if s.metrics != nil {
		s.metrics.ObserveTransition(string(action), params.ToStatus)
	}
	s.dispatch(ctx, intents)

	return params.ToStatus, nil
}

func (s *ApprovalService) planSubmit(ctx context.Context, app *models.ApplicationDetail, actor *models.JWTClaims) (repository.TransitionParams, []NotificationIntent, error) {
	var none repository.TransitionParams

	if app.ApplicantID != actor.UserID && !actor.Role.IsAdmin() {
		return none, nil, appErrors.Clone(appErrors.ErrForbidden, "only the applicant may submit this request")
	}
	if !app.Status.Editable() {
		return none, nil, appErrors.Clone(appErrors.ErrInvalidState, "request cannot be submitted from its current status")
	}

	ch, err := s.resolveChain(ctx, app.ApplicantDepartment, actor)
	if err != nil {
		return none, nil, err
	}
	if !ch.missing && len(ch.approvers) == 0 {
		return none, nil, appErrors.Clone(appErrors.ErrConfiguration, "department has no configured approval chain")
	}

	params := repository.TransitionParams{
		ID:         app.ID,
		FromStatus: app.Status,
		FromStep:   app.CurrentStep,
		ToStatus:   models.StatusReviewing,
		ToStep:     1,
	}

	recipients := notifySeats(ch.atStep(1))
	intents := []NotificationIntent{{
		Kind:          IntentSignerPending,
		ApplicationID: app.ID,
		FormID:        app.FormID,
		ActorName:     actor.Name,
		RecipientIDs:  recipients,
	}}
	if len(recipients) == 0 {
		s.recordMissingRecipient(app.ID, 1)
		intents = nil
	}
	return params, intents, nil
}

func (s *ApprovalService) planApprove(ctx context.Context, app *models.ApplicationDetail, actor *models.JWTClaims, comment string) (repository.TransitionParams, []NotificationIntent, error) {
	var none repository.TransitionParams

	if app.Status != models.StatusReviewing {
		return none, nil, appErrors.Clone(appErrors.ErrInvalidState, "request is not in reviewing status")
	}

	ch, err := s.resolveChain(ctx, app.ApplicantDepartment, actor)
	if err != nil {
		return none, nil, err
	}
	if !ch.missing && len(ch.approvers) == 0 {
		return none, nil, appErrors.Clone(appErrors.ErrConfiguration, "department has no configured approval chain")
	}

	step := app.CurrentStep
	if step < 1 {
		step = 1
	}
	stepApprovers := ch.atStep(step)

	isApprover := false
	var proxyFor *models.DepartmentApprover
	now := s.now()
	for i := range stepApprovers {
		seat := stepApprovers[i]
		if seat.UserID == actor.UserID {
			isApprover = true
			break
		}
		if proxyFor == nil && seat.ProxyUserID != nil && *seat.ProxyUserID == actor.UserID && seat.ProxyActiveAt(now) {
			proxyFor = &stepApprovers[i]
		}
	}
	if !isApprover && proxyFor == nil && !actor.Role.IsAdmin() {
		return none, nil, appErrors.Clone(appErrors.ErrForbidden, "not an approver for the current step")
	}

	params := repository.TransitionParams{
		ID:         app.ID,
		FromStatus: app.Status,
		FromStep:   app.CurrentStep,
		Review: &models.ApplicationReview{
			ReviewerID:   actor.UserID,
			ReviewerName: actor.Name,
			Action:       models.ReviewActionApprove,
			Comment:      comment,
		},
	}

	var intents []NotificationIntent
	if step < ch.maxStep() {
		params.ToStatus = models.StatusReviewing
		params.ToStep = step + 1
		recipients := notifySeats(ch.atStep(step + 1))
		if len(recipients) == 0 {
			s.recordMissingRecipient(app.ID, step+1)
		} else {
			intents = append(intents, NotificationIntent{
				Kind:          IntentSignerPending,
				ApplicationID: app.ID,
				FormID:        app.FormID,
				ActorName:     actor.Name,
				RecipientIDs:  recipients,
			})
		}
	} else {
		params.ToStatus = models.StatusApproved
		params.ToStep = step
		intents = append(intents, NotificationIntent{
			Kind:          IntentDBAPending,
			ApplicationID: app.ID,
			FormID:        app.FormID,
			ActorName:     actor.Name,
		})
	}

	if proxyFor != nil && !isApprover {
		intents = append(intents, NotificationIntent{
			Kind:          IntentProxyActed,
			ApplicationID: app.ID,
			FormID:        app.FormID,
			ActorName:     actor.Name,
			RecipientIDs:  []int64{proxyFor.UserID},
		})
	}

	return params, intents, nil
}

func (s *ApprovalService) planReject(ctx context.Context, app *models.ApplicationDetail, actor *models.JWTClaims, comment string) (repository.TransitionParams, []NotificationIntent, error) {
	var none repository.TransitionParams

	var toStatus models.ApplicationStatus
	switch app.Status {
	case models.StatusReviewing:
		ok, err := s.isStepActor(ctx, app, actor)
		if err != nil {
			return none, nil, err
		}
		if !ok {
			return none, nil, appErrors.Clone(appErrors.ErrForbidden, "not an approver for the current step")
		}
		// A rejection always lands back on manager_rejected no matter how
		// many steps were already passed.
		toStatus = models.StatusManagerRejected
	case models.StatusApproved:
		if !actor.Role.IsDBA() {
			return none, nil, appErrors.Clone(appErrors.ErrForbidden, "only a DBA may reject an approved request")
		}
		toStatus = models.StatusDBARejected
	default:
		return none, nil, appErrors.Clone(appErrors.ErrInvalidState, "request cannot be rejected from its current status")
	}

	params := repository.TransitionParams{
		ID:         app.ID,
		FromStatus: app.Status,
		FromStep:   app.CurrentStep,
		ToStatus:   toStatus,
		ToStep:     app.CurrentStep,
		Review: &models.ApplicationReview{
			ReviewerID:   actor.UserID,
			ReviewerName: actor.Name,
			Action:       models.ReviewActionReject,
			Comment:      comment,
		},
	}
	intents := []NotificationIntent{{
		Kind:          IntentApplicantResult,
		ApplicationID: app.ID,
		FormID:        app.FormID,
		ActorName:     actor.Name,
		Comment:       comment,
		ResultStatus:  toStatus,
		RecipientIDs:  []int64{app.ApplicantID},
	}}
	return params, intents, nil
}

func (s *ApprovalService) planVoid(app *models.ApplicationDetail, actor *models.JWTClaims) (repository.TransitionParams, error) {
	var none repository.TransitionParams

	if app.ApplicantID != actor.UserID && !actor.Role.IsAdmin() {
		return none, appErrors.Clone(appErrors.ErrForbidden, "only the applicant may void this request")
	}
	if !app.Status.Editable() {
		return none, appErrors.Clone(appErrors.ErrInvalidState, "only draft or rejected requests can be voided")
	}

	return repository.TransitionParams{
		ID:         app.ID,
		FromStatus: app.Status,
		FromStep:   app.CurrentStep,
		ToStatus:   models.StatusVoid,
		ToStep:     app.CurrentStep,
		Review: &models.ApplicationReview{
			ReviewerID:   actor.UserID,
			ReviewerName: actor.Name,
			Action:       models.ReviewActionVoid,
		},
	}, nil
}

func (s *ApprovalService) planOnline(app *models.ApplicationDetail, actor *models.JWTClaims, comment string) (repository.TransitionParams, []NotificationIntent, error) {
	var none repository.TransitionParams

	if !actor.Role.IsDBA() {
		return none, nil, appErrors.Clone(appErrors.ErrForbidden, "only a DBA may bring a request online")
	}
	if app.Status != models.StatusApproved {
		return none, nil, appErrors.Clone(appErrors.ErrInvalidState, "request is not approved yet")
	}

	params := repository.TransitionParams{
		ID:         app.ID,
		FromStatus: app.Status,
		FromStep:   app.CurrentStep,
		ToStatus:   models.StatusOnline,
		ToStep:     app.CurrentStep,
		DBAComment: &comment,
		Review: &models.ApplicationReview{
			ReviewerID:   actor.UserID,
			ReviewerName: actor.Name,
			Action:       models.ReviewActionOnline,
			Comment:      comment,
		},
	}
	intents := []NotificationIntent{{
		Kind:          IntentApplicantResult,
		ApplicationID: app.ID,
		FormID:        app.FormID,
		ActorName:     actor.Name,
		Comment:       comment,
		ResultStatus:  models.StatusOnline,
		RecipientIDs:  []int64{app.ApplicantID},
	}}
	return params, intents, nil
}

// CanApprove reports whether the actor may act on the request right now. The
// request detail endpoint uses it to drive the approve/reject buttons.
func (s *ApprovalService) CanApprove(ctx context.Context, app *models.ApplicationDetail, actor *models.JWTClaims) bool {
	if actor == nil || app == nil {
		return false
	}
	if actor.Role.IsAdmin() {
		return !app.Status.Terminal()
	}
	switch app.Status {
	case models.StatusReviewing:
		ok, err := s.isStepActor(ctx, app, actor)
		return err == nil && ok
	case models.StatusApproved:
		return actor.Role.IsDBA()
	}
	return false
}

// isStepActor reports whether the actor is a current-step approver, a valid
// proxy for one, or an admin.
func (s *ApprovalService) isStepActor(ctx context.Context, app *models.ApplicationDetail, actor *models.JWTClaims) (bool, error) {
	if actor.Role.IsAdmin() {
		return true, nil
	}
	ch, err := s.resolveChain(ctx, app.ApplicantDepartment, actor)
	if err != nil {
		return false, err
	}
	step := app.CurrentStep
	if step < 1 {
		step = 1
	}
	now := s.now()
	for _, seat := range ch.atStep(step) {
		if seat.UserID == actor.UserID {
			return true, nil
		}
		if seat.ProxyUserID != nil && *seat.ProxyUserID == actor.UserID && seat.ProxyActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// resolveChain loads the applicant department's active chain. A department
// name that matches no row is a configuration failure for everyone except
// admin actors, who bypass the department match entirely.
func (s *ApprovalService) resolveChain(ctx context.Context, departmentName string, actor *models.JWTClaims) (chain, error) {
	dept, err := s.depts.GetByName(ctx, departmentName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if actor.Role.IsAdmin() {
				return chain{missing: true}, nil
			}
			return chain{}, appErrors.Clone(appErrors.ErrConfiguration, "applicant department is not registered")
		}
		return chain{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}
	approvers, err := s.depts.ActiveApprovers(ctx, dept.ID)
	if err != nil {
		return chain{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval chain")
	}
	return chain{approvers: approvers}, nil
}

func (s *ApprovalService) dispatch(ctx context.Context, intents []NotificationIntent) {
	if s.notifier == nil {
		return
	}
	for _, intent := range intents {
		if err := s.notifier.Notify(ctx, intent); err != nil {
			s.logger.Warn("notification dispatch failed",
				zap.Int64("application_id", intent.ApplicationID),
				zap.String("kind", string(intent.Kind)),
				zap.Error(err))
		}
	}
}

func (s *ApprovalService) recordMissingRecipient(applicationID int64, step int) {
	s.logger.Warn("no approver configured for step, notification skipped",
		zap.Int64("application_id", applicationID),
		zap.Int("step", step))
	if s.metrics != nil {
		s.metrics.NotificationSkipped()
	}
}

// notifySeats collects the user ids of seats that want notifications.
func notifySeats(seats []models.DepartmentApprover) []int64 {
	var ids []int64
	for _, seat := range seats {
		if seat.Notify {
			ids = append(ids, seat.UserID)
		}
	}
	return ids
}
