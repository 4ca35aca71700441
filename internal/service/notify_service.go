package service

import (
	"context"
	"fmt"
	"html"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/pkg/config"
	"github.com/itd-tools/erp-change-portal/pkg/jobs"
)

// IntentKind identifies what a notification is about.
type IntentKind string

const (
	// IntentSignerPending tells current-step approvers a request awaits them.
	IntentSignerPending IntentKind = "signer_pending"
	// IntentDBAPending tells the DBA pool a fully signed request awaits release.
	IntentDBAPending IntentKind = "dba_pending"
	// IntentApplicantResult tells the applicant their request was decided.
	IntentApplicantResult IntentKind = "applicant_result"
	// IntentProxyActed tells a seat holder their proxy acted for them.
	IntentProxyActed IntentKind = "proxy_acted"
)

// NotificationIntent is the approval engine's description of one notification.
// Recipient resolution and rendering happen later, on the queue workers.
type NotificationIntent struct {
	Kind          IntentKind
	ApplicationID int64
	FormID        string
	ActorName     string
	Comment       string
	ResultStatus  models.ApplicationStatus
	RecipientIDs  []int64
}

type notifyUserStore interface {
	FindByIDs(ctx context.Context, ids []int64) ([]models.User, error)
	ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error)
}

type actionTokenIssuer interface {
	IssueActionToken(userID, applicationID int64, action string) (string, error)
}

type notifyMetrics interface {
	NotificationSent(kind string)
	NotificationFailed(kind string)
}

// NotifyService turns intents into emails on a background worker pool. It is
// strictly best-effort: Notify only fails when the queue is down, and a mail
// that exhausts its retries is dropped with a log line.
type NotifyService struct {
	cfg     config.NotifyConfig
	mailer  Mailer
	users   notifyUserStore
	tokens  actionTokenIssuer
	metrics notifyMetrics
	logger  *zap.Logger
	queue   *jobs.Queue
}

func NewNotifyService(cfg config.NotifyConfig, mailer Mailer, users notifyUserStore, tokens actionTokenIssuer, metrics notifyMetrics, logger *zap.Logger) *NotifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotifyService{
		cfg:     cfg,
		mailer:  mailer,
		users:   users,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
	}
	s.queue = jobs.NewQueue("notifications", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotifyService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotifyService) Stop() {
	s.queue.Stop()
}

// Notify enqueues one intent for background delivery.
func (s *NotifyService) Notify(ctx context.Context, intent NotificationIntent) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(intent.Kind),
		Payload: intent,
	})
}

func (s *NotifyService) handleJob(ctx context.Context, job jobs.Job) error {
	intent, ok := job.Payload.(NotificationIntent)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}

	var err error
	switch intent.Kind {
	case IntentSignerPending:
		err = s.sendSignerPending(ctx, intent)
	case IntentDBAPending:
		err = s.sendDBAPending(ctx, intent)
	case IntentApplicantResult:
		err = s.sendApplicantResult(ctx, intent)
	case IntentProxyActed:
		err = s.sendProxyActed(ctx, intent)
	default:
		s.logger.Error("unknown notification kind", zap.String("kind", string(intent.Kind)))
		return nil
	}

	if s.metrics != nil {
		if err != nil {
			s.metrics.NotificationFailed(string(intent.Kind))
		} else {
			s.metrics.NotificationSent(string(intent.Kind))
		}
	}
	return err
}

// sendSignerPending mails each approver individually because the embedded
// approve/reject links carry per-recipient single-use tokens.
func (s *NotifyService) sendSignerPending(ctx context.Context, intent NotificationIntent) error {
	recipients, err := s.users.FindByIDs(ctx, intent.RecipientIDs)
	if err != nil {
		return fmt.Errorf("resolve signer recipients: %w", err)
	}

	subject := fmt.Sprintf("[Change Portal] Request %s awaits your approval", intent.FormID)
	for _, u := range recipients {
		if u.Email == "" {
			continue
		}
		approveURL, err := s.actionURL(u.ID, intent.ApplicationID, "approve")
		if err != nil {
			return err
		}
		rejectURL, err := s.actionURL(u.ID, intent.ApplicationID, "reject")
		if err != nil {
			return err
		}
		body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Change request <b>%s</b> submitted by %s is waiting for your approval.</p>
<p><a href="%s">Approve</a> &nbsp; <a href="%s">Reject</a></p>
<p>Or review it in the portal: <a href="%s">%s</a></p>`,
			html.EscapeString(u.Name), html.EscapeString(intent.FormID),
			html.EscapeString(intent.ActorName), approveURL, rejectURL,
			s.requestURL(intent.ApplicationID), html.EscapeString(intent.FormID))
		if err := s.mailer.Send([]string{u.Email}, subject, body); err != nil {
			return err
		}
	}
	return nil
}

func (s *NotifyService) sendDBAPending(ctx context.Context, intent NotificationIntent) error {
	pool, err := s.users.ListByRole(ctx, models.RoleDBA)
	if err != nil {
		return fmt.Errorf("resolve dba pool: %w", err)
	}
	to := emails(pool)
	if len(to) == 0 {
		s.logger.Warn("dba pool is empty, release notification skipped",
			zap.Int64("application_id", intent.ApplicationID))
		return nil
	}

	subject := fmt.Sprintf("[Change Portal] Request %s is fully approved", intent.FormID)
	body := fmt.Sprintf(`<p>Change request <b>%s</b> has passed every approval step and is ready for release.</p>
<p>Review it in the portal: <a href="%s">%s</a></p>`,
		html.EscapeString(intent.FormID), s.requestURL(intent.ApplicationID),
		html.EscapeString(intent.FormID))
	return s.mailer.Send(to, subject, body)
}

func (s *NotifyService) sendApplicantResult(ctx context.Context, intent NotificationIntent) error {
	recipients, err := s.users.FindByIDs(ctx, intent.RecipientIDs)
	if err != nil {
		return fmt.Errorf("resolve applicant: %w", err)
	}
	to := emails(recipients)
	if len(to) == 0 {
		return nil
	}

	var verdict string
	switch intent.ResultStatus {
	case models.StatusOnline:
		verdict = "was released and is now online"
	case models.StatusManagerRejected:
		verdict = "was rejected during review"
	case models.StatusDBARejected:
		verdict = "was rejected by the DBA team"
	default:
		verdict = fmt.Sprintf("moved to status %s", intent.ResultStatus)
	}

	subject := fmt.Sprintf("[Change Portal] Request %s: decision", intent.FormID)
	body := fmt.Sprintf(`<p>Your change request <b>%s</b> %s (by %s).</p>`,
		html.EscapeString(intent.FormID), verdict, html.EscapeString(intent.ActorName))
	if intent.Comment != "" {
		body += fmt.Sprintf("<p>Comment: %s</p>", html.EscapeString(intent.Comment))
	}
	body += fmt.Sprintf(`<p>Details: <a href="%s">%s</a></p>`,
		s.requestURL(intent.ApplicationID), html.EscapeString(intent.FormID))
	return s.mailer.Send(to, subject, body)
}

func (s *NotifyService) sendProxyActed(ctx context.Context, intent NotificationIntent) error {
	recipients, err := s.users.FindByIDs(ctx, intent.RecipientIDs)
	if err != nil {
		return fmt.Errorf("resolve seat holder: %w", err)
	}
	to := emails(recipients)
	if len(to) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[Change Portal] Request %s was handled by your proxy", intent.FormID)
	body := fmt.Sprintf(`<p>%s acted as your proxy on change request <b>%s</b>.</p>
<p>Details: <a href="%s">%s</a></p>`,
		html.EscapeString(intent.ActorName), html.EscapeString(intent.FormID),
		s.requestURL(intent.ApplicationID), html.EscapeString(intent.FormID))
	return s.mailer.Send(to, subject, body)
}

func (s *NotifyService) actionURL(userID, applicationID int64, action string) (string, error) {
	token, err := s.tokens.IssueActionToken(userID, applicationID, action)
	if err != nil {
		return "", fmt.Errorf("issue %s token: %w", action, err)
	}
	return fmt.Sprintf("%s/public/%s?token=%s", s.cfg.PortalBaseURL, action, token), nil
}

func (s *NotifyService) requestURL(applicationID int64) string {
	return fmt.Sprintf("%s/requests/%d", s.cfg.PortalBaseURL, applicationID)
}

func emails(users []models.User) []string {
	var out []string
	for _, u := range users {
		if u.Email != "" {
			out = append(out, u.Email)
		}
	}
	return out
}
