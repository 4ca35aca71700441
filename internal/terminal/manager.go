package terminal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/pkg/config"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

// Sink receives a session's outbound traffic. The websocket layer implements
// it; tests substitute a buffer.
type Sink interface {
	Output(data []byte)
	Ended(reason string)
}

type applicationGetter interface {
	GetDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error)
}

type connectionLogStore interface {
	Open(ctx context.Context, log *models.ConnectionLog) (int64, error)
	Close(ctx context.Context, id int64, endTime time.Time) error
}

type sessionMetrics interface {
	SessionOpened()
	SessionClosed(duration time.Duration)
}

// Manager owns the connection-id to live-session map. All mutation funnels
// through its methods; disconnects, expiry timers, and process exits can race
// to tear down the same session, so removal and teardown are idempotent.
type Manager struct {
	cfg     config.TerminalConfig
	apps    applicationGetter
	logs    connectionLogStore
	creds   *CredentialResolver
	metrics sessionMetrics
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg config.TerminalConfig, apps applicationGetter, logs connectionLogStore, metrics sessionMetrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		apps:     apps,
		logs:     logs,
		creds:    NewCredentialResolver(cfg),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Session binds one connection id to one spawned SQL*Plus process, its
// transcript, and its expiry timer.
type Session struct {
	connID        string
	applicationID int64
	userID        int64
	username      string

	mgr        *Manager
	cmd        *exec.Cmd
	ptyFile    *os.File
	transcript *Transcript
	secret     string
	sink       Sink
	logID      int64
	startedAt  time.Time

	timer    *time.Timer
	exited   chan struct{}
	killOnce sync.Once
}

// CreateSession validates access and spawns the interactive process. The
// precondition checks run in a fixed order so the client always sees the most
// specific refusal. An existing session on the same connection id is torn
// down first.
func (m *Manager) CreateSession(ctx context.Context, connID string, actor *models.JWTClaims, applicationID int64, cols, rows uint16, sink Sink) (*Session, error) {
	if prev, ok := m.get(connID); ok {
		prev.Kill("replaced by new session")
	}

	app, err := m.apps.GetDetail(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	// Applicants may open a session against their own request before release
	// for self-testing; everyone else needs the request in approved status.
	// Released (online) requests are closed to non-applicants again.
	if app.Status != models.StatusApproved && app.ApplicantID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request is not approved for terminal access")
	}

	now := m.now()
	if app.AccessStartTime != nil && now.Before(*app.AccessStartTime) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "access window has not started yet")
	}
	if app.AccessEndTime != nil && now.After(*app.AccessEndTime) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "access window has expired")
	}

	if app.AccessDBUser == nil || *app.AccessDBUser == "" {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "no database user assigned to this request")
	}
	creds, err := m.creds.Resolve(*app.AccessDBUser)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "database credentials are not available")
	}

	transcript, err := NewTranscript(m.cfg.TranscriptDir, TranscriptHeader{
		ApplicationID: app.ID,
		FormID:        app.FormID,
		Username:      actor.Username,
		DBUser:        creds.Username,
		StartedAt:     now,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transcript")
	}

	cmd := exec.Command(m.cfg.SQLPlusPath, "/nolog")
	cmd.Env = append(os.Environ(), "NLS_LANG="+m.cfg.NLSLang)
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	ptyFile, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		transcript.Close(m.now())
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to start terminal process")
	}

	s := &Session{
		connID:        connID,
		applicationID: app.ID,
		userID:        actor.UserID,
		username:      actor.Username,
		mgr:           m,
		cmd:           cmd,
		ptyFile:       ptyFile,
		transcript:    transcript,
		secret:        creds.Password,
		sink:          sink,
		startedAt:     now,
		exited:        make(chan struct{}),
	}

	logID, err := m.logs.Open(ctx, &models.ConnectionLog{
		ApplicationID: app.ID,
		UserID:        actor.UserID,
		Username:      actor.Username,
		StartTime:     now,
		LogFilename:   transcript.Name(),
		Status:        models.ConnectionActive,
	})
	if err != nil {
		m.logger.Warn("failed to open connection log", zap.Int64("application_id", app.ID), zap.Error(err))
	} else {
		s.logID = logID
	}

	m.mu.Lock()
	m.sessions[connID] = s
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SessionOpened()
	}
	m.logger.Info("terminal session started",
		zap.String("conn_id", connID),
		zap.Int64("application_id", app.ID),
		zap.String("user", actor.Username),
		zap.String("db_user", creds.Username))

	go s.reapProcess()
	go s.pumpOutput()
	go s.connectAfterBanner(creds)
	if app.AccessEndTime != nil {
		remaining := app.AccessEndTime.Sub(now)
		s.timer = time.AfterFunc(remaining, func() {
			s.sink.Output([]byte("\r\n*** access window expired, session closing ***\r\n"))
			s.Kill("access window expired")
		})
	}

	return s, nil
}

// Get looks up the live session for a connection id.
func (m *Manager) Get(connID string) (*Session, bool) {
	return m.get(connID)
}

// Kill tears down the session bound to connID, if any.
func (m *Manager) Kill(connID, reason string) {
	if s, ok := m.get(connID); ok {
		s.Kill(reason)
	}
}

// Shutdown tears down every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()
	for _, s := range live {
		s.Kill("server shutting down")
	}
}

func (m *Manager) get(connID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	return s, ok
}

func (m *Manager) remove(connID string) {
	m.mu.Lock()
	delete(m.sessions, connID)
	m.mu.Unlock()
}

// Write forwards client keystrokes to the process verbatim.
func (s *Session) Write(data []byte) error {
	_, err := s.ptyFile.Write(data)
	return err
}

// Resize propagates new terminal geometry without restarting the process.
func (s *Session) Resize(cols, rows uint16) error {
	return pty.Setsize(s.ptyFile, &pty.Winsize{Rows: rows, Cols: cols})
}

// Kill tears the session down exactly once: graceful quit, grace period,
// force kill, transcript footer, connection-log close, map removal. Every
// trigger path (disconnect, expiry, process exit, replacement) funnels here.
func (s *Session) Kill(reason string) {
	s.killOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}

		s.ptyFile.Write([]byte("EXIT\r")) //nolint:errcheck
		select {
		case <-s.exited:
		case <-time.After(s.mgr.cfg.KillGracePeriod):
			if s.cmd.Process != nil {
				s.cmd.Process.Kill() //nolint:errcheck
			}
		}
		s.ptyFile.Close() //nolint:errcheck

		endedAt := s.mgr.now()
		s.transcript.Close(endedAt)

		if s.logID != 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.mgr.logs.Close(ctx, s.logID, endedAt); err != nil {
				s.mgr.logger.Warn("failed to close connection log",
					zap.Int64("log_id", s.logID), zap.Error(err))
			}
		}

		s.mgr.remove(s.connID)
		if s.mgr.metrics != nil {
			s.mgr.metrics.SessionClosed(endedAt.Sub(s.startedAt))
		}
		s.mgr.logger.Info("terminal session ended",
			zap.String("conn_id", s.connID),
			zap.Int64("application_id", s.applicationID),
			zap.String("reason", reason))
		s.sink.Ended(reason)
	})
}

// pumpOutput streams process output to the transcript and the client. The
// credential secret is redacted before the bytes leave this function.
func (s *Session) pumpOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptyFile.Read(buf)
		if n > 0 {
			out := Redact(append([]byte(nil), buf[:n]...), s.secret)
			s.transcript.Write(out)
			s.sink.Output(out)
		}
		if err != nil {
			s.Kill("process exited")
			return
		}
	}
}

// connectAfterBanner injects the CONNECT command once the SQL*Plus prompt has
// had a moment to settle. Skipped when the session died in the meantime.
func (s *Session) connectAfterBanner(creds Credentials) {
	select {
	case <-s.exited:
		return
	case <-time.After(s.mgr.cfg.ConnectDelay):
	}
	connect := fmt.Sprintf("CONNECT %s/%s@%s\r", creds.Username, creds.Password, s.mgr.creds.ConnectString())
	if _, err := s.ptyFile.Write([]byte(connect)); err != nil {
		s.mgr.logger.Warn("failed to send connect command",
			zap.String("conn_id", s.connID), zap.Error(err))
	}
}

func (s *Session) reapProcess() {
	s.cmd.Wait() //nolint:errcheck
	close(s.exited)
}
