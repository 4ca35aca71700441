package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/internal/service"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

type publicUserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// PublicHandler serves the magic-link approval endpoints. Links are opened
// from email clients, so responses are small HTML pages rather than JSON.
type PublicHandler struct {
	tokens   *service.TokenService
	approval *service.ApprovalService
	users    publicUserStore
}

// NewPublicHandler creates a new handler.
func NewPublicHandler(tokens *service.TokenService, approval *service.ApprovalService, users publicUserStore) *PublicHandler {
	return &PublicHandler{tokens: tokens, approval: approval, users: users}
}

// Approve godoc
// @Summary Approve via magic link
// @Tags Public
// @Produce html
// @Param token query string true "Action token"
// @Success 200 {string} string
// @Router /public/approve [get]
func (h *PublicHandler) Approve(c *gin.Context) {
	h.act(c, service.ActionApprove)
}

// Reject godoc
// @Summary Reject via magic link
// @Tags Public
// @Produce html
// @Param token query string true "Action token"
// @Success 200 {string} string
// @Router /public/reject [get]
func (h *PublicHandler) Reject(c *gin.Context) {
	h.act(c, service.ActionReject)
}

func (h *PublicHandler) act(c *gin.Context, action service.Action) {
	token := c.Query("token")
	if token == "" {
		h.renderError(c, appErrors.Clone(appErrors.ErrValidation, "missing action token"))
		return
	}

	claims, err := h.tokens.ConsumeActionToken(c.Request.Context(), token)
	if err != nil {
		h.renderError(c, err)
		return
	}
	// The token is single-use, so a mismatched action burns it. Acceptable:
	// tokens are minted in approve/reject pairs and the other one still works.
	if claims.Action != string(action) {
		h.renderError(c, appErrors.Clone(appErrors.ErrValidation, "action link does not match this action"))
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.renderError(c, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists"))
			return
		}
		h.renderError(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account"))
		return
	}
	if !user.Active {
		h.renderError(c, appErrors.Clone(appErrors.ErrUnauthorized, "account is inactive"))
		return
	}

	status, err := h.approval.ProcessAction(c.Request.Context(), claims.ApplicationID, service.ClaimsForUser(user), action, "via email link")
	if err != nil {
		h.renderError(c, err)
		return
	}

	body := fmt.Sprintf(`<html><body><h2>Done</h2>
<p>Your %s was recorded. The request is now <b>%s</b>.</p>
</body></html>`, html.EscapeString(string(action)), html.EscapeString(string(status)))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(body))
}

func (h *PublicHandler) renderError(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	body := fmt.Sprintf(`<html><body><h2>Unable to process</h2><p>%s</p></body></html>`,
		html.EscapeString(appErr.Message))
	c.Data(appErr.Status, "text/html; charset=utf-8", []byte(body))
}
