package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/domain"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

type userPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

type chatRequest struct {
	SessionID int64  `json:"session_id"`
	Message   string `json:"message"`
	Mode      string `json:"mode"`
	FileID    *int64 `json:"file_id,omitempty"`
}

type chatResponse struct {
	Reply         string `json:"reply"`
	SessionID     int64  `json:"session_id"`
	Model         string `json:"model"`
	WasCached     bool   `json:"was_cached"`
	PersistFailed bool   `json:"persist_failed,omitempty"`
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handlePGHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Health(c.Request().Context()))
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return domain.New(domain.KindValidation, "request body is not valid JSON")
	}

	user, token, err := s.auth.Register(c.Request().Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        userPayload{ID: user.ID, Email: user.Email, FullName: user.FullName},
	})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return domain.New(domain.KindValidation, "request body is not valid JSON")
	}

	user, token, err := s.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        userPayload{ID: user.ID, Email: user.Email, FullName: user.FullName},
	})
}

// handleChat runs one turn. The wire speaks numeric session handles;
// zero requests a new session and the response carries the handle to
// continue with.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return domain.New(domain.KindValidation, "request body is not valid JSON")
	}
	ctx := c.Request().Context()

	sessionID := ""
	if req.SessionID != 0 {
		sess, err := s.store.GetSessionByHandle(ctx, req.SessionID)
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	var fileID *int64
	if req.FileID != nil && *req.FileID != 0 {
		fileID = req.FileID
	}

	result, err := s.chat.HandleMessage(ctx, chat.TurnRequest{
		SessionID: sessionID,
		Owner:     auth.Owner(c),
		UserText:  req.Message,
		RoleName:  req.Mode,
		FileID:    fileID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, chatResponse{
		Reply:         result.Reply,
		SessionID:     result.SessionHandle,
		Model:         result.Model,
		WasCached:     result.WasCached,
		PersistFailed: result.PersistFailed,
	})
}

// handleDeleteSession accepts either the numeric handle or the internal
// session id.
func (s *Server) handleDeleteSession(c echo.Context) error {
	raw := c.Param("sid")
	ctx := c.Request().Context()

	sessionID := raw
	if handle, err := strconv.ParseInt(raw, 10, 64); err == nil {
		sess, err := s.store.GetSessionByHandle(ctx, handle)
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	deleted, err := s.chat.DeleteSession(ctx, sessionID, auth.Owner(c))
	if err != nil {
		return err
	}
	if !deleted {
		return domain.Newf(domain.KindNotFound, "session %s not found", raw)
	}
	return c.JSON(http.StatusOK, deleteResponse{Deleted: true})
}
