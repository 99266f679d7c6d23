package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *APIV1Service) createSession(c echo.Context) error {
	session, err := s.Sessions.Create(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, &sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.Unix(),
	})
}

func (s *APIV1Service) deleteSession(c echo.Context) error {
	token := bearerToken(c.Request())
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing session token")
	}
	if err := s.Sessions.Delete(c.Request().Context(), token); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
