package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/loom/store"
)

func (s *APIV1Service) listArtifacts(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	artifacts, err := s.Store.ListArtifacts(c.Request().Context(), &store.FindArtifact{ConversationID: &id})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, artifacts)
}

func (s *APIV1Service) getArtifact(c echo.Context) error {
	id, err := pathID64(c)
	if err != nil {
		return err
	}
	artifact, err := s.Store.GetArtifact(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, artifact)
}

type updateArtifactRequest struct {
	Content string `json:"content" validate:"required"`
	Title   string `json:"title" validate:"max=200"`
}

func (s *APIV1Service) updateArtifact(c echo.Context) error {
	id, err := pathID64(c)
	if err != nil {
		return err
	}
	req := &updateArtifactRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	artifact, err := s.artifacts.Update(c.Request().Context(), id, req.Content, req.Title)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, artifact)
}

func (s *APIV1Service) listArtifactVersions(c echo.Context) error {
	id, err := pathID64(c)
	if err != nil {
		return err
	}
	versions, err := s.artifacts.ListVersions(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, versions)
}

type revertArtifactRequest struct {
	Version int32 `json:"version" validate:"required,gt=0"`
}

func (s *APIV1Service) revertArtifact(c echo.Context) error {
	id, err := pathID64(c)
	if err != nil {
		return err
	}
	req := &revertArtifactRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	artifact, err := s.artifacts.Revert(c.Request().Context(), id, req.Version)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, artifact)
}
