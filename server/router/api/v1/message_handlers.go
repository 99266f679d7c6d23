package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/loom/server/router/api/v1/chat"
	"github.com/hrygo/loom/store"
)

type messageWindowResponse struct {
	Messages []*chat.MessageView `json:"messages"`
	Total    int64               `json:"total"`
	HasMore  bool                `json:"has_more"`
}

func (s *APIV1Service) listMessages(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	reverse := c.QueryParam("order") != "asc"
	limit := queryInt32(c, "limit", 50)
	offset := queryInt32(c, "offset", 0)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	window, err := s.thread.ListMessages(c.Request().Context(), id, reverse, limit, offset)
	if err != nil {
		return httpError(err)
	}
	resp := &messageWindowResponse{
		Messages: make([]*chat.MessageView, 0, len(window.Items)),
		Total:    window.Total,
		HasMore:  window.HasMore,
	}
	for _, m := range window.Items {
		resp.Messages = append(resp.Messages, chat.ToMessageView(m))
	}
	return c.JSON(http.StatusOK, resp)
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type editMessageResponse struct {
	Message        *chat.MessageView `json:"message"`
	TruncatedCount int64             `json:"truncated_count"`
}

func (s *APIV1Service) editMessage(c echo.Context) error {
	id, err := pathID64(c)
	if err != nil {
		return err
	}
	req := &editMessageRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	result, err := s.thread.EditMessage(c.Request().Context(), id, req.Content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, &editMessageResponse{
		Message:        chat.ToMessageView(result.Updated),
		TruncatedCount: result.TruncatedCount,
	})
}

// regenerateMessage streams a replacement completion for an assistant
// message as a new variation in its group.
func (s *APIV1Service) regenerateMessage(c echo.Context) error {
	id, err := pathID64(c)
	if err != nil {
		return err
	}
	return s.streamSSE(c, func(emit chat.EmitFunc) error {
		return s.controller.RegenerateStream(c.Request().Context(), id, emit)
	})
}

func (s *APIV1Service) listVariations(c echo.Context) error {
	id, err := pathID64(c)
	if err != nil {
		return err
	}
	variations, err := s.thread.ListVariations(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	views := make([]*chat.MessageView, 0, len(variations))
	for _, m := range variations {
		views = append(views, chat.ToMessageView(m))
	}
	return c.JSON(http.StatusOK, views)
}

type sendMessageRequest struct {
	Content     string             `json:"content"`
	Attachments []store.Attachment `json:"attachments" validate:"max=8,dive"`
}

// streamMessage runs a full chat turn over SSE: the user message is
// persisted and acknowledged, deltas stream as they arrive, and one terminal
// event closes the turn.
func (s *APIV1Service) streamMessage(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	req := &sendMessageRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	return s.streamSSE(c, func(emit chat.EmitFunc) error {
		return s.controller.SendMessage(c.Request().Context(), id, req.Content, req.Attachments, emit)
	})
}

func queryInt32(c echo.Context, name string, fallback int32) int32 {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return fallback
	}
	return int32(v)
}
