package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/loom/store"
)

type conversationView struct {
	ID            int32                       `json:"id"`
	UID           string                      `json:"uid"`
	Title         string                      `json:"title"`
	TitleSource   store.TitleSource           `json:"title_source"`
	Model         string                      `json:"model,omitempty"`
	Settings      *store.ConversationSettings `json:"settings,omitempty"`
	Pinned        bool                        `json:"pinned"`
	Archived      bool                        `json:"archived"`
	MessageCount  int32                       `json:"message_count"`
	TokenCount    int32                       `json:"token_count"`
	CreatedTs     int64                       `json:"created_ts"`
	UpdatedTs     int64                       `json:"updated_ts"`
	LastMessageTs int64                       `json:"last_message_ts"`
}

func toConversationView(conv *store.Conversation) *conversationView {
	return &conversationView{
		ID:            conv.ID,
		UID:           conv.UID,
		Title:         conv.Title,
		TitleSource:   conv.TitleSource,
		Model:         conv.Model,
		Settings:      conv.Settings,
		Pinned:        conv.Pinned,
		Archived:      conv.Archived,
		MessageCount:  conv.MessageCount,
		TokenCount:    conv.TokenCount,
		CreatedTs:     conv.CreatedTs,
		UpdatedTs:     conv.UpdatedTs,
		LastMessageTs: conv.LastMessageTs,
	}
}

type createConversationRequest struct {
	Title    string                      `json:"title" validate:"max=200"`
	Model    string                      `json:"model" validate:"max=100"`
	Settings *store.ConversationSettings `json:"settings"`
}

func (s *APIV1Service) createConversation(c echo.Context) error {
	req := &createConversationRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	create := &store.Conversation{
		UID:         shortuuid.New(),
		Title:       req.Title,
		TitleSource: store.TitleSourceUser,
		Model:       req.Model,
		Settings:    req.Settings,
		RowStatus:   store.Normal,
	}
	if create.Title == "" {
		create.Title = store.DefaultConversationTitle
		create.TitleSource = store.TitleSourceDefault
	}

	conv, err := s.Store.CreateConversation(c.Request().Context(), create)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, toConversationView(conv))
}

func (s *APIV1Service) listConversations(c echo.Context) error {
	find := &store.FindConversation{}
	if c.QueryParam("archived") != "true" {
		normal := store.Normal
		find.RowStatus = &normal
	} else {
		archived := store.Archived
		find.RowStatus = &archived
	}
	if c.QueryParam("pinned") == "true" {
		pinned := true
		find.Pinned = &pinned
	}

	list, err := s.Store.ListConversations(c.Request().Context(), find)
	if err != nil {
		return httpError(err)
	}
	views := make([]*conversationView, 0, len(list))
	for _, conv := range list {
		views = append(views, toConversationView(conv))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *APIV1Service) getConversation(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	conv, err := s.Store.GetConversation(c.Request().Context(), &store.FindConversation{ID: &id})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toConversationView(conv))
}

type updateConversationRequest struct {
	Title    *string                     `json:"title" validate:"omitempty,max=200"`
	Model    *string                     `json:"model" validate:"omitempty,max=100"`
	Settings *store.ConversationSettings `json:"settings"`
	Pinned   *bool                       `json:"pinned"`
	Archived *bool                       `json:"archived"`
}

func (s *APIV1Service) updateConversation(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	req := &updateConversationRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	update := &store.UpdateConversation{
		ID:        id,
		Title:     req.Title,
		Model:     req.Model,
		Settings:  req.Settings,
		Pinned:    req.Pinned,
		UpdatedTs: &now,
	}
	// A manual rename pins the title against later auto-generation.
	if req.Title != nil {
		source := store.TitleSourceUser
		update.TitleSource = &source
	}
	if req.Archived != nil {
		update.Archived = req.Archived
		status := store.Normal
		if *req.Archived {
			status = store.Archived
		}
		update.RowStatus = &status
	}

	conv, err := s.Store.UpdateConversation(c.Request().Context(), update)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toConversationView(conv))
}

func (s *APIV1Service) deleteConversation(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteConversation(c.Request().Context(), &store.DeleteConversation{ID: id}); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type branchConversationRequest struct {
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Title     string `json:"title" validate:"max=200"`
}

func (s *APIV1Service) branchConversation(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	req := &branchConversationRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	conv, err := s.thread.Branch(c.Request().Context(), id, req.MessageID, req.Title)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, toConversationView(conv))
}

type duplicateConversationRequest struct {
	Title string `json:"title" validate:"max=200"`
}

func (s *APIV1Service) duplicateConversation(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	req := &duplicateConversationRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	conv, err := s.thread.Duplicate(c.Request().Context(), id, req.Title)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, toConversationView(conv))
}

type usageSummary struct {
	Records      []*store.UsageRecord `json:"records"`
	InputTokens  int64                `json:"input_tokens"`
	OutputTokens int64                `json:"output_tokens"`
	Cost         float64              `json:"cost"`
}

func (s *APIV1Service) listUsage(c echo.Context) error {
	id, err := pathID32(c)
	if err != nil {
		return err
	}
	records, err := s.Store.ListUsageRecords(c.Request().Context(), &store.FindUsageRecord{ConversationID: &id})
	if err != nil {
		return httpError(err)
	}
	summary := &usageSummary{Records: records}
	for _, r := range records {
		summary.InputTokens += int64(r.InputTokens)
		summary.OutputTokens += int64(r.OutputTokens)
		summary.Cost += r.Cost
	}
	return c.JSON(http.StatusOK, summary)
}

func pathID32(c echo.Context) (int32, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return int32(id), nil
}

func pathID64(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}
