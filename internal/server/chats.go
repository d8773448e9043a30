package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/legalqa/legalqa/internal/store"
)

type messageResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	store.Conversation
	Messages []messageResponse `json:"messages"`
}

type titleRequest struct {
	Title string `json:"title"`
}

func (s *Server) requireStore() error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "conversation storage is not configured")
	}
	return nil
}

// ownedConversation loads :id and checks it belongs to userID. Other users'
// conversations look missing.
func (s *Server) ownedConversation(c echo.Context, userID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.UserID != userID) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// listChats returns the user's conversations, newest first, or bucketed by
// age with ?group=age.
func (s *Server) listChats(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := s.requireStore(); err != nil {
		return err
	}
	convs, err := s.store.ListConversations(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	if c.QueryParam("group") == "age" {
		return c.JSON(http.StatusOK, store.GroupByAge(convs, s.now()))
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	return c.JSON(http.StatusOK, convs)
}

func (s *Server) getChat(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := s.requireStore(); err != nil {
		return err
	}
	conv, err := s.ownedConversation(c, userID)
	if err != nil {
		return err
	}
	msgs, err := s.store.LoadTurns(c.Request().Context(), conv.ID)
	if err != nil {
		return err
	}
	resp := chatResponse{Conversation: *conv, Messages: make([]messageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse{Role: string(m.Role), Content: m.Content})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) renameChat(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := s.requireStore(); err != nil {
		return err
	}
	var req titleRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title required")
	}
	conv, err := s.ownedConversation(c, userID)
	if err != nil {
		return err
	}
	if err := s.store.RenameConversation(c.Request().Context(), conv.ID, req.Title); err != nil {
		return err
	}
	conv, err = s.store.GetConversation(c.Request().Context(), conv.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

// deleteChat removes one conversation. If it is the one the user's session
// mirrors, the session is cleared too.
func (s *Server) deleteChat(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := s.requireStore(); err != nil {
		return err
	}
	conv, err := s.ownedConversation(c, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConversation(c.Request().Context(), conv.ID); err != nil {
		return err
	}
	if s.pipeline.Stats(userID).ConversationID == conv.ID {
		s.pipeline.Clear(userID)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteAllChats(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := s.requireStore(); err != nil {
		return err
	}
	n, err := s.store.DeleteUserConversations(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	s.pipeline.Clear(userID)
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}
