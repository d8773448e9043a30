package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/legalqa/legalqa/internal/pipeline"
)

type chatRequest struct {
	Message           string `json:"message"`
	ConversationID    string `json:"conversationId"`
	BackendID         string `json:"backendId"`
	Model             string `json:"model"` // older clients
	IsNewConversation bool   `json:"isNewConversation"`
	UseSearch         bool   `json:"useSearch"`
	APIKey            string `json:"apiKey"`

	// Stream asks for progress records before the result.
	Stream bool `json:"stream"`
}

// chat runs one turn and answers with NDJSON. Without streaming, errors use
// the status from StatusFor; once progress has been streamed, the status is
// 200 and the final record carries the error.
func (s *Server) chat(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var body chatRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req := &pipeline.Request{
		Message:           body.Message,
		ConversationID:    body.ConversationID,
		BackendID:         body.BackendID,
		IsNewConversation: body.IsNewConversation,
		UseSearch:         body.UseSearch,
		APIKey:            body.APIKey,
	}
	if req.BackendID == "" {
		req.BackendID = body.Model
	}
	if k := strings.TrimSpace(c.Request().Header.Get(apiKeyHeader)); k != "" {
		req.APIKey = k
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")

	if body.Stream {
		req.Progress = func(st pipeline.State) {
			if !res.Committed {
				res.WriteHeader(http.StatusOK)
			}
			if err := pipeline.WriteProgress(res, st); err == nil {
				res.Flush()
			}
		}
	}

	resp, runErr := s.pipeline.Run(c.Request().Context(), userID, req)
	if !res.Committed {
		status := http.StatusOK
		if runErr != nil {
			status = StatusFor(runErr)
		}
		res.WriteHeader(status)
	}
	if err := pipeline.WriteRecord(res, resp, runErr); err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("write chat response")
	}
	res.Flush()
	return nil
}

func (s *Server) sessionStats(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.pipeline.Stats(userID))
}

// clearSession is the "start new conversation" signal.
func (s *Server) clearSession(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	s.pipeline.Clear(userID)
	return c.JSON(http.StatusOK, s.pipeline.Stats(userID))
}

func (s *Server) listBackends(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pipeline.Registry().Descriptors())
}
