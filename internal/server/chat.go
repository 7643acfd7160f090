package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/provider"
	"github.com/recallhq/recall/session"
)

// maxUploadBytes bounds a single chat export upload.
const maxUploadBytes = 64 << 20

const answerSystemPrompt = "You are a helpful assistant answering questions about the user's own chat history. " +
	"Use only the provided chat history context. If the context does not contain the answer, say so."

// ChatHandler serves export upload, memory queries and coverage.
type ChatHandler struct {
	Ingestor  *ingest.Orchestrator
	Retriever *retrieval.Retriever
	Sessions  session.Store
	LLM       provider.Provider
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/upload", h.upload)
	g.POST("/query", h.query)
	g.GET("/coverage", h.coverage)
}

func userID(c echo.Context) (string, error) {
	id, _ := c.Get("user_id").(string)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return id, nil
}

// upload accepts a chat export either as a multipart "file" part or as a raw
// JSON body, and runs the full ingestion pipeline synchronously.
func (h *ChatHandler) upload(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var payload []byte
	sourceLabel := "upload"
	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > maxUploadBytes {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload too large")
		}
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer f.Close()
		payload, err = io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		sourceLabel = fh.Filename
	} else {
		payload, err = io.ReadAll(io.LimitReader(c.Request().Body, maxUploadBytes+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if int64(len(payload)) > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload too large")
	}
	if len(payload) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty upload")
	}

	res, err := h.Ingestor.ProcessUpload(c.Request().Context(), uid, payload, sourceLabel)
	if err != nil {
		if errors.Is(err, ingest.ErrNoMessages) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, UploadResponse{Inserted: res.Inserted, Embedded: res.Embedded})
}

// query retrieves relevant history, folds in recent conversation turns and
// asks the model to answer.
func (h *ChatHandler) query(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query must not be empty")
	}
	ctx := c.Request().Context()

	contextBlock, matches, err := h.Retriever.Retrieve(ctx, uid, req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	messages := []provider.Message{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "system", Content: contextBlock},
	}
	if h.Sessions != nil {
		history, err := h.Sessions.History(ctx, uid)
		if err == nil {
			for _, turn := range history {
				messages = append(messages, provider.Message{Role: turn.Role, Content: turn.Content})
			}
		}
	}
	messages = append(messages, provider.Message{Role: "user", Content: req.Query})

	answer, err := h.LLM.Answer(ctx, messages)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if h.Sessions != nil {
		now := time.Now().UTC()
		_ = h.Sessions.Append(ctx, uid, session.Turn{Role: "user", Content: req.Query, CreatedAt: now})
		_ = h.Sessions.Append(ctx, uid, session.Turn{Role: "assistant", Content: answer, CreatedAt: now})
	}

	out := QueryResponse{Answer: answer, Matches: make([]QueryMatch, 0, len(matches))}
	for _, m := range matches {
		out.Matches = append(out.Matches, QueryMatch{
			Content:      m.Content,
			Participants: m.Participants,
			StartTime:    m.StartTime,
			EndTime:      m.EndTime,
			Similarity:   m.Similarity,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// coverage reports how much history the caller has ingested.
func (h *ChatHandler) coverage(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	cov, err := h.Retriever.Coverage(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, CoverageResponse{
		TotalChunks: cov.TotalChunks,
		Earliest:    cov.Earliest,
		Latest:      cov.Latest,
	})
}
