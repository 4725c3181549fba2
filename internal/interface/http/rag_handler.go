package http

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studyforge/notebook-api/internal/domain/auth"
	"github.com/studyforge/notebook-api/internal/domain/rag"
	apperrors "github.com/studyforge/notebook-api/pkg/errors"
)

// ragOwnerNamespace derives a stable uuid.UUID from an auth int64 user id,
// since the auth domain keys users numerically but the notebook domain is
// uuid-scoped throughout.
var ragOwnerNamespace = uuid.MustParse("6f6e6f74-6562-6f6f-6b2d-7573657200ff")

func ragOwnerID(claims auth.Claims) uuid.UUID {
	return uuid.NewSHA1(ragOwnerNamespace, []byte(strconv.FormatInt(claims.UserID, 10)))
}

func ragHTTPStatus(code string) int {
	switch code {
	case apperrors.CodeValidation, apperrors.CodeSchema:
		return http.StatusBadRequest
	case apperrors.CodeAuth:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict:
		return http.StatusConflict
	case apperrors.CodeRateLimit:
		return http.StatusTooManyRequests
	case apperrors.CodeExternal:
		return http.StatusBadGateway
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var ragErrorCodes = []string{
	apperrors.CodeValidation, apperrors.CodeSchema, apperrors.CodeAuth,
	apperrors.CodeForbidden, apperrors.CodeNotFound, apperrors.CodeConflict,
	apperrors.CodeRateLimit, apperrors.CodeExternal, apperrors.CodeTimeout,
	apperrors.CodeInternal,
}

func abortWithRAGError(c *gin.Context, err error) {
	for _, code := range ragErrorCodes {
		if apperrors.IsCode(err, code) {
			abortWithError(c, NewHTTPError(ragHTTPStatus(code), code, errMessage(err), err))
			return
		}
	}
	abortWithError(c, NewHTTPError(http.StatusInternalServerError, apperrors.CodeInternal, errMessage(err), err))
}

func (h *Handler) ragUnavailable(c *gin.Context) bool {
	if h.ragSvc == nil {
		abortWithError(c, NewHTTPError(http.StatusServiceUnavailable, "notebook_disabled", "notebook service unavailable", nil))
		return true
	}
	return false
}

func requireClaims(c *gin.Context) (auth.Claims, bool) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
	}
	return claims, ok
}

type notebookPayload struct {
	Title            string  `json:"title"`
	Description      *string `json:"description"`
	Language         string  `json:"language"`
	Tone             string  `json:"tone"`
	MaxContextTokens int     `json:"maxContextTokens"`
}

// CreateNotebook creates a new notebook for the authenticated user.
func (h *Handler) CreateNotebook(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req notebookPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	notebook, err := h.ragSvc.CreateNotebook(c.Request.Context(), ragOwnerID(claims), rag.NotebookInput{
		Title:            req.Title,
		Description:      req.Description,
		Language:         req.Language,
		Tone:             req.Tone,
		MaxContextTokens: req.MaxContextTokens,
	})
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusCreated, notebook)
}

// ListNotebooks returns the authenticated user's notebooks.
func (h *Handler) ListNotebooks(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	notebooks, err := h.ragSvc.ListNotebooks(c.Request.Context(), ragOwnerID(claims))
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": notebooks})
}

// GetNotebook returns a single notebook owned by the caller.
func (h *Handler) GetNotebook(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebook id", err))
		return
	}
	notebook, err := h.ragSvc.GetNotebook(c.Request.Context(), ragOwnerID(claims), id)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, notebook)
}

// UpdateNotebook edits a notebook owned by the caller.
func (h *Handler) UpdateNotebook(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebook id", err))
		return
	}
	var req notebookPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	notebook, err := h.ragSvc.UpdateNotebook(c.Request.Context(), ragOwnerID(claims), id, rag.NotebookInput{
		Title:            req.Title,
		Description:      req.Description,
		Language:         req.Language,
		Tone:             req.Tone,
		MaxContextTokens: req.MaxContextTokens,
	})
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, notebook)
}

// DeleteNotebook soft-deletes a notebook owned by the caller.
func (h *Handler) DeleteNotebook(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebook id", err))
		return
	}
	if err := h.ragSvc.DeleteNotebook(c.Request.Context(), ragOwnerID(claims), id); err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RestoreNotebook reverses a soft-delete for a notebook owned by the caller.
func (h *Handler) RestoreNotebook(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebook id", err))
		return
	}
	notebook, err := h.ragSvc.RestoreNotebook(c.Request.Context(), ragOwnerID(claims), id)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, notebook)
}

// IngestSources handles a multipart upload of files, a URL, and/or raw
// text, dispatching ingestion for each accepted input.
func (h *Handler) IngestSources(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	notebookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebook id", err))
		return
	}

	var files []rag.UploadFile
	if form, ferr := c.MultipartForm(); ferr == nil && form != nil {
		for _, fh := range form.File["files"] {
			content, readErr := readMultipartFile(fh)
			if readErr != nil {
				abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "failed to read upload", readErr))
				return
			}
			files = append(files, rag.UploadFile{Filename: fh.Filename, Content: content})
		}
	}
	if fh, ferr := c.FormFile("file"); ferr == nil {
		content, readErr := readMultipartFile(fh)
		if readErr != nil {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "failed to read upload", readErr))
			return
		}
		files = append(files, rag.UploadFile{Filename: fh.Filename, Content: content})
	}

	sources, err := h.ragSvc.IngestUpload(c.Request.Context(), notebookID, files, c.PostForm("url"), c.PostForm("text"), c.PostForm("title"))
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	if len(sources) == 1 {
		src := sources[0]
		c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{
			"sourceId":    src.SourceID,
			"sourceTitle": src.Title,
			"status":      src.Status,
			"message":     "ingestion started",
		}})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": sources})
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ListSources returns the ingested sources for a notebook.
func (h *Handler) ListSources(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	notebookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebook id", err))
		return
	}
	sources, err := h.ragSvc.ListSources(c.Request.Context(), ragOwnerID(claims), notebookID)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": sources})
}

type generatePayload struct {
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
	Format       string `json:"format"`
}

func (h *Handler) runGeneration(c *gin.Context, req rag.GenerationRequest, kind string) {
	var body generatePayload
	_ = c.ShouldBindJSON(&body)

	var (
		result *rag.GenerationHistory
		err    error
	)
	switch kind {
	case "summary":
		result, err = h.ragSvc.GenerateSummary(c.Request.Context(), req)
	case "quiz":
		result, err = h.ragSvc.GenerateQuiz(c.Request.Context(), req, rag.QuizOptions{NumQuestions: body.NumQuestions, Difficulty: body.Difficulty})
	case "guide":
		result, err = h.ragSvc.GenerateStudyGuide(c.Request.Context(), req)
	case "mindmap":
		result, err = h.ragSvc.GenerateMindmap(c.Request.Context(), req, rag.MindmapOptions{Format: body.Format})
	default:
		abortWithError(c, NewHTTPError(http.StatusNotFound, "not_found", "unknown generation kind", nil))
		return
	}
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GenerateForSource produces a derived artifact scoped to one source.
func (h *Handler) GenerateForSource(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid source id", err))
		return
	}
	notebookID, err := h.notebookIDForSource(c, claims, sourceID)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	h.runGeneration(c, rag.GenerationRequest{NotebookID: notebookID, SourceID: &sourceID, UserID: ragOwnerID(claims)}, c.Param("kind"))
}

// GenerateForNotebook produces a derived artifact scoped to a whole notebook.
func (h *Handler) GenerateForNotebook(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	notebookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebook id", err))
		return
	}
	h.runGeneration(c, rag.GenerationRequest{NotebookID: notebookID, UserID: ragOwnerID(claims)}, c.Param("kind"))
}

// notebookIDForSource resolves the owning notebook of a source so a
// source-scoped generation request can be authorized against the caller.
func (h *Handler) notebookIDForSource(c *gin.Context, claims auth.Claims, sourceID uuid.UUID) (uuid.UUID, error) {
	notebooks, err := h.ragSvc.ListNotebooks(c.Request.Context(), ragOwnerID(claims))
	if err != nil {
		return uuid.Nil, err
	}
	for _, nb := range notebooks {
		sources, err := h.ragSvc.ListSources(c.Request.Context(), ragOwnerID(claims), nb.ID)
		if err != nil {
			continue
		}
		for _, src := range sources {
			if src.ID == sourceID {
				return nb.ID, nil
			}
		}
	}
	return uuid.Nil, apperrors.NotFound("source not found")
}

type conversationPayload struct {
	NotebookID string  `json:"notebookId"`
	Title      *string `json:"title"`
	Mode       string  `json:"mode"`
	SourceID   *string `json:"sourceId"`
}

// CreateConversation starts a new chat thread.
func (h *Handler) CreateConversation(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req conversationPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	notebookID, err := uuid.Parse(req.NotebookID)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebookId", err))
		return
	}
	var sourceID *uuid.UUID
	if req.SourceID != nil {
		parsed, err := uuid.Parse(*req.SourceID)
		if err != nil {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid sourceId", err))
			return
		}
		sourceID = &parsed
	}
	conv, err := h.ragSvc.CreateConversation(c.Request.Context(), ragOwnerID(claims), notebookID, req.Title, rag.ConversationMode(req.Mode), sourceID)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// ListConversations returns the caller's conversations for a notebook.
func (h *Handler) ListConversations(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	notebookID, err := uuid.Parse(c.Query("notebookId"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid notebookId", err))
		return
	}
	conversations, err := h.ragSvc.ListConversations(c.Request.Context(), ragOwnerID(claims), notebookID)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": conversations})
}

// GetConversation returns a single conversation owned by the caller.
func (h *Handler) GetConversation(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid conversation id", err))
		return
	}
	conv, err := h.ragSvc.GetConversation(c.Request.Context(), ragOwnerID(claims), id)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type postMessagePayload struct {
	Content string `json:"content"`
	UseRAG  *bool  `json:"use_rag"`
}

// PostMessage sends a user message and returns the generated assistant reply.
func (h *Handler) PostMessage(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid conversation id", err))
		return
	}
	var req postMessagePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	useRAG := req.UseRAG == nil || *req.UseRAG

	var msg *rag.Message
	if useRAG {
		msg, err = h.ragSvc.SendMessageWithRAG(c.Request.Context(), conversationID, ragOwnerID(claims), req.Content)
	} else {
		msg, err = h.ragSvc.SendMessageWithContext(c.Request.Context(), conversationID, ragOwnerID(claims), req.Content)
	}
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ListConversationMessages returns a conversation's message history, as
// capped by rag.Service.ListMessages.
func (h *Handler) ListConversationMessages(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid conversation id", err))
		return
	}
	messages, err := h.ragSvc.ListMessages(c.Request.Context(), ragOwnerID(claims), conversationID)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": messages})
}

type mindmapTextPayload struct {
	Text   string `json:"text"`
	Format string `json:"format"`
}

// GenerateMindmapFromText produces a mindmap from raw text, with no
// notebook or source involved.
func (h *Handler) GenerateMindmapFromText(c *gin.Context) {
	if h.ragUnavailable(c) {
		return
	}
	var req mindmapTextPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	result, err := h.ragSvc.GenerateMindmapFromText(c.Request.Context(), req.Text, req.Format)
	if err != nil {
		abortWithRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health reports basic liveness of the process.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness reports whether dependent infra is reachable.
func (h *Handler) Readiness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Live is the liveness probe used by orchestrators.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
