// Package api provides the HTTP handlers and routing for the eligibility
// workflow service. It is grounded on the teacher's SetupRoutes/Handlers
// pattern — a public auth group plus a JWT-protected resource group — with
// the resource group generalized from flow-process publishing/querying to
// the five workflow endpoints of spec §6.
package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/authn"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/engine"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/progress"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/store"
)

// Handlers holds the service dependencies the workflow endpoints need: the
// engine to mutate applications, the store to read them back for the
// Progress API, the Authenticator to resolve bearer tokens, and an
// optional dev token issuer for local/integration use.
type Handlers struct {
	Engine        *engine.Engine
	Store         store.ApplicationStore
	Authenticator authn.Authenticator
	DevIssuer     *authn.DevIssuer // nil in production deployments
	MaxFileBytes  int64
	EstimateStageSeconds int // sum of configured stage timeouts, for /process's estimated_completion_seconds
}

// allowedContentTypes are the document formats the OCR upstream accepts;
// anything else fails synchronously as UNSUPPORTED_FORMAT rather than
// being enqueued for a stage executor to reject later.
var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// SetupRoutes registers the public auth group and the JWT-protected
// /workflow group, plus unauthenticated /healthz and /metrics.
func SetupRoutes(e *echo.Echo, h *Handlers, metricsHandler echo.HandlerFunc) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		e.GET("/metrics", metricsHandler)
	}

	if h.DevIssuer != nil {
		auth := e.Group("/auth")
		auth.POST("/register", h.Register)
		auth.POST("/token", h.Login)
	}

	wf := e.Group("/workflow")
	wf.Use(h.authMiddleware())
	wf.POST("/start-application", h.StartApplication)
	wf.POST("/upload-documents/:id", h.UploadDocuments)
	wf.POST("/process/:id", h.Process)
	wf.GET("/status/:id", h.Status)
	wf.POST("/cancel/:id", h.Cancel)
}

const jwtContextKey = "owner_token"

// authMiddleware resolves the bearer token into an owner_id stored in the
// echo context via SetUser, grounded on api/jwt.go's echojwt.WithConfig
// wiring: the bearer is extracted and its validation delegated to
// ParseTokenFunc rather than letting echojwt parse it as a raw JWT itself,
// since the Authenticator collaborator owns subject-to-owner_id resolution
// and may not be a JWT at all in a future deployment.
func (h *Handlers) authMiddleware() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:Authorization:Bearer ",
		ContextKey:  jwtContextKey,
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			return h.Authenticator.Authenticate(c.Request().Context(), auth)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return errorResponse(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid bearer token")
		},
		SuccessHandler: func(c echo.Context) {
			if ownerID, ok := c.Get(jwtContextKey).(uuid.UUID); ok {
				SetUser(c, &AuthUser{ID: ownerID.String()})
			}
		},
	})
}

func ownerFromContext(c echo.Context) (uuid.UUID, bool) {
	user, ok := GetUser(c)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(user.ID)
	return id, err == nil
}

func errorResponse(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]string{"error_code": code, "message": message})
}

// RegisterRequest/TokenResponse back the dev-only auth endpoints.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// Register creates a dev-issuer account. Not part of spec §6's core
// surface — it exists only so local/integration tests have a way to mint
// an owner_id without a full external identity provider.
func (h *Handlers) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "INVALID_FORM", "invalid request body")
	}
	ownerID, err := h.DevIssuer.Register(req.Username, req.Password)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "INVALID_FORM", err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"owner_id": ownerID.String()})
}

// Login exchanges dev-issuer credentials for a bearer token.
func (h *Handlers) Login(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "INVALID_FORM", "invalid request body")
	}
	token, err := h.DevIssuer.Login(req.Username, req.Password)
	if err != nil {
		return errorResponse(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid credentials")
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: token})
}

// StartApplicationRequest is the body of POST /workflow/start-application.
type StartApplicationRequest struct {
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
}

// StartApplication implements POST /workflow/start-application (§6).
func (h *Handlers) StartApplication(c echo.Context) error {
	ownerID, ok := ownerFromContext(c)
	if !ok {
		return errorResponse(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
	}

	var req StartApplicationRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "INVALID_FORM", "invalid request body")
	}

	app, err := h.Engine.StartApplication(c.Request().Context(), ownerID, domain.Form{
		FullName:   req.FullName,
		NationalID: req.NationalID,
		Phone:      req.Phone,
		Email:      req.Email,
	})
	if err != nil {
		if errors.Is(err, engine.ErrInvalidForm) {
			return errorResponse(c, http.StatusBadRequest, "INVALID_FORM", err.Error())
		}
		return errorResponse(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"application_id": app.ID.String(),
		"state":          app.State,
		"progress":       app.Progress(),
	})
}

// UploadDocuments implements POST /workflow/upload-documents/{id} (§6):
// multipart with up to two named parts, bank_statement and identity_card.
func (h *Handlers) UploadDocuments(c echo.Context) error {
	ownerID, ok := ownerFromContext(c)
	if !ok {
		return errorResponse(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
	}

	appID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "invalid application id")
	}

	app, err := h.Store.Load(c.Request().Context(), appID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "application not found")
		}
		return errorResponse(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
	if app.OwnerID != ownerID {
		return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "application not found")
	}

	uploads, fileHandles, cerr := h.collectUploads(c)
	defer closeAll(fileHandles)
	if cerr != nil {
		return cerr
	}

	ids, updated, err := h.Engine.UploadDocuments(c.Request().Context(), appID, uploads)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidState) {
			return errorResponse(c, http.StatusConflict, "INVALID_STATE", err.Error())
		}
		return errorResponse(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}

	documentIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		documentIDs = append(documentIDs, id.String())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"document_ids": documentIDs,
		"state":        updated.State,
		"progress":     updated.Progress(),
	})
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		f.Close()
	}
}

// collectUploads parses the bank_statement/identity_card multipart parts,
// enforcing FILE_TOO_LARGE and UNSUPPORTED_FORMAT synchronously per §6.
func (h *Handlers) collectUploads(c echo.Context) ([]engine.DocumentUpload, []multipart.File, error) {
	named := []struct {
		field string
		kind  domain.DocumentKind
	}{
		{"bank_statement", domain.BankStatement},
		{"identity_card", domain.IdentityCard},
	}

	var uploads []engine.DocumentUpload
	var opened []multipart.File
	for _, n := range named {
		header, err := c.FormFile(n.field)
		if err != nil {
			continue // part is optional; UploadDocuments tolerates a single kind
		}

		if header.Size > h.MaxFileBytes {
			return nil, opened, errorResponse(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				"uploaded file exceeds the maximum allowed size")
		}

		contentType := header.Header.Get("Content-Type")
		if !allowedContentTypes[contentType] {
			return nil, opened, errorResponse(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT",
				"unsupported content type: "+contentType)
		}

		file, err := header.Open()
		if err != nil {
			return nil, opened, errorResponse(c, http.StatusBadRequest, "INVALID_FORM", "could not read uploaded file")
		}
		opened = append(opened, file)

		uploads = append(uploads, engine.DocumentUpload{
			Kind:        n.kind,
			Filename:    header.Filename,
			ContentType: contentType,
			Size:        header.Size,
			Data:        io.Reader(file),
		})
	}

	return uploads, opened, nil
}

// ProcessRequest is the body of POST /workflow/process/{id}.
type ProcessRequest struct {
	ForceRetry bool `json:"force_retry"`
}

// Process implements POST /workflow/process/{id} (§6).
func (h *Handlers) Process(c echo.Context) error {
	ownerID, ok := ownerFromContext(c)
	if !ok {
		return errorResponse(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
	}

	appID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "invalid application id")
	}

	existing, err := h.Store.Load(c.Request().Context(), appID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "application not found")
		}
		return errorResponse(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
	if existing.OwnerID != ownerID {
		return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "application not found")
	}

	var req ProcessRequest
	_ = c.Bind(&req) // an absent or empty body means force_retry=false

	app, err := h.Engine.BeginProcessing(c.Request().Context(), appID, req.ForceRetry)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAlreadyRunning):
			return errorResponse(c, http.StatusConflict, "ALREADY_RUNNING", err.Error())
		case errors.Is(err, engine.ErrInvalidState):
			return errorResponse(c, http.StatusConflict, "INVALID_STATE", err.Error())
		default:
			return errorResponse(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
	}

	// job_id is a per-request correlation id: begin_processing enqueues one
	// OCR job per outstanding document, not a single job, so there is no
	// one underlying queue.Job identifier to report back here.
	return c.JSON(http.StatusOK, map[string]any{
		"state":                        app.State,
		"estimated_completion_seconds": h.EstimateStageSeconds,
		"job_id":                       uuid.NewString(),
	})
}

// Status implements GET /workflow/status/{id}: the Progress API of §4.6.
func (h *Handlers) Status(c echo.Context) error {
	ownerID, ok := ownerFromContext(c)
	if !ok {
		return errorResponse(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
	}

	appID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "invalid application id")
	}

	full, err := h.Store.LoadFull(c.Request().Context(), appID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "application not found")
		}
		return errorResponse(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
	if full.Application.OwnerID != ownerID {
		return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "application not found")
	}

	return c.JSON(http.StatusOK, progress.Project(full))
}

// Cancel implements POST /workflow/cancel/{id} (§6).
func (h *Handlers) Cancel(c echo.Context) error {
	ownerID, ok := ownerFromContext(c)
	if !ok {
		return errorResponse(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
	}

	appID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "invalid application id")
	}

	existing, err := h.Store.Load(c.Request().Context(), appID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "application not found")
		}
		return errorResponse(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
	if existing.OwnerID != ownerID {
		return errorResponse(c, http.StatusNotFound, "APP_NOT_FOUND", "application not found")
	}

	app, err := h.Engine.Cancel(c.Request().Context(), appID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrTerminal):
			return errorResponse(c, http.StatusConflict, "TERMINAL", err.Error())
		case errors.Is(err, engine.ErrInvalidState):
			return errorResponse(c, http.StatusConflict, "INVALID_STATE", err.Error())
		default:
			return errorResponse(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
	}

	return c.JSON(http.StatusOK, map[string]any{"state": app.State})
}
