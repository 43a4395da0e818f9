// Package api is the HTTP front of the prompt runner: a JSON API and a small
// HTML form, both driving one session through its dispatcher loop.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"promptrunner/internal/config"
	"promptrunner/internal/session"
	"promptrunner/internal/task"
)

// SaveFunc persists the settings and returns the path written.
type SaveFunc func(config.Document) (string, error)

type runRequest struct {
	Title         string `json:"title" form:"title"`
	Prompt        string `json:"prompt" form:"prompt"`
	APIKey        string `json:"api_key" form:"api_key"`
	PromptsFolder string `json:"prompts_folder" form:"prompts_folder"`
	OutputsFolder string `json:"outputs_folder" form:"outputs_folder"`
}

type runResponse struct {
	TaskID string     `json:"task_id"`
	Status task.State `json:"status"`
}

type saveRequest struct {
	PromptsFolder string `json:"prompts_folder"`
	OutputsFolder string `json:"outputs_folder"`
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

type credentialResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type configUpdate struct {
	PromptsFolder *string `json:"promptsFolder"`
	OutputsFolder *string `json:"outputsFolder"`
	APIKey        *string `json:"apiKey"`
	DarkMode      *bool   `json:"darkMode"`
}

type configResponse struct {
	PromptsFolder string `json:"promptsFolder"`
	OutputsFolder string `json:"outputsFolder"`
	APIKey        string `json:"apiKey"`
	DarkMode      bool   `json:"darkMode"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Path          string `json:"path,omitempty"`
}

type API struct {
	loop *session.Loop
	save SaveFunc
}

func NewAPI(loop *session.Loop, save SaveFunc) *API {
	return &API{loop: loop, save: save}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/session", a.GetSession)
		api.POST("/runs", a.StartRun)
		api.POST("/runs/cancel", a.CancelRun)
		api.POST("/runs/save", a.RetrySave)
		api.POST("/credential/test", a.TestCredential)
		api.GET("/config", a.GetConfig)
		api.PUT("/config", a.UpdateConfig)
	}
}

// GetSession returns what a window would show
func (a *API) GetSession(c *gin.Context) {
	view, err := a.view(c)
	if err != nil {
		abortUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// StartRun submits a prompt; the result arrives through GetSession
func (a *API) StartRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid run request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	id, err := a.start(c, req)
	if err != nil {
		c.JSON(runErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("task_id", id).Msg("run accepted")
	c.JSON(http.StatusAccepted, runResponse{TaskID: id, Status: task.StateRunning})
}

// CancelRun asks the in-flight run to stop
func (a *API) CancelRun(c *gin.Context) {
	var cancelled bool
	if err := a.loop.Do(c.Request.Context(), func(s *session.Session) { cancelled = s.Cancel() }); err != nil {
		abortUnavailable(c, err)
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "no run in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancelled": true})
}

// RetrySave writes the last completion again after a failed save
func (a *API) RetrySave(c *gin.Context) {
	var req saveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	var saveErr error
	if err := a.loop.Do(c.Request.Context(), func(s *session.Session) {
		saveErr = s.RetrySave(req.PromptsFolder, req.OutputsFolder)
	}); err != nil {
		abortUnavailable(c, err)
		return
	}
	switch {
	case errors.Is(saveErr, session.ErrNothingToSave):
		c.JSON(http.StatusConflict, gin.H{"error": saveErr.Error()})
	case saveErr != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": saveErr.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"saved": true})
	}
}

// TestCredential checks the given or the saved key against the API
func (a *API) TestCredential(c *gin.Context) {
	var req credentialRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		doc, err := a.settings(c)
		if err != nil {
			abortUnavailable(c, err)
			return
		}
		key = doc.APIKey
	}
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": task.ErrCredentialMissing.Error()})
		return
	}

	ok, msg, err := a.loop.CheckCredential(c.Request.Context(), key)
	resp := credentialResponse{Valid: ok, Message: msg}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GetConfig returns the persisted settings with the key masked
func (a *API) GetConfig(c *gin.Context) {
	doc, err := a.settings(c)
	if err != nil {
		abortUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, toConfigResponse(doc, ""))
}

// UpdateConfig changes settings and saves them
func (a *API) UpdateConfig(c *gin.Context) {
	var req configUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	var doc config.Document
	err := a.loop.Do(c.Request.Context(), func(s *session.Session) {
		form := session.Form{}
		if req.PromptsFolder != nil {
			form.PromptsFolder = *req.PromptsFolder
		}
		if req.OutputsFolder != nil {
			form.OutputsFolder = *req.OutputsFolder
		}
		if req.APIKey != nil {
			form.APIKey = *req.APIKey
		}
		if req.DarkMode != nil {
			s.SetDarkMode(*req.DarkMode)
		}
		doc = s.Document(form)
	})
	if err != nil {
		abortUnavailable(c, err)
		return
	}

	if a.save == nil {
		c.JSON(http.StatusOK, toConfigResponse(doc, ""))
		return
	}
	path, err := a.save(doc)
	if err != nil {
		log.Error().Err(err).Msg("saving settings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("path", path).Msg("settings saved")
	c.JSON(http.StatusOK, toConfigResponse(doc, path))
}

func (a *API) start(c *gin.Context, req runRequest) (string, error) {
	var (
		id     string
		runErr error
	)
	err := a.loop.Do(c.Request.Context(), func(s *session.Session) {
		doc := s.Settings()
		form := session.Form{
			Title:         req.Title,
			Body:          req.Prompt,
			APIKey:        firstNonEmpty(req.APIKey, doc.APIKey),
			PromptsFolder: firstNonEmpty(req.PromptsFolder, doc.PromptsFolder),
			OutputsFolder: firstNonEmpty(req.OutputsFolder, doc.OutputsFolder),
		}
		id, runErr = s.Run(form)
	})
	if err != nil {
		return "", err
	}
	return id, runErr
}

func (a *API) view(c *gin.Context) (session.View, error) {
	var view session.View
	err := a.loop.Do(c.Request.Context(), func(s *session.Session) { view = s.View() })
	return view, err
}

func (a *API) settings(c *gin.Context) (config.Document, error) {
	var doc config.Document
	err := a.loop.Do(c.Request.Context(), func(s *session.Session) { doc = s.Settings() })
	return doc, err
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, task.ErrPromptMissing), errors.Is(err, task.ErrCredentialMissing):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortUnavailable(c *gin.Context, err error) {
	log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("session loop unavailable")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session unavailable"})
}

func toConfigResponse(doc config.Document, path string) configResponse {
	return configResponse{
		PromptsFolder: doc.PromptsFolder,
		OutputsFolder: doc.OutputsFolder,
		APIKey:        session.MaskCredential(doc.APIKey, false),
		DarkMode:      doc.DarkMode,
		Provider:      doc.Provider,
		Model:         doc.Model,
		Path:          path,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
