package api

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const refreshSeconds = 1

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "home"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .View.Running}}<meta http-equiv="refresh" content="{{.Refresh}}"/>{{end}}
  <title>Prompt Runner</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    body.dark{color:#e8e8e8;background:#1b1b1b}
    body.dark .card{background:#252525;border-color:#3a3a3a}
    h1{font-size:22px;margin:0 0 8px}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn:disabled{background:#999;cursor:not-allowed}
    input[type=text],input[type=password],textarea{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%;box-sizing:border-box;margin:4px 0 10px}
    textarea{min-height:140px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace;white-space:pre-wrap}
    progress{width:100%}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px;color:#0b0b0b}
  </style>
</head>
<body class="{{if .View.DarkMode}}dark{{end}}">
  <h1>Prompt Runner</h1>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  <div class="card">
    <form method="post" action="/ui/run">
      <label>Title <input type="text" name="title" placeholder="untitled"/></label>
      <label>Prompt <textarea name="prompt" placeholder="Enter your prompt here..."></textarea></label>
      <label>Prompts folder <input type="text" name="prompts_folder" value="{{.Settings.PromptsFolder}}"/></label>
      <label>Outputs folder <input type="text" name="outputs_folder" value="{{.Settings.OutputsFolder}}"/></label>
      <label>API key <input type="password" name="api_key" placeholder="{{.View.APIKey}}"/></label>
      <button class="btn" type="submit" {{if .View.Running}}disabled{{end}}>Run</button>
    </form>
  </div>
  <div class="card">
    <div>Status: <span class="status">{{if .View.Running}}running{{else}}{{.View.LastStatus}}{{end}}</span></div>
    <progress max="100" value="{{.View.Progress}}"></progress>
    <div class="mono">{{range .View.Console}}{{.}}
{{end}}</div>
  </div>
  {{if .View.LastOutput}}
  <div class="card">
    <h3>Output</h3>
    <div class="mono">{{.View.LastOutput}}</div>
  </div>
  {{end}}
</body>
</html>
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/run", a.UIRun)
}

// UIHome renders the form with the current session
func (a *API) UIHome(c *gin.Context) {
	a.renderHome(c, http.StatusOK, "")
}

// UIRun submits the form and goes back to the home page
func (a *API) UIRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBind(&req); err != nil {
		a.renderHome(c, http.StatusBadRequest, "invalid form")
		return
	}
	id, err := a.start(c, req)
	if err != nil {
		a.renderHome(c, runErrorStatus(err), err.Error())
		return
	}
	log.Info().Str("task_id", id).Msg("run accepted from form")
	c.Redirect(http.StatusSeeOther, "/")
}

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	view, err := a.view(c)
	if err != nil {
		abortUnavailable(c, err)
		return
	}
	doc, err := a.settings(c)
	if err != nil {
		abortUnavailable(c, err)
		return
	}
	c.HTML(status, "home", gin.H{
		"View":     view,
		"Settings": doc,
		"Error":    errMsg,
		"Refresh":  refreshSeconds,
	})
}
