package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"

	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/ops"
	"github.com/hpungsan/rulesync/internal/rule"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// IndexPageData is the template data for the rule list page.
type IndexPageData struct {
	PageData
	Items      []ops.ListItem
	Categories []rule.Category
	Total      int
	Tag        string
	Query      string
	Meta       ops.StateMeta
}

// RulePageData is the template data for the rule detail page.
type RulePageData struct {
	PageData
	Rule         *ops.ShowOutput
	RenderedHTML template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	logger    zerolog.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, logger zerolog.Logger) *Renderer {
	funcMap := template.FuncMap{
		"formatMillis": formatMillis,
		"formatChars":  formatChars,
		"join":         strings.Join,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"index": "index.html",
		"rule":  "rule.html",
		"error": "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		logger:    logger,
	}
}

func (r *Renderer) page(title string) PageData {
	return PageData{Title: title, Version: r.version}
}

// renderPage renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPage(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.logger.Error().Str("template", name).Msg("template not found")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error().Err(err).Str("template", name).Msg("template execution failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	rErr, ok := errors.As(err)
	if !ok {
		rErr = errors.NewInternal(err)
	}
	if rErr.Status >= 500 {
		r.logger.Error().Err(err).Str("path", req.URL.Path).Msg("request failed")
	}

	if strings.HasPrefix(req.URL.Path, "/api/") || strings.Contains(req.Header.Get("Accept"), "application/json") {
		renderJSONError(w, rErr)
		return
	}

	r.renderPage(w, rErr.Status, "error", ErrorPageData{
		PageData:   r.page(fmt.Sprintf("Error %d", rErr.Status)),
		StatusCode: rErr.Status,
		Message:    rErr.Message,
	})
}

// renderJSONError writes the error envelope shared with the MCP tools.
func renderJSONError(w http.ResponseWriter, rErr *errors.RulesError) {
	body := map[string]any{
		"code":    string(rErr.Code),
		"message": rErr.Message,
		"status":  rErr.Status,
	}
	if len(rErr.Details) > 0 {
		body["details"] = rErr.Details
	}
	renderJSON(w, rErr.Status, map[string]any{"error": body})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// sanitizer strips scripts, event handlers and unsafe URLs from rendered rule content.
var sanitizer = bluemonday.UGCPolicy()

// RenderMarkdown converts rule content to sanitized HTML. Catalogue content comes
// from a remote source and is never trusted.
func RenderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(sanitizer.SanitizeBytes(buf.Bytes()))
}

// formatMillis formats an optional Unix-millisecond timestamp as "2006-01-02 15:04" UTC.
func formatMillis(ms *int64) string {
	if ms == nil {
		return "never"
	}
	return time.UnixMilli(*ms).UTC().Format("2006-01-02 15:04")
}

// formatChars formats an integer with comma thousands separators.
func formatChars(n int) string {
	if n < 0 {
		return "-" + formatChars(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
