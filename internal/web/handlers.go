package web

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hpungsan/rulesync/internal/apply"
	"github.com/hpungsan/rulesync/internal/config"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/ops"
	"github.com/hpungsan/rulesync/internal/panel"
)

// maxApplyBody bounds the POST /api/apply request body.
const maxApplyBody = 64 * 1024

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	cat       ops.Catalogue
	cfg       *config.Config
	workspace string
	logger    zerolog.Logger
	renderer  *Renderer
}

// HandleIndex handles GET /, the filtered rule list.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	query := r.URL.Query().Get("q")

	list, err := ops.List(r.Context(), h.cat, ops.ListInput{Tag: tag, Query: query})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	cats, err := ops.Categories(r.Context(), h.cat)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, http.StatusOK, "index", IndexPageData{
		PageData:   h.renderer.page("Rules"),
		Items:      list.Items,
		Categories: cats.Categories,
		Total:      list.Total,
		Tag:        tag,
		Query:      query,
		Meta:       list.StateMeta,
	})
}

// HandleRule handles GET /rules/{slug}.
func (h *Handlers) HandleRule(w http.ResponseWriter, r *http.Request) {
	show, err := ops.Show(r.Context(), h.cat, ops.ShowInput{Slug: chi.URLParam(r, "slug")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, http.StatusOK, "rule", RulePageData{
		PageData:     h.renderer.page(show.Rule.Title),
		Rule:         show,
		RenderedHTML: RenderMarkdown(show.Rule.Content),
	})
}

// HandleAPIRules handles GET /api/rules. The body is the panel's setRules message.
func (h *Handlers) HandleAPIRules(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Rules(r.Context(), h.cat)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, panel.SetRules{
		Type:      panel.TypeSetRules,
		Rules:     out.Rules,
		LastSync:  out.LastSync,
		NeedsSync: out.NeedsSync,
		IsOffline: out.IsOffline,
	})
}

// HandleAPICategories handles GET /api/categories.
func (h *Handlers) HandleAPICategories(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Categories(r.Context(), h.cat)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPIStatus handles GET /api/status.
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Status(r.Context(), h.cat, ops.StatusInput{RunLimit: parseIntParam(r, "runs", 0)})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPISync handles POST /api/sync, a manual remote sync.
func (h *Handlers) HandleAPISync(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Sync(r.Context(), h.cat)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// applyRequest is the POST /api/apply body. The workspace is fixed by the server
// and unknown fields, including a client-supplied workspace, are ignored.
type applyRequest struct {
	Slug      string `json:"slug"`
	Target    string `json:"target"`
	Overwrite bool   `json:"overwrite"`
}

// HandleAPIApply handles POST /api/apply. An existing file is replaced only when
// overwrite is true; otherwise the response reports applied=false. Target must be
// relative to the server's workspace.
func (h *Handlers) HandleAPIApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxApplyBody)).Decode(&req); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid request body: "+err.Error()))
		return
	}
	if filepath.IsAbs(req.Target) {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("target must be relative to the workspace"))
		return
	}

	applier := &apply.Applier{
		Workspace: apply.Dir(h.workspace),
		Confirm:   apply.Answer(req.Overwrite),
		FileName:  h.cfg.TargetFile,
		Logger:    h.logger,
	}
	out, err := ops.Apply(r.Context(), h.cat, applier, ops.ApplyInput{
		Slug:   req.Slug,
		Target: req.Target,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
