package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pubwiki/wikifarm/pkg/auth"
	"github.com/pubwiki/wikifarm/pkg/events"
	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/provision"
	"github.com/pubwiki/wikifarm/pkg/types"
	"github.com/pubwiki/wikifarm/pkg/validate"
)

type createWikiRequest struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Language   string `json:"language"`
	Visibility string `json:"visibility"`
}

// createWiki validates the request, records a queued task, enqueues the job
// and publishes the initial queued event.
func (s *Server) createWiki(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, authError())
		return
	}

	var body createWikiRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, NewError(http.StatusBadRequest, "param_invalid", "invalid request body"))
		return
	}
	log.Logger.Info().Str("slug", body.Slug).Str("name", body.Name).Msg("create wiki request received")

	if err := validate.Check(body.Slug, validate.Slug); err != nil {
		writeError(w, err)
		return
	}

	exists, err := s.store.SlugExists(r.Context(), body.Slug)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	if exists || validate.Reserved(body.Slug) {
		log.Logger.Info().Str("slug", body.Slug).Msg("create wiki slug already exists")
		writeError(w, NewError(http.StatusConflict, "conflict", "slug exists"))
		return
	}

	language := body.Language
	if language == "" {
		language = "en"
	}
	visibility := types.NormalizeVisibility(body.Visibility)

	taskID := uuid.NewString()
	owner := types.Owner{ID: caller.UserID, Username: caller.Username}
	if err := s.store.CreateTask(r.Context(), taskID, owner); err != nil {
		writeError(w, dbError(err))
		return
	}

	job := types.Job{
		TaskID:     taskID,
		Name:       body.Name,
		Slug:       body.Slug,
		Language:   language,
		Visibility: visibility,
		Owner:      owner,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.jobs.Enqueue(r.Context(), payload); err != nil {
		writeError(w, redisError(err))
		return
	}
	err = s.bus.Publish(r.Context(), taskID, events.Progress{
		Status:  events.StateQueued,
		Message: "queued",
	})
	if err != nil {
		writeError(w, redisError(err))
		return
	}

	log.WithTask(taskID).Info().Str("slug", body.Slug).Msg("create wiki queued successfully")
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// deleteWiki tears a wiki down by slug, idempotently. Only the owner may
// delete; every external-resource removal is best-effort.
func (s *Server) deleteWiki(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, authError())
		return
	}
	slug := chi.URLParam(r, "slug")
	if err := validate.Check(slug, validate.Slug); err != nil {
		writeError(w, err)
		return
	}

	wiki, err := s.store.GetWikiBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	if wiki == nil {
		writeJSON(w, http.StatusOK, map[string]string{"msg": "ok"})
		return
	}
	if caller.UserID == 0 {
		writeError(w, NewError(http.StatusUnauthorized, "unauthorized", "login required"))
		return
	}
	if caller.UserID != wiki.OwnerUserID {
		writeError(w, NewError(http.StatusForbidden, "not_owner", "not owner"))
		return
	}

	// Best-effort removal of the external resources rollback also removes.
	if err := provision.RemoveINIDir(s.cfg.WikifarmConfigDir, slug); err != nil {
		log.Logger.Warn().Err(err).Str("slug", slug).Msg("delete: remove config dir failed")
	}
	if err := provision.RemoveDirIfExists(s.cfg.TargetDir(slug)); err != nil {
		log.Logger.Warn().Err(err).Str("slug", slug).Msg("delete: remove target dir failed")
	}
	if err := provision.DeprovisionDB(r.Context(), s.store.DB(), slug, slug); err != nil {
		log.Logger.Warn().Err(err).Str("slug", slug).Msg("delete: deprovision db failed")
	}

	// Row deletes ignore errors to keep the operation idempotent.
	if err := s.store.DeletePermissions(r.Context(), wiki.ID); err != nil {
		log.Logger.Warn().Err(err).Str("slug", slug).Msg("delete: permissions rows failed")
	}
	if err := s.store.DeleteWikiByID(r.Context(), wiki.ID); err != nil {
		log.Logger.Warn().Err(err).Str("slug", slug).Msg("delete: wiki row failed")
	}

	writeJSON(w, http.StatusOK, map[string]string{"msg": "ok"})
}

// checkSlug reports whether a slug is taken or reserved.
func (s *Server) checkSlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := validate.Check(slug, validate.Slug); err != nil {
		writeError(w, err)
		return
	}
	exists, err := s.store.SlugExists(r.Context(), slug)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slug":   slug,
		"exists": exists || validate.Reserved(slug),
	})
}

func wikiJSON(w types.Wiki) map[string]any {
	return map[string]any{
		"id":             w.ID,
		"name":           w.Name,
		"slug":           w.Slug,
		"domain":         w.Domain,
		"path":           w.Path,
		"language":       w.Language,
		"owner_user_id":  w.OwnerUserID,
		"owner_username": string(w.OwnerUsername),
		"visibility":     w.Visibility,
		"status":         w.Status,
		"is_featured":    w.IsFeatured,
		"created_at":     w.CreatedAt.Format("2006-01-02T15:04:05"),
		"updated_at":     w.UpdatedAt.Format("2006-01-02T15:04:05"),
	}
}

func listParams(r *http.Request) (limit, offset int) {
	limit = 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeWikiList(w http.ResponseWriter, wikis []types.Wiki, offset int, withNextOffset bool) {
	out := make([]map[string]any, 0, len(wikis))
	for _, wiki := range wikis {
		out = append(out, wikiJSON(wiki))
	}
	resp := map[string]any{"wikis": out}
	if withNextOffset {
		resp["next_offset"] = offset + len(out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// listFeatured returns ready public wikis; featured=1 (the default)
// restricts to featured ones.
func (s *Server) listFeatured(w http.ResponseWriter, r *http.Request) {
	limit, offset := listParams(r)
	featured := r.URL.Query().Get("featured") != "0"

	wikis, err := s.store.ListFeatured(r.Context(), featured, limit, offset)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	writeWikiList(w, wikis, offset, true)
}

func (s *Server) listPublicWikis(w http.ResponseWriter, r *http.Request) {
	limit, offset := listParams(r)
	wikis, err := s.store.ListFeatured(r.Context(), false, limit, offset)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	writeWikiList(w, wikis, offset, true)
}

func (s *Server) listUserWikis(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, NewError(http.StatusBadRequest, "param_invalid", "invalid user id"))
		return
	}
	wikis, err := s.store.ListByOwner(r.Context(), userID)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	writeWikiList(w, wikis, 0, false)
}
