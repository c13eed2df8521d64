package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pubwiki/wikifarm/pkg/auth"
	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/provision"
	"github.com/pubwiki/wikifarm/pkg/types"
	"github.com/pubwiki/wikifarm/pkg/validate"
)

// wikiOwnedBy resolves the slug path parameter and enforces ownership.
func (s *Server) wikiOwnedBy(r *http.Request, caller *auth.Context) (*types.Wiki, *Error) {
	slug := chi.URLParam(r, "slug")
	if err := validate.Check(slug, validate.Slug); err != nil {
		return nil, paramError(err)
	}
	wiki, err := s.store.GetWikiBySlug(r.Context(), slug)
	if err != nil {
		return nil, dbError(err)
	}
	if wiki == nil {
		return nil, NewError(http.StatusNotFound, "not_found", "wiki is not found")
	}
	if caller.UserID != wiki.OwnerUserID {
		return nil, NewError(http.StatusForbidden, "not_owner", "not owner")
	}
	return wiki, nil
}

// getPermissions returns the permission matrix as {allow, deny} maps.
func (s *Server) getPermissions(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	wiki, err := s.store.GetWikiBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	if wiki == nil {
		writeError(w, NewError(http.StatusNotFound, "not_found", "wiki is not found"))
		return
	}

	rows, err := s.store.GetPermissions(r.Context(), wiki.ID)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	allow := map[string][]string{}
	deny := map[string][]string{}
	for _, row := range rows {
		if row.Allowed {
			allow[row.GroupName] = append(allow[row.GroupName], row.Permission)
		} else {
			deny[row.GroupName] = append(deny[row.GroupName], row.Permission)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"allow": allow, "deny": deny})
}

// setPermissions replaces the permission matrix and regenerates the file.
func (s *Server) setPermissions(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, authError())
		return
	}
	wiki, apiErr := s.wikiOwnedBy(r, caller)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	var doc provision.PermissionsDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, NewError(http.StatusBadRequest, "param_invalid", "invalid request body"))
		return
	}
	if err := provision.WritePermissions(r.Context(), s.store, wiki.ID, wiki.Slug, s.cfg.WikifarmConfigDir, doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "done"})
}

// syncSubdirs links requested template children into the wiki's subdir.
// A hard failure rolls back the links created by this call.
func (s *Server) syncSubdirs(w http.ResponseWriter, r *http.Request, subdir string) {
	caller, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, authError())
		return
	}
	wiki, apiErr := s.wikiOwnedBy(r, caller)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	var items []string
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, NewError(http.StatusBadRequest, "param_invalid", "invalid request body"))
		return
	}

	templateBase := filepath.Join(s.cfg.WikifarmTemplate, subdir)
	destBase := filepath.Join(s.cfg.TargetDir(wiki.Slug), subdir)
	if err := os.MkdirAll(destBase, 0755); err != nil {
		writeError(w, NewError(http.StatusInternalServerError, "fs_error", err.Error()))
		return
	}

	var created []string
	skipped := []string{}
	fail := func(e *Error) {
		for _, link := range created {
			if err := os.Remove(link); err != nil {
				log.Logger.Error().Err(err).Str("link", link).Msg("error when rolling back subdir sync")
			}
		}
		writeError(w, e)
	}

	for _, item := range items {
		if err := validate.Check(item, validate.Dir); err != nil {
			fail(paramError(err))
			return
		}
		src := filepath.Join(templateBase, item)
		dst := filepath.Join(destBase, item)

		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			fail(NewError(http.StatusBadRequest, "invalid_param", subdir+" dir not exist"))
			return
		}
		if _, err := os.Lstat(dst); err == nil {
			skipped = append(skipped, item)
			continue
		}
		if err := os.Symlink(src, dst); err != nil {
			fail(NewError(http.StatusInternalServerError, "fs_error", err.Error()))
			return
		}
		created = append(created, dst)
	}

	writeJSON(w, http.StatusOK, map[string]any{"skipped": skipped})
}

func (s *Server) syncExtensions(w http.ResponseWriter, r *http.Request) {
	s.syncSubdirs(w, r, "extensions")
}

func (s *Server) syncSkins(w http.ResponseWriter, r *http.Request) {
	s.syncSubdirs(w, r, "skins")
}

// setVisibility updates a wiki's visibility to public, unlisted or private.
func (s *Server) setVisibility(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, authError())
		return
	}
	wiki, apiErr := s.wikiOwnedBy(r, caller)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	var body struct {
		Visibility string `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, NewError(http.StatusBadRequest, "param_invalid", "invalid request body"))
		return
	}
	vis := strings.ToLower(strings.TrimSpace(body.Visibility))
	switch vis {
	case types.VisibilityPublic, types.VisibilityUnlisted, types.VisibilityPrivate:
	default:
		writeError(w, NewError(http.StatusBadRequest, "invalid_param", "visibility must be one of: public, unlisted, private"))
		return
	}

	if err := s.store.SetVisibility(r.Context(), wiki.ID, vis); err != nil {
		writeError(w, dbError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "ok", "visibility": vis})
}

// visibilityCheck is the forward-auth hook: the upstream proxy asks whether
// the wiki named by the request host may be served to the caller. Public
// and unlisted pass; private requires sysop membership on that wiki.
func (s *Server) visibilityCheck(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, authError())
		return
	}
	slug, err := auth.SlugFromHost(r, s.cfg.WikiHost)
	if err != nil {
		writeError(w, NewError(http.StatusBadRequest, "no_slug", err.Error()))
		return
	}

	wiki, err := s.store.GetWikiBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, dbError(err))
		return
	}
	if wiki == nil {
		writeError(w, NewError(http.StatusNotFound, "not_found", "wiki is not found"))
		return
	}
	if wiki.Status != types.WikiStatusReady {
		writeError(w, NewError(http.StatusNotFound, "not_ready", "wiki not ready"))
		return
	}

	var groups []string
	if caller.UserID > 0 {
		groups, err = s.store.UserGroups(r.Context(), slug, caller.UserID)
		if err != nil {
			writeError(w, dbError(err))
			return
		}
	}
	if len(groups) > 0 {
		w.Header().Set("X-Auth-User-Groups", strings.Join(groups, ","))
	}

	switch wiki.Visibility {
	case types.VisibilityPublic:
		w.Header().Set("X-Wiki-Visibility", types.VisibilityPublic)
		w.WriteHeader(http.StatusOK)
	case types.VisibilityUnlisted:
		w.Header().Set("X-Wiki-Visibility", types.VisibilityUnlisted)
		w.Header().Set("X-Robots-Tag", "noindex")
		w.WriteHeader(http.StatusOK)
	case types.VisibilityPrivate:
		for _, g := range groups {
			if g == "sysop" {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		writeError(w, NewError(http.StatusForbidden, "private", "private wiki"))
	default:
		writeError(w, NewError(http.StatusForbidden, "unknown_visibility", wiki.Visibility))
	}
}

const maxFaviconBytes = 2 * 1024 * 1024

// setFavicon stores an uploaded PNG/ICO/JPEG as the wiki's favicon.ico.
func (s *Server) setFavicon(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, authError())
		return
	}
	wiki, apiErr := s.wikiOwnedBy(r, caller)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	if err := r.ParseMultipartForm(maxFaviconBytes); err != nil {
		writeError(w, NewError(http.StatusBadRequest, "multipart", err.Error()))
		return
	}

	var data []byte
	for _, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			writeError(w, NewError(http.StatusBadRequest, "upload_read", err.Error()))
			return
		}
		data, err = io.ReadAll(io.LimitReader(f, maxFaviconBytes+1))
		f.Close()
		if err != nil {
			writeError(w, NewError(http.StatusBadRequest, "upload_read", err.Error()))
			return
		}
		break
	}
	if data == nil {
		writeError(w, NewError(http.StatusBadRequest, "no_file", "no file uploaded"))
		return
	}
	if len(data) > maxFaviconBytes {
		writeError(w, NewError(http.StatusBadRequest, "file_too_large", "max 2MB"))
		return
	}

	// Accept ICO, PNG or JPEG; browsers accept any of them named .ico.
	isPNG := bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'})
	isICO := bytes.HasPrefix(data, []byte{0x00, 0x00, 0x01, 0x00})
	isJPG := bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF})
	if !isPNG && !isICO && !isJPG {
		writeError(w, NewError(http.StatusBadRequest, "invalid_type", "expect PNG/ICO/JPEG"))
		return
	}

	path := filepath.Join(s.cfg.TargetDir(wiki.Slug), "favicon.ico")
	if err := os.WriteFile(path, data, 0644); err != nil {
		writeError(w, NewError(http.StatusInternalServerError, "fs_error", err.Error()))
		return
	}
	if err := os.Chown(path, 33, 33); err != nil && !errors.Is(err, os.ErrPermission) {
		log.Logger.Warn().Err(err).Str("path", path).Msg("favicon chown failed")
	}

	writeJSON(w, http.StatusOK, map[string]string{"msg": "ok"})
}
