package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/pubwiki/wikifarm/pkg/validate"
)

// ErrMissingHeaders is returned when the trusted upstream proxy did not
// populate the identity headers.
var ErrMissingHeaders = errors.New("auth headers missing")

// Context is the caller identity extracted from trusted request headers.
type Context struct {
	UserID       uint64
	Username     string
	GrantedRight string
}

// FromRequest reads X-Auth-User-Id and X-Auth-User (and the optional
// X-Auth-Granted-Right) populated by the upstream proxy.
func FromRequest(r *http.Request) (*Context, error) {
	username := strings.TrimSpace(r.Header.Get("X-Auth-User"))
	rawID := strings.TrimSpace(r.Header.Get("X-Auth-User-Id"))
	if username == "" || rawID == "" {
		return nil, ErrMissingHeaders
	}
	uid, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return nil, ErrMissingHeaders
	}
	return &Context{
		UserID:       uid,
		Username:     username,
		GrantedRight: r.Header.Get("X-Auth-Granted-Right"),
	}, nil
}

// SlugFromHost derives a wiki slug from the X-Forwarded-Host (or Host)
// header by stripping the shared wikiHost suffix and taking the right-most
// remaining label. Used by the forward-auth surface, where the wiki is
// addressed by subdomain rather than by path.
func SlugFromHost(r *http.Request, wikiHost string) (string, error) {
	raw := r.Header.Get("X-Forwarded-Host")
	if raw == "" {
		raw = r.Host
	}
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", errors.New("X-Forwarded-Host/Host is required")
	}
	if first, _, ok := strings.Cut(host, ","); ok {
		host = strings.TrimSpace(first)
	}
	if h, port, ok := strings.Cut(host, ":"); ok && isDigits(port) {
		host = h
	}

	suffix := strings.TrimSpace(wikiHost)
	if suffix == "" {
		return "", errors.New("wiki host not configured")
	}
	if host == suffix {
		return "", errors.New("root host has no slug")
	}
	rest, ok := strings.CutSuffix(host, suffix)
	if !ok {
		return "", errors.New("host not under wiki host")
	}
	rest = strings.TrimSuffix(rest, ".")

	var slug string
	for _, label := range strings.Split(rest, ".") {
		if label != "" {
			slug = label
		}
	}
	if slug == "" {
		return "", errors.New("no subdomain before wiki host")
	}
	if err := validate.Check(slug, validate.Slug); err != nil {
		return "", err
	}
	return slug, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
