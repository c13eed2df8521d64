package recorder

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	Router().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestIntakeObject(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/events", strings.NewReader(`{"meta":{"stream":"mediawiki.page-create"}}`))
	Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestIntakeArray(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/events", strings.NewReader(`[{"a":1},{"b":2}]`))
	Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestIntakeBadBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/events", strings.NewReader("not json"))
	Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
