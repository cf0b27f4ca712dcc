package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/testutil"
)

func TestRequireIdentity(t *testing.T) {
	var seen model.PlayerID
	handler := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = MustGetPlayerID(r.Context())
	}))

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(PlayerIDHeader, "p1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, model.PlayerID("p1"), seen)
	})

	t.Run("query fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?player_id=p2", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, model.PlayerID("p2"), seen)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestOptionalIdentity(t *testing.T) {
	var seen model.PlayerID = "unset"
	handler := OptionalIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPlayerID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.PlayerID(""), seen)
}

func TestRecoveryWritesJSONError(t *testing.T) {
	handler := Recovery(testutil.NopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "INTERNAL_ERROR")
}

func TestRecoveryReraisesAbortHandler(t *testing.T) {
	handler := Recovery(testutil.NopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	rr := httptest.NewRecorder()
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
