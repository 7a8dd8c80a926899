package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procuredata/console/pkg/utils"
)

type stubVerifier struct {
	token string
	id    Identity
}

func (s stubVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	if raw != s.token {
		return Identity{}, errors.New("bad signature")
	}
	return s.id, nil
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		WriteJSON(w, http.StatusOK, id)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestAuthenticate_HeaderMode(t *testing.T) {
	handler := Authenticate(nil, zerolog.Nop())(echoIdentity())

	t.Run("both headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil)
		req.Header.Set(HeaderUserID, "u-1")
		req.Header.Set(HeaderOrganizationID, "org-a")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var id Identity
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
		assert.Equal(t, Identity{UserID: "u-1", OrganizationID: "org-a"}, id)
	})

	for name, headers := range map[string]map[string]string{
		"missing organization": {HeaderUserID: "u-1"},
		"missing user":         {HeaderOrganizationID: "org-a"},
		"blank":                {HeaderUserID: " ", HeaderOrganizationID: " "},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil)
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, utils.CodeUnauthorized, decodeError(t, rec).Code)
		})
	}
}

func TestAuthenticate_Bearer(t *testing.T) {
	verifier := stubVerifier{token: "good", id: Identity{UserID: "sub-7", Email: "a@b.c"}}
	handler := Authenticate(verifier, zerolog.Nop())(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set(HeaderOrganizationID, "org-a")
	req.Header.Set(HeaderUserID, "spoofed")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var id Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	assert.Equal(t, "sub-7", id.UserID)
	assert.Equal(t, "org-a", id.OrganizationID)

	for name, auth := range map[string]string{"missing": "", "wrong scheme": "Basic x", "bad token": "Bearer nope"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if auth != "" {
				req.Header.Set("Authorization", auth)
			}
			req.Header.Set(HeaderOrganizationID, "org-a")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{utils.NewAppError(utils.CodeNotFound, "x", nil), http.StatusNotFound},
		{utils.NewAppError(utils.CodeForbidden, "x", nil), http.StatusForbidden},
		{utils.NewAppError(utils.CodeConcurrentModification, "x", nil), http.StatusConflict},
		{utils.NewAppError(utils.CodeAlreadyExists, "x", nil), http.StatusConflict},
		{utils.NewAppError(utils.CodeValidation, "x", nil), http.StatusBadRequest},
		{utils.NewAppError(utils.CodeServiceUnavailable, "x", nil), http.StatusServiceUnavailable},
		{utils.NewAppError(utils.CodeUpstream, "x", nil), http.StatusBadGateway},
		{utils.WrapError(utils.NewAppError(utils.CodeForbidden, "x", nil), "wrapped"), http.StatusForbidden},
		{utils.ErrConcurrentModification, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestSendError_Body(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	SendError(rec, req, utils.NewAppError(utils.CodeForbidden, "holder approval required", nil).WithDetail("status", "pending_holder"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, utils.CodeForbidden, detail.Code)
	assert.Equal(t, "holder approval required", detail.Message)
	assert.Equal(t, "pending_holder", detail.Details["status"])
}

func TestSendError_HidesInternalMessages(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	SendError(rec, req, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeError(t, rec).Message)
}

func TestErrorHandler_RecoversPanic(t *testing.T) {
	handler := ErrorHandler()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, utils.CodeInternal, decodeError(t, rec).Code)
}
