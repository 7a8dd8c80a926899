package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/approval"
	"github.com/procuredata/console/pkg/utils"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return utils.NewAppError(utils.CodeInvalidInput, "invalid request body", err).
			WithDetail("error", err.Error())
	}
	return nil
}

func caller(r *http.Request) (approval.Actor, error) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		return approval.Actor{}, utils.NewAppError(utils.CodeUnauthorized, "caller identity is required", nil)
	}
	return approval.Actor{UserID: id.UserID, OrganizationID: id.OrganizationID}, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, utils.NewAppError(utils.CodeInvalidInput, "invalid "+name, err).WithDetail(name, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, utils.NewAppError(utils.CodeInvalidInput, "invalid "+name, err).WithDetail(name, raw)
	}
	return n, nil
}

// queryBool treats anything but an explicit false as def.
func queryBool(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
