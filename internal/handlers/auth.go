package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"issueflow/models"
)

var errNoIdentity = errors.New("missing caller identity")

type actorKey struct{}

// HeaderAuthenticator доверяет заголовкам, которые выставляет шлюз авторизации.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (models.Actor, error) {
	var a models.Actor
	id, err := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	if err != nil || id <= 0 {
		return a, errNoIdentity
	}
	role := models.Role(strings.TrimSpace(r.Header.Get("X-Actor-Role")))
	if !role.Valid() {
		return a, errNoIdentity
	}
	a.ID, a.Role = id, role
	if dept := r.Header.Get("X-Actor-Department"); dept != "" {
		if a.DepartmentID, err = strconv.ParseInt(dept, 10, 64); err != nil {
			return models.Actor{}, errNoIdentity
		}
	}
	a.Area = strings.TrimSpace(r.Header.Get("X-Actor-Area"))
	return a, nil
}

// Authenticate кладет вызывающего в контекст запроса; без него отвечает 401.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := h.Auth.Authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// actorFrom возвращает вызывающего, положенного Authenticate.
func actorFrom(ctx context.Context) models.Actor {
	a, _ := ctx.Value(actorKey{}).(models.Actor)
	return a
}
