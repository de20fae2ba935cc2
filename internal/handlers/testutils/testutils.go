package testutils

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"issueflow/models"
)

// WithChiURLParams подставляет параметры пути в контекст chi запроса для тестов.
func WithChiURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// WithActor выставляет заголовки вызывающего так, как их передает шлюз авторизации.
func WithActor(req *http.Request, a models.Actor) *http.Request {
	req.Header.Set("X-Actor-ID", strconv.FormatInt(a.ID, 10))
	req.Header.Set("X-Actor-Role", string(a.Role))
	if a.DepartmentID != 0 {
		req.Header.Set("X-Actor-Department", strconv.FormatInt(a.DepartmentID, 10))
	}
	if a.Area != "" {
		req.Header.Set("X-Actor-Area", a.Area)
	}
	return req
}
