package endpoints

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"chat-sync/internal/api"
	"chat-sync/internal/api/middleware"
	"chat-sync/internal/model"
)

type HTTPError = api.HTTPError

type ApiMessageResponse struct {
	Message string `json:"message"`
}

const maxBodyBytes = 1 << 20

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	return api.WriteJSON(w, status, v)
}

func MethodHandler(
	w http.ResponseWriter,
	r *http.Request,
	allowed map[string]func(http.ResponseWriter, *http.Request) error,
) error {
	if handler, ok := allowed[r.Method]; ok {
		return handler(w, r)
	}
	return &HTTPError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    "Method not allowed.",
		ErrorLog:   fmt.Errorf("method not allowed"),
	}
}

// decodeBody reads an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return &HTTPError{
		StatusCode: http.StatusBadRequest,
		Message:    "Invalid request payload",
		ErrorLog:   fmt.Errorf("decode request: %w", err),
	}
}

func actorFrom(r *http.Request) (model.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return model.Actor{}, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("no actor in request context"),
		}
	}
	return actor, nil
}
