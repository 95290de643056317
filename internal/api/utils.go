package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"chat-sync/internal/api/middleware"
	"chat-sync/internal/queue"
)

type apiFunc func(http.ResponseWriter, *http.Request) error

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// MakeHTTPHandleFunc runs f on the request queue behind CORS, request logging
// and the given auth middleware. Errors returned by f become JSON responses.
func (s *APIServer) MakeHTTPHandleFunc(f apiFunc, authMiddleware ...middleware.Middleware) http.HandlerFunc {
	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		run := func() error {
			return f(w, r)
		}

		var err error
		if s.requestQueueManager != nil {
			errc := make(chan error, 1)
			s.requestQueueManager.EnqueueJob(queue.Job{Fn: run, Errc: errc})
			err = <-errc
		} else {
			err = run()
		}

		if err != nil {
			s.writeError(w, r, err)
		}
	}

	middlewares := []middleware.Middleware{
		middleware.CORS(s.cors),
		middleware.Logging(s.log),
	}

	finalHandler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		middleware.Chain(baseHandler, authMiddleware...)(w, r)
	}

	return middleware.Chain(finalHandler, middlewares...)
}

func (s *APIServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: err}
	}

	details := map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": httpErr.StatusCode,
	}
	if httpErr.ErrorLog != nil {
		details["error"] = httpErr.ErrorLog.Error()
	}
	if httpErr.StatusCode >= http.StatusInternalServerError {
		s.log.Error("api", httpErr.Message, details)
	} else {
		s.log.Debug("api", httpErr.Message, details)
	}

	_ = WriteJSON(w, httpErr.StatusCode, ApiError{Error: httpErr.Message})
}
