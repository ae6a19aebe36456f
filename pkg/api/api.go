// Package api serves the persistence endpoints clients use to bootstrap a
// session and to mirror their local operations.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/storage"
)

const maxBodyBytes = 1 << 20

type ElementsResponse struct {
	Elements []canvas.Element `json:"elements"`
	Map      *storage.MapMeta `json:"map,omitempty"`
}

type CreateElementRequest struct {
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId"`
	Element   canvas.Element `json:"element"`
}

type UpdateElementRequest struct {
	UpdatedFields canvas.Patch `json:"updatedFields"`
}

type StatusResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Server struct {
	repo storage.Repository
	log  *slog.Logger
}

func New(repo storage.Repository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{repo: repo, log: logger}
}

// Register mounts the endpoints on r.
func (s *Server) Register(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/elements").HandlerFunc(s.listElements)
	r.Methods(http.MethodPost).Path("/element").HandlerFunc(s.createElement)
	r.Methods(http.MethodPut).Path("/element/{id}").HandlerFunc(s.updateElement)
	r.Methods(http.MethodDelete).Path("/element/{id}").HandlerFunc(s.deleteElement)
	r.Methods(http.MethodPut).Path("/mapMetadata/{sessionId}").HandlerFunc(s.putMap)
}

// LogRequests logs every handled request with its status and duration.
func LogRequests(logger *slog.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	}
}

func (s *Server) listElements(writer http.ResponseWriter, request *http.Request) {
	session := request.URL.Query().Get("sessionId")
	if session == "" {
		s.fail(writer, http.StatusBadRequest, errors.New("sessionId is required"))
		return
	}
	elements, err := s.repo.ListElements(request.Context(), session)
	if err != nil {
		s.fail(writer, http.StatusInternalServerError, err)
		return
	}
	resp := ElementsResponse{Elements: elements}
	if m, err := s.repo.GetMap(request.Context(), session); err == nil {
		resp.Map = &m
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.fail(writer, http.StatusInternalServerError, err)
		return
	}
	s.write(writer, http.StatusOK, resp)
}

func (s *Server) createElement(writer http.ResponseWriter, request *http.Request) {
	var req CreateElementRequest
	if !s.decode(writer, request, &req) {
		return
	}
	if req.SessionID == "" {
		s.fail(writer, http.StatusBadRequest, errors.New("sessionId is required"))
		return
	}
	if err := s.repo.UpsertElement(request.Context(), req.SessionID, req.UserID, req.Element); err != nil {
		s.fail(writer, statusFor(err), err)
		return
	}
	s.write(writer, http.StatusOK, StatusResponse{Status: "Element added successfully"})
}

func (s *Server) updateElement(writer http.ResponseWriter, request *http.Request) {
	var req UpdateElementRequest
	if !s.decode(writer, request, &req) {
		return
	}
	if req.UpdatedFields.Empty() {
		s.fail(writer, http.StatusBadRequest, errors.New("updatedFields is empty"))
		return
	}
	if _, err := s.repo.PatchElement(request.Context(), mux.Vars(request)["id"], req.UpdatedFields); err != nil {
		s.fail(writer, statusFor(err), err)
		return
	}
	s.write(writer, http.StatusOK, StatusResponse{Status: "Element updated successfully"})
}

func (s *Server) deleteElement(writer http.ResponseWriter, request *http.Request) {
	if err := s.repo.DeleteElement(request.Context(), mux.Vars(request)["id"]); err != nil {
		s.fail(writer, statusFor(err), err)
		return
	}
	s.write(writer, http.StatusOK, StatusResponse{Status: "Element deleted successfully"})
}

func (s *Server) putMap(writer http.ResponseWriter, request *http.Request) {
	var m storage.MapMeta
	if !s.decode(writer, request, &m) {
		return
	}
	if m.ZoomLevel <= 0 {
		s.fail(writer, http.StatusBadRequest, errors.New("zoomLevel must be positive"))
		return
	}
	if err := s.repo.PutMap(request.Context(), mux.Vars(request)["sessionId"], m); err != nil {
		s.fail(writer, statusFor(err), err)
		return
	}
	s.write(writer, http.StatusOK, StatusResponse{Status: "Map metadata updated successfully"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, canvas.ErrMalformed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(writer http.ResponseWriter, request *http.Request, into any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxBodyBytes)).Decode(into); err != nil {
		s.fail(writer, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) fail(writer http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	s.write(writer, status, StatusResponse{Error: err.Error()})
}

func (s *Server) write(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		s.log.Error("failed to write out", "err", err)
	}
}
