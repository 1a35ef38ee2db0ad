// Package api mounts the HTTP transport of the services on a goa muxer.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"
	"go.uber.org/zap"

	"crowdcount/internal/middleware"
	"crowdcount/internal/pipeline"
	"crowdcount/internal/services"
)

// Services are the endpoints served under /api/v1. Nil services are not
// mounted.
type Services struct {
	Health    *services.HealthImplementation
	Auth      *services.AuthImplementation
	Cameras   *services.CameraImplementation
	Occupancy *services.OccupancyImplementation
	Config    *services.ConfigImplementation
	System    *services.SystemImplementation
}

// Streams are the raw HTTP handlers mounted next to the API. Nil handlers
// are not mounted.
type Streams struct {
	Occupancy http.Handler // WebSocket results, /ws/occupancy/{camera_id}
	Anonymous http.Handler // MJPEG synthetic view, /video/anonymous/{camera_id}
	Snapshot  http.Handler // JPEG synthetic view, /video/snapshot/{camera_id}
	Metrics   http.Handler
}

// Mount describes one mounted route
type Mount struct {
	Verb    string
	Pattern string
}

// Server is the HTTP transport
type Server struct {
	mux    goahttp.Muxer
	svcs   Services
	logger *zap.SugaredLogger
	Mounts []Mount
}

// New builds the muxer and mounts every configured service
func New(svcs Services, streams Streams, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mux:    goahttp.NewMuxer(),
		svcs:   svcs,
		logger: logger.Named("api").Sugar(),
	}

	if svcs.Health != nil {
		s.handle("GET", "/api/v1/health", s.health)
		s.handle("GET", "/api/v1/ready", s.ready)
	}
	if svcs.Auth != nil {
		s.handle("POST", "/api/v1/auth/login", s.login)
		s.handle("GET", "/api/v1/auth/status", s.authStatus)
	}
	if svcs.System != nil {
		s.handle("GET", "/api/v1/system/status", s.systemStatus)
	}
	if svcs.Cameras != nil {
		s.handle("GET", "/api/v1/cameras", s.listCameras)
		s.handle("POST", "/api/v1/cameras", s.createCamera)
		s.handle("GET", "/api/v1/cameras/{id}", s.getCamera)
		s.handle("DELETE", "/api/v1/cameras/{id}", s.deleteCamera)
		s.handle("POST", "/api/v1/cameras/{id}/start", s.startCamera)
		s.handle("POST", "/api/v1/cameras/{id}/stop", s.stopCamera)
		s.handle("PUT", "/api/v1/cameras/{id}/sampling", s.updateCameraSampling)
	}
	if svcs.Occupancy != nil {
		s.handle("GET", "/api/v1/occupancy/{camera_id}", s.latestOccupancy)
		s.handle("GET", "/api/v1/occupancy/{camera_id}/history", s.occupancyHistory)
		s.handle("GET", "/api/v1/heatmap/{camera_id}", s.heatmap)
		s.handle("DELETE", "/api/v1/heatmap/{camera_id}", s.resetHeatmap)
		s.handle("GET", "/api/v1/recommendations/{camera_id}", s.recommendations)
	}
	if svcs.Config != nil {
		s.handle("GET", "/api/v1/config/sampling", s.getSampling)
		s.handle("PUT", "/api/v1/config/sampling", s.updateSampling)
		s.handle("GET", "/api/v1/config/notifications", s.getNotifications)
		s.handle("PUT", "/api/v1/config/notifications", s.updateNotifications)
		s.handle("POST", "/api/v1/config/notifications/test", s.testNotification)
	}

	if streams.Occupancy != nil {
		s.handle("GET", "/ws/occupancy/{camera_id}", streams.Occupancy.ServeHTTP)
	}
	if streams.Anonymous != nil {
		s.handle("GET", "/video/anonymous/{camera_id}", streams.Anonymous.ServeHTTP)
	}
	if streams.Snapshot != nil {
		s.handle("GET", "/video/snapshot/{camera_id}", streams.Snapshot.ServeHTTP)
	}
	if streams.Metrics != nil {
		s.handle("GET", "/metrics", streams.Metrics.ServeHTTP)
	}

	return s
}

func (s *Server) handle(verb, pattern string, h http.HandlerFunc) {
	s.mux.Handle(verb, pattern, h)
	s.Mounts = append(s.Mounts, Mount{Verb: verb, Pattern: pattern})
}

// PublicPrefixes are reachable without a token
var PublicPrefixes = []string{
	"/api/v1/health",
	"/api/v1/ready",
	"/api/v1/auth/",
	"/metrics",
}

// Handler wraps the muxer with authentication, request logging and panic
// recovery. validator may be nil to serve without authentication.
func (s *Server) Handler(validator middleware.TokenValidator, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	var handler http.Handler = s.mux
	if validator != nil {
		handler = middleware.AuthMiddleware(validator, PublicPrefixes...)(handler)
	}
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.Recover(logger)(handler)
	return handler
}

// ServeHTTP serves the bare muxer
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// errorBody is the JSON body of every error response
type errorBody struct {
	Error   string `json:"error"`
	ID      string `json:"id,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) encode(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := enc.Encode(v); err != nil {
		s.logger.Warnw("Failed to encode response", "error", err)
	}
}

// encodeError maps service errors to status codes
func (s *Server) encodeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		notFound     *services.NotFoundError
		badRequest   *services.BadRequestError
		unauthorized *services.UnauthorizedError
		unavailable  *services.UnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		s.encode(ctx, w, http.StatusNotFound, errorBody{Error: notFound.Message, ID: notFound.ID})
	case errors.As(err, &badRequest):
		s.encode(ctx, w, http.StatusBadRequest, errorBody{Error: badRequest.Message, Details: badRequest.Details})
	case errors.As(err, &unauthorized):
		s.encode(ctx, w, http.StatusUnauthorized, errorBody{Error: unauthorized.Message})
	case errors.As(err, &unavailable):
		s.encode(ctx, w, http.StatusServiceUnavailable, errorBody{Error: unavailable.Message})
	default:
		s.logger.Errorw("Request failed", "error", err)
		s.encode(ctx, w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// decode reads a JSON request body into v
func decode(r *http.Request, v any) error {
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &services.BadRequestError{Message: "missing request body"}
		}
		return &services.BadRequestError{Message: "malformed request body", Details: err.Error()}
	}
	return nil
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Health.Healthz(r.Context()); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Health.Readyz(r.Context()); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var payload services.LoginPayload
	if err := decode(r, &payload); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	res, err := s.svcs.Auth.Login(r.Context(), &payload)
	s.reply(w, r, res, err)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Auth.Status(r.Context())
	s.reply(w, r, res, err)
}

func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.System.Status(r.Context())
	s.reply(w, r, res, err)
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Cameras.List(r.Context())
	s.reply(w, r, res, err)
}

func (s *Server) createCamera(w http.ResponseWriter, r *http.Request) {
	var payload services.CreatePayload
	if err := decode(r, &payload); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	res, err := s.svcs.Cameras.Create(r.Context(), &payload)
	if err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusCreated, res)
}

func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Cameras.Get(r.Context(), s.mux.Vars(r)["id"])
	s.reply(w, r, res, err)
}

func (s *Server) deleteCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Cameras.Delete(r.Context(), s.mux.Vars(r)["id"]); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startCamera(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Cameras.Start(r.Context(), s.mux.Vars(r)["id"])
	s.reply(w, r, res, err)
}

func (s *Server) stopCamera(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Cameras.Stop(r.Context(), s.mux.Vars(r)["id"])
	s.reply(w, r, res, err)
}

func (s *Server) updateCameraSampling(w http.ResponseWriter, r *http.Request) {
	var sampling pipeline.CameraSamplingConfig
	if err := decode(r, &sampling); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	res, err := s.svcs.Cameras.UpdateSampling(r.Context(), s.mux.Vars(r)["id"], &sampling)
	s.reply(w, r, res, err)
}

func (s *Server) latestOccupancy(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Occupancy.Latest(r.Context(), s.mux.Vars(r)["camera_id"])
	s.reply(w, r, res, err)
}

func (s *Server) occupancyHistory(w http.ResponseWriter, r *http.Request) {
	payload := &services.HistoryPayload{CameraID: s.mux.Vars(r)["camera_id"]}

	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.encodeError(r.Context(), w, &services.BadRequestError{Message: "since must be an RFC 3339 timestamp", Details: err.Error()})
			return
		}
		payload.Since = &since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.encodeError(r.Context(), w, &services.BadRequestError{Message: "limit must be an integer", Details: err.Error()})
			return
		}
		payload.Limit = limit
	}

	res, err := s.svcs.Occupancy.History(r.Context(), payload)
	s.reply(w, r, res, err)
}

func (s *Server) heatmap(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Occupancy.Heatmap(r.Context(), s.mux.Vars(r)["camera_id"])
	s.reply(w, r, res, err)
}

func (s *Server) resetHeatmap(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Occupancy.ResetHeatmap(r.Context(), s.mux.Vars(r)["camera_id"]); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recommendations(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Occupancy.Recommendations(r.Context(), s.mux.Vars(r)["camera_id"])
	s.reply(w, r, res, err)
}

func (s *Server) getSampling(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Config.GetSampling(r.Context())
	s.reply(w, r, res, err)
}

func (s *Server) updateSampling(w http.ResponseWriter, r *http.Request) {
	var cfg pipeline.GlobalSamplingConfig
	if err := decode(r, &cfg); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	res, err := s.svcs.Config.UpdateSampling(r.Context(), &cfg)
	s.reply(w, r, res, err)
}

func (s *Server) getNotifications(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Config.GetNotifications(r.Context())
	s.reply(w, r, res, err)
}

func (s *Server) updateNotifications(w http.ResponseWriter, r *http.Request) {
	var cfg services.NotificationConfig
	if err := decode(r, &cfg); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	res, err := s.svcs.Config.UpdateNotifications(r.Context(), &cfg)
	s.reply(w, r, res, err)
}

func (s *Server) testNotification(w http.ResponseWriter, r *http.Request) {
	res, err := s.svcs.Config.TestNotification(r.Context())
	s.reply(w, r, res, err)
}
