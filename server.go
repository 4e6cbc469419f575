package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"i4.energy/across/cellmux/modem"
)

// maxPayload bounds request bodies sent through a socket.
const maxPayload = 64 << 10

// Server exposes the gateway's sockets over HTTP.
type Server struct {
	Logger  *slog.Logger
	Gateway *Gateway

	once sync.Once
	mux  *http.ServeMux
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() { s.mux = s.routes() })
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /sockets", s.handleList)
	mux.HandleFunc("POST /sockets/{mux}", s.handleOpen)
	mux.HandleFunc("POST /sockets/{mux}/send", s.handleSend)
	mux.HandleFunc("GET /sockets/{mux}/recv", s.handleRecv)
	mux.HandleFunc("DELETE /sockets/{mux}", s.handleClose)
	return mux
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps socket errors to HTTP status codes.
func statusFor(err error) int {
	var openErr *modem.OpenError
	switch {
	case errors.Is(err, modem.ErrInvalidMux), errors.Is(err, modem.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotOpen), errors.Is(err, modem.ErrUnbound):
		return http.StatusNotFound
	case errors.Is(err, modem.ErrMuxInUse):
		return http.StatusConflict
	case errors.As(err, &openErr):
		return http.StatusBadGateway
	case errors.Is(err, modem.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) muxParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	mux, err := strconv.Atoi(r.PathValue("mux"))
	if err != nil || mux < 0 || mux >= modem.MuxCount {
		s.sendError(w, "mux must be between 0 and 11", http.StatusBadRequest)
		return 0, false
	}
	return mux, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type HealthResponse struct {
		Status  string `json:"status"`
		Network string `json:"network,omitempty"`
	}
	m := s.Gateway.Modem
	if m.ResetDetected() {
		s.sendJSON(w, HealthResponse{Status: "modem reset"}, http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, HealthResponse{Status: "ok", Network: m.NetworkClock().NetworkName}, http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := s.Gateway.Modem.Status()
	if status == nil {
		status = []modem.SocketStatus{}
	}
	s.sendJSON(w, status, http.StatusOK)
}

// handleOpen connects a socket to the endpoint in the request body
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	mux, ok := s.muxParam(w, r)
	if !ok {
		return
	}

	type OpenRequest struct {
		Host        string `json:"host"`
		Port        uint16 `json:"port"`
		TLS         bool   `json:"tls"`
		Certificate string `json:"certificate"`
	}

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Host == "" || req.Port == 0 {
		s.sendError(w, "both 'host' and 'port' fields are required", http.StatusBadRequest)
		return
	}
	if err := validateSession(Session{Host: req.Host, Certificate: req.Certificate}); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := s.Gateway.Open(r.Context(), Session{
		Mux:         mux,
		Host:        req.Host,
		Port:        req.Port,
		TLS:         req.TLS,
		Certificate: req.Certificate,
	})
	if err != nil {
		s.Logger.Error("Failed to open socket", "error", err, "mux", mux, "host", req.Host)
		type OpenErrorResponse struct {
			Message string `json:"message"`
			Code    *int   `json:"code,omitempty"`
		}
		resp := OpenErrorResponse{Message: err.Error()}
		var openErr *modem.OpenError
		if errors.As(err, &openErr) {
			code := int(openErr.Code)
			resp.Code = &code
		}
		s.sendJSON(w, resp, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSend writes the raw request body to the socket
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	mux, ok := s.muxParam(w, r)
	if !ok {
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(payload) > maxPayload {
		s.sendError(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	type SendResponse struct {
		Sent int `json:"sent"`
	}
	n, err := s.Gateway.Send(r.Context(), mux, payload)
	if err != nil {
		s.Logger.Error("Failed to send", "error", err, "mux", mux, "sent", n)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.sendJSON(w, SendResponse{Sent: n}, http.StatusOK)
}

// handleRecv returns the bytes received on the socket as the raw body
func (s *Server) handleRecv(w http.ResponseWriter, r *http.Request) {
	mux, ok := s.muxParam(w, r)
	if !ok {
		return
	}
	size := 1024
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPayload {
			s.sendError(w, "size must be a positive integer", http.StatusBadRequest)
			return
		}
		size = n
	}

	data, err := s.Gateway.Receive(r.Context(), mux, size)
	if errors.Is(err, io.EOF) {
		s.sendError(w, "connection closed", http.StatusGone)
		return
	}
	if err != nil {
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	mux, ok := s.muxParam(w, r)
	if !ok {
		return
	}
	if err := s.Gateway.Close(r.Context(), mux); err != nil {
		s.Logger.Warn("Close reported an error", "error", err, "mux", mux)
		if code := statusFor(err); code == http.StatusNotFound {
			s.sendError(w, err.Error(), code)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
