package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// maxLoginBody bounds the login request body.
const maxLoginBody = 4 << 10

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	if err := dec.Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "username and password are required"})
		return
	}

	identity, err := s.opts.Logins.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, ErrBadCredentials) {
			status = http.StatusInternalServerError
			s.logger.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		}
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	token, err := s.tokens.Sign(identity)
	if err != nil {
		s.logger.Error("signing token", zap.String("identity", identity), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
		return
	}

	s.logger.Info("login", zap.String("identity", identity))
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Identity: identity})
}

// ErrBadCredentials is wrapped by Logins implementations to report a wrong
// username or password. Any other login error is answered with 500.
var ErrBadCredentials = errors.New("bad credentials")

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Sessions: s.sessions.Count()}
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
