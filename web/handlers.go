package web

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbocsi/devlink/services"
)

func (s *Server) HandleTransports(w http.ResponseWriter, r *http.Request) {
	transports, err := s.services.Transport.ListTransports()
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transports": transports,
		"selected":   s.services.Transport.Status().Selected,
	})
}

func (s *Server) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.services.Transport.Select(r.Context(), req.Name); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.services.Transport.Status())
}

func (s *Server) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Transport.Disconnect(r.Context()); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.services.Transport.Status())
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Transport.Status())
}

func (s *Server) HandleLatestPacket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Device.LatestPacket())
}

func (s *Server) HandleLatestMessage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"text": s.services.Device.LatestMessage()})
}

func (s *Server) HandleSendPacket(w http.ResponseWriter, r *http.Request) {
	var req services.PacketRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.services.Device.SendPacket(r.Context(), req); err != nil {
		s.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleSendQuery sends a packet and returns the reply it provokes
func (s *Server) HandleSendQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		services.PacketRequest
		TimeoutMs int `json:"timeout_ms"`
	}
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.services.Device.Query(r.Context(), req.PacketRequest, time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req services.MessageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.services.Device.SendMessage(r.Context(), req); err != nil {
		s.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	var req services.TransferRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.services.Device.Transfer(r.Context(), req); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"bytes": len(req.Payload)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, services.ServiceError{
			Code:    services.ErrCodeInvalidInput,
			Message: "Invalid JSON body",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// handleError handles service errors with proper HTTP status codes
func (s *Server) handleError(w http.ResponseWriter, err error) {
	var serviceErr services.ServiceError
	if !errors.As(err, &serviceErr) {
		slog.Error("Service error", "error", err)
		writeJSON(w, http.StatusInternalServerError, services.ServiceError{
			Code:    services.ErrCodeInternal,
			Message: "Internal server error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch serviceErr.Code {
	case services.ErrCodeNotFound:
		status = http.StatusNotFound
	case services.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case services.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case services.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case services.ErrCodeConflict:
		status = http.StatusConflict
	case services.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("Service error", "error", err)
	} else {
		slog.Debug("Request rejected", "code", serviceErr.Code, "error", err)
	}
	writeJSON(w, status, serviceErr)
}
