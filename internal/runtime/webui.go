package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

const defaultWebUIPort = 8081

// StartWebUIServer registers the introspection endpoint when enabled.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.WebUIPort
	if port == 0 {
		port = defaultWebUIPort
	}

	s.RegisterHTTPHandler(port, "/api/methods", http.HandlerFunc(s.handleGetMethods))
}

type methodsResponse struct {
	Service         string                  `json:"service"`
	Listening       bool                    `json:"listening"`
	ActiveListeners int                     `json:"active_listeners"`
	Handlers        []*HandlerInfo          `json:"handlers"`
	Dispatch        DispatchMetricsSnapshot `json:"dispatch"`
}

func (s *Service) handleGetMethods(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(s.Conf.WebUICORSAllowedOrigins) > 0 {
		if allowed := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := methodsResponse{
		Service:         s.Conf.ServiceName,
		Listening:       s.Listening(),
		ActiveListeners: s.ActiveListeners(),
		Handlers:        s.Handlers(),
		Dispatch:        s.metrics.GetSnapshot(),
	}
	if err := jsoncodec.Encode(w, resp); err != nil {
		s.Logger.Error("Failed to encode handlers", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
