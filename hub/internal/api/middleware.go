package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/fleetops/deployhub/hub/internal/secrets"
)

// AgentAuthConfig controls agent authentication behavior.
type AgentAuthConfig struct {
	// Enabled controls whether authentication is enforced.
	// When false, authentication is checked but not required (grace period mode).
	Enabled bool

	// Logger for authentication events.
	Logger *slog.Logger
}

// AgentAuthMiddleware creates middleware that validates agent bearer tokens
// against the key store. The agent ID comes from the route's {id} segment.
// During the grace period (Enabled=false), it logs but doesn't reject
// unauthenticated requests.
func (s *Server) AgentAuthMiddleware(config AgentAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID := r.PathValue("id")
			authHeader := r.Header.Get("Authorization")

			// Read the server flag at request time so EnableAgentAuth can be
			// called after route registration.
			enforce := config.Enabled || s.agentAuthEnabled

			if agentID == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				if enforce {
					config.Logger.Warn("agent auth failed: missing credentials",
						"path", r.URL.Path,
						"agent_id", agentID,
						"has_auth_header", authHeader != "",
					)
					http.Error(w, "unauthorized: missing credentials", http.StatusUnauthorized)
					return
				}
				config.Logger.Debug("agent auth: missing credentials (grace period)",
					"path", r.URL.Path,
					"agent_id", agentID,
				)
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			cred, err := s.keys.GetCredential(r.Context(), agentID)
			if err != nil {
				config.Logger.Error("agent auth failed: key store error",
					"agent_id", agentID,
					"error", err,
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			// No credential stored for this agent.
			if cred == nil {
				if enforce {
					config.Logger.Warn("agent auth failed: no credential on file",
						"agent_id", agentID,
						"path", r.URL.Path,
					)
					http.Error(w, "unauthorized: unknown agent", http.StatusUnauthorized)
					return
				}
				config.Logger.Debug("agent auth: no credential on file (grace period)",
					"agent_id", agentID,
				)
				next.ServeHTTP(w, r)
				return
			}

			if !secrets.VerifyToken(cred.TokenHash, token) {
				if enforce {
					config.Logger.Warn("agent auth failed: invalid token",
						"agent_id", agentID,
						"path", r.URL.Path,
					)
					http.Error(w, "unauthorized: invalid token", http.StatusUnauthorized)
					return
				}
				config.Logger.Warn("agent auth: invalid token (grace period - would reject)",
					"agent_id", agentID,
				)
				next.ServeHTTP(w, r)
				return
			}

			config.Logger.Debug("agent auth successful",
				"agent_id", agentID,
				"path", r.URL.Path,
			)
			next.ServeHTTP(w, r)
		})
	}
}

// wrapHandler converts an http.HandlerFunc to use middleware.
func wrapHandler(h http.HandlerFunc, middleware func(http.Handler) http.Handler) http.HandlerFunc {
	return middleware(h).ServeHTTP
}
