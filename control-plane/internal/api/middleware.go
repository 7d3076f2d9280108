package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
)

const secretHeader = config.SecretHeader

// secretsEqual compares a presented secret with the expected one in time
// that depends only on their lengths. Lengths are compared first; equal
// lengths are then compared by XOR-accumulating every byte, so the time
// taken does not reveal how long a matching prefix is.
func secretsEqual(presented, expected []byte) bool {
	if subtle.ConstantTimeEq(int32(len(presented)), int32(len(expected))) != 1 {
		return false
	}
	var diff byte
	for i := range expected {
		diff |= presented[i] ^ expected[i]
	}
	return subtle.ConstantTimeByteEq(diff, 0) == 1
}

// requireSecret rejects requests that do not carry the ingestion secret.
// An unconfigured secret rejects everything.
func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(secretHeader)
		if presented == "" || len(s.secret) == 0 || !secretsEqual([]byte(presented), s.secret) {
			s.c.Metrics.ObserveRejected(reasonUnauthorized)
			s.logger.Warn("ingestion rejected: bad secret",
				"remote", r.RemoteAddr,
				"has_secret", presented != "",
			)
			s.writeError(w, http.StatusUnauthorized, "missing or invalid "+secretHeader+" header", reasonUnauthorized)
			return
		}
		next(w, r)
	}
}

// requireMethod answers 405 for any verb other than method.
func (s *Server) requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method+", OPTIONS")
			s.writeError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed", reasonMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// allow applies the ingestion rate limit.
func (s *Server) allow(w http.ResponseWriter) bool {
	if s.limiter == nil || s.limiter.Allow() {
		return true
	}
	s.c.Metrics.ObserveRejected(reasonRateLimited)
	w.Header().Set("Retry-After", "1")
	s.writeError(w, http.StatusTooManyRequests, "ingestion rate limit exceeded", reasonRateLimited)
	return false
}
