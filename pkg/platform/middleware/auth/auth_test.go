package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"agentgate/pkg/platform/audit"
	auditmemory "agentgate/pkg/platform/audit/store/memory"
	"agentgate/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return v.claims, v.err
}

type AuthSuite struct {
	suite.Suite
	events  *auditmemory.InMemoryStore
	auditor *audit.Recorder
	logger  *slog.Logger
}

func TestAuthSuite(t *testing.T) {
	suite.Run(t, new(AuthSuite))
}

func (s *AuthSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.events = auditmemory.NewInMemoryStore()
	var err error
	s.auditor, err = audit.New(s.events, audit.WithLogger(s.logger))
	s.Require().NoError(err)
}

func (s *AuthSuite) serve(v JWTValidator, header string) (*httptest.ResponseRecorder, *http.Request) {
	var seen *http.Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodPost, "/invite", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	RequireRole(v, "admin", s.auditor, s.logger)(next).ServeHTTP(rec, req)
	return rec, seen
}

func (s *AuthSuite) TestValidAdminToken() {
	rec, seen := s.serve(stubValidator{claims: &JWTClaims{Subject: "op-1", Email: "lead@example.com", Role: "admin"}}, "Bearer abc")

	s.Equal(http.StatusNoContent, rec.Code)
	s.Require().NotNil(seen)
	s.Equal("op-1", requestcontext.ActorID(seen.Context()))
	s.Equal("lead@example.com", requestcontext.ActorEmail(seen.Context()))
	s.Empty(s.events.Events())
}

func (s *AuthSuite) TestRejections() {
	cases := []struct {
		name      string
		validator JWTValidator
		header    string
		reason    string
	}{
		{"missing header", stubValidator{}, "", "missing_token"},
		{"wrong scheme", stubValidator{}, "Basic Zm9v", "missing_token"},
		{"invalid token", stubValidator{err: errors.New("bad signature")}, "Bearer abc", "invalid_token"},
		{"wrong role", stubValidator{claims: &JWTClaims{Subject: "u-1", Role: "sales_agent"}}, "Bearer abc", "insufficient_role"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.events.Clear()
			rec, seen := s.serve(tc.validator, tc.header)

			s.Equal(http.StatusUnauthorized, rec.Code)
			s.Nil(seen)
			s.Contains(rec.Body.String(), `"error":"unauthorized"`)
			events := s.events.OfType(audit.EventUnauthorizedAccess)
			s.Require().Len(events, 1)
			s.Equal(tc.reason, events[0].Payload["reason"])
		})
	}
}
