package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/pkg/platform/audit"
	"agentgate/pkg/testutil"
)

// Calls the endpoint handler directly, with the context the middleware chain
// would have produced.
func (s *HandlerSuite) TestInviteAttributesActorFromContext() {
	testutil.Given(s.T(), "an authenticated admin on a known client", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/invite", map[string]string{"email": "Direct.Hire@Example.com"})
		req = testutil.WithActor(req, "admin-42", "admin", "lead@example.com")
		req = testutil.WithClient(req, "198.51.100.9", "curl/8.5.0")

		testutil.When(t, "the invite handler runs", func(t *testing.T) {
			rr := testutil.DoRequest(http.HandlerFunc(s.handler.HandleInvite), req)

			testutil.Then(t, "the invitation is issued on behalf of that admin", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[InviteResponse](t, rr)
				assert.True(t, resp.Success)
				assert.True(t, resp.EmailSent)

				issued := s.events.OfType(audit.EventInvitationIssued)
				require.Len(t, issued, 1)
				assert.Equal(t, "admin-42", issued[0].ActorID)
				assert.Equal(t, "198.51.100.9", issued[0].SourceAddress)
			})
		})
	})
}

func (s *HandlerSuite) TestValidateRejectionEnvelope() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/validate-token", map[string]string{"token": "nope", "email": "a@example.com"})
	req = testutil.WithClient(req, "198.51.100.10", "")
	rr := testutil.DoRequest(http.HandlerFunc(s.handler.HandleValidateToken), req)

	testutil.AssertRejection(s.T(), rr, "valid", "invalid_or_expired")
}
