package v1

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildsage/guildsage/server/auth"
)

func TestBearerAuthRejectsMissingToken(t *testing.T) {
	_, e := newTestService(t, "shh")
	rec := doJSON(e, http.MethodPost, "/api/v1/ask", `{"question":"q"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuthRejectsGarbageToken(t *testing.T) {
	_, e := newTestService(t, "shh")
	rec := doJSON(e, http.MethodPost, "/api/v1/ask", `{"question":"q"}`, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuthRejectsWrongSecret(t *testing.T) {
	_, e := newTestService(t, "shh")
	token, err := auth.GenerateAccessToken("dana", time.Now().Add(time.Hour), []byte("other-secret"))
	require.NoError(t, err)

	rec := doJSON(e, http.MethodPost, "/api/v1/ask", `{"question":"q"}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuthAcceptsMintedToken(t *testing.T) {
	_, e := newTestService(t, "shh")
	token, err := auth.GenerateAccessToken("dana", time.Now().Add(time.Hour), []byte("shh"))
	require.NoError(t, err)

	// Past the middleware the handler reports AI as unconfigured, which is
	// a 503 rather than a 401.
	rec := doJSON(e, http.MethodPost, "/api/v1/ask", `{"question":"q"}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthRoutesStayPublic(t *testing.T) {
	_, e := newTestService(t, "shh")

	// No Discord OAuth configured: 503, not a 401 from the bearer guard.
	rec := doJSON(e, http.MethodGet, "/auth/discord/login", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNoSecretDisablesAuth(t *testing.T) {
	svc, e := newTestService(t, "")
	withSyncer(svc)

	rec := doJSON(e, http.MethodGet, "/api/v1/sync/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
