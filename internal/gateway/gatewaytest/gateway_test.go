package gatewaytest

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCheckCode_attemptLimit(t *testing.T) {
	g := New()
	g.issueCode("919876543210")
	for i := 0; i < maxAttempts-1; i++ {
		assert.False(t, g.checkCode("919876543210", "000000"))
	}
	assert.True(t, g.checkCode("919876543210", DevCode))
	assert.False(t, g.checkCode("919876543210", DevCode), "code is consumed")

	g.issueCode("919876543210")
	for i := 0; i < maxAttempts; i++ {
		g.checkCode("919876543210", "000000")
	}
	assert.False(t, g.checkCode("919876543210", DevCode), "locked after too many attempts")
}

func TestVerify_requiresIssuedCode(t *testing.T) {
	_, srv := Start(t)

	resp := post(t, srv.URL+"/auth/verify", "", `{"phone":"919876543210","code":"123456"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, srv.URL+"/auth/request-code", "", `{"phone":"919876543210"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, srv.URL+"/auth/verify", "", `{"phone":"919876543210","code":"123456"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequests_requireBearer(t *testing.T) {
	g, srv := Start(t)

	resp := post(t, srv.URL+"/requests/", "", `{"category":"Family","details":"custody question"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, srv.URL+"/requests/", "forged", `{"category":"Family","details":"custody question"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := g.SignToken("u1", "919876543210", tokenExpiry)
	require.NoError(t, err)
	resp = post(t, srv.URL+"/requests/", token, `{"category":"Family","details":"custody question"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	reqs := g.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "u1", reqs[0].Owner)
	assert.Equal(t, 3, g.Calls("POST /requests/"))
}

func TestFail(t *testing.T) {
	g, srv := Start(t)
	g.Fail("POST /auth/request-code", http.StatusServiceUnavailable)

	resp := post(t, srv.URL+"/auth/request-code", "", `{"phone":"919876543210"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	g.ClearFailures()
	resp = post(t, srv.URL+"/auth/request-code", "", `{"phone":"919876543210"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
