package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	return c, rec
}

func TestAcceptedSetsLocation(t *testing.T) {
	c, rec := newContext()
	Accepted(c, "jobs/job-1", map[string]string{"jobId": "job-1"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "jobs/job-1", rec.Header().Get("Location"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "job-1", env["data"].(map[string]interface{})["jobId"])
	assert.NotContains(t, env, "meta")
}

func TestAttachment(t *testing.T) {
	c, rec := newContext()
	Attachment(c, "plan_roster.csv", "text/csv", []byte("task,day\n"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="plan_roster.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "task,day\n", rec.Body.String())
}

func TestErrorStatusAndRetryAfter(t *testing.T) {
	c, rec := newContext()
	Error(c, appErrors.Clone(appErrors.ErrUnavailable, "planning queue is full, retry later"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")

	c, rec = newContext()
	Error(c, appErrors.ErrInfeasible)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	c, rec = newContext()
	Error(c, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
