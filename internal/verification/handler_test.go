package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*gin.Engine, *testEnv) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := newTestEnv(t)
	handler := NewHandler(env.engine, NewBulkCoordinator(env.engine, 4, zap.NewNop()), 20, zap.NewNop())

	router := gin.New()
	handler.RegisterRoutes(router.Group("/api/v1"))
	return router, env
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-ID", "admin-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandlerCreateAndGet(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/verifications", gin.H{
		"user_id":   uuid.New(),
		"user_type": "designer",
		"request":   gin.H{"full_name": "Ada Lovelace", "email": "ada@example.com"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, float64(0), created["version"])

	w = doJSON(t, router, http.MethodGet, "/api/v1/verifications/"+created["id"].(string), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerErrorMapping(t *testing.T) {
	router, env := newTestRouter(t)
	ctx := context.Background()
	p := env.createProcess(t)

	// Unknown process -> 404.
	w := doJSON(t, router, http.MethodGet, "/api/v1/verifications/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Malformed ID -> 400.
	w = doJSON(t, router, http.MethodGet, "/api/v1/verifications/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Approving a pending process -> 409 invalid_transition.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/verifications/%s/approve", p.ID), gin.H{
		"expected_version": 0,
		"review_notes":     "ok",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decodeBody(t, w)["kind"])

	// Stale version -> 409 version_conflict with a refresh hint.
	p, err := env.engine.StartReview(ctx, p.ID, uuid.New(), 0)
	require.NoError(t, err)
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/verifications/%s/start-review", p.ID), gin.H{
		"reviewer_id":      uuid.New(),
		"expected_version": 0,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "version_conflict", decodeBody(t, w)["kind"])

	// Unknown rejection reason -> 400.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/verifications/%s/reject", p.ID), gin.H{
		"expected_version": p.Version,
		"reason_code":      "bad_vibes",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerResubmitIncomplete(t *testing.T) {
	router, env := newTestRouter(t)
	ctx := context.Background()
	p := env.createProcess(t)
	p, err := env.engine.StartReview(ctx, p.ID, uuid.New(), 0)
	require.NoError(t, err)

	deadline := time.Now().Add(48 * time.Hour)
	p, err = env.engine.RequestMoreInfo(ctx, p.ID, p.Version, MoreInfoRequest{
		RequiredFields: []string{"license", "proof_of_address"},
		CustomMessage:  "two more documents please",
		Deadline:       &deadline,
		Actor:          "admin-1",
	})
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/verifications/%s/resubmit", p.ID), gin.H{
		"expected_version": p.Version,
		"provided_fields":  []string{"license"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "incomplete_submission", body["kind"])
	assert.Equal(t, []any{"proof_of_address"}, body["missing_fields"])
}

func TestHandlerListFilters(t *testing.T) {
	router, env := newTestRouter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p := env.createProcess(t)
		if i == 0 {
			_, err := env.engine.StartReview(ctx, p.ID, uuid.New(), 0)
			require.NoError(t, err)
		}
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/verifications?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["total_count"])

	w = doJSON(t, router, http.MethodGet, "/api/v1/verifications?status=in_review", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total_count"])
}

func TestHandlerListRejectsMalformedFilters(t *testing.T) {
	router, env := newTestRouter(t)
	env.createProcess(t)

	// A typo must not fall back to the unfiltered listing.
	for _, path := range []string{
		"/api/v1/verifications?reviewer=not-a-uuid",
		"/api/v1/verifications?created_after=yesterday",
		"/api/v1/verifications?created_before=2026-08",
	} {
		w := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w := doJSON(t, router, http.MethodGet,
		"/api/v1/verifications?created_after="+time.Now().Add(-time.Hour).Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total_count"])
}

func TestHandlerBulk(t *testing.T) {
	router, env := newTestRouter(t)
	ctx := context.Background()

	var items []gin.H
	for i := 0; i < 3; i++ {
		p := env.createProcess(t)
		p, err := env.engine.StartReview(ctx, p.ID, uuid.New(), 0)
		require.NoError(t, err)
		items = append(items, gin.H{"process_id": p.ID, "expected_version": p.Version})
	}
	// One stale item.
	items[1]["expected_version"] = 0

	w := doJSON(t, router, http.MethodPost, "/api/v1/verifications/bulk", gin.H{
		"action":  "approve",
		"items":   items,
		"approve": gin.H{"review_notes": "batch"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["succeeded"])
	assert.Equal(t, float64(1), body["failed"])
}
