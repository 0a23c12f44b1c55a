package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/mogcia-app/signal/internal/analytics/domain"
	billingcycledomain "github.com/mogcia-app/signal/internal/billingcycle/domain"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/ownercontext"
	"github.com/mogcia-app/signal/internal/ratelimit"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAnalyticsService struct {
	lastPut    kpidomain.RawEvent
	lastUpdate kpidomain.RawEvent
	deleted    []string
	err        error
}

func (f *fakeAnalyticsService) Put(ctx context.Context, raw kpidomain.RawEvent) (analyticsdomain.Event, error) {
	f.lastPut = raw
	if f.err != nil {
		return analyticsdomain.Event{}, f.err
	}
	return analyticsdomain.Event{RecordID: "r1", OwnerID: raw.OwnerID}, nil
}

func (f *fakeAnalyticsService) Update(ctx context.Context, raw kpidomain.RawEvent) (analyticsdomain.Event, error) {
	f.lastUpdate = raw
	if f.err != nil {
		return analyticsdomain.Event{}, f.err
	}
	return analyticsdomain.Event{RecordID: raw.RecordID, OwnerID: raw.OwnerID}, nil
}

func (f *fakeAnalyticsService) Delete(ctx context.Context, ownerID, recordID string, ignoreMissing bool) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, ownerID+"/"+recordID)
	return nil
}

func (f *fakeAnalyticsService) Get(ctx context.Context, ownerID, recordID string) (analyticsdomain.Event, error) {
	if f.err != nil {
		return analyticsdomain.Event{}, f.err
	}
	return analyticsdomain.Event{RecordID: recordID, OwnerID: ownerID}, nil
}

func (f *fakeAnalyticsService) List(ctx context.Context, req analyticsdomain.ListRequest) (analyticsdomain.ListResponse, error) {
	if f.err != nil {
		return analyticsdomain.ListResponse{}, f.err
	}
	return analyticsdomain.ListResponse{
		Events:        []analyticsdomain.Event{{RecordID: "r1", OwnerID: req.OwnerID}},
		NextPageToken: fmt.Sprintf("size-%d", req.PageSize),
	}, nil
}

type fakeKPIService struct {
	lastRebuild kpidomain.EnqueueRebuildRequest
	err         error
}

func (f *fakeKPIService) GetSummary(ctx context.Context, ownerID, periodKey string) (kpidomain.DisplaySummary, error) {
	if f.err != nil {
		return kpidomain.DisplaySummary{}, f.err
	}
	return kpidomain.EmptyDisplay(kpidomain.SummaryKey{OwnerID: ownerID, PeriodKey: periodKey}), nil
}

func (f *fakeKPIService) ListSummaries(ctx context.Context, ownerID string, limit int) ([]kpidomain.DisplaySummary, error) {
	return nil, f.err
}

func (f *fakeKPIService) GetCurrent(ctx context.Context, ownerID string) (kpidomain.CurrentReport, error) {
	return kpidomain.CurrentReport{OwnerID: ownerID, CurrentKey: "2024-06"}, f.err
}

func (f *fakeKPIService) GetBreakdowns(ctx context.Context, ownerID, periodKey string) (kpidomain.BreakdownReport, error) {
	return kpidomain.BreakdownReport{OwnerID: ownerID, PeriodKey: periodKey}, f.err
}

func (f *fakeKPIService) EnqueueRebuild(ctx context.Context, req kpidomain.EnqueueRebuildRequest) (kpidomain.RebuildRequest, error) {
	f.lastRebuild = req
	if f.err != nil {
		return kpidomain.RebuildRequest{}, f.err
	}
	return kpidomain.RebuildRequest{ID: 1, OwnerID: req.OwnerID, PeriodKey: req.PeriodKey, DryRun: req.DryRun, Status: kpidomain.RebuildStatusPending}, nil
}

func (f *fakeKPIService) GetRebuild(ctx context.Context, ownerID, id string) (kpidomain.RebuildRequest, error) {
	if f.err != nil {
		return kpidomain.RebuildRequest{}, f.err
	}
	return kpidomain.RebuildRequest{ID: 1, OwnerID: ownerID}, nil
}

type fakeBillingCycleService struct {
	lastUpsert billingcycledomain.UpsertProfileRequest
	err        error
}

func (f *fakeBillingCycleService) GetProfile(ctx context.Context, ownerID string) (billingcycledomain.ResolvedProfile, error) {
	return billingcycledomain.ResolvedProfile{OwnerID: ownerID, Timezone: "UTC", AnchorDay: 1}, f.err
}

func (f *fakeBillingCycleService) UpsertProfile(ctx context.Context, req billingcycledomain.UpsertProfileRequest) (billingcycledomain.ResolvedProfile, error) {
	f.lastUpsert = req
	if f.err != nil {
		return billingcycledomain.ResolvedProfile{}, f.err
	}
	return billingcycledomain.ResolvedProfile{OwnerID: req.OwnerID, Timezone: "UTC", AnchorDay: 1, Stored: true}, nil
}

func (f *fakeBillingCycleService) CurrentWindows(ctx context.Context, ownerID string) (billingcycledomain.OwnerWindows, error) {
	return billingcycledomain.OwnerWindows{}, f.err
}

func (f *fakeBillingCycleService) WindowForKey(ctx context.Context, ownerID, periodKey string) (billingcycledomain.PeriodWindow, error) {
	return billingcycledomain.PeriodWindow{}, f.err
}

type testServer struct {
	router    *gin.Engine
	analytics *fakeAnalyticsService
	kpi       *fakeKPIService
	billing   *fakeBillingCycleService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimiter(t, nil)
}

func newTestServerWithLimiter(t *testing.T, limiter *ratelimit.EventIngestLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		router:    router,
		analytics: &fakeAnalyticsService{},
		kpi:       &fakeKPIService{},
		billing:   &fakeBillingCycleService{},
	}
	NewServer(ServerParams{
		Gin:          router,
		AnalyticsSvc: ts.analytics,
		KPISvc:       ts.kpi,
		BillingSvc:   ts.billing,
		IngestLimit:  limiter,
	})
	return ts
}

func (ts *testServer) do(method, path, owner, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(ownercontext.HeaderOwnerID, owner)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

func TestOwnerHeaderRequired(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/kpi/current", "", "")

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "unauthorized", decodeError(t, resp).Type)
}

func TestPutEventStampsOwner(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/analytics", "owner-a",
		`{"recordId":" r1 ","publishedAt":"2024-05-01T00:00:00Z","metrics":{"likes":5}}`)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "owner-a", ts.analytics.lastPut.OwnerID)
	assert.Equal(t, "r1", ts.analytics.lastPut.RecordID)
}

func TestPutEventRejectsForeignOwner(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/analytics", "owner-a", `{"ownerId":"owner-b","metrics":{}}`)

	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "conflict", decodeError(t, resp).Type)
}

func TestPutEventRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/analytics", "owner-a", `{"metrics":`)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_request", payload.Errors[0].Code)
}

func TestUpdateEventUsesPathID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPut, "/api/analytics/r9", "owner-a", `{"metrics":{"likes":1}}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "r9", ts.analytics.lastUpdate.RecordID)

	resp = ts.do(http.MethodPut, "/api/analytics/r9", "owner-a", `{"recordId":"r8"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDeleteEvent(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodDelete, "/api/analytics/r1", "owner-a", "")

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, []string{"owner-a/r1"}, ts.analytics.deleted)
}

func TestListEventsPassesPaging(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/analytics?page_size=5&period=2024-05", "owner-a", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		NextPageToken string `json:"next_page_token"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "size-5", body.NextPageToken)

	resp = ts.do(http.MethodGet, "/api/analytics?page_size=many", "owner-a", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestServiceErrorsAreMapped(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"invalid period", kpidomain.ErrInvalidPeriodKey, http.StatusBadRequest, "validation_error"},
		{"not found", fmt.Errorf("load: %w", analyticsdomain.ErrEventNotFound), http.StatusNotFound, "not_found"},
		{"transient", kpidomain.Transient("load summary", fmt.Errorf("conn reset")), http.StatusServiceUnavailable, "service_unavailable"},
		{"inconsistent", kpidomain.Inconsistent("owner mismatch"), http.StatusConflict, "consistency_violation"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.kpi.err = tc.err

			resp := ts.do(http.MethodGet, "/api/kpi/summaries/2024-05", "owner-a", "")

			assert.Equal(t, tc.status, resp.Code)
			assert.Equal(t, tc.typ, decodeError(t, resp).Type)
		})
	}
}

func TestValidationFieldFromCode(t *testing.T) {
	_, payload := mapError(kpidomain.ErrInvalidPeriodKey)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "period_key", payload.Errors[0].Field)

	_, payload = mapError(kpidomain.ErrOwnerRequired)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "owner", payload.Errors[0].Field)
	assert.Equal(t, "required", payload.Errors[0].Message)
}

func TestEnqueueRebuildAcceptsEmptyBody(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/kpi/rebuilds?dry_run=true", "owner-a", "")

	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, kpidomain.EnqueueRebuildRequest{OwnerID: "owner-a", DryRun: true}, ts.kpi.lastRebuild)
}

func TestEnqueueRebuildWithPeriod(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/kpi/rebuilds", "owner-a", `{"periodKey":" 2024-05 "}`)

	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, "2024-05", ts.kpi.lastRebuild.PeriodKey)
	assert.False(t, ts.kpi.lastRebuild.DryRun)
}

func TestUpsertOwnerProfile(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPut, "/api/owners/profile", "owner-a", `{"timezone":"Asia/Tokyo","anchorDay":15}`)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "owner-a", ts.billing.lastUpsert.OwnerID)
	require.NotNil(t, ts.billing.lastUpsert.Timezone)
	assert.Equal(t, "Asia/Tokyo", *ts.billing.lastUpsert.Timezone)
	require.NotNil(t, ts.billing.lastUpsert.AnchorDay)
	assert.Equal(t, 15, *ts.billing.lastUpsert.AnchorDay)

	ts.billing.err = billingcycledomain.ErrInvalidTimezone
	resp = ts.do(http.MethodPut, "/api/owners/profile", "owner-a", `{"timezone":"Mars/Olympus"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/nope", "owner-a", "")

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeError(t, resp).Type)
}

func TestIngestRateLimitedPerOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewEventIngestLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, OwnerRate: 0.01, OwnerBurst: 1},
	}, client, zap.NewNop())
	ts := newTestServerWithLimiter(t, limiter)

	resp := ts.do(http.MethodPost, "/api/analytics", "owner-a", `{"metrics":{}}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("X-RateLimit-Limit"))

	resp = ts.do(http.MethodPost, "/api/analytics", "owner-a", `{"metrics":{}}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, resp).Type)

	// reads are never limited
	resp = ts.do(http.MethodGet, "/api/analytics/r1", "owner-a", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(http.MethodPost, "/api/analytics", "owner-b", `{"metrics":{}}`)
	assert.Equal(t, http.StatusOK, resp.Code)
}
