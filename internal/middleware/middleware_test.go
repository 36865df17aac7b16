package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-finance-api/internal/models"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

type tokenValidatorStub struct {
	claims *models.JWTClaims
}

func (s tokenValidatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}
}

func okHandler(c *gin.Context) { c.Status(http.StatusOK) }

func serve(r *gin.Engine, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWT(tokenValidatorStub{claims: &models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin}}), func(c *gin.Context) {
		claims := ClaimsFrom(c)
		require.NotNil(t, claims)
		c.String(http.StatusOK, claims.UserID)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Basic abc"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer bad"}).Code)

	w := serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer good"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())
}

func TestRBACRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		claims *models.JWTClaims
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"staff allowed", &models.JWTClaims{UserID: "u-1", Role: models.RoleStaff}, http.StatusOK},
		{"teacher denied", &models.JWTClaims{UserID: "u-2", Role: models.RoleTeacher}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/fees", withClaims(tc.claims), RequireRoles(models.RoleAdmin, models.RoleStaff), okHandler)
			assert.Equal(t, tc.status, serve(r, http.MethodPost, "/fees", nil).Code)
		})
	}
}

func TestRBACSelfOnlyForOwnStudentID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	build := func(claims *models.JWTClaims) *gin.Engine {
		r := gin.New()
		r.GET("/fees/arrears/:studentId", withClaims(claims), RequireRolesOrSelf(models.RoleAdmin), okHandler)
		return r
	}

	student := &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}
	assert.Equal(t, http.StatusOK, serve(build(student), http.MethodGet, "/fees/arrears/student-1", nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(build(student), http.MethodGet, "/fees/arrears/student-2", nil).Code)

	nonStudent := &models.JWTClaims{UserID: "student-1", Role: models.RoleTeacher}
	assert.Equal(t, http.StatusForbidden, serve(build(nonStudent), http.MethodGet, "/fees/arrears/student-1", nil).Code)
}

type auditRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditLog
	err     error
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return a.err
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &auditRecorder{}
	r := gin.New()
	claims := &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff}
	r.PUT("/fees/:id/payment", withClaims(claims), Audit(recorder, nil, models.AuditActionFeePayment, "fee", "id"), okHandler)
	r.PUT("/fees/:id/fail", withClaims(claims), Audit(recorder, nil, models.AuditActionFeePayment, "fee", "id"), func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	require.Equal(t, http.StatusOK, serve(r, http.MethodPut, "/fees/fee-9/payment", map[string]string{"User-Agent": "till"}).Code)
	require.Equal(t, http.StatusConflict, serve(r, http.MethodPut, "/fees/fee-9/fail", nil).Code)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, models.AuditActionFeePayment, entry.Action)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "staff-1", *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "fee-9", *entry.ResourceID)
	assert.Equal(t, "till", entry.UserAgent)
	assert.Contains(t, string(entry.NewValues), "/fees/:id/payment")
}

func TestAuditWriteFailureDoesNotAffectResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/fees/generate-monthly", Audit(&auditRecorder{err: errors.New("db down")}, nil, models.AuditActionMonthlyGeneration, "fee", ""), okHandler)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/fees/generate-monthly", nil).Code)
}

type observedRequest struct {
	method string
	path   string
	status int
}

type observerStub struct {
	seen []observedRequest
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.seen = append(o.seen, observedRequest{method, path, status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/fees/arrears/:studentId", okHandler)

	serve(r, http.MethodGet, "/fees/arrears/student-1", nil)
	serve(r, http.MethodGet, "/nope", nil)

	require.Len(t, observer.seen, 2)
	assert.Equal(t, observedRequest{http.MethodGet, "/fees/arrears/:studentId", http.StatusOK}, observer.seen[0])
	assert.Equal(t, "unmatched", observer.seen[1].path)
	assert.Equal(t, http.StatusNotFound, observer.seen[1].status)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	r := gin.New()
	r.Use(WithResponseMeta())
	r.GET("/agg", func(c *gin.Context) {
		SetCacheHit(c, false)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	w := serve(r, http.MethodGet, "/agg", nil)
	assert.Equal(t, "MISS", w.Header().Get(CacheHeader))
	require.NotNil(t, meta)
	assert.Equal(t, false, meta["cacheHit"])
	assert.Contains(t, meta, "processingTimeMs")
}

func TestExtractMetaWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, ExtractMeta(c))
	assert.Nil(t, ExtractMeta(nil))
}
