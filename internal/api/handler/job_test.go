package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/api/middleware"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/analysis"
	"github.com/qs3c/style_go_server/internal/pkg/jwt"
	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/repository"
	"github.com/qs3c/style_go_server/internal/service"
	"github.com/qs3c/style_go_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		jsonBytes, _ := json.Marshal(b)
		reqBody = bytes.NewBuffer(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	return data
}

// mockAuth 模拟认证中间件
func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Set(middleware.ClaimsKey, &jwt.Claims{UserID: userID})
		c.Next()
	}
}

// mockIdentity 模拟带外部身份的会话
func mockIdentity(identity jwt.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, int64(0))
		c.Set(middleware.ClaimsKey, &jwt.Claims{Identity: identity})
		c.Next()
	}
}

func testTiers(t *testing.T) *service.TierTable {
	t.Helper()
	tiers, err := service.NewTierTable([]config.TierConfig{
		{ID: "basic", Name: "Basic", Price: 4.99, Credits: 50, ProductID: "prod_basic", PriceID: "price_basic"},
		{ID: "standard", Name: "Standard", Price: 9.99, Credits: 120, ProductID: "prod_standard", PriceID: "price_standard"},
	})
	require.NoError(t, err)
	return tiers
}

type fakeAnalysisClient struct {
	wearSuit json.RawMessage
	bestFit  *analysis.Envelope
	err      error
	calls    int
}

func (f *fakeAnalysisClient) FetchWearSuitPictures(context.Context, string) (json.RawMessage, error) {
	f.calls++
	return f.wearSuit, f.err
}

func (f *fakeAnalysisClient) FetchBestFitImage(context.Context, string) (*analysis.Envelope, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bestFit, nil
}

func (f *fakeAnalysisClient) CheckAvailability(context.Context) bool {
	return f.err == nil
}

type testContext struct {
	DB     *gorm.DB
	Client *fakeAnalysisClient
}

func setupJobHandler(t *testing.T) (*JobHandler, *testContext) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{
		Credits: config.CreditsConfig{
			Costs: config.CostConfig{WearSuitPictures: 10, BestFitImage: 5},
		},
		Upload: config.UploadConfig{MaxImageBytes: 1024},
	}

	client := &fakeAnalysisClient{}
	users := service.NewUserService(repository.NewUserRepository(db), nil, cfg)
	jobs := service.NewJobService(repository.NewJobRepository(db), nil)
	credits := service.NewCreditService(repository.NewLedgerRepository(db), testTiers(t))
	analysisSvc := service.NewAnalysisService(client, jobs, credits, cfg)

	handler := NewJobHandler(jobs, analysisSvc, service.NewImageService(cfg.Upload), service.DefaultIdentityChain(users))
	return handler, &testContext{DB: db, Client: client}
}

func loadJob(t *testing.T, db *gorm.DB, id string) *model.Job {
	t.Helper()
	var job model.Job
	require.NoError(t, db.First(&job, "id = ?", id).Error)
	return &job
}

func TestJobHandler_Create_DataURI(t *testing.T) {
	handler, ctx := setupJobHandler(t)

	router := gin.New()
	router.POST("/jobs/create", handler.Create)

	w := performRequest(router, "POST", "/jobs/create", map[string]string{
		"uploadedImage": "data:image/png;base64,iVBORw0KGgo=",
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := parseJSON(t, w)
	assert.Equal(t, true, data["success"])
	jobID, _ := data["jobId"].(string)
	require.NotEmpty(t, jobID)

	expected, _ := base64.StdEncoding.DecodeString("iVBORw0KGgo=")
	job := loadJob(t, ctx.DB, jobID)
	assert.Equal(t, expected, job.UploadedImage)
	assert.True(t, job.Owner().IsPending())
	assert.True(t, strings.HasPrefix(job.OwnerRef, "temp-"))
}

func TestJobHandler_Create_NoImage(t *testing.T) {
	handler, ctx := setupJobHandler(t)

	router := gin.New()
	router.POST("/jobs/create", handler.Create)

	w := performRequest(router, "POST", "/jobs/create", map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)

	jobID := parseJSON(t, w)["jobId"].(string)
	assert.Empty(t, loadJob(t, ctx.DB, jobID).UploadedImage)
}

func TestJobHandler_Create_MalformedBody(t *testing.T) {
	handler, ctx := setupJobHandler(t)

	router := gin.New()
	router.POST("/jobs/create", handler.Create)

	w := performRequest(router, "POST", "/jobs/create", "not json")
	require.Equal(t, http.StatusOK, w.Code)

	jobID := parseJSON(t, w)["jobId"].(string)
	assert.Empty(t, loadJob(t, ctx.DB, jobID).UploadedImage)
}

func TestJobHandler_Create_ExplicitUser(t *testing.T) {
	handler, ctx := setupJobHandler(t)
	user := testutil.TestUser(t, ctx.DB)

	router := gin.New()
	router.POST("/jobs/create", handler.Create)

	w := performRequest(router, "POST", "/jobs/create", map[string]string{
		"dbUserId": "  " + strconv.FormatInt(user.ID, 10) + " ",
	})
	require.Equal(t, http.StatusOK, w.Code)

	job := loadJob(t, ctx.DB, parseJSON(t, w)["jobId"].(string))
	assert.Equal(t, model.ResolvedOwner(user.ID), job.Owner())
}

func TestJobHandler_Create_UnknownExplicitUserFallsBackToSession(t *testing.T) {
	handler, ctx := setupJobHandler(t)
	user := testutil.TestUser(t, ctx.DB)

	router := gin.New()
	router.Use(mockAuth(user.ID))
	router.POST("/jobs/create", handler.Create)

	w := performRequest(router, "POST", "/jobs/create", map[string]string{"dbUserId": "999999"})
	require.Equal(t, http.StatusOK, w.Code)

	job := loadJob(t, ctx.DB, parseJSON(t, w)["jobId"].(string))
	assert.Equal(t, model.ResolvedOwner(user.ID), job.Owner())
}

func TestJobHandler_Create_SessionIdentityProvisionsUser(t *testing.T) {
	handler, ctx := setupJobHandler(t)

	router := gin.New()
	router.Use(mockIdentity(jwt.Identity{Provider: "github", ExternalID: "gh-1", Email: "gh@example.com"}))
	router.POST("/jobs/create", handler.Create)

	w := performRequest(router, "POST", "/jobs/create", map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)

	var user model.User
	require.NoError(t, ctx.DB.Where("provider = ? AND provider_id = ?", "github", "gh-1").First(&user).Error)

	job := loadJob(t, ctx.DB, parseJSON(t, w)["jobId"].(string))
	assert.Equal(t, model.ResolvedOwner(user.ID), job.Owner())
}

func TestJobHandler_Create_ImageTooLargeCreatesJobWithoutImage(t *testing.T) {
	handler, ctx := setupJobHandler(t)

	router := gin.New()
	router.POST("/jobs/create", handler.Create)

	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xff}, 2048))
	w := performRequest(router, "POST", "/jobs/create", map[string]string{
		"uploadedImage": "data:image/jpeg;base64," + big,
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := parseJSON(t, w)
	assert.Equal(t, true, data["success"])
	assert.Empty(t, loadJob(t, ctx.DB, data["jobId"].(string)).UploadedImage)
}

func TestJobHandler_Create_StorageFailure(t *testing.T) {
	db, mock := testutil.SetupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `jobs`").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	jobs := service.NewJobService(repository.NewJobRepository(db), nil)
	handler := NewJobHandler(jobs, nil, service.NewImageService(config.UploadConfig{}), service.NewIdentityChain(service.PlaceholderResolver{}))

	router := gin.New()
	router.POST("/jobs/create", handler.Create)

	w := performRequest(router, "POST", "/jobs/create", map[string]string{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	body := parseError(t, w)
	assert.Equal(t, "Failed to create job", body.Error)
	assert.NotEmpty(t, body.Details)
}

func TestJobHandler_BestFit_Cached(t *testing.T) {
	handler, ctx := setupJobHandler(t)
	job := testutil.TestJob(t, ctx.DB, model.PendingOwner("temp-1"), testutil.WithBestFit([]byte("cached")))

	router := gin.New()
	router.POST("/jobs/best-fit", handler.BestFit)

	w := performRequest(router, "POST", "/jobs/best-fit", map[string]string{"jobId": job.ID})
	require.Equal(t, http.StatusOK, w.Code)

	data := parseJSON(t, w)
	assert.Equal(t, "success", data["status"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("cached")), data["imageData"])
	assert.Equal(t, true, data["cached"])
	assert.Equal(t, 0, ctx.Client.calls)
}

// withCaller 0 表示匿名请求
func withCaller(userID int64) gin.HandlerFunc {
	if userID == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return mockAuth(userID)
}

func TestJobHandler_BestFit_Errors(t *testing.T) {
	handler, ctx := setupJobHandler(t)

	poor := testutil.TestUser(t, ctx.DB, testutil.WithCredits(1))
	rich := testutil.TestUser(t, ctx.DB, testutil.WithCredits(50))
	pendingJob := testutil.TestJob(t, ctx.DB, model.PendingOwner("temp-2"))
	poorJob := testutil.TestJob(t, ctx.DB, model.ResolvedOwner(poor.ID))
	richJob := testutil.TestJob(t, ctx.DB, model.ResolvedOwner(rich.ID))
	emptyJob := testutil.TestJob(t, ctx.DB, model.ResolvedOwner(rich.ID), testutil.WithoutImage())

	ctx.Client.err = &analysis.ExternalServiceError{Message: "upstream down"}

	tests := []struct {
		name   string
		caller int64
		body   interface{}
		status int
		code   string
	}{
		{"missing job id", 0, map[string]string{}, http.StatusBadRequest, response.CodeBadRequest},
		{"unknown job", 0, map[string]string{"jobId": "missing"}, http.StatusNotFound, response.CodeNotFound},
		{"no uploaded image", rich.ID, map[string]string{"jobId": emptyJob.ID}, http.StatusNotFound, response.CodeNotFound},
		{"placeholder owner", 0, map[string]string{"jobId": pendingJob.ID}, http.StatusPaymentRequired, response.CodeInsufficientCredits},
		{"anonymous caller", 0, map[string]string{"jobId": richJob.ID}, http.StatusUnauthorized, response.CodeUnauthorized},
		{"another user's job", poor.ID, map[string]string{"jobId": richJob.ID}, http.StatusNotFound, response.CodeNotFound},
		{"insufficient credits", poor.ID, map[string]string{"jobId": poorJob.ID}, http.StatusPaymentRequired, response.CodeInsufficientCredits},
		{"upstream failure", rich.ID, map[string]string{"jobId": richJob.ID}, http.StatusBadGateway, response.CodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(withCaller(tt.caller))
			router.POST("/jobs/best-fit", handler.BestFit)

			w := performRequest(router, "POST", "/jobs/best-fit", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, parseError(t, w).Code)
		})
	}

	// 只有本人的最后一次请求扣过费，远程失败后已退还
	var reloaded model.User
	require.NoError(t, ctx.DB.First(&reloaded, rich.ID).Error)
	assert.Equal(t, 50, reloaded.Credits)
	require.NoError(t, ctx.DB.First(&reloaded, poor.ID).Error)
	assert.Equal(t, 1, reloaded.Credits)
	assert.Equal(t, 1, ctx.Client.calls)
	assert.Equal(t, model.JobStatusFailed, loadJob(t, ctx.DB, richJob.ID).Status)
}

func TestJobHandler_BestFit_Owner(t *testing.T) {
	handler, ctx := setupJobHandler(t)
	ctx.Client.bestFit = &analysis.Envelope{
		Status:    "success",
		ImageData: base64.StdEncoding.EncodeToString([]byte("generated")),
	}

	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(20))
	job := testutil.TestJob(t, ctx.DB, model.ResolvedOwner(user.ID))

	router := gin.New()
	router.Use(mockAuth(user.ID))
	router.POST("/jobs/best-fit", handler.BestFit)

	w := performRequest(router, "POST", "/jobs/best-fit", map[string]string{"jobId": job.ID})
	require.Equal(t, http.StatusOK, w.Code)

	data := parseJSON(t, w)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("generated")), data["imageData"])
	assert.Equal(t, false, data["cached"])

	var reloaded model.User
	require.NoError(t, ctx.DB.First(&reloaded, user.ID).Error)
	assert.Equal(t, 15, reloaded.Credits)
}

func TestJobHandler_BestFit_InProgress(t *testing.T) {
	handler, ctx := setupJobHandler(t)
	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(20))
	job := testutil.TestJob(t, ctx.DB, model.ResolvedOwner(user.ID), testutil.WithJobStatus(model.JobStatusProcessing))

	router := gin.New()
	router.Use(mockAuth(user.ID))
	router.POST("/jobs/best-fit", handler.BestFit)

	w := performRequest(router, "POST", "/jobs/best-fit", map[string]string{"jobId": job.ID})
	require.Equal(t, http.StatusAccepted, w.Code)

	data := parseJSON(t, w)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, model.JobStatusProcessing, data["jobStatus"])
	assert.Equal(t, 0, ctx.Client.calls)

	var reloaded model.User
	require.NoError(t, ctx.DB.First(&reloaded, user.ID).Error)
	assert.Equal(t, 20, reloaded.Credits)
}

func TestJobHandler_History(t *testing.T) {
	handler, ctx := setupJobHandler(t)
	user := testutil.TestUser(t, ctx.DB)
	other := testutil.TestUser(t, ctx.DB)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	testutil.TestJob(t, ctx.DB, model.ResolvedOwner(user.ID), func(j *model.Job) { j.UploadedImage = png })
	testutil.TestJob(t, ctx.DB, model.ResolvedOwner(other.ID))

	router := gin.New()
	router.Use(mockAuth(user.ID))
	router.GET("/jobs/history", handler.History)

	w := performRequest(router, "GET", "/jobs/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Jobs []struct {
			JobID         string `json:"jobId"`
			UploadedImage string `json:"uploadedImage"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.True(t, strings.HasPrefix(body.Jobs[0].UploadedImage, "data:image/png;base64,"))
}

func TestJobHandler_History_Unauthorized(t *testing.T) {
	handler, _ := setupJobHandler(t)

	router := gin.New()
	router.GET("/jobs/history", handler.History)

	w := performRequest(router, "GET", "/jobs/history", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
