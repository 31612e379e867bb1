package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/services"
	contextutils "mcqgen/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newWorkerRouter(t *testing.T, w WorkerControl) (*gin.Engine, *fakeWorkerService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := &fakeWorkerService{}
	return NewWorkerRouter(testConfig(), w, svc, observability.NewGenerationMetrics(), testLogger()), svc
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWorkerRouter_Details(t *testing.T) {
	router, svc := newWorkerRouter(t, &fakeWorker{})
	svc.On("IsGlobalPaused", mock.Anything).Return(true, nil)

	w := serve(router, http.MethodGet, "/v1/worker/details")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["global_paused"])
	assert.Equal(t, true, body["status"].(map[string]interface{})["is_running"])
}

func TestWorkerRouter_DetailsPauseLookupFails(t *testing.T) {
	router, svc := newWorkerRouter(t, &fakeWorker{})
	svc.On("IsGlobalPaused", mock.Anything).Return(false, contextutils.ErrServiceUnavailable)

	w := serve(router, http.MethodGet, "/v1/worker/details")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["global_paused"])
}

func TestWorkerRouter_PauseResume(t *testing.T) {
	fw := &fakeWorker{}
	fw.On("Pause", mock.Anything).Once()
	fw.On("Resume", mock.Anything).Once()
	router, svc := newWorkerRouter(t, fw)
	svc.On("SetGlobalPause", mock.Anything, true).Return(nil).Once()
	svc.On("SetGlobalPause", mock.Anything, false).Return(nil).Once()

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/v1/worker/pause").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/v1/worker/resume").Code)
	fw.AssertExpectations(t)
	svc.AssertExpectations(t)
}

func TestWorkerRouter_PauseFailureSkipsLocalPause(t *testing.T) {
	fw := &fakeWorker{}
	router, svc := newWorkerRouter(t, fw)
	svc.On("SetGlobalPause", mock.Anything, true).Return(contextutils.ErrServiceUnavailable).Once()

	w := serve(router, http.MethodPost, "/v1/worker/pause")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	fw.AssertNotCalled(t, "Pause", mock.Anything)
}

func TestWorkerRouter_StatusDefaultsToLocalInstance(t *testing.T) {
	router, svc := newWorkerRouter(t, &fakeWorker{})
	svc.On("GetWorkerStatus", mock.Anything, "worker-1").Return(&models.WorkerStatus{WorkerInstance: "worker-1"}, nil).Once()
	svc.On("GetWorkerStatus", mock.Anything, "other").Return(nil, contextutils.ErrRecordNotFound).Once()

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/worker/status").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/v1/worker/status?instance=other").Code)
	svc.AssertExpectations(t)
}

func TestWorkerRouter_Health(t *testing.T) {
	router, svc := newWorkerRouter(t, &fakeWorker{})
	svc.On("GetWorkerHealth", mock.Anything).Return(map[string]interface{}{"healthy_count": 1, "total_count": 1}, nil)

	w := serve(router, http.MethodGet, "/v1/worker/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["healthy_count"])
}

func TestWorkerRouter_TriggerAndLogs(t *testing.T) {
	fw := &fakeWorker{}
	fw.On("TriggerManualRun").Once()
	router, _ := newWorkerRouter(t, fw)

	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodPost, "/v1/worker/trigger").Code)
	w := serve(router, http.MethodGet, "/v1/worker/logs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["logs"], 1)
	fw.AssertExpectations(t)
}

func TestWorkerRouter_VerifyQuiz(t *testing.T) {
	fw := &fakeWorker{}
	fw.On("VerifyNow", mock.Anything, "quiz-1").Return(services.SweepReport{QuizID: "quiz-1", Verified: 4, Overridden: 1}, nil).Once()
	fw.On("VerifyNow", mock.Anything, "missing").Return(services.SweepReport{}, contextutils.ErrRecordNotFound).Once()
	router, _ := newWorkerRouter(t, fw)

	w := serve(router, http.MethodPost, "/v1/worker/quizzes/quiz-1/verify")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 4, body["verified"])
	assert.EqualValues(t, 1, body["overridden"])

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/v1/worker/quizzes/missing/verify").Code)
}

func TestWorkerRouter_NoLocalWorker(t *testing.T) {
	router, _ := newWorkerRouter(t, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodPost, "/v1/worker/trigger").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/v1/worker/logs").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodPost, "/v1/worker/quizzes/q/verify").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)
}
