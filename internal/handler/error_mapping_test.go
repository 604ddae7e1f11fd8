package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMessageService is a mock implementation of service.MessageService
type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) Append(ctx context.Context, req *domain.AppendRequest) (*domain.Message, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageService) FetchRecent(ctx context.Context, actorID, scopeID string, q service.PageQuery) (*domain.MessagePage, error) {
	args := m.Called(ctx, actorID, scopeID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessagePage), args.Error(1)
}

func (m *MockMessageService) Resolve(ctx context.Context, actorID string, ids []string) (map[string]*domain.Message, error) {
	args := m.Called(ctx, actorID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*domain.Message), args.Error(1)
}

func (m *MockMessageService) SoftDelete(ctx context.Context, id, requestedBy string) error {
	return m.Called(ctx, id, requestedBy).Error(0)
}

func (m *MockMessageService) Purge(ctx context.Context, id, requestedBy string) error {
	return m.Called(ctx, id, requestedBy).Error(0)
}

func TestMessageHandler_ErrorTaxonomy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter bool
	}{
		{"validation", common.Validationf("body too long"), http.StatusBadRequest, "VALIDATION", false},
		{"authorization", fmt.Errorf("%w: banned", common.ErrAuthorization), http.StatusForbidden, "FORBIDDEN", false},
		{"not found", fmt.Errorf("%w: scope x", common.ErrNotFound), http.StatusNotFound, "NOT_FOUND", false},
		{"conflict", fmt.Errorf("%w: seq 3 after 5", common.ErrConflict), http.StatusConflict, "CONFLICT", false},
		{"transient", fmt.Errorf("%w: deadlock", common.ErrTransient), http.StatusServiceUnavailable, "TEMPORARY", true},
		{"unavailable", fmt.Errorf("%w: db down", common.ErrUnavailable), http.StatusServiceUnavailable, "UNAVAILABLE", true},
		{"upload", &common.UploadError{Filename: "a.png", Err: common.ErrUnavailable}, http.StatusBadGateway, "UPLOAD_FAILED", false},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockMessageService)
			svc.On("Append", mock.Anything, mock.MatchedBy(func(req *domain.AppendRequest) bool {
				return req.ScopeID == "class-1" && req.AuthorID == "alice" && req.SubmissionKey == "k-1"
			})).Return(nil, tt.err)

			r := gin.New()
			r.POST("/scopes/:scope_id/messages", fakeAuth, NewMessageHandler(svc, nil, nil).Append)

			req := httptest.NewRequest(http.MethodPost, "/scopes/class-1/messages",
				strings.NewReader(`{"submission_key":"k-1","body":"hi","author_id":"mallory"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-User", "alice")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			var env envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After") != "")
			svc.AssertExpectations(t)

			// 클라이언트 쪽 역매핑이 같은 분류로 돌아오는지 (500 은 unavailable 로 본다)
			if tt.status != http.StatusInternalServerError {
				back := common.ErrorFromStatus(w.Code, env.Error.Code, env.Error.Message)
				assert.Equal(t, tt.status, common.StatusFor(back))
			}
		})
	}
}
