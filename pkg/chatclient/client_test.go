package chatclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/config"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/handler"
	"github.com/damoang/angple-chat/internal/migration"
	"github.com/damoang/angple-chat/internal/reconcile"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/internal/routes"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/internal/ws"
	"github.com/damoang/angple-chat/pkg/jwt"
	"github.com/damoang/angple-chat/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	url    string
	jwt    *jwt.Manager
	scopes repository.ScopeRepository
}

func startServer(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.Run(db))
	require.NoError(t, db.Create(&domain.Scope{ID: "class-1", Kind: domain.ScopeClass, Name: "Algorithms"}).Error)
	require.NoError(t, db.Create(&domain.Profile{UserID: "alice", DisplayName: "Alice"}).Error)

	hub := ws.NewHub(nil, ws.Options{Buffer: 64})
	go hub.Run()
	<-hub.Ready()

	backend, err := storage.NewLocalBackend(t.TempDir(), "/uploads")
	require.NoError(t, err)

	limits := config.Default().Chat
	scopes := repository.NewScopeRepository(db)
	messages := repository.NewMessageRepository(db)
	auth := service.NewMembershipAuthorizer(scopes)
	profiles := service.NewProfileLookup(repository.NewProfileRepository(db))
	reactions := service.NewReactionService(repository.NewReactionRepository(db), messages, auth, hub)
	replies := service.NewReplyService(messages, profiles, auth, nil, limits.PreviewSnippetRunes)
	attachments := service.NewAttachmentService(backend, limits.MaxAttachmentSize, limits.ThumbnailWidth)

	m := jwt.NewManager("test-secret", "angple")
	router := gin.New()
	routes.Setup(router, routes.Handlers{
		Messages:    handler.NewMessageHandler(service.NewMessageService(messages, auth, hub, nil, limits), reactions, replies),
		Reactions:   handler.NewReactionHandler(reactions),
		Attachments: handler.NewAttachmentHandler(attachments, limits.MaxAttachmentSize),
		WS:          handler.NewWSHandler(hub, auth, ""),
		Health:      handler.NewHealthHandler(db, nil),
	}, m, nil, routes.Limits{})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return &fixture{url: srv.URL, jwt: m, scopes: scopes}
}

func (f *fixture) client(t *testing.T, userID string) *Client {
	t.Helper()
	token, err := f.jwt.GenerateToken(userID, "", time.Hour)
	require.NoError(t, err)
	return New(f.url, token)
}

func TestClient_RequestResponse(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()
	alice := f.client(t, "alice")
	bob := f.client(t, "bob")

	first, err := alice.Append(ctx, &domain.AppendRequest{ScopeID: "class-1", SubmissionKey: "k-1", Body: "quiz at 10"})
	require.NoError(t, err)
	assert.Equal(t, "alice", first.AuthorID)
	assert.NotZero(t, first.CreatedAt)

	reply, err := bob.Append(ctx, &domain.AppendRequest{ScopeID: "class-1", SubmissionKey: "k-1", Body: "thanks", ReplyToID: &first.ID})
	require.NoError(t, err)

	st, err := bob.SetReaction(ctx, first.ID, "like", true)
	require.NoError(t, err)
	assert.Equal(t, domain.ReactionState{Active: true, Count: 1, Version: 1}, *st)

	page, err := alice.FetchRecent(ctx, "class-1", reconcile.PageQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, reply.ID, page.Messages[0].ID)
	assert.True(t, page.HasMore)
	require.Contains(t, page.Previews, reply.ID)
	assert.Equal(t, "Alice", page.Previews[reply.ID].AuthorName)

	older, err := alice.FetchRecent(ctx, "class-1", reconcile.PageQuery{Limit: 1, Before: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, older.Messages, 1)
	assert.Equal(t, first.ID, older.Messages[0].ID)
	require.Len(t, older.Reactions[first.ID], 1)
	assert.False(t, older.Reactions[first.ID][0].Mine)

	require.NoError(t, alice.Delete(ctx, first.ID))
	p, err := bob.ReplyPreview(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, p.Available)

	found, err := bob.Resolve(ctx, []string{first.ID, reply.ID, "nope"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.True(t, found[first.ID].IsDeleted())

	att, err := alice.Upload(ctx, &reconcile.File{Filename: "notes.txt", Data: []byte("chapter 3")})
	require.NoError(t, err)
	assert.Equal(t, domain.AttachmentFile, att.Kind)
}

func TestClient_ErrorsMapToTaxonomy(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()
	require.NoError(t, f.scopes.AddMember(ctx, "class-1", "alice"))

	_, err := f.client(t, "mallory").Append(ctx, &domain.AppendRequest{ScopeID: "class-1", SubmissionKey: "k", Body: "hi"})
	assert.ErrorIs(t, err, common.ErrAuthorization)

	alice := f.client(t, "alice")
	_, err = alice.Append(ctx, &domain.AppendRequest{ScopeID: "class-1", SubmissionKey: "k", Body: ""})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = alice.SetReaction(ctx, "missing", "like", true)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = alice.Upload(ctx, &reconcile.File{Filename: "empty.bin"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = New(f.url, "not-a-token").FetchRecent(ctx, "class-1", reconcile.PageQuery{})
	assert.ErrorIs(t, err, common.ErrAuthorization)

	_, err = f.client(t, "mallory").Subscribe(ctx, "class-1")
	assert.ErrorIs(t, err, common.ErrAuthorization)

	_, err = New("http://127.0.0.1:1", "").FetchRecent(ctx, "class-1", reconcile.PageQuery{})
	assert.ErrorIs(t, err, common.ErrTransient)
	assert.True(t, common.Retryable(err))
}

func TestClient_ServerErrorStatuses(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusConflict, `{"success":false,"error":{"code":"CONFLICT","message":"seq"}}`, common.ErrConflict},
		{http.StatusServiceUnavailable, `{"success":false,"error":{"code":"TEMPORARY","message":"x"}}`, common.ErrTransient},
		{http.StatusServiceUnavailable, `{"success":false,"error":{"code":"UNAVAILABLE","message":"x"}}`, common.ErrUnavailable},
		{http.StatusTooManyRequests, `{"success":false,"error":{"code":"RATE_LIMITED","message":"slow down"}}`, common.ErrTransient},
		{http.StatusBadGateway, `not json`, common.ErrUnavailable},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(tt.body))
		}))
		_, err := New(srv.URL, "t").Append(context.Background(), &domain.AppendRequest{ScopeID: "s", SubmissionKey: "k", Body: "x"})
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		srv.Close()
	}
}

func TestClient_SubscribeDeliversEvents(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()
	alice := f.client(t, "alice")

	s, err := f.client(t, "bob").Subscribe(ctx, "class-1")
	require.NoError(t, err)

	m, err := alice.Append(ctx, &domain.AppendRequest{ScopeID: "class-1", SubmissionKey: "k-1", Body: "live"})
	require.NoError(t, err)

	select {
	case ev := <-s.Events():
		require.NotNil(t, ev)
		assert.Equal(t, domain.EventInserted, ev.Type)
		assert.Equal(t, m.ID, ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}

	s.Close()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_DrivesEngine(t *testing.T) {
	f := startServer(t)

	start := func(userID string) *reconcile.Engine {
		e := reconcile.New(reconcile.Config{ScopeID: "class-1", UserID: userID}, f.client(t, userID), nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = e.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
			e.Close()
		})
		return e
	}
	alice := start("alice")
	bob := start("bob")

	// bob 이 구독 전이면 resync 로 받는다
	h, err := alice.Submit(reconcile.Draft{Body: "hello from the client sdk"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		en, ok := alice.Entry(string(h))
		return ok && en.State == reconcile.StateSent
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(bob.Entries()) == 1 }, 3*time.Second, 10*time.Millisecond)

	sent, _ := alice.Entry(string(h))
	require.NoError(t, bob.ToggleReaction(sent.ID, "like"))
	require.Eventually(t, func() bool {
		en, ok := alice.Entry(sent.ID)
		return ok && en.Reactions["like"].Count == 1 && !en.Reactions["like"].Active
	}, 3*time.Second, 10*time.Millisecond)

	assert.Len(t, alice.Entries(), 1)
}
