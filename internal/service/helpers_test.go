package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"health-smart-go/internal/config"
	"health-smart-go/internal/model"
	"health-smart-go/internal/repository"
	"health-smart-go/pkg/database"
	"health-smart-go/pkg/events"
	"health-smart-go/pkg/llm"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testPolicy = config.PasswordPolicyConfig{MinLength: 8, RequireUpper: true, RequireLower: true, RequireDigit: true}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:svc_" + name + "?mode=memory&cache=shared",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// seedOwners 创建记录所属的用户。
func seedOwners(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.Create(&model.User{ID: id, Email: id + "@example.com", Password: "hash"}).Error)
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.RecordEvent
	err    error
}

func (f *fakePublisher) PublishRecordEvent(_ context.Context, e events.RecordEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeStream 依次返回 chunks，随后返回 err；hang 为 true 时阻塞到 ctx 结束。
type fakeStream struct {
	ctx    context.Context
	chunks []string
	err    error
	hang   bool
	pos    int
	closed chan struct{}
	once   sync.Once
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos < len(s.chunks) {
		s.pos++
		return s.chunks[s.pos-1], nil
	}
	if s.hang {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeLLM struct {
	mu       sync.Mutex
	openErr  error
	openHang bool
	chunks   []string
	err      error
	hang     bool
	received []llm.Message
	stream   *fakeStream
}

func (f *fakeLLM) Open(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = messages
	if f.openHang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.stream = &fakeStream{ctx: ctx, chunks: f.chunks, err: f.err, hang: f.hang, closed: make(chan struct{})}
	return f.stream, nil
}

type fakeConversationRepo struct {
	mu       sync.Mutex
	appended map[string][]model.ChatMessage
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{appended: map[string][]model.ChatMessage{}}
}

func (f *fakeConversationRepo) GetHistory(_ context.Context, userID string) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ChatMessage(nil), f.appended[userID]...), nil
}

func (f *fakeConversationRepo) Append(_ context.Context, userID string, messages ...model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended[userID] = append(f.appended[userID], messages...)
	return nil
}

func (f *fakeConversationRepo) Clear(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.appended, userID)
	return nil
}

type fakeObjectStore struct {
	objects map[string]string
	putErr  error
}

func (f *fakeObjectStore) Put(_ context.Context, name string, r io.Reader, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[name] = string(b)
	return nil
}

func (f *fakeObjectStore) PresignedURL(_ context.Context, name string, expiry time.Duration) (string, error) {
	return "https://storage.example/" + name + "?expires=" + expiry.String(), nil
}
