package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"health-smart-go/internal/common"
	"health-smart-go/internal/model"
	"health-smart-go/internal/repository"
	"health-smart-go/pkg/events"
	"health-smart-go/pkg/log"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	publishTimeout = 3 * time.Second
)

// RecordInput 是创建记录所需的字段。
type RecordInput struct {
	Type       string
	Payload    json.RawMessage
	ObservedAt time.Time
}

// ListQuery 描述一次分页查询。Cursor 为上一页返回的 NextCursor。
type ListQuery struct {
	Filter model.RecordFilter
	Cursor string
	Limit  int
}

// RecordPage 是一页记录；NextCursor 为空表示没有更多数据。
type RecordPage struct {
	Records    []model.HealthRecord `json:"records"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// EventPublisher 发布记录变更事件。
type EventPublisher interface {
	PublishRecordEvent(ctx context.Context, event events.RecordEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishRecordEvent(context.Context, events.RecordEvent) error { return nil }

// NopPublisher 返回一个丢弃所有事件的 EventPublisher。
func NopPublisher() EventPublisher { return nopPublisher{} }

// HealthRecordService 定义了健康记录的业务操作，所有操作都限定在 userID 名下。
type HealthRecordService interface {
	Create(ctx context.Context, userID string, in RecordInput) (*model.HealthRecord, error)
	Get(ctx context.Context, userID, recordID string) (*model.HealthRecord, error)
	List(ctx context.Context, userID string, q ListQuery) (*RecordPage, error)
	All(ctx context.Context, userID string, filter model.RecordFilter) iter.Seq2[model.HealthRecord, error]
	Update(ctx context.Context, userID, recordID string, payload json.RawMessage, observedAt *time.Time) (*model.HealthRecord, error)
	Delete(ctx context.Context, userID, recordID string) error
}

type healthRecordService struct {
	repo      repository.HealthRecordRepository
	registry  *RecordTypeRegistry
	publisher EventPublisher
	now       func() time.Time
}

// NewHealthRecordService 创建一个新的 HealthRecordService 实例。publisher 为 nil 时不发布事件。
func NewHealthRecordService(repo repository.HealthRecordRepository, registry *RecordTypeRegistry, publisher EventPublisher) HealthRecordService {
	if publisher == nil {
		publisher = NopPublisher()
	}
	return &healthRecordService{repo: repo, registry: registry, publisher: publisher, now: time.Now}
}

// normalizeTime 统一存为 UTC 毫秒精度。
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (s *healthRecordService) Create(ctx context.Context, userID string, in RecordInput) (*model.HealthRecord, error) {
	if in.Type == "" {
		return nil, common.Invalid("type", "is required")
	}
	if in.ObservedAt.IsZero() {
		return nil, common.Invalid("observedAt", "is required")
	}
	payload, err := s.registry.Normalize(in.Type, in.Payload)
	if err != nil {
		return nil, err
	}

	record := &model.HealthRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		Type:       in.Type,
		Payload:    payload,
		ObservedAt: normalizeTime(in.ObservedAt),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	s.publish(ctx, events.RecordCreated, record.ID, userID, record.Type)
	return record, nil
}

func (s *healthRecordService) Get(ctx context.Context, userID, recordID string) (*model.HealthRecord, error) {
	return s.repo.FindOwned(ctx, userID, recordID)
}

func (s *healthRecordService) checkFilter(filter model.RecordFilter) error {
	if filter.Type != "" && !s.registry.Has(filter.Type) {
		return common.Invalid("type", fmt.Sprintf("unknown record type %q", filter.Type))
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return common.Invalid("to", "must be after from")
	}
	return nil
}

func (s *healthRecordService) List(ctx context.Context, userID string, q ListQuery) (*RecordPage, error) {
	if err := s.checkFilter(q.Filter); err != nil {
		return nil, err
	}
	limit := q.Limit
	switch {
	case limit == 0:
		limit = DefaultPageSize
	case limit < 0 || limit > MaxPageSize:
		return nil, common.Invalid("limit", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	after, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}

	// 多取一条判断是否还有下一页
	records, err := s.repo.ListPage(ctx, userID, q.Filter, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	page := &RecordPage{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		last := page.Records[limit-1]
		page.NextCursor = encodeCursor(model.RecordCursor{ObservedAt: last.ObservedAt, ID: last.ID})
	}
	return page, nil
}

// All 按页惰性读取全部匹配记录。每次遍历都从头重新查询，因此可以重复遍历。
func (s *healthRecordService) All(ctx context.Context, userID string, filter model.RecordFilter) iter.Seq2[model.HealthRecord, error] {
	return func(yield func(model.HealthRecord, error) bool) {
		if err := s.checkFilter(filter); err != nil {
			yield(model.HealthRecord{}, err)
			return
		}
		var after *model.RecordCursor
		for {
			records, err := s.repo.ListPage(ctx, userID, filter, after, MaxPageSize)
			if err != nil {
				yield(model.HealthRecord{}, fmt.Errorf("list records: %w", err))
				return
			}
			for _, r := range records {
				if !yield(r, nil) {
					return
				}
			}
			if len(records) < MaxPageSize {
				return
			}
			last := records[len(records)-1]
			after = &model.RecordCursor{ObservedAt: last.ObservedAt, ID: last.ID}
		}
	}
}

func (s *healthRecordService) Update(ctx context.Context, userID, recordID string, payload json.RawMessage, observedAt *time.Time) (*model.HealthRecord, error) {
	// 记录类型创建后不可变，读取它只用于选择校验规则
	existing, err := s.repo.FindOwned(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	normalized, err := s.registry.Normalize(existing.Type, payload)
	if err != nil {
		return nil, err
	}
	if observedAt != nil {
		if observedAt.IsZero() {
			return nil, common.Invalid("observedAt", "must not be zero")
		}
		t := normalizeTime(*observedAt)
		observedAt = &t
	}

	updated, err := s.repo.UpdateOwned(ctx, userID, recordID, normalized, observedAt)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.RecordUpdated, recordID, userID, updated.Type)
	return updated, nil
}

func (s *healthRecordService) Delete(ctx context.Context, userID, recordID string) error {
	if err := s.repo.DeleteOwned(ctx, userID, recordID); err != nil {
		return err
	}
	s.publish(ctx, events.RecordDeleted, recordID, userID, "")
	return nil
}

// publish 尽力发送事件，失败只记录日志。
func (s *healthRecordService) publish(ctx context.Context, eventType, recordID, userID, recordType string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	event := events.RecordEvent{
		Type:       eventType,
		RecordID:   recordID,
		UserID:     userID,
		RecordType: recordType,
		At:         s.now().UTC(),
	}
	if err := s.publisher.PublishRecordEvent(ctx, event); err != nil {
		log.Warnw("[HealthRecordService] 发布记录事件失败", "event", eventType, "recordID", recordID, "error", err)
	}
}

type cursorToken struct {
	ObservedAt time.Time `json:"t"`
	ID         string    `json:"id"`
}

func encodeCursor(c model.RecordCursor) string {
	b, _ := json.Marshal(cursorToken{ObservedAt: c.ObservedAt.UTC(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (*model.RecordCursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, common.Invalid("cursor", "malformed")
	}
	var tok cursorToken
	if err := json.Unmarshal(b, &tok); err != nil || tok.ID == "" {
		return nil, common.Invalid("cursor", "malformed")
	}
	return &model.RecordCursor{ObservedAt: tok.ObservedAt, ID: tok.ID}, nil
}
