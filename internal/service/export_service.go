package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"health-smart-go/internal/model"
	"health-smart-go/pkg/log"

	"github.com/google/uuid"
)

// NDJSONContentType 是导出文件的 MIME 类型。
const NDJSONContentType = "application/x-ndjson"

// ObjectStore 是导出归档使用的对象存储。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, contentType string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// ExportArchive 描述一次已上传的导出。
type ExportArchive struct {
	Object    string    `json:"object"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Records   int       `json:"records"`
}

// ExportService 把用户的健康记录导出为 NDJSON。
type ExportService interface {
	WriteNDJSON(ctx context.Context, userID string, filter model.RecordFilter, w io.Writer) (int, error)
	Archive(ctx context.Context, userID string, filter model.RecordFilter) (*ExportArchive, error)
}

type exportService struct {
	records HealthRecordService
	store   ObjectStore
	expiry  time.Duration
	now     func() time.Time
}

// NewExportService 创建导出服务。store 为 nil 时只支持 WriteNDJSON。
func NewExportService(records HealthRecordService, store ObjectStore, expiry time.Duration) ExportService {
	return &exportService{records: records, store: store, expiry: expiry, now: time.Now}
}

// WriteNDJSON 每行写一条记录，返回写出的记录数。
func (s *exportService) WriteNDJSON(ctx context.Context, userID string, filter model.RecordFilter, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	for record, err := range s.records.All(ctx, userID, filter) {
		if err != nil {
			return n, err
		}
		if err := enc.Encode(record); err != nil {
			return n, fmt.Errorf("write export line: %w", err)
		}
		n++
	}
	return n, nil
}

// Archive 把导出流式上传到对象存储并返回预签名下载地址。
func (s *exportService) Archive(ctx context.Context, userID string, filter model.RecordFilter) (*ExportArchive, error) {
	if s.store == nil {
		return nil, fmt.Errorf("object storage is not configured")
	}

	now := s.now().UTC()
	object := fmt.Sprintf("exports/%s/%s-%s.ndjson", userID, now.Format("20060102T150405Z"), uuid.NewString()[:8])

	pr, pw := io.Pipe()
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := s.WriteNDJSON(ctx, userID, filter, pw)
		pw.CloseWithError(err)
		done <- result{n: n, err: err}
	}()

	putErr := s.store.Put(ctx, object, pr, NDJSONContentType)
	// 上传提前失败时解除写端阻塞
	pr.CloseWithError(io.ErrClosedPipe)
	res := <-done
	if putErr != nil {
		return nil, fmt.Errorf("upload export: %w", putErr)
	}
	if res.err != nil {
		return nil, res.err
	}

	url, err := s.store.PresignedURL(ctx, object, s.expiry)
	if err != nil {
		return nil, err
	}
	log.Infow("[ExportService] 导出已上传", "userID", userID, "object", object, "records", res.n)
	return &ExportArchive{Object: object, URL: url, ExpiresAt: now.Add(s.expiry), Records: res.n}, nil
}
