package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"health-smart-go/internal/common"
	"health-smart-go/internal/model"
	"health-smart-go/internal/repository"
	"health-smart-go/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecordService(t *testing.T) (HealthRecordService, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	db := newTestDB(t)
	seedOwners(t, db, "user-a", "user-b", "owner")
	svc := NewHealthRecordService(repository.NewHealthRecordRepository(db), NewRecordTypeRegistry(), pub)
	return svc, pub
}

func weight(kg float64, at time.Time) RecordInput {
	return RecordInput{Type: "weight", Payload: json.RawMessage(fmt.Sprintf(`{"kg":%g}`, kg)), ObservedAt: at}
}

func TestCreateAndList_WeightScenario(t *testing.T) {
	svc, pub := newTestRecordService(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 30, 0, 123456789, time.FixedZone("CST", 8*3600))

	rec, err := svc.Create(ctx, "user-a", weight(70, at))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, time.UTC, rec.ObservedAt.Location())
	assert.True(t, rec.ObservedAt.Equal(at.Truncate(time.Millisecond)))

	page, err := svc.List(ctx, "user-a", ListQuery{Filter: model.RecordFilter{Type: "weight"}})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	got := page.Records[0]
	assert.Equal(t, "weight", got.Type)
	assert.JSONEq(t, `{"kg":70}`, string(got.Payload))
	assert.True(t, got.ObservedAt.Equal(rec.ObservedAt))
	assert.Empty(t, page.NextCursor)

	assert.Equal(t, []string{events.RecordCreated}, pub.types())
}

func TestCreate_InvalidInput(t *testing.T) {
	svc, pub := newTestRecordService(t)
	ctx := context.Background()
	now := time.Now()

	inputs := map[string]RecordInput{
		"no type":         {Payload: json.RawMessage(`{"kg":70}`), ObservedAt: now},
		"unknown type":    {Type: "mood", Payload: json.RawMessage(`{}`), ObservedAt: now},
		"no observedAt":   {Type: "weight", Payload: json.RawMessage(`{"kg":70}`)},
		"bad payload":     {Type: "weight", Payload: json.RawMessage(`{"kg":0}`), ObservedAt: now},
		"missing payload": {Type: "weight", ObservedAt: now},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, "user-a", in)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}
	assert.Empty(t, pub.types())
}

func TestList_PaginationAndRange(t *testing.T) {
	svc, _ := newTestRecordService(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		_, err := svc.Create(ctx, "user-a", weight(float64(60+i), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	var kgs []float64
	cursor := ""
	pages := 0
	for {
		page, err := svc.List(ctx, "user-a", ListQuery{Cursor: cursor, Limit: 3})
		require.NoError(t, err)
		pages++
		for _, r := range page.Records {
			var p WeightPayload
			require.NoError(t, json.Unmarshal(r.Payload, &p))
			kgs = append(kgs, p.Kg)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []float64{60, 61, 62, 63, 64, 65, 66}, kgs)

	from, to := base.Add(2*time.Hour), base.Add(5*time.Hour)
	page, err := svc.List(ctx, "user-a", ListQuery{Filter: model.RecordFilter{From: &from, To: &to}})
	require.NoError(t, err)
	assert.Len(t, page.Records, 3)

	_, err = svc.List(ctx, "user-a", ListQuery{Filter: model.RecordFilter{From: &to, To: &from}})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = svc.List(ctx, "user-a", ListQuery{Limit: MaxPageSize + 1})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = svc.List(ctx, "user-a", ListQuery{Cursor: "!!not-a-cursor"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = svc.List(ctx, "user-a", ListQuery{Filter: model.RecordFilter{Type: "mood"}})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestAll_IsRestartable(t *testing.T) {
	svc, _ := newTestRecordService(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := svc.Create(ctx, "user-a", weight(70, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	seq := svc.All(ctx, "user-a", model.RecordFilter{})
	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 4, count())
	assert.Equal(t, 4, count())

	// 提前停止遍历
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestCrossUserIsolation(t *testing.T) {
	svc, _ := newTestRecordService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "user-a", weight(70, time.Now()))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "user-b", rec.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = svc.Update(ctx, "user-b", rec.ID, json.RawMessage(`{"kg":1}`), nil)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "user-b", rec.ID), common.ErrNotFound)

	page, err := svc.List(ctx, "user-b", ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Records)

	// 不存在与不属于自己返回同样的错误
	_, errMissing := svc.Get(ctx, "user-b", "no-such-id")
	_, errForeign := svc.Get(ctx, "user-b", rec.ID)
	assert.Equal(t, errMissing, errForeign)

	got, err := svc.Get(ctx, "user-a", rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kg":70}`, string(got.Payload))
}

func TestUpdate(t *testing.T) {
	svc, pub := newTestRecordService(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rec, err := svc.Create(ctx, "user-a", weight(70, at))
	require.NoError(t, err)

	newAt := at.Add(time.Hour)
	updated, err := svc.Update(ctx, "user-a", rec.ID, json.RawMessage(`{"kg":69.5}`), &newAt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kg":69.5}`, string(updated.Payload))
	assert.True(t, updated.ObservedAt.Equal(newAt))
	assert.Equal(t, "weight", updated.Type)

	_, err = svc.Update(ctx, "user-a", rec.ID, json.RawMessage(`{"bpm":60}`), nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput, "payload is validated against the stored type")

	assert.Equal(t, []string{events.RecordCreated, events.RecordUpdated}, pub.types())
}

func TestDelete_RepeatedIsNotFound(t *testing.T) {
	svc, pub := newTestRecordService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "user-a", weight(70, time.Now()))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "user-a", rec.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "user-a", rec.ID), common.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "user-a", "never-existed"), common.ErrNotFound)
	assert.Equal(t, []string{events.RecordCreated, events.RecordDeleted}, pub.types())
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	db := newTestDB(t)
	seedOwners(t, db, "user-a")
	svc := NewHealthRecordService(repository.NewHealthRecordRepository(db), NewRecordTypeRegistry(), pub)

	_, err := svc.Create(context.Background(), "user-a", weight(70, time.Now()))
	assert.NoError(t, err)
}

func TestConcurrentForeignMutationsNeverApply(t *testing.T) {
	svc, _ := newTestRecordService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "owner", weight(70, time.Now()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Update(ctx, "owner", rec.ID, json.RawMessage(fmt.Sprintf(`{"kg":%d}`, 71+i)), nil)
			if err != nil {
				errs <- fmt.Errorf("owner update: %w", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := svc.Update(ctx, "intruder", rec.ID, json.RawMessage(`{"kg":1}`), nil); !errors.Is(err, common.ErrNotFound) {
				errs <- fmt.Errorf("intruder update: %v", err)
			}
			if err := svc.Delete(ctx, "intruder", rec.ID); !errors.Is(err, common.ErrNotFound) {
				errs <- fmt.Errorf("intruder delete: %v", err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	got, err := svc.Get(ctx, "owner", rec.ID)
	require.NoError(t, err)
	var p WeightPayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.GreaterOrEqual(t, p.Kg, 71.0)
}
