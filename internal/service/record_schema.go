package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"health-smart-go/internal/common"
	"health-smart-go/internal/model"
)

// 内置记录类型的 payload。指针字段为可选项。
type (
	WeightPayload struct {
		Kg float64 `json:"kg" validate:"required,gt=0,lte=700"`
	}
	HeartRatePayload struct {
		Bpm int `json:"bpm" validate:"required,gt=0,lte=300"`
	}
	SleepPayload struct {
		Minutes int     `json:"minutes" validate:"required,gt=0,lte=1440"`
		Quality *string `json:"quality,omitempty" validate:"omitempty,oneof=poor fair good excellent"`
	}
	ActivityPayload struct {
		Steps   *int    `json:"steps,omitempty" validate:"required_without=Minutes,omitempty,gte=0,lte=200000"`
		Minutes *int    `json:"minutes,omitempty" validate:"required_without=Steps,omitempty,gt=0,lte=1440"`
		Kind    *string `json:"kind,omitempty" validate:"omitempty,max=64"`
	}
	BloodPressurePayload struct {
		Systolic  int  `json:"systolic" validate:"required,gt=0,lte=300"`
		Diastolic int  `json:"diastolic" validate:"required,gt=0,ltfield=Systolic"`
		Pulse     *int `json:"pulse,omitempty" validate:"omitempty,gt=0,lte=300"`
	}
	BloodGlucosePayload struct {
		MmolL float64 `json:"mmol_l" validate:"required,gt=0,lte=50"`
	}
)

var typeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// RecordTypeRegistry 保存可用的记录类型及其 payload 结构体。可在运行期注册新类型。
type RecordTypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRecordTypeRegistry 返回包含全部内置类型的注册表。
func NewRecordTypeRegistry() *RecordTypeRegistry {
	r := &RecordTypeRegistry{types: make(map[string]reflect.Type)}
	builtins := map[string]interface{}{
		"weight":         WeightPayload{},
		"heart_rate":     HeartRatePayload{},
		"sleep":          SleepPayload{},
		"activity":       ActivityPayload{},
		"blood_pressure": BloodPressurePayload{},
		"blood_glucose":  BloodGlucosePayload{},
	}
	for name, payload := range builtins {
		if err := r.Register(name, payload); err != nil {
			panic(err)
		}
	}
	return r
}

// Register 注册一个记录类型。payload 必须是结构体（或其指针），字段用 validate 标签声明约束。
func (r *RecordTypeRegistry) Register(name string, payload interface{}) error {
	if !typeNamePattern.MatchString(name) {
		return fmt.Errorf("invalid record type name %q", name)
	}
	t := reflect.TypeOf(payload)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("payload for record type %q must be a struct", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("record type %q already registered", name)
	}
	r.types[name] = t
	return nil
}

// Has 报告记录类型是否已注册。
func (r *RecordTypeRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Types 返回按名称排序的类型列表。
func (r *RecordTypeRegistry) Types() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Normalize 严格解码 payload（拒绝未知字段与多余内容），校验取值范围，并返回规范化后的 JSON。
func (r *RecordTypeRegistry) Normalize(recordType string, raw json.RawMessage) (model.Payload, error) {
	r.mu.RLock()
	t, ok := r.types[recordType]
	r.mu.RUnlock()
	if !ok {
		return nil, common.Invalid("type", fmt.Sprintf("unknown record type %q", recordType))
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, common.Invalid("payload", "must be a JSON object")
	}

	value := reflect.New(t)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(value.Interface()); err != nil {
		return nil, decodeFailure(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, common.Invalid("payload", "unexpected data after JSON object")
	}

	if err := validate.Struct(value.Interface()); err != nil {
		return nil, validationFailure("payload.", err)
	}

	canonical, err := json.Marshal(value.Interface())
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return model.Payload(canonical), nil
}

func decodeFailure(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return common.Invalid("payload."+typeErr.Field, "must be a "+typeErr.Type.String())
	}
	return common.Invalid("payload", err.Error())
}
