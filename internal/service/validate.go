// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"health-smart-go/internal/common"

	"github.com/go-playground/validator/v10"
)

// validate 在各服务间共享；validator 实例缓存结构体元数据并且并发安全。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 错误中的字段名使用 json 标签
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationFailure 把 validator 的第一个字段错误转换为 common.ValidationError。
func validationFailure(prefix string, err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return common.Invalid(strings.TrimSuffix(prefix, "."), err.Error())
	}
	fe := errs[0]
	return common.Invalid(prefix+fe.Field(), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return fmt.Sprintf("is required when %s is absent", fe.Param())
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "ltfield":
		return "must be less than " + fe.Param()
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
