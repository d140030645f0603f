package models

import (
	"errors"
	"fmt"
)

// ErrNoData 表示指定日期之前没有任何进度快照
// 调用方自行决定按零处理还是向上抛出（不做静默降级）
var ErrNoData = errors.New("no progress snapshot at or before the as-of date")

// ValidationError 输入校验错误（非法日期、非正目标值、日期越界等）
// 携带字段名和违规值，便于宿主应用生成可操作的错误提示
type ValidationError struct {
	Field string
	Value interface{}
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on field '%s': %s (value: %v)", e.Field, e.Rule, e.Value)
}

// NewValidationError 创建校验错误
func NewValidationError(field string, value interface{}, rule string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Rule: rule}
}

// NotFoundError 引用的资源不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidTransitionError 非法的目标状态迁移
type InvalidTransitionError struct {
	GoalID string
	From   GoalStatus
	To     GoalStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for goal %s: %s -> %s", e.GoalID, e.From, e.To)
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound 判断是否为资源不存在错误
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsInvalidTransition 判断是否为非法状态迁移错误
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
