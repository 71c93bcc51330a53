package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrBackend      = errors.New("backend error")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
)

// ValidationError 属性值不符合字段定义，不会到达后端
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// BackendError 存储层失败（数据库拒绝、磁盘错误）
type BackendError struct {
	Op    string
	Layer string
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s on layer %s: %v", e.Op, e.Layer, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackend }

func NewBackendError(op, layer string, err error) *BackendError {
	return &BackendError{Op: op, Layer: layer, Err: err}
}

func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func FeatureNotFound(layer string, id FeatureID) error {
	return fmt.Errorf("%w: feature %s in layer %s", ErrNotFound, id, layer)
}
