package physics

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable сопоставляется с любой ошибкой инициализации движка
	ErrEngineUnavailable = errors.New("physics: engine unavailable")

	// ErrWorldDisposed возвращается при обращении к освобожденному миру
	ErrWorldDisposed = errors.New("physics: world disposed")

	// ErrInvalidBody возвращается при некорректном описании тела
	ErrInvalidBody = errors.New("physics: invalid body")
)

// InitErrorKind классифицирует отказ загрузки движка
type InitErrorKind int

const (
	KindMissing InitErrorKind = iota + 1
	KindUnreadable
	KindCorrupt
	KindIncompatible
)

func (k InitErrorKind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindUnreadable:
		return "unreadable"
	case KindCorrupt:
		return "corrupt"
	case KindIncompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// InitError - типизированный отказ инициализации движка.
// Движок либо загружен полностью, либо вызывающий получает InitError.
type InitError struct {
	Path string
	Kind InitErrorKind
	Err  error
}

func (e *InitError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("physics: engine %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("physics: engine %s (%s): %v", e.Kind, e.Path, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool {
	return target == ErrEngineUnavailable
}
