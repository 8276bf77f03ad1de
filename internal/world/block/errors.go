package block

import (
	"errors"
	"fmt"
)

var (
	// ErrRecursionLimit вложенность определения превысила лимит глубины
	// или определение (транзитивно) ссылается само на себя
	ErrRecursionLimit = errors.New("block: recursion limit exceeded")
	// ErrMalformedGeometry неверное разрешение или фрагмент сетки
	ErrMalformedGeometry = errors.New("block: malformed geometry")
	// ErrUnknownDefinition ссылка на несуществующее определение или сетку
	ErrUnknownDefinition = errors.New("block: unknown definition")
)

// EvalError ошибка вычисления блока с указанием виновного блока
type EvalError struct {
	Block Block
	// ID содержательный идентификатор Block
	ID  uint64
	Err error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate %v (id %016x): %v", e.Block, e.ID, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Kind возвращает короткое имя вида ошибки для метрик
func (e *EvalError) Kind() string {
	return errorKind(e.Err)
}

func newEvalError(b Block, err error) *EvalError {
	// Сохраняем самый глубокий виновный блок
	var inner *EvalError
	if errors.As(err, &inner) {
		return inner
	}
	return &EvalError{Block: b, ID: b.ID(), Err: err}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrRecursionLimit):
		return "recursion"
	case errors.Is(err, ErrMalformedGeometry):
		return "malformed"
	case errors.Is(err, ErrUnknownDefinition):
		return "unknown"
	default:
		return "other"
	}
}
