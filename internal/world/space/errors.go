package space

import (
	"errors"
	"fmt"

	"github.com/annel0/voxel-core/internal/vec"
)

var (
	// ErrOutOfBounds координата вне границ пространства
	ErrOutOfBounds = errors.New("space: coordinate out of bounds")
	// ErrPaletteOverflow в палитре нет места для нового блока; вызывающему
	// следует выполнить CompactPalette
	ErrPaletteOverflow = errors.New("space: palette overflow")
)

// OutOfBoundsError уточняет ErrOutOfBounds
type OutOfBoundsError struct {
	Cube   vec.Vec3
	Bounds vec.Aab
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%v: %v not in %v", ErrOutOfBounds, e.Cube, e.Bounds)
}

func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}
