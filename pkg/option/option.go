package option

// Option represents an optional value.
// It either contains a value or it does not.
//
// This interface is modeled after github.com/sagikazarmark/go-option.Option
type Option[T any] interface {
	// HasValue returns true if the Option contains a value.
	HasValue() bool

	// Value returns the value (or its default) stored in the Option.
	Value() T
}

// Some returns an Option containing value.
func Some[T any](value T) Option[T] {
	return some[T]{value}
}

type some[T any] struct {
	value T
}

func (o some[T]) HasValue() bool {
	return true
}

func (o some[T]) Value() T {
	return o.value
}

// None returns an empty Option.
func None[T any]() Option[T] {
	return none[T]{}
}

type none[T any] struct{}

func (o none[T]) HasValue() bool {
	return false
}

func (o none[T]) Value() T {
	var value T

	return value
}

// IsNone returns true if the Option does not contain a value.
func IsNone[T any](o Option[T]) bool {
	return o == nil || !o.HasValue()
}
