package shared

// Optional distinguishes "not configured" from "configured as the zero value".
// The zero Optional is unset.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, set: true} }

// None returns an unset Optional.
func None[T any]() Optional[T] { return Optional[T]{} }

// IsSet reports whether a value is present.
func (o Optional[T]) IsSet() bool { return o.set }

// Get returns the value and whether it was set.
func (o Optional[T]) Get() (T, bool) { return o.value, o.set }

// OrElse returns the value when set and def otherwise.
func (o Optional[T]) OrElse(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// OptionalString maps the empty string to None. Intended for adapting flag and
// config values where the empty string has always meant "not given".
func OptionalString(s string) Optional[string] {
	if s == "" {
		return None[string]()
	}
	return Some(s)
}
