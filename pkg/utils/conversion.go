package utils

// Ptr returns a pointer to v.  Handy for the optional wire fields that
// distinguish "absent" from the zero value.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the pointed-to value or the type's zero value for nil.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
