package spatial

// Linear is the unindexed baseline: every query scans all objects.
type Linear[T Object] struct {
	objects []T
}

// NewLinear returns a baseline over a copy of objects.
func NewLinear[T Object](objects []T) *Linear[T] {
	return &Linear[T]{objects: append([]T(nil), objects...)}
}

// Insert appends obj.
func (l *Linear[T]) Insert(obj T) {
	l.objects = append(l.objects, obj)
}

// Search returns every object whose bounds overlap query, in insertion order.
func (l *Linear[T]) Search(query Rect) []T {
	if query.IsEmpty() {
		return nil
	}
	var found []T
	for _, obj := range l.objects {
		if query.Overlaps(obj.Bounds()) {
			found = append(found, obj)
		}
	}
	return found
}

// Items returns the stored objects. The slice is shared with l.
func (l *Linear[T]) Items() []T {
	return l.objects
}

// Size returns the number of stored objects.
func (l *Linear[T]) Size() int {
	return len(l.objects)
}
