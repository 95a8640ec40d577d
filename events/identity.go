package events

import "reflect"

// handlerIdentity returns a comparable key for a Handler value so
// UnsubscribeHandler can find every registration of the same function;
// Go func values are not comparable with ==.
func handlerIdentity(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}
