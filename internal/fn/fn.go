package fn

import (
	"reflect"
	"runtime"
	"strings"
)

// Name returns the name of the function.
func Name(f any) string {
	// Adapted from https://stackoverflow.com/a/7053871
	fnName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	s := strings.Split(fnName, ".")
	fnName = s[len(s)-1]

	return strings.TrimSuffix(fnName, "-fm")
}

// NameOf returns the given string or the name of the given function.
func NameOf(f any) string {
	if name, ok := f.(string); ok {
		return name
	}

	return Name(f)
}
