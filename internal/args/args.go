package args

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/itixo/durabletask/backend/converter"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/internal/sync"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// InputToArgs converts the serialized input into call arguments for fn. fn may accept a context as its first
// parameter and at most one further parameter. The returned bool reports whether the first argument is a
// context placeholder the caller has to fill in.
func InputToArgs(c converter.Converter, fn reflect.Value, input payload.Payload) ([]reflect.Value, bool, error) {
	fnT := fn.Type()

	numArgs := fnT.NumIn()
	args := make([]reflect.Value, numArgs)

	addContext := numArgs > 0 && (IsOwnContext(fnT.In(0)) || isContext(fnT.In(0)))

	params := numArgs
	if addContext {
		params--
	}

	if params > 1 {
		return nil, false, fmt.Errorf("function accepts %d parameters besides the context, at most one is supported", params)
	}

	if params == 1 {
		argT := fnT.In(numArgs - 1)
		arg := reflect.New(argT)
		if err := c.From(input, arg.Interface()); err != nil {
			return nil, false, fmt.Errorf("converting input: %w", err)
		}

		args[numArgs-1] = arg.Elem()
	}

	return args, addContext, nil
}

// ResultToPayload splits the return values of a (result, error) or (error) function call into the serialized
// result and the error returned by the function.
func ResultToPayload(c converter.Converter, r []reflect.Value) (payload.Payload, error, error) {
	if len(r) < 1 || len(r) > 2 {
		return nil, nil, errors.New("function has to return either (error) or (<result>, error)")
	}

	var result payload.Payload

	if len(r) > 1 {
		var err error
		result, err = c.To(r[0].Interface())
		if err != nil {
			return nil, nil, fmt.Errorf("converting result: %w", err)
		}
	}

	errResult := r[len(r)-1]
	if errResult.IsNil() {
		return result, nil, nil
	}

	errInterface, ok := errResult.Interface().(error)
	if !ok {
		return nil, nil, fmt.Errorf("error result does not satisfy error interface (%T): %v", errResult, errResult)
	}

	return result, errInterface, nil
}

// ReturnTypeMatch checks that fn returns a value assignable to T as its first result. Functions returning only
// an error match any T.
func ReturnTypeMatch[T any](fn any) error {
	fnType := reflect.TypeOf(fn)
	if fnType.Kind() != reflect.Func {
		return errors.New("not a function")
	}

	if fnType.NumOut() < 2 {
		return nil
	}

	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Interface && rt.NumMethod() == 0 {
		return nil
	}

	if !fnType.Out(0).AssignableTo(rt) {
		return fmt.Errorf("function must return %s, got %s", rt, fnType.Out(0))
	}

	return nil
}

// ParamsMatch checks the given argument against the parameter fn accepts after an optional context.
func ParamsMatch(fn any, args ...any) error {
	fnType := reflect.TypeOf(fn)
	if fnType.Kind() != reflect.Func {
		return errors.New("not a function")
	}

	skip := 0
	if fnType.NumIn() > 0 && (IsOwnContext(fnType.In(0)) || isContext(fnType.In(0))) {
		skip = 1
	}

	if fnType.NumIn()-skip != len(args) {
		return fmt.Errorf("mismatched argument count: expected %d, got %d", fnType.NumIn()-skip, len(args))
	}

	for i, arg := range args {
		paramType := fnType.In(i + skip)
		if paramType.Kind() == reflect.Interface {
			continue
		}

		argType := reflect.TypeOf(arg)
		if argType == nil || !argType.AssignableTo(paramType) {
			return fmt.Errorf("mismatched argument type: expected %s, got %v", paramType, argType)
		}
	}

	return nil
}

// ReturnsError checks that the last result of the given function type is an error.
func ReturnsError(fnType reflect.Type) bool {
	return fnType.NumOut() > 0 && fnType.Out(fnType.NumOut()-1).Implements(errType)
}

var ownContextType = reflect.TypeOf((*sync.Context)(nil)).Elem()

// IsOwnContext returns true for the orchestration context type.
func IsOwnContext(inType reflect.Type) bool {
	return inType == ownContextType
}

func isContext(inType reflect.Type) bool {
	contextElem := reflect.TypeOf((*context.Context)(nil)).Elem()
	return inType != nil && inType.Implements(contextElem)
}
