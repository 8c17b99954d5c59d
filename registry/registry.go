package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/itixo/durabletask/backend/converter"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/internal/args"
	"github.com/itixo/durabletask/internal/fn"
	"github.com/itixo/durabletask/internal/workflowerrors"
)

type (
	// Orchestration is a function with signature func(workflow.Context[, In]) ([Out, ]error)
	Orchestration = any

	// Activity is a function with signature func(context.Context[, In]) ([Out, ]error), or a pointer to a
	// struct whose exported methods are activities.
	Activity = any
)

type Registry struct {
	sync.Mutex

	converter converter.Converter

	orchestrationMap map[string]Orchestration
	activityMap      map[string]Activity
}

// New creates a new registry instance.
func New() *Registry {
	return &Registry{
		converter:        converter.DefaultConverter,
		orchestrationMap: make(map[string]Orchestration),
		activityMap:      make(map[string]Activity),
	}
}

type registerConfig struct {
	Name string
}

func (r *Registry) RegisterOrchestration(orchestration Orchestration, opts ...RegisterOption) error {
	cfg := registerOptions(opts).applyRegisterOptions(registerConfig{})
	name := cfg.Name
	if name == "" {
		name = fn.Name(orchestration)
	}

	oType := reflect.TypeOf(orchestration)
	if oType == nil || oType.Kind() != reflect.Func {
		return &ErrInvalidOrchestration{"orchestration is not a function"}
	}

	if oType.NumIn() == 0 {
		return &ErrInvalidOrchestration{"orchestration does not accept context parameter"}
	}

	if !args.IsOwnContext(oType.In(0)) {
		return &ErrInvalidOrchestration{"orchestration does not accept workflow.Context as first parameter"}
	}

	if oType.NumIn() > 2 {
		return &ErrInvalidOrchestration{"orchestration must accept at most one parameter besides the context"}
	}

	if oType.NumOut() == 0 {
		return &ErrInvalidOrchestration{"orchestration must return error"}
	}

	if oType.NumOut() > 2 {
		return &ErrInvalidOrchestration{"orchestration must return at most two values"}
	}

	if !args.ReturnsError(oType) {
		return &ErrInvalidOrchestration{"orchestration must return error as last return value"}
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.orchestrationMap[name]; ok {
		return &DuplicateNameError{Kind: "orchestration", Name: name}
	}
	r.orchestrationMap[name] = orchestration

	return nil
}

func (r *Registry) RegisterActivity(activity Activity, opts ...RegisterOption) error {
	cfg := registerOptions(opts).applyRegisterOptions(registerConfig{})

	t := reflect.TypeOf(activity)
	if t == nil {
		return &ErrInvalidActivity{"activity is nil"}
	}

	// Activities on struct
	if t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct {
		return r.registerActivitiesFromStruct(activity)
	}

	// Activity as function
	name := cfg.Name
	if name == "" {
		name = fn.Name(activity)
	}

	if err := checkActivity(t); err != nil {
		return err
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.activityMap[name]; ok {
		return &DuplicateNameError{Kind: "activity", Name: name}
	}
	r.activityMap[name] = activity

	return nil
}

func (r *Registry) registerActivitiesFromStruct(a any) error {
	// Enumerate functions defined on a
	v := reflect.ValueOf(a)
	t := v.Type()

	r.Lock()
	defer r.Unlock()

	activities := make(map[string]Activity)

	for i := 0; i < v.NumMethod(); i++ {
		mv := v.Method(i)
		mt := t.Method(i)

		// Ignore private methods
		if mt.PkgPath != "" {
			continue
		}

		if err := checkActivity(mv.Type()); err != nil {
			return fmt.Errorf("method %s: %w", mt.Name, err)
		}

		name := mt.Name
		if _, ok := r.activityMap[name]; ok {
			return &DuplicateNameError{Kind: "activity", Name: name}
		}

		activities[name] = mv.Interface()
	}

	for name, activity := range activities {
		r.activityMap[name] = activity
	}

	return nil
}

func checkActivity(actType reflect.Type) error {
	if actType.Kind() != reflect.Func {
		return &ErrInvalidActivity{"activity not a func"}
	}

	if actType.NumOut() == 0 || actType.NumOut() > 2 {
		return &ErrInvalidActivity{"activity must return (error) or (<result>, error)"}
	}

	if !args.ReturnsError(actType) {
		return &ErrInvalidActivity{"activity must return error as last return value"}
	}

	return nil
}

func (r *Registry) GetOrchestration(name string) (Orchestration, error) {
	r.Lock()
	defer r.Unlock()

	if orchestration, ok := r.orchestrationMap[name]; ok {
		return orchestration, nil
	}

	return nil, &UnknownOrchestrationError{Name: name}
}

func (r *Registry) GetActivity(name string) (Activity, error) {
	r.Lock()
	defer r.Unlock()

	if activity, ok := r.activityMap[name]; ok {
		return activity, nil
	}

	return nil, &UnknownActivityError{Name: name}
}

// Invoke runs the activity registered under name with the given serialized input in the calling goroutine.
// Errors and panics raised by the activity are returned as *ActivityExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, input payload.Payload) (payload.Payload, error) {
	activity, err := r.GetActivity(name)
	if err != nil {
		return nil, err
	}

	activityFn := reflect.ValueOf(activity)

	fnArgs, addContext, err := args.InputToArgs(r.converter, activityFn, input)
	if err != nil {
		return nil, &ActivityExecutionError{Name: name, Err: workflowerrors.NewPermanentError(err)}
	}

	if addContext {
		fnArgs[0] = reflect.ValueOf(ctx)
	}

	result, fnErr, err := call(r.converter, activityFn, fnArgs)
	if err != nil {
		return nil, &ActivityExecutionError{Name: name, Err: err}
	}

	if fnErr != nil {
		return nil, &ActivityExecutionError{Name: name, Err: fnErr}
	}

	return result, nil
}

func call(c converter.Converter, fn reflect.Value, fnArgs []reflect.Value) (result payload.Payload, fnErr error, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = workflowerrors.NewPanicError(fmt.Sprintf("activity panicked: %v", r))
		}
	}()

	return args.ResultToPayload(c, fn.Call(fnArgs))
}
