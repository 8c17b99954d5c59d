package sync

// Context carries values through orchestration code. Unlike context.Context it has no deadline and no
// cancellation channel: orchestration code runs on a coroutine and is only ever stopped by the executor.
type Context interface {
	// Value returns the value associated with this context for key, or nil if no value is associated
	// with key.
	Value(key any) any
}

type emptyCtx int

func (*emptyCtx) Value(key any) any {
	return nil
}

var background = new(emptyCtx)

// Background returns a non-nil, empty Context.
func Background() Context {
	return background
}

type valueCtx struct {
	Context
	key, val any
}

// WithValue returns a copy of parent in which the value associated with key is val.
func WithValue(parent Context, key, val any) Context {
	if parent == nil {
		panic("cannot create context from nil parent")
	}

	if key == nil {
		panic("nil key")
	}

	return &valueCtx{parent, key, val}
}

func (c *valueCtx) Value(key any) any {
	if c.key == key {
		return c.val
	}

	return c.Context.Value(key)
}
