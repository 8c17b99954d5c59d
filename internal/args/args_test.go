package args

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/itixo/durabletask/backend/converter"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/internal/sync"
	"github.com/stretchr/testify/require"
)

func TestInputToArgs(t *testing.T) {
	type args struct {
		fn    any
		input any
	}
	tests := []struct {
		name       string
		args       args
		addContext bool
		want       any
		wantErr    bool
	}{
		{
			name: "just context",
			args: args{
				fn: func(context.Context) error { return nil },
			},
			addContext: true,
		},
		{
			name: "orchestration context with input",
			args: args{
				fn:    func(sync.Context, int) error { return nil },
				input: 42,
			},
			addContext: true,
			want:       42,
		},
		{
			name: "input without context",
			args: args{
				fn:    func(string) error { return nil },
				input: "hello",
			},
			want: "hello",
		},
		{
			name: "too many parameters",
			args: args{
				fn:    func(context.Context, int, string) error { return nil },
				input: 42,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var input payload.Payload
			if tt.args.input != nil {
				var err error
				input, err = converter.DefaultConverter.To(tt.args.input)
				require.NoError(t, err)
			}

			args, addContext, err := InputToArgs(converter.DefaultConverter, reflect.ValueOf(tt.args.fn), input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.addContext, addContext)

			if tt.want != nil {
				require.Equal(t, tt.want, args[len(args)-1].Interface())
			}
		})
	}
}

func TestResultToPayload(t *testing.T) {
	r := reflect.ValueOf(func() (int, error) { return 42, nil }).Call(nil)
	p, fnErr, err := ResultToPayload(converter.DefaultConverter, r)
	require.NoError(t, err)
	require.NoError(t, fnErr)
	require.Equal(t, payload.Payload("42"), p)

	r = reflect.ValueOf(func() error { return errors.New("failed") }).Call(nil)
	_, fnErr, err = ResultToPayload(converter.DefaultConverter, r)
	require.NoError(t, err)
	require.EqualError(t, fnErr, "failed")

	r = reflect.ValueOf(func() {}).Call(nil)
	_, _, err = ResultToPayload(converter.DefaultConverter, r)
	require.Error(t, err)
}

func intReturn() (int, error) {
	return 0, nil
}

func stringReturn() (string, error) {
	return "", nil
}

func errorReturn() error {
	return nil
}

func TestReturnTypeMatch(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
		want string
	}{
		{
			name: "int match",
			fn: func() error {
				return ReturnTypeMatch[int](intReturn)
			},
		},
		{
			name: "int mismatch",
			fn: func() error {
				return ReturnTypeMatch[string](intReturn)
			},
			want: "function must return string, got int",
		},
		{
			name: "any",
			fn: func() error {
				return ReturnTypeMatch[any](stringReturn)
			},
		},
		{
			name: "no result",
			fn: func() error {
				return ReturnTypeMatch[int](errorReturn)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn()
			if tt.want == "" {
				require.NoError(t, got)
			} else {
				require.EqualError(t, got, tt.want)
			}
		})
	}
}

func intParam(int) {
}

func contextParam(context.Context, string) {
}

func TestParamsMatch(t *testing.T) {
	require.NoError(t, ParamsMatch(intParam, 42))
	require.EqualError(t, ParamsMatch(intParam, ""), "mismatched argument type: expected int, got string")
	require.NoError(t, ParamsMatch(contextParam, ""))
	require.EqualError(t, ParamsMatch(contextParam), "mismatched argument count: expected 1, got 0")
}
