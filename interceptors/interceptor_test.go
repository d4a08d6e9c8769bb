package interceptors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/smartcommerce/busgate-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) Handle(ctx context.Context, env *contracts.Envelope, value any) error {
	args := m.Called(ctx, env, value)
	return args.Error(0)
}

func testEnvelope(eventType string) *contracts.Envelope {
	return &contracts.Envelope{
		ID:            "msg-1",
		CorrelationID: "corr-1",
		ContentType:   contracts.ContentTypeJSON,
		Body:          []byte(`{}`),
		ApplicationProperties: map[string]any{
			contracts.PropertyEventType: eventType,
			contracts.PropertySource:    "checkout",
		},
	}
}

func recording(name string, calls *[]string) Interceptor {
	return NewInterceptorFunc(name, func(ctx context.Context, env *contracts.Envelope, value any, next Handler) error {
		*calls = append(*calls, name+":before")
		err := next.Handle(ctx, env, value)
		*calls = append(*calls, name+":after")
		return err
	})
}

func TestInterceptorChain(t *testing.T) {
	t.Run("runs interceptors in order around the handler", func(t *testing.T) {
		var calls []string
		chain := NewInterceptorChain(recording("first", &calls), recording("second", &calls))

		err := chain.Execute(context.Background(), testEnvelope("OrderCreated"), "payload",
			HandlerFunc(func(ctx context.Context, env *contracts.Envelope, value any) error {
				assert.Equal(t, "payload", value)
				calls = append(calls, "handler")
				return nil
			}))

		require.NoError(t, err)
		assert.Equal(t, []string{"first:before", "second:before", "handler", "second:after", "first:after"}, calls)
		assert.Equal(t, []string{"first", "second"}, chain.Names())
	})

	t.Run("nil chain calls the handler", func(t *testing.T) {
		var chain *InterceptorChain
		handler := &mockHandler{}
		env := testEnvelope("OrderCreated")
		handler.On("Handle", mock.Anything, env, 42).Return(nil)

		require.NoError(t, chain.Execute(context.Background(), env, 42, handler))
		assert.Equal(t, 0, chain.Len())
		handler.AssertExpectations(t)
	})

	t.Run("Add ignores nil", func(t *testing.T) {
		chain := NewInterceptorChain(nil).Add(nil)
		assert.Equal(t, 0, chain.Len())
	})

	t.Run("handler error propagates", func(t *testing.T) {
		var calls []string
		chain := NewInterceptorChain(recording("only", &calls))
		handler := &mockHandler{}
		handler.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("boom"))

		err := chain.Execute(context.Background(), testEnvelope("OrderCreated"), nil, handler)
		assert.EqualError(t, err, "boom")
		assert.Equal(t, []string{"only:before", "only:after"}, calls)
	})
}

func TestLoggingInterceptor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	interceptor := NewLoggingInterceptor(logger)
	assert.Equal(t, "LoggingInterceptor", interceptor.Name())

	handler := &mockHandler{}
	handler.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("failed")).Once()
	handler.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	env := testEnvelope("OrderCreated")
	assert.Error(t, interceptor.Intercept(context.Background(), env, nil, handler))
	assert.NoError(t, interceptor.Intercept(context.Background(), env, nil, handler))
	handler.AssertNumberOfCalls(t, "Handle", 2)
}

func TestTimeoutInterceptor(t *testing.T) {
	t.Run("handler sees a deadline", func(t *testing.T) {
		interceptor := NewTimeoutInterceptor(20 * time.Millisecond)
		err := interceptor.Intercept(context.Background(), testEnvelope("OrderCreated"), nil,
			HandlerFunc(func(ctx context.Context, env *contracts.Envelope, value any) error {
				<-ctx.Done()
				return ctx.Err()
			}))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("zero timeout leaves context alone", func(t *testing.T) {
		interceptor := NewTimeoutInterceptor(0)
		err := interceptor.Intercept(context.Background(), testEnvelope("OrderCreated"), nil,
			HandlerFunc(func(ctx context.Context, env *contracts.Envelope, value any) error {
				_, ok := ctx.Deadline()
				assert.False(t, ok)
				return nil
			}))
		assert.NoError(t, err)
	})
}

func TestTracingInterceptor(t *testing.T) {
	interceptor := NewTracingInterceptor(noop.NewTracerProvider().Tracer("busgate"))
	assert.Equal(t, "TracingInterceptor", interceptor.Name())

	called := false
	err := interceptor.Intercept(context.Background(), testEnvelope("OrderCreated"), nil,
		HandlerFunc(func(ctx context.Context, env *contracts.Envelope, value any) error {
			called = true
			return errors.New("handler failed")
		}))

	assert.True(t, called)
	assert.EqualError(t, err, "handler failed")
}
