package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/progress"
	memorypublisher "github.com/JakeFAU/infra-api/internal/publisher/memory"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

func TestPublisherSinkPublishesNotices(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	sink, err := NewPublisherSink(pub, "task-events", false)
	require.NoError(t, err)

	task := &inventory.Task{ID: "a", State: inventory.TaskFinished, Status: inventory.TaskOk, Message: "started"}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: time.Now(), Stage: progress.StageTaskQueued, Method: "start"},
		{TaskID: "a", TS: time.Now(), Stage: progress.StageTaskDone, Method: "start", Task: task},
	}))

	payloads := pub.Topic("task-events")
	require.Len(t, payloads, 2)
	done, ok := payloads[1].(progress.Notice)
	require.True(t, ok)
	require.Equal(t, "Finished", done.State)
	require.Equal(t, "started", done.Message)
}

func TestPublisherSinkTerminalOnly(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	sink, err := NewPublisherSink(pub, "task-events", true)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: time.Now(), Stage: progress.StageTaskQueued},
		{TaskID: "a", TS: time.Now(), Stage: progress.StageTaskStart},
		{TaskID: "a", TS: time.Now(), Stage: progress.StageTaskError},
	}))
	require.Len(t, pub.Messages(), 1)
}

func TestPublisherSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "task-events", mock.Anything).Return("", errors.New("unavailable")).Twice()

	sink, err := NewPublisherSink(pub, "task-events", false)
	require.NoError(t, err)

	err = sink.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: time.Now(), Stage: progress.StageTaskQueued},
		{TaskID: "b", TS: time.Now(), Stage: progress.StageTaskQueued},
	})
	require.ErrorContains(t, err, "publish task a TASK_QUEUED: unavailable")
	require.ErrorContains(t, err, "publish task b TASK_QUEUED: unavailable")
	pub.AssertExpectations(t)
}

func TestPublisherSinkContinuesEventTrace(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	carrier := propagation.MapCarrier{}
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "task-events", mock.Anything).Run(func(args mock.Arguments) {
		propagation.TraceContext{}.Inject(args.Get(0).(context.Context), carrier)
	}).Return("1", nil).Once()

	sink, err := NewPublisherSink(pub, "task-events", true)
	require.NoError(t, err)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: time.Now(), Stage: progress.StageTaskDone, SpanContext: sc},
	}))

	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
	pub.AssertExpectations(t)
}

func TestNewPublisherSinkValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPublisherSink(nil, "t", false)
	require.Error(t, err)
	_, err = NewPublisherSink(memorypublisher.New(), "", false)
	require.Error(t, err)
}
