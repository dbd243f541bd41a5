package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type taskNotice struct {
	TaskID string `json:"task_id"`
	Stage  string `json:"stage"`
}

func (n taskNotice) Attributes() map[string]string {
	return map[string]string{"task_id": n.TaskID, "stage": n.Stage}
}

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "task-events")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	pub, srv := newTestPublisher(t)

	traceID, err := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0123456789abcdef")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	id, err := pub.Publish(ctx, "task-events", taskNotice{TaskID: "task-1", Stage: "TASK_DONE"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"task_id":"task-1","stage":"TASK_DONE"}`, string(msgs[0].Data))
	require.Equal(t, "task-1", msgs[0].Attributes["task_id"])
	require.Contains(t, msgs[0].Attributes["traceparent"], "0123456789abcdef0123456789abcdef")
}

func TestPublishValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", nil)
	require.ErrorContains(t, err, "pubsub client is not configured")

	pub, _ := newTestPublisher(t)
	_, err = pub.Publish(context.Background(), "", nil)
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "task-events", func() {})
	require.ErrorContains(t, err, "marshal payload")
}
