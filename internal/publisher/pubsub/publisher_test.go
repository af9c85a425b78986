package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type event struct {
	RunID string `json:"run_id"`
}

func (e event) Attributes() map[string]string { return map[string]string{"run_id": e.RunID} }

func TestPublishToFakeServer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.CreateTopic(ctx, "leads")
	require.NoError(t, err)

	pub := New(client, "leads")
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "", event{RunID: "run-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"run_id":"run-1"}`, string(msgs[0].Data))
	assert.Equal(t, "run-1", msgs[0].Attributes["run_id"])
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "").Publish(context.Background(), "", event{})
	require.Error(t, err)

	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}
