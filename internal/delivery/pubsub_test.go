package delivery

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newPubSubTestSender(t *testing.T) (*PubSubSender, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	sender, err := NewPubSubSender(context.Background(), PubSubConfig{ProjectID: "routing-test"}, option.WithGRPCConn(conn))
	require.NoError(t, err)
	return sender, srv
}

func TestPubSubSender(t *testing.T) {
	sender, srv := newPubSubTestSender(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := sender.client.CreateTopic(ctx, "routed-billing")
	require.NoError(t, err)

	q := Queue{Name: "billing", Backend: BackendPubSub, Target: "routed-billing", MaxMessageSize: DefaultMaxMessageSize}
	require.NoError(t, sender.Probe(ctx, q))

	msg, err := BuildMessage(sampleRecord(), q, nil, time.Now())
	require.NoError(t, err)

	id, err := sender.Send(ctx, q, msg)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.Body, msgs[0].Data)
	assert.Equal(t, "example.com", msgs[0].Attributes["sender_domain"])

	require.NoError(t, sender.Close())
}

func TestPubSubSender_ProbeMissingTopic(t *testing.T) {
	sender, _ := newPubSubTestSender(t)
	defer sender.Close()

	err := sender.Probe(context.Background(), Queue{Name: "x", Target: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}
