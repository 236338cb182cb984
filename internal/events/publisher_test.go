package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	natssrv "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.cscs.ch/openchami/chamicore-ui/internal/state"
	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

func startEmbeddedNATS(t *testing.T) string {
	t.Helper()

	srv, err := natssrv.NewServer(&natssrv.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go srv.Start()
	require.True(t, srv.ReadyForConnections(10*time.Second), "nats server did not become ready")

	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	return fmt.Sprintf("nats://%s", srv.Addr().String())
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{SubjectPrefix: "ui"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS URL is required")

	_, err = NewPublisher(PublisherConfig{URL: "nats://127.0.0.1:1", SubjectPrefix: " . "}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject prefix is required")
}

func TestPublisher_PublishesChangeEnvelope(t *testing.T) {
	url := startEmbeddedNATS(t)

	sub, err := natsgo.Connect(url)
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	msgs := make(chan *natsgo.Msg, 4)
	subscription, err := sub.ChanSubscribe("chamicore.ui.>", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscription.Unsubscribe() })
	require.NoError(t, sub.Flush())

	pub, err := NewPublisher(PublisherConfig{URL: url, SubjectPrefix: "chamicore.ui."}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	assert.Equal(t, "chamicore.ui.machineDetails", pub.Subject(state.ResourceMachineDetails))

	pub.OnChange(state.Change{Resource: state.ResourceMachineDetails, Key: "m1"})
	require.NoError(t, pub.nc.Flush())

	select {
	case msg := <-msgs:
		assert.Equal(t, "chamicore.ui.machineDetails", msg.Subject)

		var event types.ChangeEvent
		require.NoError(t, json.Unmarshal(msg.Data, &event))
		assert.Equal(t, Source, event.Source)
		assert.Equal(t, state.ResourceMachineDetails, event.Resource)
		assert.Equal(t, "m1", event.Key)
		_, err := uuid.Parse(event.ID)
		assert.NoError(t, err)
		_, err = time.Parse(time.RFC3339Nano, event.OccurredAt)
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestPublisher_ClosedConnection(t *testing.T) {
	url := startEmbeddedNATS(t)

	pub, err := NewPublisher(PublisherConfig{URL: url, SubjectPrefix: "ui"}, zerolog.Nop())
	require.NoError(t, err)
	pub.nc.Close()

	err = pub.Publish(state.Change{Resource: state.ResourceImages})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats not connected")
	assert.NotPanics(t, pub.Close)
}

func TestPublisher_WiredToStoreObserver(t *testing.T) {
	url := startEmbeddedNATS(t)

	sub, err := natsgo.Connect(url)
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	msgs := make(chan *natsgo.Msg, 4)
	subscription, err := sub.ChanSubscribe("ui.error", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscription.Unsubscribe() })
	require.NoError(t, sub.Flush())

	pub, err := NewPublisher(PublisherConfig{URL: url, SubjectPrefix: "ui"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	var obs state.Observer = pub
	obs.OnChange(state.Change{Resource: state.ResourceError})
	require.NoError(t, pub.nc.Flush())

	select {
	case msg := <-msgs:
		assert.Equal(t, "ui.error", msg.Subject)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}
