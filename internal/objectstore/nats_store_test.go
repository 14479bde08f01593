package objectstore_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-gateway/internal/objectstore"
)

// startJetStream starts an in-process NATS server with JetStream enabled.
func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	js, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	return js
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := objectstore.New(ctx, startJetStream(t), "test-bucket")
	require.NoError(t, err)

	uploadData := []byte("hello world, this is a test")
	require.NoError(t, store.Upload(ctx, "my-test-object", uploadData))

	downloadData, err := store.Download(ctx, "my-test-object")
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)

	require.NoError(t, store.Upload(ctx, "my-test-object", []byte("replaced")))

	downloadData, err = store.Download(ctx, "my-test-object")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), downloadData)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	js := startJetStream(t)

	first, err := objectstore.New(ctx, js, "shared")
	require.NoError(t, err)
	require.NoError(t, first.Upload(ctx, "key", []byte("value")))

	second, err := objectstore.New(ctx, js, "shared")
	require.NoError(t, err)

	data, err := second.Download(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), data)
}

func TestNatsObjectStore_MissingAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := objectstore.New(ctx, startJetStream(t), "deletes")
	require.NoError(t, err)

	_, err = store.Download(ctx, "absent")
	require.ErrorIs(t, err, jetstream.ErrObjectNotFound)

	require.NoError(t, store.Upload(ctx, "temp", []byte("x")))
	require.NoError(t, store.Delete(ctx, "temp"))

	_, err = store.Download(ctx, "temp")
	require.ErrorIs(t, err, jetstream.ErrObjectNotFound)
}
