package adapter_test

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/m-mizutani/actid/pkg/adapter"
	"github.com/m-mizutani/gt"
)

func TestCloudStorageRoundTrip(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	ctx := context.Background()
	storage, err := adapter.NewCloudStorage(ctx, bucket)
	gt.NoError(t, err)
	defer storage.Close()

	key := "actid-test/" + t.Name()
	w, err := storage.Put(ctx, key)
	gt.NoError(t, err)
	_, err = w.Write([]byte("snapshot"))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	r, err := storage.Get(ctx, key)
	gt.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.Equal(t, string(data), "snapshot")
}
