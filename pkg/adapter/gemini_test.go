package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/actid/pkg/adapter"
	"github.com/m-mizutani/gt"
)

func TestGeminiEmbed(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGemini(ctx, projectID, "us-central1", adapter.WithGeminiDimension(128))
	gt.NoError(t, err)

	vec, err := client.Embed(ctx, "tokyo skytree | tyo | tour")
	gt.NoError(t, err)
	gt.A(t, vec).Length(128)
}

func TestNewGeminiRequiresProject(t *testing.T) {
	_, err := adapter.NewGemini(context.Background(), "", "us-central1")
	gt.Error(t, err)
}
