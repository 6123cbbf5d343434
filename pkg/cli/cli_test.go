package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/actid/pkg/adapter/adaptertest"
	"github.com/m-mizutani/actid/pkg/cli"
	"github.com/m-mizutani/gt"
)

const dim = 32

// embeddingServer serves OpenAI compatible embeddings from a vocabulary
// embedder
func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	vocab := adaptertest.NewVocab(dim)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			vec, err := vocab.Embed(r.Context(), text)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-embed",
			"data":   data,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type runner struct {
	dataDir string
	baseURL string
}

func newRunner(t *testing.T) *runner {
	return &runner{
		dataDir: filepath.Join(t.TempDir(), "vector_db"),
		baseURL: embeddingServer(t).URL + "/v1",
	}
}

func (x *runner) run(t *testing.T, stdin string, args ...string) (string, *cli.Error) {
	t.Helper()
	argv := []string{"actid", args[0],
		"--data-dir", x.dataDir,
		"--dimension", "32",
		"--log-level", "error",
	}
	argv = append(argv, args[1:]...)

	var stdout, stderr bytes.Buffer
	err := cli.RunWithIO(context.Background(), argv, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func (x *runner) embedderArgs() []string {
	return []string{"--embedder", "openai", "--openai-base-url", x.baseURL}
}

func TestResolveCommand(t *testing.T) {
	x := newRunner(t)

	args := append([]string{"resolve"}, x.embedderArgs()...)
	out, err := x.run(t, `{"name": "Tokyo Skytree", "location": "TYO", "category": "tour"}`, args...)
	gt.V(t, err).Equal(nil)

	var first struct {
		ID      string `json:"activity_id"`
		Created bool   `json:"created"`
	}
	gt.NoError(t, json.Unmarshal([]byte(out), &first))
	gt.True(t, first.Created)

	// YAML input resolves to the same identity
	out, err = x.run(t, "name: tokyo skytree\nlocation: tyo\ncategory: Tour\n", args...)
	gt.V(t, err).Equal(nil)
	var second struct {
		ID      string `json:"activity_id"`
		Created bool   `json:"created"`
	}
	gt.NoError(t, json.Unmarshal([]byte(out), &second))
	gt.False(t, second.Created)
	gt.Equal(t, second.ID, first.ID)

	t.Run("show", func(t *testing.T) {
		out, err := x.run(t, "", "show", "--id", first.ID)
		gt.V(t, err).Equal(nil)
		gt.S(t, out).Contains(`"name": "tokyo skytree"`)
		gt.S(t, out).Contains(`"hits": 2`)
	})

	t.Run("list", func(t *testing.T) {
		out, err := x.run(t, "", "list")
		gt.V(t, err).Equal(nil)
		gt.S(t, out).Contains(first.ID)
		gt.S(t, out).Contains("1 of 1 activities")
	})

	t.Run("invalid activity", func(t *testing.T) {
		_, err := x.run(t, `{"name": "Tokyo Skytree"}`, args...)
		gt.NotNil(t, err)
		gt.Equal(t, err.Code, 1)
	})
}

func TestPlanCommand(t *testing.T) {
	x := newRunner(t)

	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	gt.NoError(t, os.WriteFile(planPath, []byte(`
title: Tokyo
spans:
  - day: 1
    activities:
      - name: Tokyo Skytree
        location: TYO
        category: tour
      - name: Ueno Park
        location: TYO
  - day: 2
`), 0o600))

	args := append([]string{"plan", "--input", planPath, "--report"}, x.embedderArgs()...)
	out, err := x.run(t, "", args...)
	gt.V(t, err).Equal(nil)

	var result struct {
		Plan struct {
			Title string `json:"title"`
			Spans []struct {
				Activities []map[string]any `json:"activities"`
			} `json:"spans"`
		} `json:"plan"`
		Report struct {
			Created int `json:"created"`
		} `json:"report"`
	}
	gt.NoError(t, json.Unmarshal([]byte(out), &result))
	gt.Equal(t, result.Plan.Title, "Tokyo")
	gt.Equal(t, result.Report.Created, 2)
	gt.A(t, result.Plan.Spans).Length(2)
	for _, a := range result.Plan.Spans[0].Activities {
		gt.S(t, a["activityId"].(string)).Contains("activity_")
	}

	out, err = x.run(t, "", "stats")
	gt.V(t, err).Equal(nil)
	gt.S(t, out).Contains(`"total_activities": 2`)
}

func TestMaintenanceCommandsWithoutEmbedder(t *testing.T) {
	x := newRunner(t)

	out, err := x.run(t, "", "stats")
	gt.V(t, err).Equal(nil)
	gt.S(t, out).Contains(`"total_activities": 0`)

	out, err = x.run(t, "", "cleanup", "--days", "30")
	gt.V(t, err).Equal(nil)
	gt.S(t, out).Contains("Deleted 0 activities")

	out, err = x.run(t, "", "rebuild")
	gt.V(t, err).Equal(nil)
	gt.S(t, out).Contains("Index rebuilt")

	_, err = x.run(t, "", "show", "--id", "activity_0123456789abcdef")
	gt.NotNil(t, err)
}

func TestInvalidConfiguration(t *testing.T) {
	x := newRunner(t)

	_, err := x.run(t, "", "stats", "--log-level", "loud")
	gt.NotNil(t, err)

	_, err = x.run(t, "", "stats", "--threshold", "1.5")
	gt.NotNil(t, err)

	_, err = x.run(t, `{"name": "a", "location": "b"}`, "resolve", "--embedder", "nope")
	gt.NotNil(t, err)
	gt.S(t, err.Message).Contains("unknown embedder")

	_, err = x.run(t, "", "stats", "--store", "nope")
	gt.NotNil(t, err)
	gt.S(t, err.Message).Contains("unknown store")

	_, err = x.run(t, "", "backup")
	gt.NotNil(t, err)
	gt.S(t, err.Message).Contains("backup-bucket is required")
}
