package checkpoint_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/samcharles93/ganport/internal/checkpoint"
	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/testutil"
)

func configValues(t *testing.T, c *graph.Config) map[string]any {
	t.Helper()
	out := map[string]any{}
	for _, k := range c.Keys() {
		out[k], _ = c.Get(k)
	}
	return out
}

func requireSameBundle(t *testing.T, want, got *checkpoint.Bundle) {
	t.Helper()
	if got.Name != want.Name || got.BuildFunc != want.BuildFunc {
		t.Fatalf("got %s/%s, want %s/%s", got.Name, got.BuildFunc, want.Name, want.BuildFunc)
	}
	if diff := cmp.Diff(want.Config.Keys(), got.Config.Keys()); diff != "" {
		t.Fatalf("config key order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(configValues(t, want.Config), configValues(t, got.Config)); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.ParamNames(), got.ParamNames()); diff != "" {
		t.Fatalf("param names mismatch (-want +got):\n%s", diff)
	}
	for name, w := range want.Params {
		if diff := cmp.Diff(w, got.Params[name], cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("param %s mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestLoadPickleProtocols(t *testing.T) {
	t.Parallel()
	want := testutil.Bundle(t)
	for _, proto := range []byte{2, 3, 4} {
		path := testutil.WriteFile(t, t.TempDir(), "network.pkl", testutil.GeneratorPickle(t, want, proto))
		got, err := checkpoint.NewLoader(t.TempDir()).Load(context.Background(), path)
		if err != nil {
			t.Fatalf("protocol %d: Load: %v", proto, err)
		}
		requireSameBundle(t, want, got)
		if diff := cmp.Diff([]string{"G", "D"}, got.Auxiliary); diff != "" {
			t.Fatalf("auxiliary mismatch (-want +got):\n%s", diff)
		}
		if got.Source != path {
			t.Fatalf("source = %q", got.Source)
		}
	}
}

func TestSafetensorsMatchesPickle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pkl := testutil.WriteFile(t, dir, "network.pkl", testutil.GeneratorPickle(t, testutil.Bundle(t), 3))
	loader := checkpoint.NewLoader(t.TempDir())
	fromPickle, err := loader.Load(context.Background(), pkl)
	if err != nil {
		t.Fatalf("Load pickle: %v", err)
	}

	st := filepath.Join(dir, "network.safetensors")
	if err := checkpoint.WriteSafetensors(fromPickle, st, checkpoint.EncodeF32); err != nil {
		t.Fatalf("WriteSafetensors: %v", err)
	}
	fromST, err := loader.Load(context.Background(), "file://"+st)
	if err != nil {
		t.Fatalf("Load safetensors: %v", err)
	}
	requireSameBundle(t, fromPickle, fromST)
	if diff := cmp.Diff(fromPickle.Auxiliary, fromST.Auxiliary); diff != "" {
		t.Fatalf("auxiliary mismatch (-want +got):\n%s", diff)
	}
}

func TestSafetensorsBF16IsWidened(t *testing.T) {
	t.Parallel()
	b := &checkpoint.Bundle{
		Name:      "Gs",
		BuildFunc: "G_main",
		Config:    graph.ConfigOf("resolution", 8),
		Params:    map[string]graph.Tensor{"w": graph.NewFloat32Tensor(graph.Shape{2}, []float32{1, -0.5})},
	}
	path := filepath.Join(t.TempDir(), "w.safetensors")
	if err := checkpoint.WriteSafetensors(b, path, checkpoint.EncodeBF16); err != nil {
		t.Fatalf("WriteSafetensors: %v", err)
	}
	got, err := checkpoint.NewLoader("").Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := got.Params["w"]
	if w.DType != graph.Float32 {
		t.Fatalf("dtype = %s, want float32", w.DType)
	}
	vals, _ := w.Float32s()
	if diff := cmp.Diff([]float32{1, -0.5}, vals); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	if n, _ := got.Config.Int("resolution", 0); n != 8 {
		t.Fatalf("resolution = %d", n)
	}
}

func TestLoadRejectsWrongShape(t *testing.T) {
	t.Parallel()
	tests := map[string]any{
		"not a tuple":  testutil.List{1, 2, 3},
		"two tuple":    testutil.Tuple{1, 2},
		"not networks": testutil.Tuple{1, 2, 3},
	}
	for name, v := range tests {
		data, err := testutil.Pickle(v, 3)
		if err != nil {
			t.Fatalf("%s: Pickle: %v", name, err)
		}
		path := testutil.WriteFile(t, t.TempDir(), "bad.pkl", data)
		b, err := checkpoint.NewLoader("").Load(context.Background(), path)
		if !errors.Is(err, checkpoint.ErrCheckpointFormat) {
			t.Fatalf("%s: err = %v, want ErrCheckpointFormat", name, err)
		}
		if b != nil {
			t.Fatalf("%s: partial bundle returned", name)
		}
	}
}

func TestLoadRejectsUnknownClassAndGarbage(t *testing.T) {
	t.Parallel()
	data, err := testutil.Pickle(testutil.Reduce{Callable: testutil.Global{Module: "os", Name: "system"}, Args: testutil.Tuple{"true"}}, 3)
	if err != nil {
		t.Fatalf("Pickle: %v", err)
	}
	dir := t.TempDir()
	for _, path := range []string{
		testutil.WriteFile(t, dir, "evil.pkl", data),
		testutil.WriteFile(t, dir, "garbage.bin", []byte("not a checkpoint at all")),
		testutil.WriteFile(t, dir, "truncated.pkl", testutil.GeneratorPickle(t, testutil.Bundle(t), 3)[:200]),
	} {
		if _, err := checkpoint.NewLoader("").Load(context.Background(), path); !errors.Is(err, checkpoint.ErrCheckpointFormat) {
			t.Fatalf("%s: err = %v, want ErrCheckpointFormat", filepath.Base(path), err)
		}
	}
}

func TestLoadMissingSource(t *testing.T) {
	t.Parallel()
	l := checkpoint.NewLoader(t.TempDir())
	for _, src := range []string{
		filepath.Join(t.TempDir(), "nope.pkl"),
		"file:///definitely/not/here.pkl",
		"ftp://example.com/x.pkl",
		t.TempDir(),
	} {
		if _, err := l.Load(context.Background(), src); !errors.Is(err, checkpoint.ErrCheckpointNotFound) {
			t.Fatalf("%s: err = %v, want ErrCheckpointNotFound", src, err)
		}
	}
}

func TestLoadRemoteIsCached(t *testing.T) {
	t.Parallel()
	payload := testutil.GeneratorPickle(t, testutil.Bundle(t), 4)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stylegan2-small.pkl" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cache := t.TempDir()
	l := checkpoint.NewLoader(cache)
	l.Client = srv.Client()
	url := srv.URL + "/stylegan2-small.pkl"
	for i := 0; i < 2; i++ {
		if _, err := l.Load(context.Background(), url); err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("server hit %d times, want 1", n)
	}
	cached, err := l.CachePath(url)
	if err != nil {
		t.Fatalf("CachePath: %v", err)
	}
	if filepath.Dir(cached) != cache || filepath.Ext(cached) != ".pkl" {
		t.Fatalf("cache path = %s", cached)
	}
	if _, err := os.Stat(cached); err != nil {
		t.Fatalf("cached file: %v", err)
	}

	if _, err := l.Load(context.Background(), srv.URL+"/missing.pkl"); !errors.Is(err, checkpoint.ErrCheckpointNotFound) {
		t.Fatalf("err = %v, want ErrCheckpointNotFound", err)
	}
	entries, _ := os.ReadDir(cache)
	if len(entries) != 1 {
		t.Fatalf("cache holds %d entries after failed download, want 1", len(entries))
	}
}
