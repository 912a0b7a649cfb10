package cache_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/toolcache/cache"
)

func ExampleCoordinator_Resolve() {
	exec := cache.ExecutorFunc(func(_ context.Context, tool string, args map[string]any) ([]byte, error) {
		return []byte(fmt.Sprintf("%s(%v)", tool, args["city"])), nil
	})
	coord, err := cache.NewCoordinator(exec)
	if err != nil {
		panic(err)
	}
	defer coord.Close(context.Background())

	cfg := cache.ToolConfig{Enabled: true, TTL: 10 * time.Minute}
	ctx := context.Background()

	first, _ := coord.Resolve(ctx, "weather", map[string]any{"city": "Shenzhen", "units": "metric"}, cfg)
	second, _ := coord.Resolve(ctx, "weather", map[string]any{"units": "metric", "city": "Shenzhen"}, cfg)

	fmt.Println(first.Outcome, string(first.Value))
	fmt.Println(second.Outcome, string(second.Value))
	// Output:
	// miss weather(Shenzhen)
	// exact weather(Shenzhen)
}

func ExampleCoordinator_Resolve_semantic() {
	vectors := map[string][]float32{
		"today's weather in Shenzhen":     {1, 0},
		"what's Shenzhen's weather today": {0.96, 0.28},
	}
	embedder := cache.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		return vectors[text], nil
	})
	exec := cache.ExecutorFunc(func(context.Context, string, map[string]any) ([]byte, error) {
		return []byte("sunny, 31C"), nil
	})

	coord, err := cache.NewCoordinator(exec, cache.WithEmbedder(embedder))
	if err != nil {
		panic(err)
	}
	defer coord.Close(context.Background())

	cfg := cache.ToolConfig{Enabled: true, SemanticQueryKey: "q"}
	ctx := context.Background()

	_, _ = coord.Resolve(ctx, "web_search", map[string]any{"q": "today's weather in Shenzhen"}, cfg)
	res, _ := coord.Resolve(ctx, "web_search", map[string]any{"q": "what's Shenzhen's weather today"}, cfg)

	fmt.Printf("%s %.2f %s\n", res.Outcome, res.Similarity, res.Value)
	// Output:
	// semantic 0.96 sunny, 31C
}

func ExampleRegistry() {
	reg := cache.NewRegistry()
	reg.Set("web_search", cache.ToolConfig{Enabled: true, TTL: time.Hour, SemanticQueryKey: "q"})
	reg.Set("send_email", cache.ToolConfig{Enabled: true, Tags: []string{"write"}})

	policy := cache.DefaultPolicy()
	for _, tool := range reg.Tools() {
		fmt.Println(tool, policy.ShouldCache(tool, reg.Get(tool)))
	}
	// Output:
	// send_email false
	// web_search true
}

func ExampleDefaultKeyer_Key() {
	keyer := cache.NewDefaultKeyer()

	a, _ := keyer.Key("search", map[string]any{"q": "go", "limit": 10})
	b, _ := keyer.Key("search", map[string]any{"limit": 10, "q": "go"})

	fmt.Println(a == b)
	// Output:
	// true
}
