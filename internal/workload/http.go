package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"poolbench/internal/runner"
)

// FetchInput carries everything one fetch needs, timeout included.
type FetchInput struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPFetch issues GET requests against configured URLs.
type HTTPFetch struct{}

func (HTTPFetch) Name() string { return "http" }

func (HTTPFetch) Task() runner.Task {
	return runner.Task{
		Name:   "http",
		Run:    fetch,
		Decode: decodeAs[FetchInput](),
	}
}

// Generate expands the URL templates with the seeded engine and cycles
// through them until count inputs exist.
func (HTTPFetch) Generate(count int, p Params) ([]any, error) {
	if len(p.URLs) == 0 {
		return nil, errors.New("http workload needs at least one url")
	}
	engine := NewTemplateEngine(p.Seed)
	out := make([]any, count)
	for i := range out {
		u, err := engine.Expand(p.URLs[i%len(p.URLs)])
		if err != nil {
			return nil, err
		}
		out[i] = FetchInput{URL: u, Timeout: p.HTTPTimeout}
	}
	return out, nil
}

func fetch(ctx context.Context, input any) (any, error) {
	in, err := inputAs[FetchInput](input)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: in.Timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status %d", in.URL, resp.StatusCode)
	}
	return fmt.Sprintf("%s: %d", in.URL, resp.StatusCode), nil
}
