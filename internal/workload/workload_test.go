package workload

import (
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolbench/internal/fixture"
)

func testParams(t *testing.T) Params {
	t.Helper()
	p := DefaultParams()
	p.Seed = 42
	p.Dir = t.TempDir()
	p.FibN = 15
	p.FileSize = 4096
	p.Sleep = 5 * time.Millisecond
	p.ImageSize = 32
	p.PrimeMin = 1_000
	p.PrimeMax = 100_000
	return p
}

// run executes a task the way each strategy would: directly, and after a
// JSON round trip through the registry decoder.
func run(t *testing.T, w Workload, input any) (direct, decoded any) {
	t.Helper()
	task := w.Task()
	ctx := context.Background()

	v, err := task.Run(ctx, input)
	require.NoError(t, err)

	raw, err := json.Marshal(input)
	require.NoError(t, err)
	in, err := task.Decode(raw)
	require.NoError(t, err)
	v2, err := task.Run(ctx, in)
	require.NoError(t, err)
	return v, v2
}

func TestLookupAndNames(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{"fail", "fib", "file-read", "file-write", "http", "image", "prime", "sleep", "spin"}, names)

	for _, n := range names {
		w, err := Lookup(n)
		require.NoError(t, err)
		assert.Equal(t, n, w.Name())
		assert.Equal(t, n, w.Task().Name)
	}

	_, err := Lookup("bogus")
	assert.Error(t, err)
}

func TestTasks_RegistersEveryWorkload(t *testing.T) {
	reg := Tasks()
	for _, n := range Names() {
		_, ok := reg.Lookup(n)
		assert.True(t, ok, n)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	p := testParams(t)
	p.URLs = []string{"http://example.test/item/{{randomInt 1 1000}}?id={{uuid}}"}

	for _, w := range All() {
		t.Run(w.Name(), func(t *testing.T) {
			a, err := w.Generate(6, p)
			require.NoError(t, err)
			b, err := w.Generate(6, p)
			require.NoError(t, err)
			assert.Len(t, a, 6)
			assert.Equal(t, a, b)
		})
	}
}

func TestPrime_SeedChangesInputs(t *testing.T) {
	p := testParams(t)
	a, err := Prime{}.Generate(8, p)
	require.NoError(t, err)
	p.Seed++
	b, err := Prime{}.Generate(8, p)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	for _, in := range a {
		n := in.(int64)
		assert.GreaterOrEqual(t, n, p.PrimeMin)
		assert.LessOrEqual(t, n, p.PrimeMax)
	}
}

func TestPrime_RejectsInvalidRanges(t *testing.T) {
	for name, r := range map[string][2]int64{
		"negative min": {-1, 10},
		"inverted":     {10, 5},
		"overflowing":  {0, math.MaxInt64},
	} {
		t.Run(name, func(t *testing.T) {
			p := testParams(t)
			p.PrimeMin, p.PrimeMax = r[0], r[1]
			_, err := Prime{}.Generate(4, p)
			assert.Error(t, err)
		})
	}
}

func TestIsPrime(t *testing.T) {
	primes := []int64{2, 3, 5, 7, 97, 7919, 1_000_000_007}
	composites := []int64{-7, 0, 1, 4, 9, 25, 49, 7917, 1_000_000_008}
	for _, n := range primes {
		assert.True(t, isPrime(n), n)
	}
	for _, n := range composites {
		assert.False(t, isPrime(n), n)
	}
}

func TestFibonacci(t *testing.T) {
	v, v2 := run(t, Fibonacci{}, 20)
	assert.Equal(t, 6765, v)
	assert.Equal(t, 6765, v2)

	_, err := Fibonacci{}.Task().Run(context.Background(), -1)
	assert.Error(t, err)
	_, err = Fibonacci{}.Task().Run(context.Background(), "20")
	assert.Error(t, err)
}

func TestSleepAndSpin(t *testing.T) {
	start := time.Now()
	v, _ := run(t, Sleep{}, 20*time.Millisecond)
	assert.EqualValues(t, 20, v)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Spin{}.Task().Run(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = Sleep{}.Task().Run(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFail(t *testing.T) {
	inputs, err := Fail{}.Generate(3, Params{})
	require.NoError(t, err)
	for _, in := range inputs {
		_, err := Fail{}.Task().Run(context.Background(), in)
		assert.Error(t, err)
	}
}

func TestFileWorkloads(t *testing.T) {
	p := testParams(t)
	ctx := context.Background()

	t.Run("read", func(t *testing.T) {
		inputs, err := FileRead{}.Generate(3, p)
		require.NoError(t, err)
		require.NoError(t, FileRead{}.Prepare(ctx, p, inputs))

		for _, in := range inputs {
			v, v2 := run(t, FileRead{}, in)
			assert.Equal(t, p.FileSize, v)
			assert.Equal(t, p.FileSize, v2)
		}
	})

	t.Run("write", func(t *testing.T) {
		inputs, err := FileWrite{}.Generate(3, p)
		require.NoError(t, err)
		require.NoError(t, FileWrite{}.Prepare(ctx, p, inputs))

		for _, in := range inputs {
			run(t, FileWrite{}, in)
			wi := in.(WriteInput)
			src, err := os.ReadFile(wi.Src)
			require.NoError(t, err)
			dst, err := os.ReadFile(wi.Dst)
			require.NoError(t, err)
			assert.Equal(t, src, dst)
		}
	})

	t.Run("prepared files are seeded", func(t *testing.T) {
		a := filepath.Join(t.TempDir(), "a.bin")
		b := filepath.Join(t.TempDir(), "b.bin")
		require.NoError(t, writeRandomFile(a, 256, 9))
		require.NoError(t, writeRandomFile(b, 256, 9))
		da, _ := os.ReadFile(a)
		db, _ := os.ReadFile(b)
		assert.Equal(t, da, db)
	})

	t.Run("needs a directory", func(t *testing.T) {
		_, err := FileRead{}.Generate(1, Params{})
		assert.Error(t, err)
		_, err = FileWrite{}.Generate(1, Params{})
		assert.Error(t, err)
	})
}

func TestImage(t *testing.T) {
	p := testParams(t)
	inputs, err := Image{}.Generate(2, p)
	require.NoError(t, err)
	require.NoError(t, Image{}.Prepare(context.Background(), p, inputs))

	for _, in := range inputs {
		v, _ := run(t, Image{}, in)
		res := v.(ImageResult)
		assert.Equal(t, thumbnailSize, res.Width)
		assert.Equal(t, thumbnailSize, res.Height)
		assert.Contains(t, []string{"red", "green", "blue"}, res.Class)
		_, err := os.Stat(in.(ImageInput).Dst)
		assert.NoError(t, err)
	}

	p.ImageSize = 0
	assert.Error(t, Image{}.Prepare(context.Background(), p, inputs))
}

func TestHTTPFetch_AgainstFixture(t *testing.T) {
	srv := httptest.NewServer(fixture.Router(fixture.ServerConfig{Seed: 1}))
	defer srv.Close()

	p := testParams(t)
	p.URLs = []string{srv.URL + "/delay/{{randomInt 1 5}}", srv.URL + "/status/204"}
	p.HTTPTimeout = 2 * time.Second

	inputs, err := HTTPFetch{}.Generate(4, p)
	require.NoError(t, err)
	for i, in := range inputs {
		fi := in.(FetchInput)
		assert.Equal(t, p.HTTPTimeout, fi.Timeout)
		assert.NotContains(t, fi.URL, "{{")
		if i%2 == 1 {
			assert.True(t, strings.HasSuffix(fi.URL, "/status/204"))
		}
		run(t, HTTPFetch{}, in)
	}

	_, err = HTTPFetch{}.Task().Run(context.Background(), FetchInput{URL: srv.URL + "/status/503", Timeout: time.Second})
	assert.ErrorContains(t, err, "503")

	_, err = HTTPFetch{}.Generate(1, Params{})
	assert.Error(t, err)
}

func TestTemplateEngine(t *testing.T) {
	e := NewTemplateEngine(7)
	assert.Equal(t, "{{randomUUID}}/{{randomUUID}}", e.Preprocess("{{uuid}}/{{requestID}}"))

	plain, err := e.Expand("http://host/static")
	require.NoError(t, err)
	assert.Equal(t, "http://host/static", plain)

	choice, err := e.Expand(`{{randomChoice "a" "b"}}`)
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, choice)

	id, err := e.Expand("{{uuid}}")
	require.NoError(t, err)
	assert.Len(t, id, 36)

	_, err = e.Expand("{{randomInt 5 5}}")
	assert.Error(t, err)

	lines := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(lines, []byte("x\n\ny\n"), 0o644))
	line, err := e.Expand(`{{randomLine "` + lines + `"}}`)
	require.NoError(t, err)
	assert.Contains(t, []string{"x", "y"}, line)

	a, _ := NewTemplateEngine(3).Expand("{{randomInt 0 1000000}}-{{uuid}}")
	b, _ := NewTemplateEngine(3).Expand("{{randomInt 0 1000000}}-{{uuid}}")
	assert.Equal(t, a, b)
}
