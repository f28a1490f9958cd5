package workload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"poolbench/internal/runner"
)

// FileRead reads prepared random files.
type FileRead struct{}

func (FileRead) Name() string { return "file-read" }

func (FileRead) Task() runner.Task {
	return runner.Task{
		Name: "file-read",
		Run: func(_ context.Context, input any) (any, error) {
			path, err := inputAs[string](input)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return len(data), nil
		},
		Decode: decodeAs[string](),
	}
}

func (FileRead) Generate(count int, p Params) ([]any, error) {
	if p.Dir == "" {
		return nil, errors.New("file-read needs a fixture directory")
	}
	out := make([]any, count)
	for i := range out {
		out[i] = filepath.Join(p.Dir, fmt.Sprintf("big_file_%d.bin", i))
	}
	return out, nil
}

func (FileRead) Prepare(_ context.Context, p Params, inputs []any) error {
	for i, in := range inputs {
		path, err := inputAs[string](in)
		if err != nil {
			return err
		}
		if err := writeRandomFile(path, p.FileSize, p.Seed+int64(i)); err != nil {
			return err
		}
	}
	return nil
}

// WriteInput copies Src to a per-task Dst so workers never collide.
type WriteInput struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// FileWrite copies prepared files to per-task output paths.
type FileWrite struct{}

func (FileWrite) Name() string { return "file-write" }

func (FileWrite) Task() runner.Task {
	return runner.Task{
		Name: "file-write",
		Run: func(_ context.Context, input any) (any, error) {
			in, err := inputAs[WriteInput](input)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(in.Src)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(in.Dst, data, 0o644); err != nil {
				return nil, err
			}
			return len(data), nil
		},
		Decode: decodeAs[WriteInput](),
	}
}

func (FileWrite) Generate(count int, p Params) ([]any, error) {
	if p.Dir == "" {
		return nil, errors.New("file-write needs a fixture directory")
	}
	out := make([]any, count)
	for i := range out {
		out[i] = WriteInput{
			Src: filepath.Join(p.Dir, fmt.Sprintf("big_file_%d.bin", i)),
			Dst: filepath.Join(p.Dir, fmt.Sprintf("output_%d.bin", i)),
		}
	}
	return out, nil
}

func (FileWrite) Prepare(_ context.Context, p Params, inputs []any) error {
	for i, in := range inputs {
		wi, err := inputAs[WriteInput](in)
		if err != nil {
			return err
		}
		if err := writeRandomFile(wi.Src, p.FileSize, p.Seed+int64(i)); err != nil {
			return err
		}
	}
	return nil
}

func writeRandomFile(path string, size int, seed int64) error {
	if size < 0 {
		return fmt.Errorf("file size must be >= 0, got %d", size)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create fixture dir: %w", err)
	}
	buf := make([]byte, size)
	newRand(seed).Read(buf)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}
