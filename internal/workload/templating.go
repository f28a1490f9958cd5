package workload

import (
	"bufio"
	"bytes"
	"fmt"
	mrand "math/rand"
	"os"
	"strings"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine expands URL templates. Every random function draws from
// one seeded source so a batch can be reproduced.
type TemplateEngine struct {
	rng       *mrand.Rand
	fileCache map[string][]string
	funcMap   template.FuncMap
}

// NewTemplateEngine initializes the engine and its functions
func NewTemplateEngine(seed int64) *TemplateEngine {
	e := &TemplateEngine{
		rng:       newRand(seed),
		fileCache: make(map[string][]string),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
		"uuid":         e.randomUUID, // Alias
	}

	return e
}

// Preprocess converts the bare {{uuid}} shorthand to a function call.
func (e *TemplateEngine) Preprocess(input string) string {
	s := strings.ReplaceAll(input, "{{uuid}}", "{{randomUUID}}")
	return strings.ReplaceAll(s, "{{requestID}}", "{{randomUUID}}")
}

// Expand parses and executes text once.
func (e *TemplateEngine) Expand(text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New("url").Funcs(e.funcMap).Parse(e.Preprocess(text))
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", text, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, nil); err != nil {
		return "", fmt.Errorf("expand template %q: %w", text, err)
	}
	return buf.String(), nil
}

// --- Functions ---

func (e *TemplateEngine) randomInt(min, max int) (int, error) {
	if max <= min {
		return 0, fmt.Errorf("randomInt: max %d must be greater than min %d", max, min)
	}
	return e.rng.Intn(max-min) + min, nil
}

func (e *TemplateEngine) randomUUID() (string, error) {
	id, err := uuid.NewRandomFromReader(e.rng)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[e.rng.Intn(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	lines, ok := e.fileCache[filename]
	if !ok {
		content, err := os.ReadFile(filename)
		if err != nil {
			return "", fmt.Errorf("failed to read file '%s': %w", filename, err)
		}

		scanner := bufio.NewScanner(bytes.NewReader(content))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				lines = append(lines, line)
			}
		}
		e.fileCache[filename] = lines
	}

	if len(lines) == 0 {
		return "", nil
	}
	return lines[e.rng.Intn(len(lines))], nil
}
