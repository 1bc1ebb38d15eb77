// Package pipelinetest provides in-memory stand-ins for the GCP clients so
// the stages and the orchestrator can be exercised without a project.
package pipelinetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
)

// Generator is a scripted services.TextGenerator.
type Generator struct {
	mu      sync.Mutex
	respond func(call int, p gcp.Prompt) (string, error)
	prompts []gcp.Prompt
}

// NewGenerator creates a generator that answers with respond. call counts
// from 1.
func NewGenerator(respond func(call int, p gcp.Prompt) (string, error)) *Generator {
	return &Generator{respond: respond}
}

// Fixed always returns out.
func Fixed(out string) *Generator {
	return NewGenerator(func(int, gcp.Prompt) (string, error) { return out, nil })
}

// Failing always returns err.
func Failing(err error) *Generator {
	return NewGenerator(func(int, gcp.Prompt) (string, error) { return "", err })
}

// FailFirst returns err for the first n calls and out afterwards.
func FailFirst(n int, err error, out string) *Generator {
	return NewGenerator(func(call int, _ gcp.Prompt) (string, error) {
		if call <= n {
			return "", err
		}
		return out, nil
	})
}

func (g *Generator) Generate(ctx context.Context, p gcp.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	call := len(g.prompts)
	g.mu.Unlock()
	return g.respond(call, p)
}

// Calls returns how many times Generate was invoked.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// Prompts returns a copy of every prompt received.
func (g *Generator) Prompts() []gcp.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gcp.Prompt(nil), g.prompts...)
}

// Objects is an in-memory services.ObjectStore keyed by gs:// location.
type Objects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
	deletes   int
}

// NewObjects creates an empty store.
func NewObjects() *Objects {
	return &Objects{objects: make(map[string][]byte)}
}

// Put stores data at location.
func (o *Objects) Put(location string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[location] = data
}

// Has reports whether location exists.
func (o *Objects) Has(location string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[location]
	return ok
}

// FailDeletes makes every Delete return err until called again with nil.
func (o *Objects) FailDeletes(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleteErr = err
}

// Deletes returns the number of Delete calls.
func (o *Objects) Deletes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deletes
}

func (o *Objects) Read(ctx context.Context, location string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[location]
	if !ok {
		return nil, fmt.Errorf("%s: %w", location, gcp.ErrObjectNotFound)
	}
	return data, nil
}

func (o *Objects) Delete(ctx context.Context, location string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deletes++
	if o.deleteErr != nil {
		return o.deleteErr
	}
	delete(o.objects, location)
	return nil
}

// PNG is a minimal byte sequence http.DetectContentType reports as image/png.
var PNG = []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 24))
