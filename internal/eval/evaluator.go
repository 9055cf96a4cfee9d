// Package eval loads stack files that overlay the built-in resource tree.
package eval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"gopkg.in/yaml.v3"

	"github.com/ride-compare/rideops/internal/ir"
)

// LoadStack reads a stack file. The format is chosen by extension: .yaml and .yml
// are decoded with yaml.v3, .pkl is evaluated with the pkl toolchain.
func LoadStack(ctx context.Context, path string) (*ir.Stack, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	case ".pkl":
		return loadPkl(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported stack file %q: expected .yaml, .yml or .pkl", path)
	}
}

func loadYAML(path string) (*ir.Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack file: %w", err)
	}

	var stack ir.Stack
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&stack); err != nil {
		if errors.Is(err, io.EOF) {
			return &stack, nil
		}
		return nil, fmt.Errorf("failed to decode stack file %s: %w", path, err)
	}
	return &stack, nil
}

func loadPkl(ctx context.Context, path string) (*ir.Stack, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stack file path: %w", err)
	}

	evaluator, err := pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var stack ir.Stack
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(abs), &stack); err != nil {
		return nil, fmt.Errorf("failed to evaluate stack file: %w", err)
	}
	return &stack, nil
}
