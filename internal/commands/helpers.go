package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// withApp builds the app for one command run and releases it afterwards
func withApp(cmd *cobra.Command, opts *globalOptions, run func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := buildApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	runErr := run(ctx, a)
	if opts.metrics {
		fmt.Fprint(cmd.ErrOrStderr(), a.metrics.Report())
	}
	return runErr
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseInputs turns repeated key=value flags into manual inputs
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", p)
		}
		inputs[key] = value
	}
	return inputs, nil
}
