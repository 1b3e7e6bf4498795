package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// OutputFormatter handles output in JSON or human-readable format.
type OutputFormatter struct {
	jsonMode bool
	out      io.Writer
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, out: cmd.OutOrStdout()}
}

// Print writes data as indented JSON, or as-is when it is a string in
// human-readable mode.
func (f *OutputFormatter) Print(data any) error {
	if s, ok := data.(string); ok && !f.jsonMode {
		_, err := fmt.Fprintln(f.out, s)
		return err
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(f.out, string(jsonBytes))
	return err
}

// Result prints data in JSON mode and the human summary otherwise.
func (f *OutputFormatter) Result(data any, human string) error {
	if f.jsonMode {
		return f.Print(data)
	}
	return f.Print(human)
}
