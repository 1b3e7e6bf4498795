package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drumbench/drumbench/internal/acquisition"
	"github.com/drumbench/drumbench/internal/store"
)

func newSamplesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "List catalog samples that have not been scored yet",
		Args:  cobra.NoArgs,
		RunE:  runSamples,
	}
	cmd.Flags().String("drum-type", string(acquisition.BassDrum), "Drum type ("+drumTypeList()+")")
	cmd.Flags().Int("limit", 10, "Maximum number of samples to return")
	return cmd
}

func drumTypeList() string {
	types := acquisition.DrumTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

type sampleRow struct {
	ID       string `json:"id"`
	Dataset  string `json:"dataset"`
	Filename string `json:"filename"`
	Source   string `json:"db_source"`
	Kind     string `json:"kind"`
	AudioURL string `json:"source_audio_url,omitempty"`
}

type samplesOutput struct {
	DrumType       string      `json:"drum_type"`
	Items          []sampleRow `json:"items"`
	TotalAvailable int         `json:"total_available"`
	Remaining      int         `json:"remaining"`
	Depleted       bool        `json:"depleted"`
}

func runSamples(cmd *cobra.Command, _ []string) error {
	rawType, _ := cmd.Flags().GetString("drum-type")
	drumType, err := acquisition.ParseDrumType(rawType)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	a, err := newCLIApp(cmd)
	if err != nil {
		return err
	}

	results, err := store.Open(store.Options{DBPath: a.settings.DBPath})
	if err != nil {
		return fmt.Errorf("failed to open results store: %w", err)
	}
	defer results.Close()

	keys, err := results.ScoredKeys(cmd.Context())
	if err != nil {
		return err
	}
	used := acquisition.NewUsedKeys(a.registry.Primary().Name)
	for _, k := range keys {
		used.Add(k.Dataset, k.Filename)
	}

	batch, err := a.selector.ListUnused(cmd.Context(), drumType, limit, used)
	if err != nil {
		return err
	}

	out := samplesOutput{
		DrumType:       string(drumType),
		Items:          make([]sampleRow, 0, len(batch.Items)),
		TotalAvailable: batch.TotalAvailable,
		Remaining:      batch.Remaining,
		Depleted:       batch.Depleted,
	}
	for _, s := range batch.Items {
		out.Items = append(out.Items, sampleRow{
			ID:       s.ID(),
			Dataset:  s.EncodedDataset(),
			Filename: s.Filename,
			Source:   s.Source,
			Kind:     s.Kind,
			AudioURL: s.AudioURL(),
		})
	}

	formatter := newOutputFormatter(cmd)
	if formatter.jsonMode {
		return formatter.Print(out)
	}

	if len(out.Items) == 0 {
		fmt.Fprintf(formatter.out, "No unused samples left for %s.\n", drumType)
		return nil
	}
	w := tabwriter.NewWriter(formatter.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tDATASET\tFILENAME\tKIND")
	for _, row := range out.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Source, row.Dataset, row.Filename, row.Kind)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if out.Depleted {
		fmt.Fprintf(formatter.out, "\nOnly %d unused samples remain.\n", out.Remaining)
	}
	return nil
}
