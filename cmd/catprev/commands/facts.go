package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/catprev/catprev/pkg/preview"
)

func newFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Manage stored node facts",
	}

	cmd.AddCommand(newFactsIngestCommand())
	cmd.AddCommand(newFactsShowCommand())

	return cmd
}

func newFactsIngestCommand() *cobra.Command {
	var (
		factsFile   string
		factsFormat string
		environment string
	)

	cmd := &cobra.Command{
		Use:   "ingest <node>",
		Short: "Ingest a fact file for a node",
		Long: `Ingest decodes a fact file and stores it as the node's latest fact set.
Facts naming a different node than the argument are rejected and nothing is
stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeName := args[0]

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			facts, err := loadFactsFile(factsFile, factsFormat, nodeName)
			if err != nil {
				return err
			}

			ingestor := preview.NewFactIngestor(preview.NewStoreFactSaver(store), log.Logger)
			req := &preview.CompileRequest{
				Key:         nodeName,
				Environment: environment,
				Options:     preview.CompileOptions{FactSet: facts},
			}
			if err := ingestor.ExtractFactsFromRequest(cmd.Context(), req); err != nil {
				return err
			}

			log.Info().
				Str("node", nodeName).
				Int("fact_count", len(facts.Values)).
				Msg("Facts stored")
			return nil
		},
	}

	cmd.Flags().StringVar(&factsFile, "file", "", "fact file to ingest (required)")
	cmd.Flags().StringVar(&factsFormat, "format", "json", "fact file format (json, yaml)")
	cmd.Flags().StringVar(&environment, "env", "", "environment to record the facts under")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newFactsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <node>",
		Short: "Show the stored facts for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			facts, err := store.GetFacts(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(facts, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode facts: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
