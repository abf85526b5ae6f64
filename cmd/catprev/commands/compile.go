package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/catalogc"
	"github.com/catprev/catprev/pkg/checker"
	"github.com/catprev/catprev/pkg/logdest"
	"github.com/catprev/catprev/pkg/preview"
	"github.com/catprev/catprev/pkg/stores"
	"github.com/catprev/catprev/pkg/telemetry"
)

func newCompileCommand(version string) *cobra.Command {
	var (
		previewEnv   string
		baselineEnv  string
		baselineLog  string
		previewLog   string
		factsFile    string
		factsFormat  string
		rulesFile    string
		rulesTimeout time.Duration
		txnUUID      string
		useNode      bool
		outFile      string
	)

	cmd := &cobra.Command{
		Use:   "compile <node>",
		Short: "Compile baseline and preview catalogs for a node",
		Long: `Compile runs both compilation passes for a node: the baseline pass against
the node's current environment and the preview pass against the requested
preview environment. Each pass writes its compiler output to its own log
destination. The resulting catalog pair is printed as JSON on stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeName := args[0]

			if baselineLog == "" {
				baselineLog = nodeName + ".baseline.log"
			}
			if previewLog == "" {
				previewLog = nodeName + ".preview.log"
			}

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			metrics, err := serveMetrics()
			if err != nil {
				return err
			}

			tracer, err := telemetry.NewTracer(telemetry.DefaultConfig().Tracing, "catprev", version)
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}
			defer func() { _ = tracer.Shutdown(context.Background()) }()

			opts := preview.CompileOptions{
				PreviewEnvironment: previewEnv,
				BaselineLog:        baselineLog,
				PreviewLog:         previewLog,
				TransactionUUID:    txnUUID,
			}

			var facts *catalog.FactSet
			if factsFile != "" {
				facts, err = loadFactsFile(factsFile, factsFormat, nodeName)
				if err != nil {
					return err
				}
				opts.FactSet = facts
			}

			// --use-node skips the stored-fact lookup and compiles a node
			// built from the command line alone.
			if useNode {
				env := baselineEnv
				if env == "" {
					env = preview.DefaultEnvironment
				}
				node := catalog.NewNode(nodeName, env)
				if facts != nil {
					node.MergeFacts(facts.Values)
				}
				opts.UseNode = node
				opts.FactSet = nil
			}

			if rulesFile != "" {
				script, err := os.ReadFile(rulesFile)
				if err != nil {
					return fmt.Errorf("failed to read migration rules: %w", err)
				}
				chk, err := checker.NewStarlarkChecker(rulesFile, string(script), rulesTimeout)
				if err != nil {
					return err
				}
				opts.MigrationChecker = chk
			}

			ingestor := preview.NewFactIngestor(preview.NewStoreFactSaver(store), log.Logger).WithMetrics(metrics)
			resolver := preview.NewNodeResolver(preview.NewStoreLookup(store), preview.NewServerFactCache(version), log.Logger)
			compiler := preview.NewDualCompiler(catalogc.New(envRoot), logdest.NewRegistry()).
				WithTracer(tracer).
				WithMetrics(metrics)

			svc := preview.NewService(ingestor, resolver, compiler, store, log.Logger)

			result, err := svc.Run(cmd.Context(), &preview.CompileRequest{
				Key:         nodeName,
				Environment: baselineEnv,
				Options:     opts,
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode compile result: %w", err)
			}
			if outFile != "" {
				return os.WriteFile(outFile, append(out, '\n'), 0644)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&previewEnv, "preview-env", "", "environment to preview the node against (required)")
	cmd.Flags().StringVar(&baselineEnv, "env", "", "override the node's baseline environment")
	cmd.Flags().StringVar(&baselineLog, "baseline-log", "", "baseline pass log destination (default <node>.baseline.log)")
	cmd.Flags().StringVar(&previewLog, "preview-log", "", "preview pass log destination (default <node>.preview.log)")
	cmd.Flags().StringVar(&factsFile, "facts-file", "", "file with facts to ingest before compiling")
	cmd.Flags().StringVar(&factsFormat, "facts-format", "json", "facts file format (json, yaml)")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "Starlark migration rule script")
	cmd.Flags().DurationVar(&rulesTimeout, "rules-timeout", 10*time.Second, "per-resource rule evaluation timeout")
	cmd.Flags().StringVar(&txnUUID, "transaction-uuid", "", "transaction UUID tying this run together (generated when absent)")
	cmd.Flags().BoolVar(&useNode, "use-node", false, "compile a locally built node instead of looking one up")
	cmd.Flags().StringVar(&outFile, "out", "", "write the compile result to a file instead of stdout")
	_ = cmd.MarkFlagRequired("preview-env")

	return cmd
}

// openStore opens, initializes, and migrates the fact database.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open fact database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate fact database: %w", err)
	}
	return store, nil
}

// serveMetrics starts the Prometheus endpoint when --metrics-listen is set.
// The returned collector is a no-op otherwise.
func serveMetrics() (*telemetry.Metrics, error) {
	cfg := telemetry.DefaultConfig().Metrics
	cfg.Enabled = metricsListen != ""
	cfg.ListenAddress = metricsListen

	metrics, err := telemetry.NewMetrics(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if handler := metrics.Handler(); handler != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Path, handler)
		go func() {
			log.Info().Str("address", cfg.ListenAddress).Msg("Serving metrics")
			if err := http.ListenAndServe(cfg.ListenAddress, mux); err != nil {
				log.Warn().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
	}

	return metrics, nil
}

// loadFactsFile reads and decodes a fact file into a structured fact set.
// A file that does not name its node inherits the given node name.
func loadFactsFile(path, format, nodeName string) (*catalog.FactSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts file: %w", err)
	}

	facts := &catalog.FactSet{}
	switch format {
	case "json":
		if err := json.Unmarshal(content, facts); err != nil {
			return nil, fmt.Errorf("failed to decode facts file: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(content, facts); err != nil {
			return nil, fmt.Errorf("failed to decode facts file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported facts format %q", format)
	}

	if facts.Name == "" {
		facts.Name = nodeName
	}
	return facts, nil
}
