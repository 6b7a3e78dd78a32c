package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantumflow/assistcore/internal/codeanalysis"
	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/logging"
)

const version = "0.2.0-alpha"

var (
	// Global flags
	configPath string
	verbose    bool
	userID     string

	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd starts the interactive session when run without a subcommand
var rootCmd = &cobra.Command{
	Use:   "assistcore",
	Short: "assistcore - adaptive command understanding for developer assistants",
	Long: `assistcore turns natural-language developer commands into routed actions.

It resolves references to earlier turns, recognizes intents and entities,
runs multi-step workflows, analyzes JavaScript/TypeScript fragments and
learns reusable patterns and corrections from every interaction.

Run without arguments to start the interactive session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(cfg.Log.Mode, level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

// analyzeCmd prints the structural model of a source file
var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Print the structural model and suggestions for a JS/TS file",
	Long: `Parses a JavaScript, TypeScript or TSX file and prints its structural model
(imports, exports, functions, classes, dependencies, complexity, idiom flags)
together with improvement suggestions as JSON.

The language is taken from the file extension unless --lang is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

// modifyCmd applies one structural transformation to a source file
var modifyCmd = &cobra.Command{
	Use:   "modify [file]",
	Short: "Apply a structural transformation to a JS/TS file",
	Long: `Applies one operation to a file and prints the result as JSON.
The file itself is never rewritten.

Operations:
  rename           --from old --to new
  add_function     --name fn [--params a,b] [--body "return a"] [--async]
  remove_function  --name fn
  add_import       --source mod [--default Name] [--specifiers a,b]

Example:
  assistcore modify src/auth.js --op rename --from login --to signIn`,
	Args: cobra.ExactArgs(1),
	RunE: runModify,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("assistcore %s\n", version)
	},
}

var (
	langFlag string
	modifyOp codeanalysis.Operation
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "~/.assistcore/config.yaml", "Config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", defaultUser(), "User the session learns for")

	analyzeCmd.Flags().StringVar(&langFlag, "lang", "", "Language: javascript, typescript or tsx")

	modifyCmd.Flags().StringVar(&langFlag, "lang", "", "Language: javascript, typescript or tsx")
	modifyCmd.Flags().StringVar(&modifyOp.Type, "op", "", "Operation: rename, add_function, remove_function, add_import")
	modifyCmd.Flags().StringVar(&modifyOp.From, "from", "", "Identifier to rename")
	modifyCmd.Flags().StringVar(&modifyOp.To, "to", "", "New identifier")
	modifyCmd.Flags().StringVar(&modifyOp.Name, "name", "", "Function name")
	modifyCmd.Flags().StringSliceVar(&modifyOp.Params, "params", nil, "Function parameters")
	modifyCmd.Flags().StringVar(&modifyOp.Body, "body", "", "Function body")
	modifyCmd.Flags().BoolVar(&modifyOp.Async, "async", false, "Declare the function async")
	modifyCmd.Flags().StringVar(&modifyOp.Source, "source", "", "Import source module")
	modifyCmd.Flags().StringVar(&modifyOp.Default, "default", "", "Default import binding")
	modifyCmd.Flags().StringSliceVar(&modifyOp.Specifiers, "specifiers", nil, "Named import specifiers")
	modifyCmd.MarkFlagRequired("op")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(modifyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// readSource loads a file and picks its language from --lang or the extension
func readSource(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	lang := langFlag
	if lang == "" {
		lang = filepath.Ext(path)
	}
	return string(data), codeanalysis.NormalizeLanguage(lang), nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	source, lang, err := readSource(args[0])
	if err != nil {
		return err
	}

	analyzer := codeanalysis.NewAnalyzer(cfg.Code, logger.Named("code"))
	analysis := analyzer.Analyze(cmd.Context(), source, lang)
	if analysis.Model.Error != "" {
		logger.Warn("file did not parse cleanly", "file", args[0], "error", analysis.Model.Error)
	}
	return printJSON(analysis)
}

func runModify(cmd *cobra.Command, args []string) error {
	source, lang, err := readSource(args[0])
	if err != nil {
		return err
	}

	op := modifyOp
	op.Type = strings.ToLower(strings.TrimSpace(op.Type))

	analyzer := codeanalysis.NewAnalyzer(cfg.Code, logger.Named("code"))
	result := analyzer.Modify(cmd.Context(), source, lang, []codeanalysis.Operation{op})
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("modify failed: %s", result.Error)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
