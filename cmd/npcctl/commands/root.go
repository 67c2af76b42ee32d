package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/lexiqai/dialogue-gateway/internal/catalog"
	"github.com/lexiqai/dialogue-gateway/internal/config"
	"github.com/lexiqai/dialogue-gateway/internal/observability"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	catalogFile string
	outputJSON  bool
	verbose     bool

	// Logs stay off stdout so --json output can be piped
	logOutput io.Writer = os.Stderr
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "npcctl",
	Short: "NPC dialogue pipeline CLI tool",
	Long: `npcctl - talk to NPCs through the same pipeline the gateway runs.

A question is sent to the text generation service with the NPC persona,
the reply is synthesized with the NPC voice, and the audio is decoded to PCM.

Examples:
  # Ask a catalog NPC and save the reply
  npcctl ask --npc ferryman "Can I cross the river?" -o reply.wav

  # Ask with an explicit persona
  npcctl ask --persona "You are a tired nurse." --voice Leda "Where am I?"

  # List NPCs and voices
  npcctl voices --catalog npcs.yaml

  # Decode a saved payload
  npcctl decode payload.json -o reply.wav
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "warn"
		if verbose {
			level = "debug"
		}
		observability.InitLoggerTo(logOutput, level, true)
	},
}

// Execute adds all child commands to the root command and runs it
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "NPC catalog file (default: $NPC_CATALOG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(voicesCmd)
	rootCmd.AddCommand(decodeCmd)
}

// loadCatalog loads the catalog named by --catalog or NPC_CATALOG_PATH
func loadCatalog() (*catalog.Catalog, error) {
	path := catalogFile
	if path == "" {
		path = config.GetEnv("NPC_CATALOG_PATH", "")
	}
	if path == "" {
		return catalog.Empty(), nil
	}
	return catalog.Load(path)
}

// printJSON writes v as indented JSON to stdout
func printJSON(v interface{}) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// saveToFile writes data, creating parent directories
func saveToFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}
