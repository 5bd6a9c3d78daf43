package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage cutsync configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/cutsync/config.yaml (if set)
  2. ~/.config/cutsync/config.yaml

Environment variables override config file settings using the CUTSYNC_
prefix:
  CUTSYNC_REMOTE_TOKEN=...
  CUTSYNC_REMOTE_BASE_URL=https://docs.example.com
  CUTSYNC_SYNC_WORKERS=8`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration from all sources.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a commented default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one is created first.`,
	RunE: runConfigEdit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the effective configuration.
func runConfigShow(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if file := findConfigFile(); file != "" {
		fmt.Printf("Config file: %s\n\n", file)
	} else {
		fmt.Println("Config file: (using defaults, no file found)")
		fmt.Println()
	}

	token := "(not set)"
	if loaded.Remote.Token != "" {
		token = "(set)"
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("library_path:           %s\n", loaded.LibraryPath)
	fmt.Printf("store_path:             %s\n", loaded.StorePath)
	fmt.Printf("manifest_path:          %s\n", loaded.ManifestPath)
	fmt.Printf("hash.stream_threshold:  %s\n", loaded.Hash.StreamThreshold)
	fmt.Printf("hash.cache:             %t\n", loaded.Hash.Cache)
	fmt.Printf("sync.workers:           %d\n", loaded.Sync.Workers)
	fmt.Printf("sync.force:             %t\n", loaded.Sync.Force)
	fmt.Printf("remote.kind:            %s\n", loaded.Remote.Kind)
	fmt.Printf("remote.base_url:        %s\n", loaded.Remote.BaseURL)
	fmt.Printf("remote.token:           %s\n", token)
	fmt.Printf("remote.timeout:         %s\n", loaded.Remote.Timeout)
	fmt.Printf("remote.retries:         %d\n", loaded.Remote.Retries)
	fmt.Printf("remote.bucket:          %s\n", loaded.Remote.Bucket)
	fmt.Printf("remote.prefix:          %s\n", loaded.Remote.Prefix)
	fmt.Printf("remote.region:          %s\n", loaded.Remote.Region)
	fmt.Printf("remote.endpoint:        %s\n", loaded.Remote.Endpoint)
	fmt.Printf("remote.path_style:      %t\n", loaded.Remote.PathStyle)
	fmt.Printf("scan.exclude:           %v\n", loaded.Scan.Exclude)
	fmt.Printf("watch.debounce:         %s\n", loaded.Watch.Debounce)
	fmt.Printf("logging.level:          %s\n", loaded.Logging.Level)
	fmt.Printf("logging.file:           %s\n", loaded.Logging.File)
	fmt.Printf("journal.enabled:        %t\n", loaded.Journal.Enabled)
	fmt.Printf("journal.keep:           %d\n", loaded.Journal.Keep)
	fmt.Printf("output.format:          %s\n", loaded.Output.Format)
	fmt.Printf("output.color:           %t\n", loaded.Output.Color)

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	anyOverrides := false
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "CUTSYNC_") {
			name := env[:strings.Index(env, "=")]
			if name == "CUTSYNC_REMOTE_TOKEN" {
				fmt.Printf("%s=(hidden)\n", name)
			} else {
				fmt.Println(env)
			}
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Println("(none)")
	}

	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		printInfo("Config file already exists: %s", path)
		printInfo("Use 'cutsync config edit' to modify it.")
		return nil
	}

	if err := config.WriteDefault(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", path)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(_ *cobra.Command, _ []string) error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	fmt.Println(path)

	if _, err := os.Stat(path); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}

	return nil
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(_ *cobra.Command, _ []string) error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := config.WriteDefault(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", path, editor)

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}

	return nil
}

// findConfigFile returns the config file Load reads, or "" when none
// exists on the search path.
func findConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		path := filepath.Join(xdgConfigHome, "cutsync", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "cutsync", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
