// traychat - a terminal chat client for OpenAI-compatible completion APIs.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/traychat/traychat/internal/api"
	"github.com/traychat/traychat/internal/chat"
	"github.com/traychat/traychat/internal/config"
	"github.com/traychat/traychat/internal/secrets"
	"github.com/traychat/traychat/internal/store"
	"github.com/traychat/traychat/internal/ui"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "", "tui":
		runTUI()
	case "set-key":
		exitOn(handleSetKey(args[1:]))
	case "clear-key":
		exitOn(handleClearKey())
	case "key-status":
		exitOn(handleKeyStatus())
	case "config-path":
		exitOn(handleConfigPath())
	case "version", "-v", "--version":
		fmt.Printf("traychat %s (%s, %s)\n", Version, GitCommit, BuildDate)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`traychat - chat with an OpenAI-compatible API from your terminal

Usage:
  traychat              start the chat interface
  traychat set-key      store an API key (reads from stdin)
  traychat clear-key    remove the stored API key
  traychat key-status   show whether a key is stored
  traychat config-path  print the config file location
  traychat version      print version information

Configuration lives in ~/.traychat/config.toml (TRAYCHAT_DIR overrides
the directory). Edits to the file apply to a running instance.`)
}

// runTUI wires the application together and runs the interface.
//
// All collaborators are constructed here and passed down explicitly; no
// package holds global state.
func runTUI() {
	dir, err := config.Dir()
	exitOn(err)
	exitOn(config.EnsureDir())

	// The TUI owns the terminal, so the standard logger goes to a file.
	logFile, err := os.OpenFile(filepath.Join(dir, "traychat.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err == nil {
		log.SetOutput(logFile)
		defer logFile.Close()
	}

	cfg, err := config.Load()
	if err != nil {
		exitOn(fmt.Errorf("could not load config: %w", err))
	}

	creds := secrets.NewFileStore(credentialPath(dir))
	client := api.NewClient(creds).
		WithBaseURL(cfg.Chat.BaseURL).
		WithTimeout(cfg.Chat.RequestTimeout())
	log.Printf("main: starting traychat %s, key fingerprint %s", Version, client.KeyFingerprint())

	history := store.New(dir).WithLimits(cfg.Retention.MaxSessions, cfg.Retention.MaxMessages)
	if err := history.Load(); err != nil {
		exitOn(fmt.Errorf("could not load chat history: %w", err))
	}

	ctrl := chat.NewController(client, history, cfg)
	m := ui.New(cfg, ctrl, history)

	p := tea.NewProgram(m, tea.WithAltScreen())

	// Hot-reload config edits into the running program. A failed watch is
	// not fatal; changes then require a restart.
	if cfgPath, err := config.Path(); err == nil {
		watcher, werr := config.NewWatcher(cfgPath, func(next *config.Config) {
			p.Send(ui.ConfigReloadedMsg{Config: next})
		})
		if werr == nil {
			werr = watcher.Watch()
		}
		if werr != nil {
			log.Printf("main: config watch unavailable: %v", werr)
		} else {
			defer watcher.Close()
		}
	}

	if _, err := p.Run(); err != nil {
		exitOn(fmt.Errorf("could not run traychat: %w", err))
	}
}

// credentialPath returns where the API key file lives under the config dir.
func credentialPath(dir string) string {
	return filepath.Join(dir, "credentials", "api_key")
}

// =============================================================================
// KEY MANAGEMENT COMMANDS
// =============================================================================

// handleSetKey reads a candidate key from stdin, probes it against the
// configured endpoint, and stores it on success.
// SECURITY: The key is never echoed or logged; output shows the masked
// fingerprint only.
func handleSetKey(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("set-key takes no arguments; the key is read from stdin so it stays out of shell history")
	}

	fmt.Fprint(os.Stderr, "Paste your API key and press enter: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("could not read key: %w", err)
	}
	candidate := strings.TrimSpace(line)

	if !secrets.LooksLikeKey(candidate) {
		return fmt.Errorf("that does not look like an API key (expected at least %d printable characters with no spaces)", secrets.MinKeyLength)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	creds, err := credentialStore()
	if err != nil {
		return err
	}

	client := api.NewClient(creds).WithBaseURL(cfg.Chat.BaseURL)
	ok, err := client.TestCredential(context.Background(), candidate)
	if err != nil {
		return fmt.Errorf("could not verify the key against %s: %w", cfg.Chat.BaseURL, err)
	}
	if !ok {
		return fmt.Errorf("the key was rejected by %s", cfg.Chat.BaseURL)
	}

	if err := creds.Set(candidate); err != nil {
		return err
	}
	fmt.Printf("Key stored: %s\n", secrets.Masked(candidate))
	return nil
}

func handleClearKey() error {
	creds, err := credentialStore()
	if err != nil {
		return err
	}
	if err := creds.Delete(); err != nil {
		return err
	}
	fmt.Println("Key removed.")
	return nil
}

func handleKeyStatus() error {
	creds, err := credentialStore()
	if err != nil {
		return err
	}
	secret, ok := creds.Get()
	if !ok {
		fmt.Println("No API key stored. Run 'traychat set-key' to add one.")
		return nil
	}
	fmt.Printf("Key stored: %s\n", secrets.Masked(secret))
	return nil
}

func handleConfigPath() error {
	path, err := config.Path()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func credentialStore() (*secrets.FileStore, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return secrets.NewFileStore(credentialPath(dir)), nil
}
