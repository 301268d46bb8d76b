package main

import (
	"fmt"
	"os"

	"github.com/proofsync/proofsync/internal/config"
	"github.com/proofsync/proofsync/internal/update"
	"github.com/proofsync/proofsync/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "verify":
		cmd := NewVerifyCommand()
		if err := cmd.Run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "sync":
		cmd := NewSyncCommand()
		if err := cmd.Run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "format", "lint":
		cmd := NewOneshotCommand(command)
		if err := cmd.Run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "watch":
		cmd := NewWatchCommand()
		if err := cmd.Run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "configure":
		ok, err := config.Configure()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			os.Exit(1)
		}
		fmt.Println("Configuration saved.")

	case "update":
		if err := update.Update(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "version", "-v", "--version":
		fmt.Printf("proofsync v%s\n", version.Version)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("proofsync - shadow-branch sync and remote verification")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  proofsync <command>")
	fmt.Println()
	fmt.Println("Verification Commands:")
	fmt.Println("  verify <file>   Sync the workspace, then verify the file remotely")
	fmt.Println("  sync            Push pending changes to the shadow branch only")
	fmt.Println("  format <file>   Format a file through the remote formatter")
	fmt.Println("  lint <file>     Lint a file and print diagnostics")
	fmt.Println()
	fmt.Println("Daemon Commands:")
	fmt.Println("  watch           Watch the workspace and serve the dashboard")
	fmt.Println()
	fmt.Println("Other Commands:")
	fmt.Println("  configure       Interactive setup (server URLs, repository, token)")
	fmt.Println("  update          Update proofsync to the latest release")
	fmt.Println("  version         Print the version")
	fmt.Println("  help            Show this help")
}
