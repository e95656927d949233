package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "init":
		handleInit(os.Args[2:])
	case "add":
		handleAdd(os.Args[2:])
	case "show":
		handleShow(os.Args[2:])
	case "search":
		handleSearch(os.Args[2:])
	case "rm":
		handleRemove(os.Args[2:])
	case "backup":
		handleBackup(os.Args[2:])
	case "restore":
		handleRestore(os.Args[2:])
	case "audit":
		handleAudit(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	case "version", "--version", "-v":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	usage := `docvault - encrypted document vault

Usage:
  docvault <command> [options]

Available Commands:
  init        Set up a new vault with a PIN
  add         Store a document
  show        Display a document
  search      Full-text search over documents
  rm          Delete a document (soft delete; --purge removes permanently)
  backup      Create an encrypted backup artifact
  restore     Restore the vault from a backup artifact (destructive)
  audit       Inspect the audit trail
  help        Show this help message
  version     Show version information

The vault PIN is read from the DOCVAULT_PIN environment variable or the
--pin flag. The configuration file defaults to ~/.docvault/config.yaml
and can be overridden with --config on any command.

Use "docvault <command> --help" for more information about a command.
`
	fmt.Print(usage)
}

func printVersion() {
	fmt.Println("docvault v1.0.0")
}
