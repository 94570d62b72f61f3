package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/eringen/inkpress"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("inkpress %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "inkpress.yaml", "path to the site config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := inkpress.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	// Secrets come from the environment so the config file can be committed.
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = inkpress.MustEnv("INKPRESS_ADMIN_PASSWORD")
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = inkpress.MustEnv("INKPRESS_SESSION_SECRET")
	}

	app := inkpress.New(cfg, inkpress.ViewFuncs{})
	defer app.Close()

	return app.Start()
}

func printUsage() {
	fmt.Println(`inkpress - A content-management blog platform built with Go, Echo, and templ

Usage:
  inkpress <command> [arguments]

Commands:
  serve [-config path]    Start the server (default config: inkpress.yaml)
  version                 Print the inkpress version
  help                    Show this help message

Examples:
  inkpress serve
  inkpress serve -config sites/myblog.yaml`)
}
