// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Chat    ChatCmd    `cmd:"" default:"1" help:"Start an interactive session"`
	Ask     AskCmd     `cmd:"" help:"Send a single prompt and print the answer"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Globals are the flags shared by session commands.
type Globals struct {
	Workspace string `short:"w" default:"." help:"Workspace directory"`
	Config    string `short:"c" help:"Config file path (default: <workspace>/engineer.toml)"`
	EnvFile   string `default:".env" help:"Env file loaded before reading the config"`
	Verbose   bool   `short:"v" help:"Log at debug level"`
}

// ChatCmd runs the interactive loop.
type ChatCmd struct {
	Globals `embed:""`
}

// AskCmd runs one turn.
type AskCmd struct {
	Globals `embed:""`
	Prompt  []string `arg:"" help:"Prompt text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
