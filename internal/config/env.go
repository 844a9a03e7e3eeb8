// Package config loads environment configuration for the runtime.
//
// Variables are sourced from cascading .env files: the workspace .env has
// the highest precedence, then the agent home .env, then the CWD .env.
// Variables already present in the process environment are never overridden,
// so operators can always force a value from the shell.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvKeyAPIKey is the environment variable holding the LLM API key.
const EnvKeyAPIKey = "DELTA_API_KEY"

// EnvKeyBaseURL optionally overrides the chat-completion endpoint.
const EnvKeyBaseURL = "DELTA_BASE_URL"

// EnvKeyRunID is exported to context generators so they can correlate
// produced files with the run that requested them.
const EnvKeyRunID = "DELTA_RUN_ID"

// LoadEnv loads .env files for a run in cascading precedence:
//
//  1. <workspace>/.env
//  2. <agentHome>/.env
//  3. <cwd>/.env
//
// godotenv.Load never overwrites variables that are already set, so loading
// in this order makes earlier files win. The returned slice lists the files
// that were actually loaded, for diagnostic display by the caller.
func LoadEnv(workspace, agentHome string) []string {
	var candidates []string
	seen := map[string]bool{}

	add := func(dir string) {
		if dir == "" {
			return
		}
		p := filepath.Clean(filepath.Join(dir, ".env"))
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}

	add(workspace)
	add(agentHome)
	if cwd, err := os.Getwd(); err == nil {
		add(cwd)
	}

	var loaded []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}
