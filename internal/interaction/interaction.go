// Package interaction implements the ask-human handshake. In async mode
// the engine writes interaction/request.json and exits with the pause
// code; a human (or orchestrator) writes response.txt next to it, and the
// next continuation ingests it. In interactive mode the prompt is answered
// directly on the terminal and the file handshake is skipped.
package interaction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"
)

// Input types.
const (
	InputText         = "text"
	InputPassword     = "password"
	InputConfirmation = "confirmation"
)

const (
	requestFile  = "request.json"
	responseFile = "response.txt"
)

// Request is the document written when the engine pauses for human input.
type Request struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
	InputType string `json:"input_type"`
	Sensitive bool   `json:"sensitive"`
	Timestamp string `json:"timestamp"`
}

// NewRequest builds a request with a fresh ID and timestamp. An empty
// input type defaults to text.
func NewRequest(prompt, inputType string, sensitive bool) Request {
	if inputType == "" {
		inputType = InputText
	}
	return Request{
		RequestID: uuid.NewString(),
		Prompt:    prompt,
		InputType: inputType,
		Sensitive: sensitive,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Write persists the request into the interaction directory.
func Write(dir string, req Request) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create interaction directory: %w", err)
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal interaction request: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, requestFile), data, 0o644); err != nil {
		return fmt.Errorf("write interaction request: %w", err)
	}
	return nil
}

// Load reads the pending request, if any.
func Load(dir string) (Request, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, requestFile))
	if os.IsNotExist(err) {
		return Request{}, false, nil
	}
	if err != nil {
		return Request{}, false, fmt.Errorf("read interaction request: %w", err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, false, fmt.Errorf("parse interaction request: %w", err)
	}
	return req, true, nil
}

// ReadResponse reads response.txt. The engine only reads it after being
// re-invoked by the caller, so a torn concurrent write is not a concern.
func ReadResponse(dir string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, responseFile))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read interaction response: %w", err)
	}
	return string(data), true, nil
}

// Clear removes the interaction directory after the response has been
// journaled; the directory is present only while the run is paused.
func Clear(dir string) error {
	return os.RemoveAll(dir)
}

// PromptLocal asks the question directly on the terminal (interactive
// mode). Password input is read without echo when stdin is a terminal.
func PromptLocal(req Request) (string, error) {
	fmt.Fprintf(os.Stderr, "\n[ask_human] %s\n> ", req.Prompt)
	fd := int(os.Stdin.Fd())
	if req.InputType == InputPassword && term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(secret), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
