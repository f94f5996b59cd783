// ABOUTME: CLIBackend runs the agent as a subprocess and decodes its stream-JSON output.
// ABOUTME: Wire records are loosely typed and validated at the boundary before becoming Events.

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// maxLineSize bounds a single stream-JSON line. Result events carry the
// full response text, so the default bufio limit is too small.
const maxLineSize = 4 * 1024 * 1024

// CLIBackend invokes the agent CLI once per turn with line-delimited JSON
// output and converts the wire records into typed Events.
type CLIBackend struct {
	command string
	args    []string
	workdir string
	logger  *slog.Logger
}

// NewCLIBackend creates a backend that runs the given command for each
// turn. args are prepended to the per-turn flags. Pass nil logger for the
// default.
func NewCLIBackend(command string, args []string, workdir string, logger *slog.Logger) *CLIBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIBackend{
		command: command,
		args:    args,
		workdir: workdir,
		logger:  logger.With("component", "agent"),
	}
}

// wireEvent is the externally-sourced record shape. Every field is
// optional; validation happens before anything enters the typed domain.
type wireEvent struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype"`
	SessionID string       `json:"session_id"`
	Result    string       `json:"result"`
	IsError   bool         `json:"is_error"`
	Message   *wireMessage `json:"message"`
}

type wireMessage struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Invoke starts one agent turn as a subprocess. Events stream on the
// returned channel; the channel closes after the terminal event.
func (b *CLIBackend) Invoke(ctx context.Context, req *Request) (<-chan *Event, error) {
	args := append([]string{}, b.args...)
	args = append(args, "-p", req.Prompt, "--output-format", "stream-json", "--verbose")
	if req.SessionToken != "" {
		args = append(args, "--resume", req.SessionToken)
	}
	if len(req.Tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.Tools, ","))
	}

	cmd := exec.CommandContext(ctx, b.command, args...)
	cmd.Dir = b.workdir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent: %w", err)
	}

	b.logger.Debug("agent turn started",
		"command", b.command,
		"resumed", req.SessionToken != "")

	out := make(chan *Event, 16)
	go func() {
		defer close(out)

		terminal := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var wire wireEvent
			if err := json.Unmarshal(line, &wire); err != nil {
				b.logger.Warn("skipping malformed agent output", "error", err)
				continue
			}
			for _, ev := range convertWire(&wire) {
				if ev.Type == EventResult || ev.Type == EventError {
					terminal = true
				}
				out <- ev
			}
		}

		// A scan failure (an over-long line, a broken pipe) means nobody is
		// reading stdout anymore. Kill the child before Wait, or a process
		// still writing would block on the pipe and Wait would never return.
		scanErr := scanner.Err()
		if scanErr != nil {
			b.logger.Warn("agent output scan failed", "error", scanErr)
			_ = cmd.Process.Kill()
		}

		err := cmd.Wait()
		if terminal && scanErr == nil {
			return
		}
		// The stream ended without a usable terminal event: surface
		// whatever the process left behind as the failure reason.
		msg := "agent stream ended without a result"
		if scanErr != nil {
			msg = fmt.Sprintf("reading agent output: %v", scanErr)
		} else if err != nil {
			msg = fmt.Sprintf("agent exited: %v", err)
		}
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += ": " + s
		}
		out <- &Event{Type: EventError, Error: msg}
	}()

	return out, nil
}

// convertWire validates a wire record and maps it to zero or more Events.
// Unknown record types are dropped.
func convertWire(wire *wireEvent) []*Event {
	switch wire.Type {
	case "system":
		if wire.Subtype != "init" {
			return nil
		}
		return []*Event{{Type: EventInit, SessionID: wire.SessionID}}

	case "assistant":
		if wire.Message == nil {
			return nil
		}
		var events []*Event
		for _, block := range wire.Message.Content {
			if block.Type != "text" || block.Text == "" {
				continue
			}
			events = append(events, &Event{
				Type:      EventText,
				Text:      block.Text,
				SessionID: wire.SessionID,
			})
		}
		return events

	case "result":
		if wire.IsError {
			errText := wire.Result
			if errText == "" {
				errText = "agent reported an error result"
			}
			return []*Event{{Type: EventError, Error: errText, SessionID: wire.SessionID}}
		}
		return []*Event{{Type: EventResult, Text: wire.Result, SessionID: wire.SessionID}}

	default:
		return nil
	}
}

var _ Backend = (*CLIBackend)(nil)
