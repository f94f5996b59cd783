// ABOUTME: Minimal fake agent CLI for end-to-end testing — echoes prompts as stream-JSON.
// ABOUTME: Usage: fake-backend -p "prompt" --output-format stream-json [--resume token]

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	prompt := flag.String("p", "", "prompt text")
	outputFormat := flag.String("output-format", "text", "output format")
	resume := flag.String("resume", "", "session token to resume")
	flag.Bool("verbose", false, "ignored, accepted for CLI compatibility")
	flag.String("allowedTools", "", "ignored, accepted for CLI compatibility")
	flag.Parse()

	if *outputFormat != "stream-json" {
		fmt.Println(echoReply(*prompt))
		return
	}

	if err := run(*prompt, *resume); err != nil {
		log.Fatal(err)
	}
}

func run(prompt, resume string) error {
	// A real turn always mints a fresh session id, even when resuming.
	sessionID := uuid.New().String()
	enc := json.NewEncoder(os.Stdout)

	emit := func(v any) error {
		return enc.Encode(v)
	}

	if err := emit(map[string]any{
		"type":       "system",
		"subtype":    "init",
		"session_id": sessionID,
	}); err != nil {
		return err
	}

	reply := echoReply(prompt)
	if resume != "" {
		reply = fmt.Sprintf("(resumed %s) %s", resume, reply)
	}

	// Small delay to simulate streaming
	time.Sleep(50 * time.Millisecond)

	if err := emit(map[string]any{
		"type":       "assistant",
		"session_id": sessionID,
		"message": map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": reply},
			},
		},
	}); err != nil {
		return err
	}

	isError := strings.Contains(strings.ToLower(prompt), "fail")
	subtype := "success"
	if isError {
		subtype = "error"
	}
	return emit(map[string]any{
		"type":       "result",
		"subtype":    subtype,
		"session_id": sessionID,
		"result":     reply,
		"is_error":   isError,
	})
}

func echoReply(input string) string {
	if strings.Contains(strings.ToLower(input), "fail") {
		return "I could not complete that."
	}
	return fmt.Sprintf("Echo: %s", input)
}
