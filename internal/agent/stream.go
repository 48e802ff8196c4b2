package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
)

// resultMessage is the terminal message of the agent's stream-json
// output. Fields beyond these are ignored.
type resultMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
}

// parseResult scans a JSONL stream for the last result-typed message.
// Returns nil when the stream holds none; unparseable lines are skipped
// because the agent interleaves non-JSON diagnostics when verbose.
func parseResult(r io.Reader) (*resultMessage, error) {
	scanner := bufio.NewScanner(r)
	// Agent messages can carry whole file contents on one line.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var result *resultMessage
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg resultMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Type == "result" {
			m := msg
			result = &m
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// parseResultFile reads the agent's output file for its result message.
func parseResultFile(path string) (*resultMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &faults.FilesystemError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()
	return parseResult(f)
}
