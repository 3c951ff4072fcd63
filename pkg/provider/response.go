package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	"github.com/fleetbridge/bridge/pkg/types"
)

// parse extracts the textual response from a provider's raw stdout.
func parse(p types.Provider, stdout []byte) string {
	switch p {
	case types.ProviderCodex:
		return parseCodex(stdout)
	default:
		return parseGemini(stdout)
	}
}

// parseGemini treats the whole of stdout, trimmed, as the response.
func parseGemini(stdout []byte) string {
	return strings.TrimSpace(string(stdout))
}

// codexRecord is the subset of codex's streaming JSON event shape this
// parser cares about. Fields outside this set are ignored.
type codexRecord struct {
	Type string `json:"type"`
	Item struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
	Text string `json:"text"`
}

// parseCodex walks codex's newline-delimited structured events, collecting
// text from item.completed/agent_message records plus message and
// output_text records, joined with newlines. A line that fails to decode
// is skipped silently. If no text was extracted, the raw stdout, with
// surrounding whitespace trimmed, is returned as a fallback.
func parseCodex(stdout []byte) string {
	var lines []string

	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 64*1024), maxOutputBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec codexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		switch {
		case rec.Type == "item.completed" && rec.Item.Type == "agent_message":
			if rec.Item.Text != "" {
				lines = append(lines, rec.Item.Text)
			}
		case rec.Type == "message" || rec.Type == "output_text":
			if rec.Text != "" {
				lines = append(lines, rec.Text)
			}
		}
	}

	if len(lines) == 0 {
		return strings.TrimSpace(string(stdout))
	}
	return strings.Join(lines, "\n")
}
