package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

// Client is the minimal surface the rest of the service needs from an LLM.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RepairStats tracks what it took to turn a raw model response into valid JSON.
type RepairStats struct {
	OriginalBytes int           `json:"original_bytes"`
	RepairedBytes int           `json:"repaired_bytes"`
	WasRepaired   bool          `json:"was_repaired"`
	RepairTime    time.Duration `json:"repair_time"`
}

// CompleteJSON prompts the client and unmarshals the response into target.
// Models wrap JSON in prose and code fences and emit trailing commas; the
// response goes through extraction and repair before parsing.
func CompleteJSON(ctx context.Context, client Client, prompt string, target any) (RepairStats, error) {
	var stats RepairStats

	raw, err := client.Complete(ctx, prompt)
	if err != nil {
		return stats, err
	}

	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return stats, fmt.Errorf("no JSON found in model response")
	}

	repaired, stats, err := repairJSON(jsonStr)
	if err != nil {
		return stats, err
	}
	if stats.WasRepaired {
		log.Debug().Int("original_bytes", stats.OriginalBytes).Int("repaired_bytes", stats.RepairedBytes).Msg("repaired model JSON output")
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats, fmt.Errorf("failed to parse model JSON after repair: %w", err)
	}
	return stats, nil
}

// repairJSON returns the input untouched when it already parses, otherwise
// runs it through the jsonrepair library.
func repairJSON(raw string) (string, RepairStats, error) {
	start := time.Now()
	stats := RepairStats{OriginalBytes: len(raw)}

	var parsed any
	if json.Unmarshal([]byte(raw), &parsed) == nil {
		stats.RepairedBytes = len(raw)
		stats.RepairTime = time.Since(start)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		stats.RepairTime = time.Since(start)
		return raw, stats, fmt.Errorf("failed to repair model JSON: %w", err)
	}

	stats.RepairedBytes = len(repaired)
	stats.RepairTime = time.Since(start)
	return repaired, stats, nil
}

// extractJSON pulls the JSON payload out of a mixed text response: code
// fences first, then the first balanced object or array.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		lines := strings.Split(raw, "\n")
		var jsonLines []string
		inCodeBlock := false

		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}

		if len(jsonLines) > 0 {
			return strings.Join(jsonLines, "\n")
		}
	}

	startIdx := strings.Index(raw, "{")
	if startIdx == -1 {
		startIdx = strings.Index(raw, "[")
		if startIdx == -1 {
			return ""
		}
	}

	openChar := raw[startIdx]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	count := 0
	for i := startIdx; i < len(raw); i++ {
		if raw[i] == openChar {
			count++
		} else if raw[i] == closeChar {
			count--
			if count == 0 {
				return raw[startIdx : i+1]
			}
		}
	}

	// incomplete structure, let the repair pass close it
	return raw[startIdx:]
}
