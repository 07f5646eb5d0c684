// Package analytics aggregates recorded interactions into daily usage reports.
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shoma-endo/lark-mcp-bot/internal/storage"
)

// DailyStats summarizes one UTC day of interactions.
type DailyStats struct {
	Date            string               `json:"date"`
	TotalMessages   int                  `json:"total_messages"`
	UniqueChats     int                  `json:"unique_chats"`
	UniqueUsers     int                  `json:"unique_users"`
	ToolCallsTotal  int                  `json:"tool_calls_total"`
	ToolCallsByName map[string]int       `json:"tool_calls_by_name"`
	Failures        int                  `json:"failures"`
	FailuresByKind  map[string]int       `json:"failures_by_kind"`
	UserStats       map[string]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID    string `json:"user_id"`
	Messages  int    `json:"messages"`
	ToolCalls int    `json:"tool_calls"`
	Failures  int    `json:"failures"`
}

// AnalyzeDailyLogs counts the events that fall on day. Events without a user message are ignored.
func AnalyzeDailyLogs(events []storage.Event, day time.Time) *DailyStats {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:            start.Format("2006-01-02"),
		ToolCallsByName: make(map[string]int),
		FailuresByKind:  make(map[string]int),
		UserStats:       make(map[string]UserStats),
	}
	chats := make(map[string]struct{})

	for _, ev := range events {
		if ev.Timestamp.Before(start) || !ev.Timestamp.Before(end) || ev.UserMessage == "" {
			continue
		}
		stats.TotalMessages++
		chats[ev.ChatID] = struct{}{}

		user := stats.UserStats[ev.UserID]
		user.UserID = ev.UserID
		user.Messages++
		for _, name := range ev.ToolCalls {
			stats.ToolCallsTotal++
			stats.ToolCallsByName[name]++
			user.ToolCalls++
		}
		if ev.ErrorKind != "" {
			stats.Failures++
			stats.FailuresByKind[ev.ErrorKind]++
			user.Failures++
		}
		stats.UserStats[ev.UserID] = user
	}

	stats.UniqueChats = len(chats)
	stats.UniqueUsers = len(stats.UserStats)
	return stats
}

// Summary renders a plain-text report.
func (ds *DailyStats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage for %s:\n", ds.Date)
	fmt.Fprintf(&b, "- messages: %d\n", ds.TotalMessages)
	fmt.Fprintf(&b, "- chats: %d\n", ds.UniqueChats)
	fmt.Fprintf(&b, "- users: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "- tool calls: %d\n", ds.ToolCallsTotal)
	fmt.Fprintf(&b, "- failures: %d\n", ds.Failures)

	if len(ds.ToolCallsByName) > 0 {
		b.WriteString("\nTools:\n")
		for _, name := range sortedKeys(ds.ToolCallsByName) {
			fmt.Fprintf(&b, "- %s: %d\n", name, ds.ToolCallsByName[name])
		}
	}
	if len(ds.FailuresByKind) > 0 {
		b.WriteString("\nFailures:\n")
		for _, kind := range sortedKeys(ds.FailuresByKind) {
			fmt.Fprintf(&b, "- %s: %d\n", kind, ds.FailuresByKind[kind])
		}
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
