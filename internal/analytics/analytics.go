// Package analytics summarises the audit trail for the daily admin report.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"legit-bot/internal/audit"
)

// DailyStats holds the conversation statistics of one day.
type DailyStats struct {
	Date        string               `json:"date"`
	TotalFlows  int                  `json:"total_flows"`
	UniqueUsers int                  `json:"unique_users"`
	Flows       map[string]FlowStats `json:"flows"`
	// Sellers counts completed flows per seller username.
	Sellers map[string]int `json:"sellers"`
}

// FlowStats splits the finished conversations of one flow by outcome.
type FlowStats struct {
	Completed int `json:"completed"`
	Aborted   int `json:"aborted"`
	Cancelled int `json:"cancelled"`
}

func (f FlowStats) Total() int { return f.Completed + f.Aborted + f.Cancelled }

// AnalyzeDay aggregates events that happened on the calendar day of
// targetDate, in targetDate's location.
func AnalyzeDay(events []audit.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:    startOfDay.Format("2006-01-02"),
		Flows:   make(map[string]FlowStats),
		Sellers: make(map[string]int),
	}
	users := make(map[int64]bool)

	for _, ev := range events {
		if ev.Timestamp.Before(startOfDay) || !ev.Timestamp.Before(endOfDay) {
			continue
		}
		stats.TotalFlows++
		users[ev.UserID] = true

		fs := stats.Flows[ev.Flow]
		switch ev.Outcome {
		case audit.OutcomeCompleted:
			fs.Completed++
			if ev.Seller != "" {
				stats.Sellers[ev.Seller]++
			}
		case audit.OutcomeAborted:
			fs.Aborted++
		case audit.OutcomeCancelled:
			fs.Cancelled++
		}
		stats.Flows[ev.Flow] = fs
	}

	stats.UniqueUsers = len(users)
	return stats
}

// Summary renders the stats as the admin report message.
func (ds *DailyStats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Raport za %s\n\n", ds.Date)
	fmt.Fprintf(&b, "Rozmowy: %d\nUżytkownicy: %d\n", ds.TotalFlows, ds.UniqueUsers)

	if len(ds.Flows) > 0 {
		b.WriteString("\nPrzebieg (ukończone / przerwane / anulowane):\n")
		for _, name := range sortedKeys(ds.Flows) {
			fs := ds.Flows[name]
			fmt.Fprintf(&b, "- %s: %d / %d / %d\n", name, fs.Completed, fs.Aborted, fs.Cancelled)
		}
	}

	if len(ds.Sellers) > 0 {
		b.WriteString("\nNajaktywniejsi sprzedawcy:\n")
		names := sortedKeys(ds.Sellers)
		sort.SliceStable(names, func(i, j int) bool { return ds.Sellers[names[i]] > ds.Sellers[names[j]] })
		if len(names) > 5 {
			names = names[:5]
		}
		for _, name := range names {
			fmt.Fprintf(&b, "- @%s: %d\n", name, ds.Sellers[name])
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
