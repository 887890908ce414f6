package simulate

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/tidwall/gjson"
)

// getLeaderboard retrieves the top N leaderboard entries as an administrator.
func getLeaderboard(ctx context.Context, config *Config, client *HTTPClient, stats *Stats) ([]Entry, error) {
	log.Printf("🥇 Getting top %d leaderboard entries...", config.TopN)

	admin := identity{id: config.AdminID, admin: true}
	res, err := client.do(ctx, admin, http.MethodGet, fmt.Sprintf("/admin/leaderboard?limit=%d", config.TopN), nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("unexpected leaderboard payload: %s", res.Raw)
	}

	leaderboard := make([]Entry, 0, len(res.Array()))
	res.ForEach(func(_, row gjson.Result) bool {
		leaderboard = append(leaderboard, Entry{
			Rank:       int(row.Get("rank").Int()),
			SessionID:  row.Get("session_id").String(),
			TotalScore: row.Get("total_score").Float(),
		})
		return true
	})

	stats.LeaderboardEntries = len(leaderboard)
	log.Printf("✅ Retrieved %d leaderboard entries", len(leaderboard))
	return leaderboard, nil
}
