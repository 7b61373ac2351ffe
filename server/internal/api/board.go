package api

import (
	"context"
	"fmt"
	"time"

	"github.com/tewa-sim/tewa/internal/ranker"
	"github.com/tewa-sim/tewa/internal/store"
)

// BuildBoard ranks the newest record of every track for every scenario in
// st. It backs both GET /api/v1/board and the WebSocket stream.
func BuildBoard(ctx context.Context, st store.Store, topN int) (BoardResponse, error) {
	scenarios, err := st.Scenarios(ctx)
	if err != nil {
		return BoardResponse{}, fmt.Errorf("api: board: %w", err)
	}
	out := BoardResponse{
		Scenarios:   make([]BoardScenario, 0, len(scenarios)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, sc := range scenarios {
		groups, err := ranker.RankLatest(ctx, st, sc.ID, 0, topN)
		if err != nil {
			return BoardResponse{}, fmt.Errorf("api: board for scenario %d: %w", sc.ID, err)
		}
		out.Scenarios = append(out.Scenarios, BoardScenario{ScenarioID: sc.ID, Name: sc.Name, Groups: groups})
	}
	return out, nil
}
