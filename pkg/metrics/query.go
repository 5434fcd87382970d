package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// TaskMetrics represents aggregated timing for a completed task.
type TaskMetrics struct {
	TaskID       string             `json:"task_id"`
	TotalSeconds float64            `json:"total_seconds"`
	PhaseSeconds map[string]float64 `json:"phase_seconds"`
}

// QueryService aggregates task metrics out of a Prometheus server.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a metrics query service against the given
// Prometheus base URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetTaskMetrics retrieves per-phase and total wall time for a task.
func (q *QueryService) GetTaskMetrics(ctx context.Context, taskID string) (*TaskMetrics, error) {
	metrics := &TaskMetrics{
		TaskID:       taskID,
		PhaseSeconds: make(map[string]float64),
	}

	phaseQuery := fmt.Sprintf(`sum by (phase) (dogwalker_phase_duration_seconds_sum{task_id=%q})`, taskID)
	phaseResult, _, err := q.queryAPI.Query(ctx, phaseQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query phase durations: %w", err)
	}

	if vector, ok := phaseResult.(model.Vector); ok {
		for _, sample := range vector {
			phase := string(sample.Metric["phase"])
			metrics.PhaseSeconds[phase] = float64(sample.Value)
			metrics.TotalSeconds += float64(sample.Value)
		}
	}

	return metrics, nil
}

// GetTerminalCounts returns terminal task counts by status over the
// lookback window.
func (q *QueryService) GetTerminalCounts(ctx context.Context, lookback time.Duration) (map[string]float64, error) {
	out := make(map[string]float64)

	query := fmt.Sprintf(`sum by (status) (increase(dogwalker_tasks_terminal_total[%s]))`, model.Duration(lookback))
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query terminal counts: %w", err)
	}

	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric["status"])] = float64(sample.Value)
		}
	}
	return out, nil
}
