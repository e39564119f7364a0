package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/configstore"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/queue"
)

// Tool inputs and outputs. Outputs carry only flat fields so the inferred
// output schemas stay simple.
type AnalyzeContentInput struct {
	Text     string `json:"text" jsonschema:"the content to evaluate"`
	Workflow string `json:"workflow" jsonschema:"workflow name such as community_chat or events"`
}

type TierSummary struct {
	Tier    string `json:"tier"`
	Name    string `json:"name"`
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
}

type AnalyzeContentOutput struct {
	Allowed  bool          `json:"allowed"`
	Action   string        `json:"action"`
	Reason   string        `json:"reason"`
	Priority string        `json:"priority,omitempty"`
	Tiers    []TierSummary `json:"tiers"`
}

type ListQueueInput struct {
	Status string `json:"status,omitempty" jsonschema:"pending, approved, rejected or all (default all)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of items to return (default 20)"`
}

type QueueSummary struct {
	ID          string `json:"id"`
	Workflow    string `json:"workflow"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Action      string `json:"action"`
	Reason      string `json:"reason"`
	SafeContent string `json:"safe_content"`
	CreatedAt   string `json:"created_at"`
}

type ListQueueOutput struct {
	Items []QueueSummary `json:"items"`
	Total int            `json:"total"`
}

type ReviewItemInput struct {
	ID     string `json:"id" jsonschema:"queue item id"`
	Action string `json:"action" jsonschema:"approved or rejected"`
	Notes  string `json:"notes,omitempty" jsonschema:"reviewer notes"`
}

type ReviewItemOutput struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ReviewedBy string `json:"reviewed_by"`
	Message    string `json:"message"`
}

type GetStatsInput struct{}

type GetStatsOutput struct {
	Pending    int `json:"pending"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	TodayTotal int `json:"today_total"`
}

// ModerationTools exposes the moderation service to MCP clients.
type ModerationTools struct {
	config   *configstore.Store
	queue    *queue.Service
	reviewer string
	logger   *zap.Logger
}

const defaultListLimit = 20

// AnalyzeContent dry-runs content against the current configuration.
// Nothing is enqueued or recorded.
func (t *ModerationTools) AnalyzeContent(ctx context.Context, _ *mcp.CallToolRequest, input AnalyzeContentInput) (*mcp.CallToolResult, AnalyzeContentOutput, error) {
	if input.Text == "" {
		return nil, AnalyzeContentOutput{}, errors.New("text is required")
	}
	d := t.config.TestEvaluate(ctx, input.Text, input.Workflow)
	out := AnalyzeContentOutput{
		Allowed:  d.Allowed,
		Action:   string(d.Action),
		Reason:   d.Reason,
		Priority: string(d.Priority),
		Tiers:    make([]TierSummary, 0, len(d.TierFlow)),
	}
	for _, r := range d.TierFlow {
		out.Tiers = append(out.Tiers, TierSummary{
			Tier:    string(r.Tier),
			Name:    r.Name,
			Action:  string(r.Action),
			Message: r.Message,
		})
	}
	return nil, out, nil
}

// ListQueue lists queue items, newest first.
func (t *ModerationTools) ListQueue(ctx context.Context, _ *mcp.CallToolRequest, input ListQueueInput) (*mcp.CallToolResult, ListQueueOutput, error) {
	status, ok := models.ParseQueueStatus(input.Status)
	if !ok {
		return nil, ListQueueOutput{}, fmt.Errorf("unknown status %q", input.Status)
	}
	items, err := t.queue.List(ctx, status)
	if err != nil {
		return nil, ListQueueOutput{}, fmt.Errorf("list queue: %w", err)
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	out := ListQueueOutput{Items: []QueueSummary{}, Total: len(items)}
	for i, it := range items {
		if i == limit {
			break
		}
		out.Items = append(out.Items, QueueSummary{
			ID:          it.ID,
			Workflow:    it.Workflow,
			Status:      string(it.Status),
			Priority:    string(it.Priority),
			Action:      string(it.OverallAction),
			Reason:      it.Reason,
			SafeContent: it.SafeContent,
			CreatedAt:   it.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// ReviewItem approves or rejects one pending item.
func (t *ModerationTools) ReviewItem(ctx context.Context, _ *mcp.CallToolRequest, input ReviewItemInput) (*mcp.CallToolResult, ReviewItemOutput, error) {
	item, err := t.queue.Review(ctx, input.ID, models.QueueStatus(input.Action), t.reviewer, input.Notes)
	if err != nil {
		return nil, ReviewItemOutput{}, fmt.Errorf("review %s: %w", input.ID, err)
	}
	t.logger.Info("queue item reviewed via MCP", zap.String("id", item.ID), zap.String("status", string(item.Status)))
	return nil, ReviewItemOutput{
		ID:         item.ID,
		Status:     string(item.Status),
		ReviewedBy: item.ReviewedBy,
		Message:    fmt.Sprintf("item %s marked %s", item.ID, item.Status),
	}, nil
}

// GetStats summarises the review queue.
func (t *ModerationTools) GetStats(ctx context.Context, _ *mcp.CallToolRequest, _ GetStatsInput) (*mcp.CallToolResult, GetStatsOutput, error) {
	stats, err := t.queue.Stats(ctx)
	if err != nil {
		return nil, GetStatsOutput{}, fmt.Errorf("queue stats: %w", err)
	}
	return nil, GetStatsOutput{
		Pending:    stats.Pending,
		Approved:   stats.Approved,
		Rejected:   stats.Rejected,
		TodayTotal: stats.TodayTotal,
	}, nil
}

// newMCPServer registers the moderation tools on a new server.
func newMCPServer(tools *ModerationTools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "modserve",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_content",
		Description: "Dry-run a piece of content through the moderation tiers without queueing it",
	}, tools.AnalyzeContent)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_queue",
		Description: "List moderation queue items, newest first",
	}, tools.ListQueue)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "review_item",
		Description: "Approve or reject a pending moderation queue item",
	}, tools.ReviewItem)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Summarise the moderation queue",
	}, tools.GetStats)
	return server
}
