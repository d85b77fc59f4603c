package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
)

const opGetTargetGroupOverview = "get_target_group_overview"

// GetTargetGroupOverview fetches the current state and counters of a target
// group. It is a plain GET, safe to call repeatedly for polling.
func (c *Client) GetTargetGroupOverview(ctx context.Context, projectID, targetGroupID string) (model.TargetGroupOverview, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(targetGroupID) == "" {
		return model.TargetGroupOverview{}, fmt.Errorf("%w: missing project or target group id", ErrInvalidRequest)
	}

	resp, err := c.do(ctx, call{
		operation: opGetTargetGroupOverview,
		method:    http.MethodGet,
		path:      c.accountPath("projects", projectID, "target-groups", targetGroupID, "overview"),
		fields: []logger.Field{
			logger.String("project_id", projectID),
			logger.String("target_group_id", targetGroupID),
		},
	})
	if err != nil {
		return model.TargetGroupOverview{}, err
	}

	var out overviewResponse
	if err := decode(opGetTargetGroupOverview, resp, &out); err != nil {
		return model.TargetGroupOverview{}, err
	}
	overview := out.toModel()
	if overview.ID == "" {
		overview.ID = targetGroupID
	}
	return overview, nil
}
