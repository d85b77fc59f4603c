package marketplace

import (
	"context"
	"net/http"

	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
	"github.com/okian/fieldwork/pkg/metrics"
)

// MaxProjectNameLength is the vendor's limit on project names, in runes.
const MaxProjectNameLength = 100

const opCreateProject = "create_project"

// CreateProject creates the vendor project for a study. The caller must
// persist the returned id; no project exists unless this returns nil error.
func (c *Client) CreateProject(ctx context.Context, studyName, projectManagerID string) (model.Project, error) {
	payload := projectRequest{
		Name:             truncateRunes(studyName, MaxProjectNameLength),
		ProjectManagerID: projectManagerID,
	}
	if err := payload.Validate(); err != nil {
		return model.Project{}, err
	}

	key := c.newKey()
	resp, err := c.do(ctx, call{
		operation:      opCreateProject,
		method:         http.MethodPost,
		path:           c.accountPath("projects"),
		payload:        payload,
		idempotencyKey: key,
		fields:         []logger.Field{logger.String("project_name", payload.Name)},
	})
	if err != nil {
		return model.Project{}, err
	}

	var out projectResponse
	if err := decode(opCreateProject, resp, &out); err != nil {
		return model.Project{}, err
	}
	if out.ID == "" {
		return model.Project{}, missingID(opCreateProject)
	}

	project := model.Project{
		ID:               out.ID,
		Name:             firstNonEmpty(out.Name, payload.Name),
		ProjectManagerID: firstNonEmpty(out.ProjectManagerID, payload.ProjectManagerID),
	}
	metrics.RecordResourceCreated("project")
	c.logger.Info(ctx, "project created",
		logger.String("project_id", project.ID),
		logger.String("idempotency_key", key),
	)
	return project, nil
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
