package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/okian/fieldwork/internal/adapters/exchange/executor"
	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
	"github.com/okian/fieldwork/pkg/metrics"
)

// SynthesizedJobPrefix marks job ids made up locally when the vendor gave
// neither a Location header nor a job id.
const SynthesizedJobPrefix = "pending-"

const opLaunchTargetGroup = "launch_target_group"

// LaunchTargetGroup asks the vendor to move a draft target group to live
// with fielding ending at endFieldingAt. It returns as soon as the vendor
// accepts; the launch may still be pending and is confirmed by a later
// overview poll.
func (c *Client) LaunchTargetGroup(ctx context.Context, projectID, targetGroupID string, endFieldingAt time.Time) (model.LaunchJob, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(targetGroupID) == "" {
		return model.LaunchJob{}, fmt.Errorf("%w: missing project or target group id", ErrInvalidRequest)
	}
	if endFieldingAt.IsZero() {
		return model.LaunchJob{}, fmt.Errorf("%w: missing end of fielding", ErrInvalidRequest)
	}

	payload := launchRequest{EndFieldingDate: endFieldingAt.UTC().Format(time.RFC3339)}
	if err := payload.Validate(); err != nil {
		return model.LaunchJob{}, err
	}

	ids := []logger.Field{
		logger.String("project_id", projectID),
		logger.String("target_group_id", targetGroupID),
	}
	key := c.newKey()
	resp, err := c.do(ctx, call{
		operation: opLaunchTargetGroup,
		method:    http.MethodPost,
		path: c.accountPath("projects", projectID, "target-groups", targetGroupID,
			"fielding-run-jobs", "launch-from-draft"),
		payload:        payload,
		idempotencyKey: key,
		fields:         ids,
	})
	if err != nil {
		return model.LaunchJob{}, err
	}

	job := c.launchJob(ctx, resp, key, ids)
	metrics.RecordLaunchJob(string(job.Source))
	c.logger.Info(ctx, "target group launch accepted",
		append(ids, logger.String("job_id", job.JobID), logger.String("job_source", string(job.Source)))...)
	return job, nil
}

// launchJob normalizes the reply into a job handle: Location header first,
// then a job id in the body, then a placeholder derived from the key.
func (c *Client) launchJob(ctx context.Context, resp *executor.Response, key string, ids []logger.Field) model.LaunchJob {
	if id := jobIDFromLocation(resp.Header.Get("Location")); id != "" {
		return model.LaunchJob{JobID: id, Source: model.LaunchJobFromLocation}
	}

	if len(strings.TrimSpace(string(resp.Body))) > 0 {
		var out launchResponse
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			c.logger.Warn(ctx, "launch reply body is not a job reference", append(ids, logger.Error(err))...)
		} else if id := firstNonEmpty(out.JobID, out.ID); id != "" {
			return model.LaunchJob{JobID: id, Source: model.LaunchJobFromBody}
		}
	}

	c.logger.Warn(ctx, "launch reply has no job reference; synthesizing one", ids...)
	return model.LaunchJob{JobID: SynthesizedJobPrefix + key, Source: model.LaunchJobSynthesized}
}

// jobIDFromLocation returns the last path segment of an absolute or relative
// Location value.
func jobIDFromLocation(location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return ""
	}
	id := path.Base(p)
	if id == "." || id == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}
