package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
	"github.com/okian/fieldwork/pkg/metrics"
)

// Fielding window defaults for studies without dates.
const (
	DefaultStartOffset  = time.Hour
	DefaultFieldingSpan = 14 * 24 * time.Hour
)

// StudyIDPlaceholder is replaced with the study id in survey URL templates.
const StudyIDPlaceholder = "{study_id}"

const (
	defaultLocale       = "eng_us"
	testURLParam        = "test=1"
	opCreateTargetGroup = "create_target_group"
)

// CreateTargetGroup creates a draft target group under projectID. The result
// is never live; only LaunchTargetGroup moves it out of draft.
func (c *Client) CreateTargetGroup(
	ctx context.Context,
	projectID string,
	study model.Study,
	liveURLTemplate, projectManagerID, businessUnitID string,
) (model.TargetGroup, error) {
	if strings.TrimSpace(projectID) == "" {
		return model.TargetGroup{}, fmt.Errorf("%w: missing project id", ErrInvalidRequest)
	}

	start, end := c.fieldingWindow(study)
	liveURL := substituteStudyID(liveURLTemplate, study.ID)
	testURL, err := withTestFlag(liveURL)
	if err != nil {
		return model.TargetGroup{}, err
	}

	profile, err := c.translator.Translate(ctx, study.Audience)
	if err != nil {
		return model.TargetGroup{}, fmt.Errorf("%w: targeting profile: %v", ErrInvalidRequest, err)
	}

	payload := targetGroupRequest{
		Name:                             firstNonEmpty(study.Name, study.ID),
		BusinessUnitID:                   businessUnitID,
		ProjectManagerID:                 projectManagerID,
		Locale:                           firstNonEmpty(study.LocaleHint, defaultLocale),
		CollectsPII:                      study.CollectsPII,
		FillingGoal:                      study.TargetCompletes,
		ExpectedIncidenceRate:            study.EstimatedIncidenceRate,
		ExpectedLengthOfInterviewMinutes: study.EstimatedLengthOfInterviewMinutes,
		FieldingSpecification: fieldingSpecification{
			StartAt: start.UTC().Format(time.RFC3339),
			EndAt:   end.UTC().Format(time.RFC3339),
		},
		LiveURL:       liveURL,
		TestURL:       testURL,
		Profile:       profile,
		fieldingStart: start,
		fieldingEnd:   end,
	}
	if err := payload.Validate(); err != nil {
		return model.TargetGroup{}, err
	}

	key := c.newKey()
	resp, err := c.do(ctx, call{
		operation:      opCreateTargetGroup,
		method:         http.MethodPost,
		path:           c.accountPath("projects", projectID, "target-groups"),
		payload:        payload,
		idempotencyKey: key,
		fields: []logger.Field{
			logger.String("project_id", projectID),
			logger.String("study_id", study.ID),
		},
	})
	if err != nil {
		return model.TargetGroup{}, err
	}

	var out targetGroupResponse
	if err := decode(opCreateTargetGroup, resp, &out); err != nil {
		return model.TargetGroup{}, err
	}
	if out.ID == "" {
		return model.TargetGroup{}, missingID(opCreateTargetGroup)
	}

	tg := model.TargetGroup{
		ID:          out.ID,
		Name:        firstNonEmpty(out.Name, payload.Name),
		Status:      model.TargetGroupDraft,
		FillingGoal: payload.FillingGoal,
		Fielding:    model.FieldingWindow{StartAt: start, EndAt: end},
		LiveURL:     liveURL,
		TestURL:     testURL,
		Profile:     profile,
	}
	metrics.RecordResourceCreated("target_group")
	c.logger.Info(ctx, "target group created",
		logger.String("project_id", projectID),
		logger.String("target_group_id", tg.ID),
		logger.Int("filling_goal", tg.FillingGoal),
	)
	return tg, nil
}

// fieldingWindow takes the study dates, defaulting start to now+1h and end to
// now+14d when missing. A default end that would not follow a study-given
// start is anchored on that start instead.
func (c *Client) fieldingWindow(study model.Study) (time.Time, time.Time) {
	now := c.now()
	start := now.Add(DefaultStartOffset)
	if study.StartDate != nil && !study.StartDate.IsZero() {
		start = *study.StartDate
	}
	if study.EndDate != nil && !study.EndDate.IsZero() {
		return start, *study.EndDate
	}
	end := now.Add(DefaultFieldingSpan)
	if !end.After(start) {
		end = start.Add(DefaultFieldingSpan)
	}
	return start, end
}

// substituteStudyID replaces every StudyIDPlaceholder in template. The id is
// path-escaped before the query and query-escaped inside query or fragment.
func substituteStudyID(template, studyID string) string {
	queryAt := strings.IndexAny(template, "?#")
	var b strings.Builder
	rest, offset := template, 0
	for {
		i := strings.Index(rest, StudyIDPlaceholder)
		if i < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:i])
		if queryAt >= 0 && offset+i > queryAt {
			b.WriteString(url.QueryEscape(studyID))
		} else {
			b.WriteString(url.PathEscape(studyID))
		}
		n := i + len(StudyIDPlaceholder)
		rest, offset = rest[n:], offset+n
	}
}

// withTestFlag appends test=1 to the query of liveURL, ahead of any fragment.
// The URL is only parsed for validation; its text is kept as written so
// vendor placeholders match the live URL byte for byte.
func withTestFlag(liveURL string) (string, error) {
	if _, err := url.Parse(liveURL); err != nil {
		return "", fmt.Errorf("%w: live url %q: %v", ErrInvalidRequest, liveURL, err)
	}
	base, fragment := liveURL, ""
	if i := strings.IndexByte(liveURL, '#'); i >= 0 {
		base, fragment = liveURL[:i], liveURL[i:]
	}
	switch {
	case !strings.Contains(base, "?"):
		base += "?"
	case !strings.HasSuffix(base, "?") && !strings.HasSuffix(base, "&"):
		base += "&"
	}
	return base + testURLParam + fragment, nil
}

func missingID(operation string) error {
	return fmt.Errorf("%w: %s: response has no id", ErrInvalidResponse, operation)
}
