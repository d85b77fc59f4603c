package fieldrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	service "github.com/okian/fieldwork/internal/app"
	"github.com/okian/fieldwork/internal/config"
	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/internal/fieldrun"
	"github.com/okian/fieldwork/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

const studyYAML = `
id: study-42
name: Brand Tracker Q2
target_completes: 300
estimated_incidence_rate: 0.4
estimated_length_of_interview_minutes: 12
collects_pii: false
start_date: 2026-06-01T09:00:00Z
end_date: 2026-06-15T09:00:00Z
audience:
  countries: [US]
  min_age: 18
`

// fakeWorkflow scripts the vendor side of a run.
type fakeWorkflow struct {
	overviews []model.TargetGroupOverview
	failAt    string
	err       error

	calls     []string
	launchEnd time.Time
	liveURL   string
	pollCount int
}

func (f *fakeWorkflow) fail(step string) error {
	f.calls = append(f.calls, step)
	if f.failAt == step {
		return f.err
	}
	return nil
}

func (f *fakeWorkflow) CreateProject(_ context.Context, name, pm string) (model.Project, error) {
	if err := f.fail("project"); err != nil {
		return model.Project{}, err
	}
	return model.Project{ID: "prj_1", Name: name, ProjectManagerID: pm}, nil
}

func (f *fakeWorkflow) CreateTargetGroup(_ context.Context, _ string, study model.Study, tmpl, _, _ string) (model.TargetGroup, error) {
	if err := f.fail("target_group"); err != nil {
		return model.TargetGroup{}, err
	}
	f.liveURL = strings.ReplaceAll(tmpl, "{study_id}", study.ID)
	return model.TargetGroup{
		ID:          "tg_1",
		Status:      model.TargetGroupDraft,
		FillingGoal: study.TargetCompletes,
		Fielding:    model.FieldingWindow{StartAt: *study.StartDate, EndAt: *study.EndDate},
		LiveURL:     f.liveURL,
		TestURL:     f.liveURL + "?test=1",
	}, nil
}

func (f *fakeWorkflow) LaunchTargetGroup(_ context.Context, _, _ string, end time.Time) (model.LaunchJob, error) {
	if err := f.fail("launch"); err != nil {
		return model.LaunchJob{}, err
	}
	f.launchEnd = end
	return model.LaunchJob{JobID: "job_1", Source: model.LaunchJobFromLocation}, nil
}

func (f *fakeWorkflow) GetTargetGroupOverview(_ context.Context, _, _ string) (model.TargetGroupOverview, error) {
	if err := f.fail("overview"); err != nil {
		return model.TargetGroupOverview{}, err
	}
	i := f.pollCount
	if i >= len(f.overviews) {
		i = len(f.overviews) - 1
	}
	f.pollCount++
	return f.overviews[i], nil
}

func overview(status model.TargetGroupStatus, completes int) model.TargetGroupOverview {
	return model.TargetGroupOverview{
		ID:         "tg_1",
		Status:     status,
		Statistics: model.TargetGroupStatistics{FillingGoal: 300, CurrentCompletes: completes},
	}
}

func parseStudy() model.Study {
	study, err := fieldrun.ParseStudy(strings.NewReader(studyYAML))
	So(err, ShouldBeNil)
	return study
}

func newRunner(wf fieldrun.Workflow, sleeps *[]time.Duration) *fieldrun.Runner {
	return fieldrun.NewRunner(wf,
		fieldrun.WithSleeper(func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		}),
	)
}

func runConfig() *fieldrun.Config {
	return &fieldrun.Config{
		LiveURLTemplate:  "https://survey.example.test/s/{study_id}",
		ProjectManagerID: "pm_1",
		BusinessUnitID:   "bu_1",
		PollInterval:     5 * time.Second,
		MaxPolls:         4,
	}
}

func TestParseStudy(t *testing.T) {
	Convey("Given a study descriptor", t, func() {
		Convey("When it is complete", func() {
			study := parseStudy()

			Convey("Then every field is decoded", func() {
				So(study.ID, ShouldEqual, "study-42")
				So(study.TargetCompletes, ShouldEqual, 300)
				So(study.EstimatedIncidenceRate, ShouldEqual, 0.4)
				So(study.StartDate, ShouldNotBeNil)
				So(study.StartDate.Equal(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(study.Audience.Countries, ShouldResemble, []string{"US"})
				So(study.Audience.MinAge, ShouldEqual, 18)
			})
		})

		Convey("When it is invalid", func() {
			cases := map[string]string{
				"missing id":      "name: x\ntarget_completes: 1\n",
				"no completes":    "id: a\nname: x\n",
				"unknown key":     "id: a\nname: x\ntarget_completes: 1\ntarget_complete: 2\n",
				"inverted window": "id: a\nname: x\ntarget_completes: 1\nstart_date: 2026-06-15T00:00:00Z\nend_date: 2026-06-01T00:00:00Z\n",
				"empty":           "",
			}
			for name, doc := range cases {
				Convey("Then "+name+" is rejected", func() {
					_, err := fieldrun.ParseStudy(strings.NewReader(doc))
					So(errors.Is(err, fieldrun.ErrInvalidStudy), ShouldBeTrue)
				})
			}
		})

		Convey("When it is loaded from a file", func() {
			path := filepath.Join(t.TempDir(), "study.yaml")
			So(os.WriteFile(path, []byte(studyYAML), 0o600), ShouldBeNil)
			study, err := fieldrun.LoadStudy(path)

			So(err, ShouldBeNil)
			So(study.Name, ShouldEqual, "Brand Tracker Q2")
		})

		Convey("When the file does not exist", func() {
			_, err := fieldrun.LoadStudy(filepath.Join(t.TempDir(), "missing.yaml"))
			So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
		})
	})
}

func TestRunner_Field(t *testing.T) {
	Convey("Given a runner over a scripted vendor", t, func() {
		var sleeps []time.Duration
		study := parseStudy()
		ctx := context.Background()

		Convey("When the launch is confirmed on the third poll", func() {
			wf := &fakeWorkflow{overviews: []model.TargetGroupOverview{
				overview(model.TargetGroupDraft, 0),
				overview(model.TargetGroupDraft, 0),
				overview(model.TargetGroupLive, 0),
			}}
			sum, err := newRunner(wf, &sleeps).Field(ctx, study, runConfig())

			Convey("Then the steps run in order and polling stops", func() {
				So(err, ShouldBeNil)
				So(wf.calls, ShouldResemble, []string{"project", "target_group", "launch", "overview", "overview", "overview"})
				So(sum.Polls, ShouldEqual, 3)
				So(sleeps, ShouldResemble, []time.Duration{5 * time.Second, 5 * time.Second})
				So(sum.Overview.Status, ShouldEqual, model.TargetGroupLive)
				So(sum.Project.ID, ShouldEqual, "prj_1")
				So(sum.LaunchJob.JobID, ShouldEqual, "job_1")
			})

			Convey("Then the launch uses the target group's end date", func() {
				So(wf.launchEnd.Equal(*study.EndDate), ShouldBeTrue)
				So(wf.liveURL, ShouldEqual, "https://survey.example.test/s/study-42")
			})
		})

		Convey("When the group never leaves draft", func() {
			wf := &fakeWorkflow{overviews: []model.TargetGroupOverview{overview(model.TargetGroupDraft, 0)}}
			sum, err := newRunner(wf, &sleeps).Field(ctx, study, runConfig())

			Convey("Then the run fails after the poll budget", func() {
				So(errors.Is(err, fieldrun.ErrLaunchNotConfirmed), ShouldBeTrue)
				So(sum.Polls, ShouldEqual, 4)
				So(len(sleeps), ShouldEqual, 3)
			})
		})

		Convey("When polling until complete", func() {
			cfg := runConfig()
			cfg.UntilComplete = true

			Convey("And the goal is met", func() {
				wf := &fakeWorkflow{overviews: []model.TargetGroupOverview{
					overview(model.TargetGroupLive, 100),
					overview(model.TargetGroupLive, 300),
				}}
				sum, err := newRunner(wf, &sleeps).Field(ctx, study, cfg)

				So(err, ShouldBeNil)
				So(sum.Polls, ShouldEqual, 2)
				So(sum.Overview.Statistics.CurrentCompletes, ShouldEqual, 300)
			})

			Convey("And the vendor completes the group early", func() {
				wf := &fakeWorkflow{overviews: []model.TargetGroupOverview{overview(model.TargetGroupCompleted, 120)}}
				sum, err := newRunner(wf, &sleeps).Field(ctx, study, cfg)

				So(err, ShouldBeNil)
				So(sum.Polls, ShouldEqual, 1)
			})

			Convey("And the goal is never met", func() {
				wf := &fakeWorkflow{overviews: []model.TargetGroupOverview{overview(model.TargetGroupLive, 30)}}
				_, err := newRunner(wf, &sleeps).Field(ctx, study, cfg)

				So(errors.Is(err, fieldrun.ErrTargetNotReached), ShouldBeTrue)
			})
		})

		Convey("When a step fails", func() {
			boom := errors.New("boom")
			for _, step := range []string{"project", "target_group", "launch", "overview"} {
				wf := &fakeWorkflow{failAt: step, err: boom, overviews: []model.TargetGroupOverview{overview(model.TargetGroupLive, 0)}}
				_, err := newRunner(wf, &sleeps).Field(ctx, study, runConfig())

				So(errors.Is(err, boom), ShouldBeTrue)
				So(wf.calls[len(wf.calls)-1], ShouldEqual, step)
			}
		})

		Convey("When the wait is interrupted", func() {
			wf := &fakeWorkflow{overviews: []model.TargetGroupOverview{overview(model.TargetGroupDraft, 0)}}
			r := fieldrun.NewRunner(wf, fieldrun.WithSleeper(func(context.Context, time.Duration) error {
				return context.Canceled
			}))
			_, err := r.Field(ctx, study, runConfig())

			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(wf.pollCount, ShouldEqual, 1)
		})

		Convey("When the config is invalid", func() {
			wf := &fakeWorkflow{}
			r := newRunner(wf, &sleeps)

			_, err := r.Field(ctx, study, nil)
			So(errors.Is(err, fieldrun.ErrInvalidConfig), ShouldBeTrue)

			cfg := runConfig()
			cfg.MaxPolls = 0
			_, err = r.Field(ctx, study, cfg)
			So(errors.Is(err, fieldrun.ErrInvalidConfig), ShouldBeTrue)

			cfg = runConfig()
			cfg.LiveURLTemplate = " "
			_, err = r.Field(ctx, study, cfg)
			So(errors.Is(err, fieldrun.ErrInvalidConfig), ShouldBeTrue)
			So(wf.calls, ShouldBeEmpty)
		})
	})
}

func TestRunner_RunAndSummary(t *testing.T) {
	Convey("Given a study file and a scripted vendor", t, func() {
		dir := t.TempDir()
		studyPath := filepath.Join(dir, "study.yaml")
		So(os.WriteFile(studyPath, []byte(studyYAML), 0o600), ShouldBeNil)

		var sleeps []time.Duration
		wf := &fakeWorkflow{overviews: []model.TargetGroupOverview{overview(model.TargetGroupLive, 30)}}
		r := newRunner(wf, &sleeps)
		cfg := runConfig()
		cfg.StudyFile = studyPath

		Convey("When the run completes and the summary is written", func() {
			sum, err := r.Run(context.Background(), cfg)
			So(err, ShouldBeNil)

			out := filepath.Join(dir, "out", "summary.yaml")
			So(r.WriteSummary(context.Background(), out, sum), ShouldBeNil)

			Convey("Then the summary file holds the run's identifiers", func() {
				data, err := os.ReadFile(out)
				So(err, ShouldBeNil)

				var got map[string]any
				So(yaml.Unmarshal(data, &got), ShouldBeNil)
				So(got["study_id"], ShouldEqual, "study-42")
				So(got["project_id"], ShouldEqual, "prj_1")
				So(got["target_group_id"], ShouldEqual, "tg_1")
				So(got["launch_job_id"], ShouldEqual, "job_1")
				So(got["launch_job_source"], ShouldEqual, "location")
				So(got["status"], ShouldEqual, "live")
				So(got["current_completes"], ShouldEqual, 30)
				So(got["fielding_end"], ShouldEqual, "2026-06-15T09:00:00Z")
			})
		})

		Convey("When the study file is missing", func() {
			cfg.StudyFile = filepath.Join(dir, "nope.yaml")
			_, err := r.Run(context.Background(), cfg)

			So(err, ShouldNotBeNil)
			So(wf.calls, ShouldBeEmpty)
		})

		Convey("When the summary path is empty", func() {
			So(errors.Is(r.WriteSummary(context.Background(), "", fieldrun.Summary{}), fieldrun.ErrInvalidConfig), ShouldBeTrue)
		})
	})
}

func TestRunner_MockVendor(t *testing.T) {
	Convey("Given a mock-mode service", t, func() {
		cfg := config.New(context.Background())
		cfg.MockMode = true
		svc := service.New(cfg, service.WithLogger(logger.Nop()))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		Convey("When a study is fielded", func() {
			r := fieldrun.NewRunner(svc, fieldrun.WithLogger(logger.Nop()))
			sum, err := r.Field(context.Background(), parseStudy(), runConfig())

			Convey("Then the launch is confirmed on the first poll", func() {
				So(err, ShouldBeNil)
				So(sum.Project.ID, ShouldEqual, "prj_0001")
				So(sum.TargetGroup.ID, ShouldEqual, "tg_0001")
				So(sum.LaunchJob.JobID, ShouldEqual, "job_0001")
				So(sum.Overview.Status, ShouldEqual, model.TargetGroupLive)
				So(sum.Polls, ShouldEqual, 1)
			})
		})
	})
}
