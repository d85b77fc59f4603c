package marketplace_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/fieldwork/internal/adapters/exchange/executor"
	"github.com/okian/fieldwork/internal/adapters/exchange/marketplace"
	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/internal/domain/targeting"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeAuth hands out static headers and counts invalidations.
type fakeAuth struct {
	mu          sync.Mutex
	err         error
	invalidated int
}

func (a *fakeAuth) Headers(context.Context) (http.Header, error) {
	if a.err != nil {
		return nil, a.err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer test-token")
	h.Set("Lucid-Api-Version", "2025-12-18")
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (a *fakeAuth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidated++
}

type seen struct {
	method string
	path   string
	header http.Header
	body   string
}

type reply struct {
	status int
	header http.Header
	body   string
}

// vendorStub answers with scripted replies in order, repeating the last.
type vendorStub struct {
	mu      sync.Mutex
	replies []reply
	seen    []seen
	srv     *httptest.Server
}

func newVendorStub(replies ...reply) *vendorStub {
	s := &vendorStub{replies: replies}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.seen = append(s.seen, seen{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: string(body)})
		idx := len(s.seen) - 1
		if idx >= len(s.replies) {
			idx = len(s.replies) - 1
		}
		rep := s.replies[idx]
		s.mu.Unlock()

		for k, vs := range rep.header {
			w.Header()[k] = vs
		}
		w.WriteHeader(rep.status)
		_, _ = w.Write([]byte(rep.body))
	}))
	return s
}

func (s *vendorStub) requests() []seen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]seen(nil), s.seen...)
}

func noSleep(context.Context, time.Duration) error { return nil }

// sequentialKeys yields key-1, key-2, ...
func sequentialKeys() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("key-%d", n)
	}
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newClient(s *vendorStub, authn *fakeAuth, opts ...marketplace.Option) *marketplace.Client {
	exec := executor.New(executor.WithSleeper(noSleep))
	base := []marketplace.Option{
		marketplace.WithKeyGenerator(sequentialKeys()),
		marketplace.WithClock(func() time.Time { return fixedNow }),
	}
	c, err := marketplace.New(exec, authn, s.srv.URL, "acc_1", append(base, opts...)...)
	So(err, ShouldBeNil)
	return c
}

func sampleStudy() model.Study {
	return model.Study{
		ID:                                "study-42",
		Name:                              "Brand tracker",
		TargetCompletes:                   250,
		EstimatedIncidenceRate:            0.4,
		EstimatedLengthOfInterviewMinutes: 12,
	}
}

func TestCreateProject(t *testing.T) {
	Convey("Given a marketplace client", t, func() {
		authn := &fakeAuth{}
		ctx := context.Background()

		Convey("When a project is created", func() {
			stub := newVendorStub(reply{status: 201, body: `{"id":"prj_9","name":"Study A","project_manager_id":"pm_1"}`})
			defer stub.srv.Close()
			c := newClient(stub, authn)

			project, err := c.CreateProject(ctx, "Study A", "pm_1")

			Convey("Then it posts to the account projects path with an idempotency key", func() {
				So(err, ShouldBeNil)
				So(project, ShouldResemble, model.Project{ID: "prj_9", Name: "Study A", ProjectManagerID: "pm_1"})
				reqs := stub.requests()
				So(reqs, ShouldHaveLength, 1)
				So(reqs[0].method, ShouldEqual, http.MethodPost)
				So(reqs[0].path, ShouldEqual, "/accounts/acc_1/projects")
				So(reqs[0].header.Get(marketplace.HeaderIdempotencyKey), ShouldEqual, "key-1")
				So(reqs[0].header.Get("Authorization"), ShouldEqual, "Bearer test-token")
				So(reqs[0].body, ShouldEqual, `{"name":"Study A","project_manager_id":"pm_1"}`)
			})
		})

		Convey("When the study name is longer than the vendor limit", func() {
			stub := newVendorStub(reply{status: 201, body: `{"id":"prj_9"}`})
			defer stub.srv.Close()
			c := newClient(stub, authn)

			long := strings.Repeat("é", 150)
			project, err := c.CreateProject(ctx, long, "pm_1")

			Convey("Then the name is cut to 100 characters", func() {
				So(err, ShouldBeNil)
				So([]rune(project.Name), ShouldHaveLength, marketplace.MaxProjectNameLength)
				var sent map[string]string
				So(json.Unmarshal([]byte(stub.requests()[0].body), &sent), ShouldBeNil)
				So(sent["name"], ShouldEqual, strings.Repeat("é", 100))
			})
		})

		Convey("When the vendor fails transiently before accepting", func() {
			stub := newVendorStub(
				reply{status: 503, body: `{"message":"busy"}`},
				reply{status: 429, header: http.Header{"Retry-After": []string{"1"}}},
				reply{status: 201, body: `{"id":"prj_9"}`},
			)
			defer stub.srv.Close()
			c := newClient(stub, authn)

			_, err := c.CreateProject(ctx, "Study A", "pm_1")

			Convey("Then every attempt is byte-identical", func() {
				So(err, ShouldBeNil)
				reqs := stub.requests()
				So(reqs, ShouldHaveLength, 3)
				for _, r := range reqs[1:] {
					So(r.body, ShouldEqual, reqs[0].body)
					So(r.header.Get(marketplace.HeaderIdempotencyKey), ShouldEqual, "key-1")
					So(r.header.Get("Authorization"), ShouldEqual, reqs[0].header.Get("Authorization"))
					So(r.header.Get("Lucid-Api-Version"), ShouldEqual, reqs[0].header.Get("Lucid-Api-Version"))
				}
			})
		})

		Convey("When the method is called twice", func() {
			stub := newVendorStub(reply{status: 201, body: `{"id":"prj_9"}`})
			defer stub.srv.Close()
			c := newClient(stub, authn)

			_, _ = c.CreateProject(ctx, "Study A", "pm_1")
			_, _ = c.CreateProject(ctx, "Study A", "pm_1")

			Convey("Then each logical attempt has its own key", func() {
				reqs := stub.requests()
				So(reqs[0].header.Get(marketplace.HeaderIdempotencyKey), ShouldEqual, "key-1")
				So(reqs[1].header.Get(marketplace.HeaderIdempotencyKey), ShouldEqual, "key-2")
			})
		})

		Convey("When required input is missing", func() {
			stub := newVendorStub(reply{status: 201, body: `{"id":"prj_9"}`})
			defer stub.srv.Close()
			c := newClient(stub, authn)

			_, err := c.CreateProject(ctx, "Study A", "")

			Convey("Then nothing is sent", func() {
				So(errors.Is(err, marketplace.ErrInvalidRequest), ShouldBeTrue)
				So(stub.requests(), ShouldBeEmpty)
			})
		})

		Convey("When the vendor reply has no id", func() {
			stub := newVendorStub(reply{status: 201, body: `{}`})
			defer stub.srv.Close()
			c := newClient(stub, authn)

			_, err := c.CreateProject(ctx, "Study A", "pm_1")

			Convey("Then an invalid response error is returned", func() {
				So(errors.Is(err, marketplace.ErrInvalidResponse), ShouldBeTrue)
			})
		})
	})
}

func TestCreateTargetGroup(t *testing.T) {
	Convey("Given a marketplace client and a study without dates", t, func() {
		authn := &fakeAuth{}
		ctx := context.Background()
		stub := newVendorStub(reply{status: 201, body: `{"id":"tg_7","status":"draft"}`})
		defer stub.srv.Close()
		c := newClient(stub, authn)

		Convey("When a target group is created", func() {
			tg, err := c.CreateTargetGroup(ctx, "prj_9", sampleStudy(),
				"https://survey.example/s/{study_id}?rid=[%RID%]", "pm_1", "bu_1")

			Convey("Then the draft target group reflects the study", func() {
				So(err, ShouldBeNil)
				So(tg.ID, ShouldEqual, "tg_7")
				So(tg.Status, ShouldEqual, model.TargetGroupDraft)
				So(tg.FillingGoal, ShouldEqual, 250)
				So(tg.LiveURL, ShouldEqual, "https://survey.example/s/study-42?rid=[%RID%]")
				So(tg.TestURL, ShouldEqual, "https://survey.example/s/study-42?rid=[%RID%]&test=1")
				So(tg.Fielding.StartAt, ShouldEqual, fixedNow.Add(time.Hour))
				So(tg.Fielding.EndAt, ShouldEqual, fixedNow.Add(14*24*time.Hour))
				So(tg.Profile.Conditions, ShouldBeEmpty)
			})

			Convey("Then the payload carries the window, urls and an empty profile", func() {
				reqs := stub.requests()
				So(reqs, ShouldHaveLength, 1)
				So(reqs[0].path, ShouldEqual, "/accounts/acc_1/projects/prj_9/target-groups")
				So(reqs[0].header.Get(marketplace.HeaderIdempotencyKey), ShouldEqual, "key-1")

				var sent map[string]any
				So(json.Unmarshal([]byte(reqs[0].body), &sent), ShouldBeNil)
				So(sent["business_unit_id"], ShouldEqual, "bu_1")
				So(sent["project_manager_id"], ShouldEqual, "pm_1")
				So(sent["filling_goal"], ShouldEqual, 250.0)
				So(sent["locale"], ShouldEqual, "eng_us")
				So(sent["profile"], ShouldResemble, map[string]any{})
				So(sent["fielding_specification"], ShouldResemble, map[string]any{
					"start_at": "2026-05-04T11:00:00Z",
					"end_at":   "2026-05-18T10:00:00Z",
				})
			})
		})

		Convey("When the study has its own dates", func() {
			start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
			study := sampleStudy()
			study.StartDate, study.EndDate = &start, &end

			tg, err := c.CreateTargetGroup(ctx, "prj_9", study, "https://survey.example/s", "pm_1", "bu_1")

			Convey("Then they are used as the fielding window", func() {
				So(err, ShouldBeNil)
				So(tg.Fielding, ShouldResemble, model.FieldingWindow{StartAt: start, EndAt: end})
				So(tg.TestURL, ShouldEqual, "https://survey.example/s?test=1")
			})
		})

		Convey("When the study only sets a start beyond the default end", func() {
			start := fixedNow.Add(30 * 24 * time.Hour)
			study := sampleStudy()
			study.StartDate = &start

			tg, err := c.CreateTargetGroup(ctx, "prj_9", study, "https://survey.example/s", "pm_1", "bu_1")

			Convey("Then the default end follows the study start", func() {
				So(err, ShouldBeNil)
				So(tg.Fielding.StartAt, ShouldEqual, start)
				So(tg.Fielding.EndAt, ShouldEqual, start.Add(14*24*time.Hour))
			})
		})

		Convey("When the study only sets a start inside the default window", func() {
			start := fixedNow.Add(48 * time.Hour)
			study := sampleStudy()
			study.StartDate = &start

			tg, err := c.CreateTargetGroup(ctx, "prj_9", study, "https://survey.example/s", "pm_1", "bu_1")

			Convey("Then the end stays fourteen days from now", func() {
				So(err, ShouldBeNil)
				So(tg.Fielding.EndAt, ShouldEqual, fixedNow.Add(14*24*time.Hour))
			})
		})

		Convey("When survey url templates place the study id in different parts", func() {
			cases := []struct {
				name     string
				template string
				studyID  string
				live     string
				test     string
			}{
				{
					name:     "path segment next to a vendor placeholder",
					template: "https://survey.example/s/{study_id}/{rid}?x=1",
					studyID:  "study 7",
					live:     "https://survey.example/s/study%207/{rid}?x=1",
					test:     "https://survey.example/s/study%207/{rid}?x=1&test=1",
				},
				{
					name:     "path segment with a slash in the id",
					template: "https://survey.example/s/{study_id}",
					studyID:  "wave/2",
					live:     "https://survey.example/s/wave%2F2",
					test:     "https://survey.example/s/wave%2F2?test=1",
				},
				{
					name:     "query value",
					template: "https://survey.example/s?sid={study_id}&rid={rid}",
					studyID:  "a b&c",
					live:     "https://survey.example/s?sid=a+b%26c&rid={rid}",
					test:     "https://survey.example/s?sid=a+b%26c&rid={rid}&test=1",
				},
				{
					name:     "path and query",
					template: "https://survey.example/{study_id}/go?sid={study_id}",
					studyID:  "s 1",
					live:     "https://survey.example/s%201/go?sid=s+1",
					test:     "https://survey.example/s%201/go?sid=s+1&test=1",
				},
				{
					name:     "fragment after the path",
					template: "https://survey.example/s/{study_id}#intro",
					studyID:  "study-42",
					live:     "https://survey.example/s/study-42#intro",
					test:     "https://survey.example/s/study-42?test=1#intro",
				},
				{
					name:     "empty query",
					template: "https://survey.example/s/{study_id}?",
					studyID:  "study-42",
					live:     "https://survey.example/s/study-42?",
					test:     "https://survey.example/s/study-42?test=1",
				},
			}
			for _, tc := range cases {
				Convey("Then the urls are built for "+tc.name, func() {
					study := sampleStudy()
					study.ID = tc.studyID
					tg, err := c.CreateTargetGroup(ctx, "prj_9", study, tc.template, "pm_1", "bu_1")
					So(err, ShouldBeNil)
					So(tg.LiveURL, ShouldEqual, tc.live)
					So(tg.TestURL, ShouldEqual, tc.test)
				})
			}
		})

		Convey("When the study window is inverted", func() {
			start := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
			end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			study := sampleStudy()
			study.StartDate, study.EndDate = &start, &end

			_, err := c.CreateTargetGroup(ctx, "prj_9", study, "https://survey.example/s", "pm_1", "bu_1")

			Convey("Then it is rejected locally", func() {
				So(errors.Is(err, marketplace.ErrInvalidRequest), ShouldBeTrue)
				So(stub.requests(), ShouldBeEmpty)
			})
		})

		Convey("When the request is incomplete", func() {
			noGoal := sampleStudy()
			noGoal.TargetCompletes = 0
			cases := []struct {
				name     string
				project  string
				study    model.Study
				template string
				bu       string
			}{
				{"no project", "", sampleStudy(), "https://survey.example/s", "bu_1"},
				{"no filling goal", "prj_9", noGoal, "https://survey.example/s", "bu_1"},
				{"relative url", "prj_9", sampleStudy(), "/s/{study_id}", "bu_1"},
				{"no business unit", "prj_9", sampleStudy(), "https://survey.example/s", ""},
			}
			for _, tc := range cases {
				_, err := c.CreateTargetGroup(ctx, tc.project, tc.study, tc.template, "pm_1", tc.bu)
				So(errors.Is(err, marketplace.ErrInvalidRequest), ShouldBeTrue)
			}
			So(stub.requests(), ShouldBeEmpty)
		})

		Convey("When a custom translator is configured", func() {
			profile := model.TargetingProfile{Conditions: []model.ProfileCondition{{QuestionID: "42", Answers: []string{"1"}}}}
			c := newClient(stub, authn, marketplace.WithTranslator(targeting.TranslatorFunc(
				func(context.Context, model.AudienceDescriptor) (model.TargetingProfile, error) {
					return profile, nil
				})))

			tg, err := c.CreateTargetGroup(ctx, "prj_9", sampleStudy(), "https://survey.example/s", "pm_1", "bu_1")

			Convey("Then its profile is submitted", func() {
				So(err, ShouldBeNil)
				So(tg.Profile, ShouldResemble, profile)
				So(stub.requests()[0].body, ShouldContainSubstring, `"profile":{"conditions":[{"question_id":"42","answers":["1"]}]}`)
			})
		})
	})
}

func TestLaunchTargetGroup(t *testing.T) {
	end := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)

	Convey("Given a marketplace client", t, func() {
		authn := &fakeAuth{}
		ctx := context.Background()

		scenarios := []struct {
			name   string
			reply  reply
			jobID  string
			source model.LaunchJobSource
		}{
			{
				name:   "Location header",
				reply:  reply{status: 202, header: http.Header{"Location": []string{"https://api.example/v1/jobs/job_77"}}},
				jobID:  "job_77",
				source: model.LaunchJobFromLocation,
			},
			{
				name:   "job id in a 202 body",
				reply:  reply{status: 202, body: `{"job_id":"job_88"}`},
				jobID:  "job_88",
				source: model.LaunchJobFromBody,
			},
			{
				name:   "id in the body",
				reply:  reply{status: 202, body: `{"id":"job_99"}`},
				jobID:  "job_99",
				source: model.LaunchJobFromBody,
			},
			{
				name:   "no reference at all",
				reply:  reply{status: 204},
				jobID:  "pending-key-1",
				source: model.LaunchJobSynthesized,
			},
			{
				name:   "a body that is not a job reference",
				reply:  reply{status: 200, body: `accepted`},
				jobID:  "pending-key-1",
				source: model.LaunchJobSynthesized,
			},
		}

		for _, sc := range scenarios {
			Convey("When the vendor replies with "+sc.name, func() {
				stub := newVendorStub(sc.reply)
				defer stub.srv.Close()
				c := newClient(stub, authn)

				job, err := c.LaunchTargetGroup(ctx, "prj_9", "tg_7", end)

				Convey("Then a non-empty job id is returned", func() {
					So(err, ShouldBeNil)
					So(job.JobID, ShouldEqual, sc.jobID)
					So(job.Source, ShouldEqual, sc.source)

					reqs := stub.requests()
					So(reqs[0].path, ShouldEqual, "/accounts/acc_1/projects/prj_9/target-groups/tg_7/fielding-run-jobs/launch-from-draft")
					So(reqs[0].header.Get(marketplace.HeaderIdempotencyKey), ShouldEqual, "key-1")
					So(reqs[0].body, ShouldEqual, `{"end_fielding_date":"2026-05-20T00:00:00Z"}`)
				})
			})
		}

		Convey("When the end of fielding is missing", func() {
			stub := newVendorStub(reply{status: 204})
			defer stub.srv.Close()
			c := newClient(stub, authn)

			_, err := c.LaunchTargetGroup(ctx, "prj_9", "tg_7", time.Time{})

			So(errors.Is(err, marketplace.ErrInvalidRequest), ShouldBeTrue)
			So(stub.requests(), ShouldBeEmpty)
		})
	})
}

func TestGetTargetGroupOverview(t *testing.T) {
	Convey("Given a vendor with a live target group", t, func() {
		stub := newVendorStub(reply{status: 200, body: `{
			"id":"tg_7","name":"Brand tracker","status":"live",
			"statistics":{"filling_goal":250,"current_completes":40,"current_prescreens":120,
			"median_incidence_rate":0.31,"median_length_of_interview_seconds":700,
			"average_conversion_rate":0.2,"average_drop_off_rate":0.05}}`})
		defer stub.srv.Close()
		c := newClient(stub, &fakeAuth{})

		overview, err := c.GetTargetGroupOverview(context.Background(), "prj_9", "tg_7")

		Convey("Then the overview is decoded without an idempotency key", func() {
			So(err, ShouldBeNil)
			So(overview.Status, ShouldEqual, model.TargetGroupLive)
			So(overview.Statistics, ShouldResemble, model.TargetGroupStatistics{
				FillingGoal:                    250,
				CurrentCompletes:               40,
				CurrentPrescreens:              120,
				MedianIncidenceRate:            0.31,
				MedianLengthOfInterviewSeconds: 700,
				AverageConversionRate:          0.2,
				AverageDropOffRate:             0.05,
			})
			reqs := stub.requests()
			So(reqs[0].method, ShouldEqual, http.MethodGet)
			So(reqs[0].path, ShouldEqual, "/accounts/acc_1/projects/prj_9/target-groups/tg_7/overview")
			So(reqs[0].header.Get(marketplace.HeaderIdempotencyKey), ShouldBeEmpty)
		})
	})
}

func TestClientErrors(t *testing.T) {
	Convey("Given a vendor that rejects the token", t, func() {
		stub := newVendorStub(reply{status: 401, body: `{"code":"unauthorized","message":"token expired"}`})
		defer stub.srv.Close()
		authn := &fakeAuth{}
		c := newClient(stub, authn)

		_, err := c.GetTargetGroupOverview(context.Background(), "prj_9", "tg_7")

		Convey("Then the cached token is dropped and the vendor error surfaces", func() {
			apiErr, ok := executor.AsVendorAPIError(err)
			So(ok, ShouldBeTrue)
			So(apiErr.Status, ShouldEqual, http.StatusUnauthorized)
			So(apiErr.Detail.Message, ShouldEqual, "token expired")
			So(authn.invalidated, ShouldEqual, 1)
			So(stub.requests(), ShouldHaveLength, 1)
		})
	})

	Convey("Given a vendor that reports a missing target group", t, func() {
		stub := newVendorStub(reply{status: 404, body: `{"code":"not_found"}`})
		defer stub.srv.Close()
		authn := &fakeAuth{}
		c := newClient(stub, authn)

		_, err := c.GetTargetGroupOverview(context.Background(), "prj_9", "tg_missing")

		Convey("Then the error is typed as not found", func() {
			apiErr, ok := executor.AsVendorAPIError(err)
			So(ok, ShouldBeTrue)
			So(apiErr.NotFound(), ShouldBeTrue)
			So(authn.invalidated, ShouldEqual, 0)
		})
	})

	Convey("Given authentication is failing", t, func() {
		stub := newVendorStub(reply{status: 201, body: `{"id":"prj_9"}`})
		defer stub.srv.Close()
		authn := &fakeAuth{err: &executor.AuthenticationError{Err: errors.New("rejected")}}
		c := newClient(stub, authn)

		_, err := c.CreateProject(context.Background(), "Study A", "pm_1")

		Convey("Then the call fails before reaching the vendor", func() {
			So(executor.IsAuthentication(err), ShouldBeTrue)
			So(stub.requests(), ShouldBeEmpty)
		})
	})

	Convey("Given invalid construction arguments", t, func() {
		exec := executor.New()
		_, err := marketplace.New(nil, &fakeAuth{}, "https://api.example", "acc_1")
		So(err, ShouldNotBeNil)
		_, err = marketplace.New(exec, nil, "https://api.example", "acc_1")
		So(err, ShouldNotBeNil)
		_, err = marketplace.New(exec, &fakeAuth{}, "https://api.example", "")
		So(err, ShouldNotBeNil)
		_, err = marketplace.New(exec, &fakeAuth{}, "", "acc_1")
		So(err, ShouldNotBeNil)
	})
}
