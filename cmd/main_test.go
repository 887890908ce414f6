package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/skillcheck/internal/adapters/http/api"
	app "github.com/okian/skillcheck/internal/app"
	"github.com/okian/skillcheck/internal/config"
	"github.com/okian/skillcheck/pkg/logger"
)

func TestMainWiring(t *testing.T) {
	convey.Convey("Given configuration loaded from the environment", t, func() {
		_ = logger.Init()
		_ = os.Setenv("SKILLCHECK_ADDR", ":8181")
		_ = os.Setenv("SKILLCHECK_REVIEW_WORKER_COUNT", "1")
		_ = os.Setenv("SKILLCHECK_ORACLE_LATENCY_MIN_MS", "0")
		_ = os.Setenv("SKILLCHECK_ORACLE_LATENCY_MAX_MS", "1")
		defer func() {
			for _, k := range []string{
				"SKILLCHECK_ADDR", "SKILLCHECK_REVIEW_WORKER_COUNT",
				"SKILLCHECK_ORACLE_LATENCY_MIN_MS", "SKILLCHECK_ORACLE_LATENCY_MAX_MS",
			} {
				_ = os.Unsetenv(k)
			}
		}()

		ctx := context.Background()
		cfg, err := config.Load(ctx)
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.Addr, convey.ShouldEqual, ":8181")

		opts, err := app.ConfigOptions(cfg)
		convey.So(err, convey.ShouldBeNil)
		svc := app.New(append(opts, app.WithLogger(logger.Discard()))...)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(newMux(ctx, svc, cfg))
		defer srv.Close()

		convey.Convey("When a candidate walks through the HTTP API", func() {
			call := func(method, path, body string) *http.Response {
				req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
				convey.So(err, convey.ShouldBeNil)
				req.Header.Set(api.HeaderCandidateID, "cand-1")
				resp, err := http.DefaultClient.Do(req)
				convey.So(err, convey.ShouldBeNil)
				return resp
			}

			resp := call(http.MethodPost, "/sessions", `{"session_id":"http-1"}`)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusCreated)

			resp = call(http.MethodPost, "/sessions/http-1/stages/letter/begin", "")
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusConflict)

			resp = call(http.MethodPost, "/sessions/http-1/stages/typing/begin", "")
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			resp = call(http.MethodPost, "/sessions/http-1/stages/typing/submit", `{"typing":{"wpm":60,"accuracy":100}}`)
			var result map[string]interface{}
			convey.So(json.NewDecoder(resp.Body).Decode(&result), convey.ShouldBeNil)
			_ = resp.Body.Close()

			convey.Convey("Then the typing stage is graded", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(result["raw_score"], convey.ShouldEqual, 50.0)
			})
		})

		convey.Convey("When scraping operational endpoints", func() {
			for _, path := range []string{"/healthz", "/metrics", "/stats", "/openapi.yaml", "/api-docs"} {
				resp, err := http.Get(srv.URL + path)
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}
