package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/navwatch/internal/cdpcontrol"
	"github.com/dgnsrekt/navwatch/internal/controller"
	"github.com/dgnsrekt/navwatch/internal/events"
	"github.com/dgnsrekt/navwatch/internal/router"
	"github.com/dgnsrekt/navwatch/internal/views"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	Navigation(ctx context.Context) (controller.NavigationStatus, error)
	Redirect(ctx context.Context, url string, state json.RawMessage) error
	RedirectToRoot(ctx context.Context) error
	Poll(ctx context.Context) (router.TickResult, error)
	Routes(ctx context.Context) ([]router.Route, error)
	Views(ctx context.Context) ([]views.Stats, error)
	History(ctx context.Context) (controller.HistoryStatus, error)
	SetFragment(ctx context.Context, fragment string) (controller.HistoryStatus, error)
	Traverse(ctx context.Context, direction string) (controller.HistoryStatus, error)
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func NewServer(svc Service, broker *events.Broker) http.Handler {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger)
	mux.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Navigation Watcher API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(mux, cfg)

	mux.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if broker != nil {
		mux.Get("/api/v1/events", events.SSEHandler(broker))
	}

	registerHealthHandlers(api, broker)
	registerNavigationHandlers(api, svc)
	registerHistoryHandlers(api, svc)

	return mux
}

func registerHealthHandlers(api huma.API, broker *events.Broker) {
	type healthOutput struct {
		Body struct {
			Status      string `json:"status"`
			Subscribers int    `json:"subscribers"`
			Published   int64  `json:"published"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			if broker != nil {
				out.Body.Subscribers = broker.ClientCount()
				out.Body.Published = broker.Published()
			}
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeUnsupported:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	switch {
	case errors.Is(err, router.ErrStopped):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, views.ErrUnknownController):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
