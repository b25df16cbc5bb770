package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/navwatch/internal/controller"
	"github.com/dgnsrekt/navwatch/internal/router"
	"github.com/dgnsrekt/navwatch/internal/views"
)

func registerNavigationHandlers(api huma.API, svc Service) {
	type navigationOutput struct {
		Body controller.NavigationStatus
	}
	huma.Register(api, huma.Operation{OperationID: "get-navigation", Method: http.MethodGet, Path: "/api/v1/navigation", Summary: "Current navigation snapshot", Tags: []string{"Navigation"}},
		func(ctx context.Context, input *struct{}) (*navigationOutput, error) {
			nav, err := svc.Navigation(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &navigationOutput{Body: nav}, nil
		})

	type redirectOutput struct {
		Body struct {
			Status string `json:"status"`
			URL    string `json:"url"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "redirect", Method: http.MethodPost, Path: "/api/v1/navigation/redirect", Summary: "Push a history entry", Description: "The bound controller is dispatched by the next poll tick.", Tags: []string{"Navigation"}},
		func(ctx context.Context, input *struct {
			Body struct {
				URL   string `json:"url" required:"true" doc:"Target URL or bare fragment (e.g. #home)"`
				State any    `json:"state,omitempty" doc:"History state; any JSON value"`
			}
		}) (*redirectOutput, error) {
			var state json.RawMessage
			if input.Body.State != nil {
				b, err := json.Marshal(input.Body.State)
				if err != nil {
					return nil, huma.Error400BadRequest("state is not encodable", err)
				}
				state = b
			}
			if err := svc.Redirect(ctx, input.Body.URL, state); err != nil {
				return nil, mapErr(err)
			}
			out := &redirectOutput{}
			out.Body.Status = "redirected"
			out.Body.URL = input.Body.URL
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "redirect-root", Method: http.MethodPost, Path: "/api/v1/navigation/root", Summary: "Navigate to the root fragment", Tags: []string{"Navigation"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.RedirectToRoot(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "redirected"
			return out, nil
		})

	type pollOutput struct {
		Body router.TickResult
	}
	huma.Register(api, huma.Operation{OperationID: "poll", Method: http.MethodPost, Path: "/api/v1/navigation/poll", Summary: "Run one reconciliation tick now", Tags: []string{"Navigation"}},
		func(ctx context.Context, input *struct{}) (*pollOutput, error) {
			res, err := svc.Poll(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &pollOutput{Body: res}, nil
		})

	type routesOutput struct {
		Body struct {
			Routes []router.Route `json:"routes"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-routes", Method: http.MethodGet, Path: "/api/v1/routes", Summary: "List the route table in match order", Tags: []string{"Routes"}},
		func(ctx context.Context, input *struct{}) (*routesOutput, error) {
			routes, err := svc.Routes(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &routesOutput{}
			out.Body.Routes = routes
			return out, nil
		})

	type viewsOutput struct {
		Body struct {
			Views []views.Stats `json:"views"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-views", Method: http.MethodGet, Path: "/api/v1/views", Summary: "List registered controllers and activations", Tags: []string{"Routes"}},
		func(ctx context.Context, input *struct{}) (*viewsOutput, error) {
			stats, err := svc.Views(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &viewsOutput{}
			out.Body.Views = stats
			return out, nil
		})
}
