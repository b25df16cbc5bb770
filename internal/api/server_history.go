package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/navwatch/internal/controller"
)

// Simulated history endpoints. They answer 409 unless the memory backend is
// active.
func registerHistoryHandlers(api huma.API, svc Service) {
	type historyOutput struct {
		Body controller.HistoryStatus
	}

	huma.Register(api, huma.Operation{OperationID: "get-history", Method: http.MethodGet, Path: "/api/v1/history", Summary: "List simulated history entries", Tags: []string{"History"}},
		func(ctx context.Context, input *struct{}) (*historyOutput, error) {
			st, err := svc.History(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &historyOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-fragment", Method: http.MethodPost, Path: "/api/v1/history/fragment", Summary: "Simulate editing the URL fragment", Tags: []string{"History"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Fragment string `json:"fragment" required:"true" doc:"New fragment (e.g. #home)"`
			}
		}) (*historyOutput, error) {
			st, err := svc.SetFragment(ctx, input.Body.Fragment)
			if err != nil {
				return nil, mapErr(err)
			}
			return &historyOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "traverse-history", Method: http.MethodPost, Path: "/api/v1/history/{direction}", Summary: "Simulate back, forward or reload", Tags: []string{"History"}},
		func(ctx context.Context, input *struct {
			Direction string `path:"direction" enum:"back,forward,reload"`
		}) (*historyOutput, error) {
			st, err := svc.Traverse(ctx, input.Direction)
			if err != nil {
				return nil, mapErr(err)
			}
			return &historyOutput{Body: st}, nil
		})
}
