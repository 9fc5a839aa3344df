package main

import (
	"net/http"

	"github.com/mealforge/backend/internal/completion"
	"github.com/mealforge/backend/internal/jobs"
	"github.com/mealforge/backend/internal/middleware"
	"github.com/mealforge/backend/internal/repository"
)

// RegisterV1Routes adds the /v1/ job API endpoints to the given mux.
// Middleware chain: APIKeyAuth -> (StartJobGuard on POST /v1/jobs only) ->
// handler. The completion callback is worker-facing and authenticates with
// the shared callback secret instead of an account API key.
func RegisterV1Routes(
	mux *http.ServeMux,
	apiKeyRepo *repository.APIKeyRepo,
	jobsHandler *jobs.Handler,
	completionHandler *completion.Handler,
	callbackSecret string,
) {
	auth := middleware.APIKeyAuth(apiKeyRepo)
	guard := middleware.StartJobGuard()
	callbackAuth := middleware.CallbackAuth(callbackSecret)

	mux.Handle("POST /v1/jobs", auth(guard(http.HandlerFunc(jobsHandler.Start))))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(jobsHandler.List)))
	mux.Handle("GET /v1/jobs/{id}", auth(http.HandlerFunc(jobsHandler.Get)))

	mux.Handle("POST /v1/jobs/{id}/callback", callbackAuth(http.HandlerFunc(completionHandler.Callback)))
}
