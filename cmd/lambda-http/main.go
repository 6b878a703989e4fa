package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"portal-gateway/internal/bootstrap"
	"portal-gateway/internal/shared/config"
	"portal-gateway/internal/shared/server/respond"
)

const sweepEvery = time.Minute

var (
	initOnce  sync.Once
	initErr   error
	app       *bootstrap.App
	ginLambda *ginadapter.GinLambdaV2
	lastSweep time.Time
)

func initApp() {
	built, err := bootstrap.Build(config.Load())
	if err != nil {
		initErr = err
		return
	}
	app = built
	ginLambda = ginadapter.NewV2(app.Router)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("lambda: bootstrap failed: %v", initErr)
		return errorResponse(http.StatusInternalServerError, "bootstrap_failed", "Service unavailable"), nil
	}
	housekeeping(ctx)
	return ginLambda.ProxyWithContext(ctx, req)
}

// housekeeping runs the janitor work inline: the runtime freezes background
// goroutines between invocations, and one container serves one request at a
// time.
func housekeeping(ctx context.Context) {
	if time.Since(lastSweep) < sweepEvery {
		return
	}
	lastSweep = time.Now()
	app.Registry.Sweep(ctx)
	app.RateLimiter.Prune()
}

func errorResponse(status int, code, message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{Error: respond.ErrorBody{Code: code, Message: message}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	lambda.Start(handler)
}
