package http_test

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/buildbuddy/internal/config"
	httpserver "github.com/fyrsmithlabs/buildbuddy/internal/http"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

// ExampleServer starts an offline server backed by the mock pipeline and
// shuts it down again.
func ExampleServer() {
	logger := logging.Nop()

	orch, err := pipeline.New(pipeline.Options{MockMode: true, Logger: logger})
	if err != nil {
		panic(err)
	}

	server, err := httpserver.NewServer(httpserver.Deps{Pipeline: orch}, logger, httpserver.Options{
		Server: config.ServerConfig{Host: "localhost", Port: 0},
	})
	if err != nil {
		panic(err)
	}

	go func() {
		_ = server.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		fmt.Println("shutdown error:", err)
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
