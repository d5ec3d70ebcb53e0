package sender

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vodloop/hlsfetch/config"
	"github.com/vodloop/hlsfetch/log"
	"github.com/vodloop/hlsfetch/pipeline"
	"github.com/vodloop/hlsfetch/store"
)

// ListenAndServe runs the sender API until ctx is cancelled or the listener
// dies, then drains with a short shutdown window.
func ListenAndServe(ctx context.Context, cli config.Cli, coordinator *pipeline.Coordinator, info *store.DownloadInfo) error {
	router := NewSenderRouter(cli, coordinator, info)
	server := http.Server{Addr: cli.SenderAddr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoJobID(
		"Starting sender API",
		"version", config.Version,
		"host", cli.SenderAddr,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewSenderRouter(cli config.Cli, coordinator *pipeline.Coordinator, info *store.DownloadInfo) *httprouter.Router {
	router := httprouter.New()
	withLogging := LogRequest()

	handlers := &SenderHandlersCollection{
		VideoDir:    cli.VideoDir(),
		Coordinator: coordinator,
		Info:        info,
	}

	router.GET("/healthz", withLogging(handlers.Healthz()))
	router.GET("/videos", withLogging(handlers.Videos()))
	router.GET("/videos/:name", withLogging(handlers.Video()))
	router.Handler("GET", "/metrics", promhttp.Handler())

	return router
}
