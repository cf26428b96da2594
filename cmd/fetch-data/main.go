package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"hfttools/internal/app"
	"hfttools/internal/di"
	hadapter "hfttools/internal/handler/adapter"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := app.Main(ctx, hadapter.NameFetch, di.InitializeFetch)
	stop()
	os.Exit(code)
}
