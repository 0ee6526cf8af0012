package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"stashd/internal/logging"
	"stashd/internal/pidfile"
	"stashd/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to the daemon configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rctx := runtime.New(runtime.ModuleStore, 0)
	defer rctx.Release()

	if *configPath != "" {
		if err := rctx.Config().LoadFile(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	var pf *pidfile.File
	if path := rctx.Config().GetString("pid_file"); path != "" {
		var err error
		pf, err = pidfile.Write(path)
		if err != nil {
			log.Fatalf("write pidfile: %v", err)
		}
	}

	if err := rctx.Finish(); err != nil {
		log.Fatalf("finish init: %v", err)
	}
	logger := rctx.Logger()

	if *configPath != "" {
		if err := rctx.Config().WatchFile(ctx, *configPath, logger); err != nil {
			logger.Warn("config file watch unavailable", logging.Error(err))
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			logger.Info("reopening logs on SIGHUP")
			rctx.ReopenLogs()
		}
	}()

	<-ctx.Done()
	logger.Info("stashd shutting down")

	if pf != nil {
		if err := pf.Remove(); err != nil {
			logger.Warn("pidfile cleanup failed", logging.Error(err))
		}
	}
}
