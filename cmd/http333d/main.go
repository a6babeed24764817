package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nczempin/httpd-go-uring/config"
	"github.com/nczempin/httpd-go-uring/logging"
	"github.com/nczempin/httpd-go-uring/server"
	"github.com/nczempin/httpd-go-uring/static"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	fmt.Println("Welcome to http333d, a small io_uring web server!")
	fmt.Println()
	fmt.Println("initializing:")
	fmt.Println("  parsing port number and static files directory...")

	log := logging.New("")

	prog := "http333d"
	if len(args) > 0 {
		prog = filepath.Base(args[0])
	}

	cfg, err := config.ParseArgs(args, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if stderrors.Is(err, config.ErrUsage) {
			fmt.Fprintln(os.Stderr, config.Usage(prog))
		}
		return 1
	}
	cfg.ApplyLogLevel(log)
	fmt.Printf("    port: %d\n", cfg.Port)
	fmt.Printf("    path: %s\n", cfg.StaticDir)

	// SIGPIPE is already ignored for sockets by the Go runtime
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &server.HttpServer{
		Config: cfg.Server(),
		Handler: &static.Handler{
			Root:    cfg.StaticDir,
			Indices: cfg.Indices,
			Logger:  log.WithField("component", "static"),
		},
		Logger: log.WithField("component", "server"),
	}

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"port":    cfg.Port,
			"backend": string(cfg.Backend),
		}).Error("Server failed to run")
		fmt.Println("server completed!  Exiting.")
		return 1
	}

	fmt.Println("server completed!  Exiting.")
	return 0
}
