// enforcer runs the gateway decision service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	enforcer "github.com/wso2/product-microgateway-sub011"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := enforcer.New(ctx, enforcer.Options{ConfigPath: *configPath})
	if err != nil {
		log.Errorf("startup failed: %v", err)
		os.Exit(1)
	}
	if err := e.Run(ctx); err != nil {
		log.Errorf("server failed: %v", err)
		os.Exit(1)
	}
}
