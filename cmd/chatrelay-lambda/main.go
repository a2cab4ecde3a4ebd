package main

import (
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/errors"
	"github.com/teilomillet/chatrelay/server"
	"github.com/teilomillet/chatrelay/server/apigw"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := cfg.Logging.BuildLogger()
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	errors.SetLogger(logger)

	// No metrics endpoint is reachable from a function invocation.
	r, err := server.NewRelayBuilder(logger, nil).Build(cfg)
	if err != nil {
		logger.Fatal("Failed to build relay", zap.Error(err))
	}

	lambda.Start(apigw.NewHandler(r, logger).Handle)
}
