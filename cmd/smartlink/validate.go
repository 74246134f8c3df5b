package main

import (
	"fmt"
	"time"

	"github.com/apolo-dex/smartlink/adapters/backend"
	"github.com/apolo-dex/smartlink/service"
	"github.com/spf13/cobra"
)

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	redisClient, err := newRedisClient(cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	storage, closeStorage, err := newStorage(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStorage()

	backendClient, err := backend.NewClient(cfg.BackendURL, backend.WithLogger(logger))
	if err != nil {
		return err
	}

	creds := service.NewCredentialStore(storage, logger)
	validator := service.NewSessionValidator(creds, backendClient, nil, logger)
	if err := validator.Validate(cmd.Context()); err != nil {
		return fmt.Errorf("session is not usable: %w", err)
	}

	expiry := time.Unix(creds.Expiry(cmd.Context()), 0).UTC()
	fmt.Fprintf(cmd.OutOrStdout(), "session valid until %s\n", expiry.Format(time.RFC3339))
	return nil
}
