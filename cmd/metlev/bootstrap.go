package main

import (
	"MetLev/internal/config"
	"MetLev/internal/core"
	"MetLev/internal/event"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var protocolRequestID = uuid.MustParse("0f6a4c1e-92b3-4d7a-b8e5-3c2d1a9f7e60")

// bootstrapProtocol initializes the protocol under the configured authority
// and registers the collateral file's assets that are not registered yet.
func bootstrapProtocol(ctx context.Context, runner *core.Runner, cfg config.Config) error {
	if cfg.Authority == uuid.Nil {
		return nil
	}
	now := time.Now().Unix()

	var initialized bool
	if err := runner.Do(ctx, func(c *core.DeterministicCore) {
		initialized = c.Store().Protocol.Initialized()
	}); err != nil {
		return err
	}
	if !initialized {
		if _, err := runner.Submit(ctx, &event.ProtocolInitialized{
			RequestID: protocolRequestID,
			Authority: cfg.Authority,
			Timestamp: now,
		}); err != nil {
			return fmt.Errorf("initialize protocol: %w", err)
		}
		log.Printf("INFO: protocol initialized with authority %s", cfg.Authority)
	}

	if cfg.CollateralFile == "" {
		return nil
	}
	file, err := config.LoadCollateralFile(cfg.CollateralFile)
	if err != nil {
		return err
	}
	view, err := runner.View(ctx)
	if err != nil {
		return err
	}
	for _, evt := range file.Events(cfg.Authority, now) {
		if _, ok := view.Collateral[evt.Mint]; ok {
			continue
		}
		if _, err := runner.Submit(ctx, evt); err != nil {
			return fmt.Errorf("register collateral %s: %w", evt.Mint, err)
		}
		log.Printf("INFO: registered collateral %s (oracle %s)", evt.Mint, evt.Oracle)
	}
	return nil
}
