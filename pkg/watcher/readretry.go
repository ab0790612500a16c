// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package watcher

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxAttempts     = 5
)

// ReadRetry reads a file with exponential backoff. Cloud-sync agents
// make files visible before they are fully readable; every consumer of a
// newly observed message file goes through this helper.
func ReadRetry(ctx context.Context, path string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval

	return backoff.Retry(ctx, func() ([]byte, error) {
		return os.ReadFile(path)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(retryMaxAttempts))
}
