// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(42)
	assert.Equal(t, 42, <-ch1)
	assert.Equal(t, 42, <-ch2)
}

func TestBroker_CancelStopsDelivery(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Len())

	b.Publish("dropped")
}

func TestBroker_PublishNeverBlocks(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	_, cancel := b.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer; extra events are dropped, not
	// deadlocked on.
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(i)
	}
}

func TestBroker_SubscribeAfterClose(t *testing.T) {
	b := NewBroker[int]()
	b.Close()
	b.Close() // idempotent

	ch, cancel := b.Subscribe()
	defer cancel()
	_, open := <-ch
	require.False(t, open)
}
