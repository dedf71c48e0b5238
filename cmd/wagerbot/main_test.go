package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloseStack_ReverseOrderAndAllFailures(t *testing.T) {
	var (
		closers closeStack
		order   []string
	)
	storeErr := errors.New("value log sync failed")
	drainErr := errors.New("drain timeout")

	closers.push("ledger store", func() error {
		order = append(order, "ledger store")
		return storeErr
	})
	closers.push("wager events", func() error {
		order = append(order, "wager events")
		return drainErr
	})
	closers.push("http server", func() error {
		order = append(order, "http server")
		return nil
	})

	err := closers.closeAll()
	assert.Equal(t, []string{"http server", "wager events", "ledger store"}, order)
	assert.ErrorIs(t, err, storeErr)
	assert.ErrorIs(t, err, drainErr)
	assert.Contains(t, err.Error(), "close wager events: drain timeout")
}

func TestCloseStack_NoFailures(t *testing.T) {
	var closers closeStack
	closers.push("ledger store", func() error { return nil })
	assert.NoError(t, closers.closeAll())
	assert.NoError(t, closeStack(nil).closeAll())
}
