package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_RequiresURL(t *testing.T) {
	_, err := Snapshot(context.Background(), Options{})
	assert.EqualError(t, err, "capture: URL is required")
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{Settle: -time.Second}
	o.defaults()
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)
	assert.Zero(t, o.Settle)

	o = Options{Width: 800, Height: 600, Timeout: time.Second}
	o.defaults()
	assert.Equal(t, 800, o.Width)
	assert.Equal(t, time.Second, o.Timeout)
}
