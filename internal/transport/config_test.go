package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestNewConfig tests that NewConfig fills in defaults
func TestNewConfig(t *testing.T) {
	c := NewConfig("/dev/ttyS1", 8, 9, 10)

	assert.Equal(t, "/dev/ttyS1", c.Interface)
	assert.Equal(t, 5*time.Second, c.DefaultTimeout)
	assert.Equal(t, 10*time.Millisecond, c.PollInterval)
	assert.Equal(t, 100*time.Millisecond, c.SweepInterval)
	assert.Equal(t, 100*time.Millisecond, c.ErrorBackoff)
	assert.NoError(t, c.Validate())

	lc := c.linkConfig()
	assert.Equal(t, c.Peers, lc.Peers)
	lc.Peers[0] = 99
	assert.NotEqual(t, c.Peers[0], lc.Peers[0], "link config must not alias transport peers")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   error
	}{
		{"valid", Config{Interface: "mem"}, nil},
		{"empty_interface", Config{}, ErrEmptyInterface},
		{"negative_timeout", Config{Interface: "mem", DefaultTimeout: -1}, ErrNegativeInterval},
		{"negative_poll", Config{Interface: "mem", PollInterval: -time.Second}, ErrNegativeInterval},
		{"negative_sweep", Config{Interface: "mem", SweepInterval: -time.Second}, ErrNegativeInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
