package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/gpio"
)

func TestUnlockLevelNonZeroIsHigh(t *testing.T) {
	assert.Equal(t, gpio.High, unlockLevel(1))
}

func TestUnlockLevelZeroIsLow(t *testing.T) {
	assert.Equal(t, gpio.Low, unlockLevel(0))
}

func TestGetLocalIPReturnsAnAddress(t *testing.T) {
	ip, err := GetLocalIP()
	assert.NoError(t, err)
	assert.NotEmpty(t, ip)
}

func TestLifecycleStatesAreDistinct(t *testing.T) {
	states := []State{StateInit, StateRunning, StateStopping, StateStopped}
	seen := map[State]bool{}
	for _, s := range states {
		assert.False(t, seen[s])
		seen[s] = true
	}
}
