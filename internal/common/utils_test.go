package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAny(t *testing.T) {
	assert.True(t, HasAny("No Data available at this location", "no data"))
	assert.True(t, HasAny("ZERO_RESULTS", "timeout", "zero_results"))
	assert.False(t, HasAny("API key not valid", "no data", ""))
	assert.False(t, HasAny("anything"))
}
