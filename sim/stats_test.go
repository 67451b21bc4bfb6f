package sim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStatistics(t *testing.T) {
	records := []Statistics{
		{Prey: 400, Predator: 200, Grass: 5012},
		{Prey: 398, Predator: 197, Grass: 4990},
		{},
	}
	var buf bytes.Buffer

	require.NoError(t, WriteStatistics(&buf, records))

	assert.Equal(t, "400\t200\t5012\n398\t197\t4990\n0\t0\t0\n", buf.String())
}

func TestWriteStatistics_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStatistics(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestWriteStatistics_WriterError(t *testing.T) {
	err := WriteStatistics(failingWriter{}, []Statistics{{Prey: 1}})
	assert.Error(t, err)
}
