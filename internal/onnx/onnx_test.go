package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDevice(t *testing.T) {
	d, err := ParseDevice("")
	require.NoError(t, err)
	assert.Equal(t, CPU, d)
	assert.False(t, d.IsCUDA())

	d, err = ParseDevice("CUDA:1")
	require.NoError(t, err)
	assert.True(t, d.IsCUDA())
	assert.Equal(t, "1", d.deviceID())

	d, err = ParseDevice("cuda")
	require.NoError(t, err)
	assert.Equal(t, "0", d.deviceID())

	_, err = ParseDevice("tpu")
	assert.Error(t, err)
}

func TestOpenSessionMissingModel(t *testing.T) {
	_, err := OpenSession("/no/such/model.onnx", []string{"in"}, []string{"out"}, CPU)
	assert.Error(t, err)
}

func TestReleaseWithoutAcquire(t *testing.T) {
	assert.NoError(t, Release())
}
