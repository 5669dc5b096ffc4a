//go:build !gocv

package video

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoCVSourceWithoutTag(t *testing.T) {
	_, err := GoCVSource{Device: "0"}.Open(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
}
