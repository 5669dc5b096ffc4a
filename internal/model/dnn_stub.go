//go:build !gocv

package model

import (
	"context"
	"fmt"
)

// Load always fails: OpenCV support is compiled out.
func (l DNNLoader) Load(ctx context.Context) (Model, error) {
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", ErrModelLoad)
}
