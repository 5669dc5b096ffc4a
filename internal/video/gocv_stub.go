//go:build !gocv

package video

import (
	"context"
	"fmt"
)

// Open always fails: OpenCV support is compiled out.
func (s GoCVSource) Open(ctx context.Context) (Stream, error) {
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", ErrNoDevice)
}
