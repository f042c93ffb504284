//go:build !cgo

package embedding

import (
	"context"
	"fmt"
)

// ErrONNXUnavailable is returned by every ONNX call in binaries built with
// CGO_ENABLED=0. Use the http provider there.
var ErrONNXUnavailable = fmt.Errorf("embedding provider %q needs a cgo build with onnxruntime", ProviderONNX)

// ONNXEmbedder is unavailable without cgo.
type ONNXEmbedder struct{}

func NewONNXEmbedder(string, int, int) (*ONNXEmbedder, error) {
	return nil, ErrONNXUnavailable
}

func (*ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrONNXUnavailable
}

func (*ONNXEmbedder) Dimensions() int { return 0 }

func (*ONNXEmbedder) Close() error { return nil }
