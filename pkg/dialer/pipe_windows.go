//go:build windows

package dialer

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

const pipeSupported = true

func dialPipe(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}
