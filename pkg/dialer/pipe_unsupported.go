//go:build !windows

package dialer

import (
	"context"
	"net"

	"hawser/pkg/helper/errors"
)

const pipeSupported = false

func dialPipe(ctx context.Context, path string) (net.Conn, error) {
	return nil, errors.NotSupportedf("named pipes are only available on windows")
}
