//go:build !linux

package monitor

import "errors"

func lowerProcessPriority() error {
	return errors.New("lowering process priority is not supported on this platform")
}
