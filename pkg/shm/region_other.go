//go:build !unix

package shm

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("shared memory regions are not supported on this platform")

func mapFile(*os.File, int, bool) ([]byte, error) { return nil, errUnsupported }

func mapAnonymous(int) ([]byte, error) { return nil, errUnsupported }

func unmapMemory([]byte) error { return nil }

func syncMemory([]byte) error { return nil }
