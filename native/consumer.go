// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package native

import (
	"fmt"
	"os"
	"path"
)

// MaxConsumerSize is the kernel limit on a consumer label, terminator
// included.
const MaxConsumerSize = 32

// DefaultConsumer returns the label used for line requests when none is
// configured. The format is program_name@pid, which lets utility programs
// like gpioinfo find out who has a line open.
func DefaultConsumer() string {
	return TrimConsumer(fmt.Sprintf("%s@%d", path.Base(os.Args[0]), os.Getpid()))
}

// TrimConsumer shortens s so it fits in a kernel consumer field.
func TrimConsumer(s string) string {
	if len(s) >= MaxConsumerSize {
		return s[:MaxConsumerSize-1]
	}
	return s
}
