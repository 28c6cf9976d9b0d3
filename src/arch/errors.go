package arch

import "errors"

var errBadCPU = errors.New("arch: cpu index out of range")
