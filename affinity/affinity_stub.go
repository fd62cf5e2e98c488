//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package affinity

func setAffinityPlatform(int) error { return ErrUnsupported }

func currentCPUsPlatform() ([]int, error) { return nil, ErrUnsupported }
