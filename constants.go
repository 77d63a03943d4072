package binder

import "github.com/kbinder/go-binder/internal/constants"

// Re-export the sizing/timing constants for public API consumers.
const (
	DefaultMaxThreads    = constants.DefaultMaxThreads
	ManagerHandle        = constants.ManagerHandle
	FirstOrdinaryHandle  = constants.FirstOrdinaryHandle
	MaxMmapSize          = constants.MaxMmapSize
	DefaultMmapSize      = constants.DefaultMmapSize
	FreezePollInterval   = constants.FreezePollInterval
	DefaultFreezeTimeout = constants.DefaultFreezeTimeout
)
