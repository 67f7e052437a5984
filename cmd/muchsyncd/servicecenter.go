package main

import (
	"time"
)

var processStart = time.Now()

// processServiceCenter implements router.ServiceCenterContext against
// this process's wall clock and start time.
type processServiceCenter struct{}

func (processServiceCenter) NowUTC() time.Time          { return time.Now().UTC() }
func (processServiceCenter) SystemUptime() time.Duration { return time.Since(processStart) }
