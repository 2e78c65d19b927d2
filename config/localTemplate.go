// Copyright (C) 2019-2025 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"time"
)

// Local holds the per-node-instance configuration settings for the PoET
// engine, the transaction schedulers, and their stores.
//
// New fields may be added to the Local struct; existing names must not
// change since config.json files refer to them.
type Local struct {
	// Version tracks the current version of the defaults so we can migrate old -> new
	Version uint32

	// InitialWaitTime is the local mean (in seconds) a validator uses at the end of the bootstrap ramp,
	// before enough certificates exist to estimate the population.
	InitialWaitTime float64

	// TargetWaitTime is the desired average time (in seconds) between blocks across the network.
	TargetWaitTime float64

	// MinimumWaitTime is the floor (in seconds) added to every drawn wait duration.
	MinimumWaitTime float64

	// PopulationEstimateSampleSize is the number of most recent wait certificates used to estimate
	// the validator population.
	PopulationEstimateSampleSize int

	// FixedDurationBlocks is the number of blocks over which the local mean ramps from the target wait
	// time; zero means PopulationEstimateSampleSize.
	FixedDurationBlocks int

	// KeyBlockClaimLimit is the number of blocks a validator may claim with one PoET key pair before
	// it must sign up again.
	KeyBlockClaimLimit int

	// BlockClaimDelay is the number of blocks a newly registered validator must wait before claiming.
	BlockClaimDelay int

	// ZTestMaximumWinDeviation is the z-score above which a validator is considered to be winning too often.
	ZTestMaximumWinDeviation float64

	// ZTestMinimumWinCount is the number of wins a validator must have before the z-test applies.
	ZTestMinimumWinCount int

	// SignupCommitMaximumDelay is the number of blocks a signup may take to be committed.
	SignupCommitMaximumDelay int

	// EnclaveModule selects the PoET enclave implementation, e.g. "simulator".
	EnclaveModule string

	// ClaimTimerTimeout bounds how long after expiry a wait timer may still be turned into a certificate.
	ClaimTimerTimeout time.Duration

	// SchedulerType selects the transaction scheduler, "parallel" or "serial".
	SchedulerType string

	// ExecutionParallelism is the number of transaction executor workers; zero uses one per CPU.
	ExecutionParallelism int

	// ExecutionBacklogSize is the number of transactions buffered ahead of the executor workers;
	// zero uses ExecutionParallelism.
	ExecutionBacklogSize int

	// EngineUpdatePollInterval is how long the engine waits for a notification before checking
	// whether to publish.
	EngineUpdatePollInterval time.Duration

	// FinalizeRetryDelay is the pause between attempts to summarize or finalize a block that is not ready.
	FinalizeRetryDelay time.Duration

	// FinalizeTimeout caps the total time spent retrying finalize; zero retries indefinitely.
	FinalizeTimeout time.Duration

	// SignatureCacheSize bounds the number of verified certificate signatures remembered.
	SignatureCacheSize int

	// StoreImpl names the kvstore implementation backing the consensus store and state database.
	StoreImpl string

	// StoreInMemory keeps the stores in memory only.
	StoreInMemory bool

	// LogFile, when set, sends log output to a size-capped file instead of stderr.
	LogFile string

	// LogArchiveName is the path the live log file is moved to once it reaches LogSizeLimit.
	// It may contain {{.Timestamp}}.
	LogArchiveName string

	// LogSizeLimit is the size in bytes at which the live log file is archived.
	LogSizeLimit uint64

	// BaseLoggerDebugLevel specifies the logging level for the node (0 = Panic ... 5 = Debug).
	BaseLoggerDebugLevel uint32
}

var defaultLocal = Local{
	Version:                      1,
	InitialWaitTime:              3000.0,
	TargetWaitTime:               30.0,
	MinimumWaitTime:              1.0,
	PopulationEstimateSampleSize: 50,
	FixedDurationBlocks:          0,
	KeyBlockClaimLimit:           250,
	BlockClaimDelay:              1,
	ZTestMaximumWinDeviation:     3.075,
	ZTestMinimumWinCount:         3,
	SignupCommitMaximumDelay:     10,
	EnclaveModule:                "simulator",
	ClaimTimerTimeout:            3 * time.Second,
	SchedulerType:                "parallel",
	ExecutionParallelism:         0,
	ExecutionBacklogSize:         0,
	EngineUpdatePollInterval:     100 * time.Millisecond,
	FinalizeRetryDelay:           time.Second,
	FinalizeTimeout:              0,
	SignatureCacheSize:           4096,
	StoreImpl:                    "pebble",
	StoreInMemory:                false,
	LogFile:                      "",
	LogArchiveName:               "node.archive.log",
	LogSizeLimit:                 1073741824,
	BaseLoggerDebugLevel:         4,
}
