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

package execution

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/util/metrics"
)

// SchedulerParams configures a scheduler.
type SchedulerParams struct {
	// Squash merges contexts into a state root, normally ContextManager.Squash.
	Squash SquashFunc
	// FirstStateHash is the state root every transaction starts from.
	FirstStateHash crypto.Digest
	// AlwaysPersist writes the final state root even when no batch asked
	// for one. Publishing validators set it.
	AlwaysPersist bool
	Log           logging.Logger
	Metrics       *metrics.Registry
}

type schedulerMetrics struct {
	scheduled prometheus.Counter
	results   *prometheus.CounterVec
	kind      string
}

func makeSchedulerMetrics(reg *metrics.Registry, kind string) schedulerMetrics {
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return schedulerMetrics{
		scheduled: reg.Counter(metrics.SchedulerTransactionsScheduledTotal, "scheduler").WithLabelValues(kind),
		results:   reg.Counter(metrics.SchedulerTransactionResultsTotal, "scheduler", "valid"),
		kind:      kind,
	}
}

func (m schedulerMetrics) result(valid bool) {
	m.results.WithLabelValues(m.kind, strconv.FormatBool(valid)).Inc()
}

func (p SchedulerParams) logger() logging.Logger {
	if p.Log == nil {
		return logging.Base()
	}
	return p.Log
}
