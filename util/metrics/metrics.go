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

package metrics

// MetricName describes the name and description of a single metric
type MetricName struct {
	Name        string
	Description string
}

var (
	// EngineMessagesTotal Number of validator notifications handled by the engine, by type
	EngineMessagesTotal = MetricName{Name: "poet_engine_messages_total", Description: "Number of validator notifications handled by the engine"}
	// EngineHandlerErrorsTotal Number of notifications whose handler failed
	EngineHandlerErrorsTotal = MetricName{Name: "poet_engine_handler_errors_total", Description: "Number of notifications whose handler failed"}
	// EngineBlocksPublishedTotal Number of blocks this validator finalized and published
	EngineBlocksPublishedTotal = MetricName{Name: "poet_engine_blocks_published_total", Description: "Number of blocks finalized and published"}
	// EngineForkDecisionsTotal Number of resolved forks, by outcome (commit or ignore)
	EngineForkDecisionsTotal = MetricName{Name: "poet_engine_fork_decisions_total", Description: "Number of resolved forks by outcome"}
	// EngineBlocksFailedTotal Number of new blocks rejected by consensus verification
	EngineBlocksFailedTotal = MetricName{Name: "poet_engine_blocks_failed_total", Description: "Number of blocks failed by consensus verification"}
	// SchedulerTransactionsScheduledTotal Number of transactions handed to executors
	SchedulerTransactionsScheduledTotal = MetricName{Name: "poet_scheduler_transactions_scheduled_total", Description: "Number of transactions handed to executors"}
	// SchedulerTransactionResultsTotal Number of transaction results reported, by validity
	SchedulerTransactionResultsTotal = MetricName{Name: "poet_scheduler_transaction_results_total", Description: "Number of transaction results reported by validity"}
	// ContextSquashSeconds Time spent merging execution contexts into a state root
	ContextSquashSeconds = MetricName{Name: "poet_context_squash_seconds", Description: "Time spent merging execution contexts into a state root"}
	// ExecutorPendingTransactions Number of transactions waiting in the executor backlog
	ExecutorPendingTransactions = MetricName{Name: "poet_executor_pending_transactions", Description: "Number of transactions waiting in the executor backlog"}
)
