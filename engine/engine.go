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

// Package engine drives the block lifecycle of a validator: it reacts to
// the validator's notifications, asks the consensus oracle what to do and
// tells the validator to build, publish, commit or drop blocks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/algorand/go-poet/config"
	"github.com/algorand/go-poet/data/bookkeeping"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/util/metrics"
	"github.com/algorand/go-poet/util/timers"
)

const defaultUpdatesBacklog = 64

// Parameters holds what an Engine needs.
type Parameters struct {
	Service Service
	Oracle  Oracle
	config.Local
	Clock   timers.WallClock
	Log     logging.Logger
	Metrics *metrics.Registry
	// UpdatesBacklog is the capacity of the notification channel.
	UpdatesBacklog int
}

// Engine is a single goroutine owning the block lifecycle state. All state
// below is only touched by that goroutine.
type Engine struct {
	service Service
	oracle  Oracle
	clock   timers.WallClock
	log     logging.Logger

	pollInterval    time.Duration
	retryDelay      time.Duration
	finalizeTimeout time.Duration

	updates chan Message
	quitFn  context.CancelFunc
	done    chan struct{}

	pending    PendingForks
	buildHead  bookkeeping.Block
	building   bool
	published  bool
	committing bool

	messages  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	publishes *prometheus.CounterVec
	forks     *prometheus.CounterVec
	rejected  *prometheus.CounterVec
}

// MakeEngine creates an engine. Call Start to run it and Shutdown to stop it.
func MakeEngine(p Parameters) (*Engine, error) {
	if p.Service == nil || p.Oracle == nil {
		return nil, fmt.Errorf("engine needs a service and an oracle")
	}
	if p.Clock == nil {
		p.Clock = timers.MakeMonotonicClock()
	}
	if p.Log == nil {
		p.Log = logging.Base()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.DefaultRegistry()
	}
	if p.UpdatesBacklog <= 0 {
		p.UpdatesBacklog = defaultUpdatesBacklog
	}
	if p.EngineUpdatePollInterval <= 0 {
		p.EngineUpdatePollInterval = config.GetDefaultLocal().EngineUpdatePollInterval
	}
	if p.FinalizeRetryDelay <= 0 {
		p.FinalizeRetryDelay = config.GetDefaultLocal().FinalizeRetryDelay
	}
	return &Engine{
		service:         p.Service,
		oracle:          p.Oracle,
		clock:           p.Clock,
		log:             p.Log,
		pollInterval:    p.EngineUpdatePollInterval,
		retryDelay:      p.FinalizeRetryDelay,
		finalizeTimeout: p.FinalizeTimeout,
		updates:         make(chan Message, p.UpdatesBacklog),
		messages:        p.Metrics.Counter(metrics.EngineMessagesTotal, "type"),
		failures:        p.Metrics.Counter(metrics.EngineHandlerErrorsTotal, "type"),
		publishes:       p.Metrics.Counter(metrics.EngineBlocksPublishedTotal),
		forks:           p.Metrics.Counter(metrics.EngineForkDecisionsTotal, "outcome"),
		rejected:        p.Metrics.Counter(metrics.EngineBlocksFailedTotal),
	}, nil
}

// Updates is where the validator delivers its notifications.
func (e *Engine) Updates() chan<- Message {
	return e.updates
}

// Start runs the engine until ctx is done, Shutdown is called or a
// Shutdown message arrives.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.quitFn = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.mainLoop(ctx)
}

// Shutdown stops the engine and waits for its goroutine to exit.
func (e *Engine) Shutdown() {
	if e.done == nil {
		return
	}
	e.quitFn()
	<-e.done
}

// Done is closed once the engine has stopped.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) mainLoop(ctx context.Context) {
	defer close(e.done)
	e.log.Info("PoET engine started")
	defer e.log.Info("PoET engine stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-e.updates:
			if m.Type == Shutdown {
				return
			}
			e.step(m.Type.String(), func() error { return e.handle(m) })
		case <-e.clock.After(e.pollInterval):
		}
		if ctx.Err() != nil {
			return
		}
		e.step("publish", func() error { return e.tryToPublish(ctx) })
	}
}

// step runs one handler. Handler errors and panics are logged and the
// loop carries on.
func (e *Engine) step(what string, handler func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.failures.WithLabelValues(what).Inc()
			e.log.Errorf("Unhandled panic in engine loop handling %s: %v\n%s", what, r, debug.Stack())
		}
	}()
	if err := handler(); err != nil {
		e.failures.WithLabelValues(what).Inc()
		e.log.Warnf("Engine: handling %s: %v", what, err)
	}
}

func (e *Engine) handle(m Message) error {
	e.messages.WithLabelValues(m.Type.String()).Inc()
	e.log.Debugf("Engine: received %s", m.Type)
	switch m.Type {
	case BlockNew:
		return e.handleNewBlock(m.Block)
	case BlockValid:
		return e.handleValidBlock(m.BlockID)
	case BlockCommit:
		return e.handleCommittedBlock(m.BlockID)
	default:
		return fmt.Errorf("unknown message type %s", m.Type)
	}
}

func (e *Engine) handleNewBlock(block bookkeeping.Block) error {
	id := block.ID()
	e.log.Infof("Received %v", block)
	if e.oracle.VerifyBlock(block) {
		e.log.Infof("Passed consensus check: %s", id.Short())
		return e.service.CheckBlocks([]bookkeeping.BlockID{id})
	}
	e.log.Infof("Failed consensus check: %s", id.Short())
	e.rejected.WithLabelValues().Inc()
	return e.service.FailBlock(id)
}

func (e *Engine) handleValidBlock(id bookkeeping.BlockID) error {
	blocks, err := e.service.GetBlocks([]bookkeeping.BlockID{id})
	if err != nil {
		return err
	}
	block, ok := blocks[id]
	if !ok {
		return fmt.Errorf("valid block %s: %w", id.Short(), ErrUnknownBlock)
	}
	e.pending.Push(block)
	return e.processPendingForks()
}

func (e *Engine) handleCommittedBlock(id bookkeeping.BlockID) error {
	e.log.Infof("Chain head updated to %s, abandoning block in progress", id.Short())
	cancelErr := e.cancelBlock()
	e.building = false
	e.published = false
	e.committing = false
	if err := e.processPendingForks(); err != nil {
		return err
	}
	return cancelErr
}

func (e *Engine) processPendingForks() error {
	for !e.committing {
		block, ok := e.pending.Pop()
		if !ok {
			return nil
		}
		if err := e.resolveFork(block); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) resolveFork(block bookkeeping.Block) error {
	head, err := e.service.GetChainHead()
	if err != nil {
		return err
	}
	id := block.ID()
	e.log.Infof("Choosing between chain heads -- current: %s -- new: %s", head.ID().Short(), id.Short())

	switchForks, err := e.oracle.SwitchForks(head, block)
	if err != nil {
		e.log.Warnf("PoET fork resolution error: %v", err)
		switchForks = false
	}
	if switchForks {
		e.log.Infof("Committing %s", id.Short())
		e.forks.WithLabelValues("commit").Inc()
		if err := e.service.CommitBlock(id); err != nil {
			return err
		}
		e.committing = true
		return nil
	}
	e.log.Infof("Ignoring %s", id.Short())
	e.forks.WithLabelValues("ignore").Inc()
	return e.service.IgnoreBlock(id)
}

// cancelBlock abandons the block being built. Having nothing to cancel is
// not an error.
func (e *Engine) cancelBlock() error {
	err := e.service.CancelBlock()
	if errors.Is(err, ErrInvalidState) {
		return nil
	}
	return err
}

func (e *Engine) tryToPublish(ctx context.Context) error {
	if e.published {
		return nil
	}
	if !e.building {
		head, err := e.service.GetChainHead()
		if err != nil {
			return err
		}
		if !e.oracle.InitializeBlock(head) {
			return nil
		}
		if err := e.service.InitializeBlock(head.ID()); err != nil {
			return err
		}
		e.buildHead = head
		e.building = true
	}

	if !e.oracle.CheckPublishBlock(e.buildHead) {
		return nil
	}
	id, err := e.finalizeBlock(ctx)
	e.building = false
	if err != nil {
		if cancelErr := e.cancelBlock(); cancelErr != nil {
			e.log.Warnf("Engine: cancelling block: %v", cancelErr)
		}
		return fmt.Errorf("finalizing block on %s: %w", e.buildHead.ID().Short(), err)
	}
	e.log.Infof("Published block %s", id.Short())
	e.publishes.WithLabelValues().Inc()
	e.published = true
	return nil
}

// finalizeBlock summarizes the candidate block, asks the oracle for its
// consensus proof and finalizes it, retrying for as long as the validator
// reports the block not ready.
func (e *Engine) finalizeBlock(ctx context.Context) (bookkeeping.BlockID, error) {
	deadline := timers.MakeMonotonicDeadlineMonitor(e.clock, e.finalizeTimeout)

	var summary []byte
	for {
		var err error
		summary, err = e.service.SummarizeBlock()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrBlockNotReady) {
			return "", err
		}
		e.log.Debug("Block not ready to be summarized")
		if err := e.retryWait(ctx, deadline); err != nil {
			return "", err
		}
	}
	e.log.Infof("Block summary: %x", summary)

	consensus, err := e.oracle.FinalizeBlock(e.buildHead, summary)
	if err != nil {
		return "", err
	}

	for {
		id, err := e.service.FinalizeBlock(consensus)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrBlockNotReady) {
			return "", err
		}
		e.log.Debug("Block not ready to be finalized")
		if err := e.retryWait(ctx, deadline); err != nil {
			return "", err
		}
	}
}

var errFinalizeTimeout = errors.New("timed out waiting for the block to become ready")

func (e *Engine) retryWait(ctx context.Context, deadline *timers.MonotonicDeadlineMonitor) error {
	if deadline.Expired() {
		return errFinalizeTimeout
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(e.retryDelay):
		return nil
	}
}
