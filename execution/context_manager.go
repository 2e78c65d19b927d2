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
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/state"
	"github.com/algorand/go-poet/util/metrics"
)

var (
	addressPattern   = regexp.MustCompile(`^[0-9a-f]{70}$`)
	namespacePattern = regexp.MustCompile(`^([0-9a-f]{2}){0,35}$`)
)

// ErrUnknownContext is returned for operations on a context id the manager
// does not hold.
var ErrUnknownContext = errors.New("unknown context")

// AddressValue pairs a state address with its value; a nil Value means the
// address has no value.
type AddressValue struct {
	Address string
	Value   []byte
}

// ExecutionResults is everything a context recorded during execution.
type ExecutionResults struct {
	Set     map[string][]byte
	Deleted []string
	Events  []Event
	Data    [][]byte
}

// ContextManager owns the execution contexts of in-flight transactions and
// merges them into the state database.
type ContextManager struct {
	db  *state.MerkleDatabase
	log logging.Logger

	mu       deadlock.RWMutex
	contexts map[string]*ExecutionContext

	squashSeconds prometheus.Histogram
}

// MakeContextManager builds a context manager over db.
func MakeContextManager(db *state.MerkleDatabase, log logging.Logger, reg *metrics.Registry) *ContextManager {
	if log == nil {
		log = logging.Base()
	}
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &ContextManager{
		db:            db,
		log:           log,
		contexts:      make(map[string]*ExecutionContext),
		squashSeconds: reg.Histogram(metrics.ContextSquashSeconds),
	}
}

// AddressIsValid reports whether address is a full state address.
func AddressIsValid(address string) bool {
	return addressPattern.MatchString(address)
}

// NamespaceIsValid reports whether namespace is an address or an address prefix
// of whole bytes.
func NamespaceIsValid(namespace string) bool {
	return namespacePattern.MatchString(namespace)
}

func (cm *ContextManager) context(id string) (*ExecutionContext, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.contexts[id]
	return c, ok
}

// Len returns the number of live contexts.
func (cm *ContextManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.contexts)
}

// CreateContext creates a context reading through baseContexts to
// stateHash, allowed to read inputs and write outputs. It returns the new
// context id.
func (cm *ContextManager) CreateContext(stateHash crypto.Digest, baseContexts []string, inputs, outputs []string) (string, error) {
	for _, address := range inputs {
		if !NamespaceIsValid(address) {
			return "", &CreateContextError{Msg: fmt.Sprintf("address or namespace %s listed in inputs is not valid", address)}
		}
	}
	for _, address := range outputs {
		if !NamespaceIsValid(address) {
			return "", &CreateContextError{Msg: fmt.Sprintf("address or namespace %s listed in outputs is not valid", address)}
		}
	}
	var missing []string
	for _, id := range baseContexts {
		if _, ok := cm.context(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return "", &CreateContextError{Msg: fmt.Sprintf("basing a new context off of context ids %v that are not in context manager", missing)}
	}

	var full []string
	for _, address := range inputs {
		if len(address) == state.AddressLength {
			full = append(full, address)
		}
	}
	values, reads := cm.findInChain(baseContexts, full)
	if len(reads) > 0 {
		fromTree, err := cm.db.GetMany(stateHash, reads)
		if err != nil {
			return "", &CreateContextError{Msg: err.Error()}
		}
		for _, address := range reads {
			values[address] = fromTree[address]
		}
	}

	c := makeExecutionContext(stateHash, inputs, outputs, baseContexts)
	c.initialize(values)

	cm.mu.Lock()
	cm.contexts[c.id] = c
	cm.mu.Unlock()
	return c.id, nil
}

// findInChain searches breadth first through baseContexts and their bases
// for the given addresses. It returns the values found and the addresses no
// context knows about.
func (cm *ContextManager) findInChain(baseContexts []string, addresses []string) (map[string][]byte, []string) {
	found := make(map[string][]byte)
	reads := append([]string(nil), addresses...)
	queue := append([]string(nil), baseContexts...)
	searched := make(map[string]struct{}, len(baseContexts))
	for _, id := range baseContexts {
		searched[id] = struct{}{}
	}

	for len(reads) > 0 && len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		c, ok := cm.context(id)
		if !ok {
			continue
		}
		remaining := reads[:0]
		for _, address := range reads {
			if known, value := c.lookup(address); known {
				found[address] = value
			} else {
				remaining = append(remaining, address)
			}
		}
		reads = remaining
		for _, base := range c.baseContexts {
			if _, ok := searched[base]; !ok {
				searched[base] = struct{}{}
				queue = append(queue, base)
			}
		}
	}
	return found, reads
}

// Get returns the values of addresses as seen by the context, in request
// order.
func (cm *ContextManager) Get(contextID string, addresses []string) ([]AddressValue, error) {
	c, ok := cm.context(contextID)
	if !ok {
		return nil, ErrUnknownContext
	}
	for _, address := range addresses {
		if !AddressIsValid(address) {
			return nil, &AuthorizationError{Address: address}
		}
		if err := c.validateRead(address); err != nil {
			return nil, err
		}
	}

	values := make(map[string][]byte, len(addresses))
	var outside []string
	for _, address := range addresses {
		if known, value := c.lookup(address); known {
			values[address] = value
		} else {
			outside = append(outside, address)
		}
	}
	if len(outside) > 0 {
		found, reads := cm.findInChain([]string{contextID}, outside)
		for address, value := range found {
			values[address] = value
		}
		if len(reads) > 0 {
			fromTree, err := cm.db.GetMany(c.stateHash, reads)
			if err != nil {
				return nil, err
			}
			for _, address := range reads {
				values[address] = fromTree[address]
			}
		}
	}

	result := make([]AddressValue, len(addresses))
	for i, address := range addresses {
		result[i] = AddressValue{Address: address, Value: values[address]}
	}
	return result, nil
}

// Set writes values within the context.
func (cm *ContextManager) Set(contextID string, values map[string][]byte) error {
	c, ok := cm.context(contextID)
	if !ok {
		cm.log.Warnf("Context_id not in contexts, %s", contextID)
		return ErrUnknownContext
	}
	for address := range values {
		if !AddressIsValid(address) {
			return &AuthorizationError{Address: address}
		}
	}
	return c.setValues(values)
}

// Delete removes addresses within the context.
func (cm *ContextManager) Delete(contextID string, addresses []string) error {
	c, ok := cm.context(contextID)
	if !ok {
		return ErrUnknownContext
	}
	for _, address := range addresses {
		if !AddressIsValid(address) {
			return &AuthorizationError{Address: address}
		}
	}
	return c.deleteValues(addresses)
}

// AddExecutionData appends opaque data to the context's results.
func (cm *ContextManager) AddExecutionData(contextID string, data []byte) error {
	c, ok := cm.context(contextID)
	if !ok {
		cm.log.Warnf("Context_id not in contexts, %s", contextID)
		return ErrUnknownContext
	}
	c.addData(data)
	return nil
}

// AddExecutionEvent appends an event to the context's results.
func (cm *ContextManager) AddExecutionEvent(contextID string, event Event) error {
	c, ok := cm.context(contextID)
	if !ok {
		cm.log.Warnf("Context_id not in contexts, %s", contextID)
		return ErrUnknownContext
	}
	c.addEvent(event)
	return nil
}

// GetExecutionResults returns what the context recorded.
func (cm *ContextManager) GetExecutionResults(contextID string) (ExecutionResults, error) {
	c, ok := cm.context(contextID)
	if !ok {
		return ExecutionResults{}, ErrUnknownContext
	}
	set, deleted := c.changes()
	data, events := c.executionOutput()
	return ExecutionResults{Set: set, Deleted: deleted, Events: events, Data: data}, nil
}

// DeleteContexts drops the given contexts. Unknown ids are ignored.
func (cm *ContextManager) DeleteContexts(ids []string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, id := range ids {
		delete(cm.contexts, id)
	}
}

// Squash merges the changes of contextIDs, and every context they were
// built on, into stateRoot. Walking breadth first from the newest contexts,
// the first context to set or delete an address decides its fate. It
// satisfies SquashFunc.
func (cm *ContextManager) Squash(stateRoot crypto.Digest, contextIDs []string, persist bool, cleanUp bool) (crypto.Digest, error) {
	start := time.Now()
	defer func() { cm.squashSeconds.Observe(time.Since(start).Seconds()) }()

	queue := append([]string(nil), contextIDs...)
	searched := append([]string(nil), contextIDs...)
	seen := make(map[string]struct{}, len(contextIDs))
	for _, id := range contextIDs {
		seen[id] = struct{}{}
	}

	updates := make(map[string][]byte)
	deletes := make(map[string]struct{})
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		c, ok := cm.context(id)
		if !ok {
			return crypto.Digest{}, fmt.Errorf("squash: %w: %s", ErrUnknownContext, id)
		}
		c.makeReadOnly()

		set, deleted := c.changes()
		for address, value := range set {
			if _, done := deletes[address]; done {
				continue
			}
			if _, done := updates[address]; !done {
				updates[address] = value
			}
		}
		for _, address := range deleted {
			if _, done := updates[address]; done {
				continue
			}
			deletes[address] = struct{}{}
		}
		for _, base := range c.baseContexts {
			if _, ok := seen[base]; !ok {
				seen[base] = struct{}{}
				searched = append(searched, base)
				queue = append(queue, base)
			}
		}
	}

	// only delete what the tree actually holds
	var toDelete []string
	for address := range deletes {
		_, err := cm.db.Get(stateRoot, address)
		if err == nil {
			toDelete = append(toDelete, address)
			continue
		}
		var notFound state.KeyNotFoundError
		if !errors.As(err, &notFound) {
			return crypto.Digest{}, err
		}
	}

	newRoot := stateRoot
	if len(updates) > 0 || len(toDelete) > 0 {
		var err error
		newRoot, err = cm.db.Update(stateRoot, updates, toDelete, !persist)
		if err != nil {
			return crypto.Digest{}, err
		}
	}
	if cleanUp {
		cm.DeleteContexts(searched)
	}
	return newRoot, nil
}
