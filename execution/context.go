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
	"fmt"
	"strings"

	"github.com/algorand/go-deadlock"
	"github.com/google/uuid"

	"github.com/algorand/go-poet/crypto"
)

// AuthorizationError is returned when a transaction touches an address its
// declared inputs or outputs do not cover.
type AuthorizationError struct {
	Address string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized to read/write to %s", e.Address)
}

// CreateContextError is returned when a context cannot be created from the
// given namespaces or base contexts.
type CreateContextError struct {
	Msg string
}

func (e *CreateContextError) Error() string {
	return "create context: " + e.Msg
}

type contextValue struct {
	value []byte
	// set marks a value written by the transaction, not loaded from a base
	set     bool
	deleted bool
}

// ExecutionContext is the isolated view of state a single transaction runs
// against.
type ExecutionContext struct {
	mu deadlock.Mutex

	id           string
	stateHash    crypto.Digest
	readList     []string
	writeList    []string
	baseContexts []string
	state        map[string]*contextValue
	readOnly     bool
	data         [][]byte
	events       []Event
}

func makeExecutionContext(stateHash crypto.Digest, inputs, outputs, baseContexts []string) *ExecutionContext {
	return &ExecutionContext{
		id:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		stateHash:    stateHash,
		readList:     append([]string(nil), inputs...),
		writeList:    append([]string(nil), outputs...),
		baseContexts: append([]string(nil), baseContexts...),
		state:        make(map[string]*contextValue),
	}
}

// ID returns the session identifier of the context.
func (c *ExecutionContext) ID() string { return c.id }

// StateHash returns the state root the context reads through to.
func (c *ExecutionContext) StateHash() crypto.Digest { return c.stateHash }

// BaseContexts returns the contexts this one was built on.
func (c *ExecutionContext) BaseContexts() []string { return c.baseContexts }

func (c *ExecutionContext) validateRead(address string) error {
	for _, ns := range c.readList {
		if strings.HasPrefix(address, ns) {
			return nil
		}
	}
	return &AuthorizationError{Address: address}
}

func (c *ExecutionContext) validateWrite(address string) error {
	for _, ns := range c.writeList {
		if strings.HasPrefix(address, ns) {
			return nil
		}
	}
	return &AuthorizationError{Address: address}
}

// initialize records the values this context starts with.
func (c *ExecutionContext) initialize(values map[string][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for address, value := range values {
		c.state[address] = &contextValue{value: value}
	}
}

// lookup returns the context's view of address. A deleted address is known
// with a nil value.
func (c *ExecutionContext) lookup(address string) (known bool, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[address]
	if !ok {
		return false, nil
	}
	return true, v.value
}

func (c *ExecutionContext) setValues(values map[string][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for address := range values {
		if err := c.validateWrite(address); err != nil {
			return err
		}
	}
	if c.readOnly {
		return fmt.Errorf("context %s is read only", c.id)
	}
	for address, value := range values {
		c.state[address] = &contextValue{value: value, set: true}
	}
	return nil
}

func (c *ExecutionContext) deleteValues(addresses []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, address := range addresses {
		if err := c.validateWrite(address); err != nil {
			return err
		}
	}
	if c.readOnly {
		return fmt.Errorf("context %s is read only", c.id)
	}
	for _, address := range addresses {
		c.state[address] = &contextValue{deleted: true}
	}
	return nil
}

func (c *ExecutionContext) makeReadOnly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readOnly = true
}

// changes returns the addresses set and deleted within this context.
func (c *ExecutionContext) changes() (set map[string][]byte, deleted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set = make(map[string][]byte)
	for address, v := range c.state {
		switch {
		case v.deleted:
			deleted = append(deleted, address)
		case v.set:
			set[address] = v.value
		}
	}
	return set, deleted
}

func (c *ExecutionContext) addData(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, data)
}

func (c *ExecutionContext) addEvent(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *ExecutionContext) executionOutput() ([][]byte, []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.data...), append([]Event(nil), c.events...)
}
