// Package task provides a small named-goroutine group, in the shape
// consumer/service.go's QueueTasks method uses (tasks.Queue(name, fn)),
// built on golang.org/x/sync/errgroup since this repo doesn't carry
// gazette's own internal task.Group implementation.
package task

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group runs a set of named goroutines, canceling all of them as soon as
// one returns a non-nil error, and reporting that first error from Wait.
type Group struct {
	ctx   context.Context
	group *errgroup.Group
}

// NewGroup derives a Group from parent, cancelable independently of it.
func NewGroup(parent context.Context) *Group {
	var g, ctx = errgroup.WithContext(parent)
	return &Group{ctx: ctx, group: g}
}

// Context returns the group's derived context, canceled when any queued
// task returns an error or Wait is called after all tasks finish.
func (g *Group) Context() context.Context { return g.ctx }

// Queue starts fn in its own goroutine under name, logging name when fn
// returns an error so a Wait caller can tell which task failed.
func (g *Group) Queue(name string, fn func() error) {
	g.group.Go(func() error {
		var err = fn()
		if err != nil && g.ctx.Err() == nil {
			log.WithError(err).WithField("task", name).Warn("task group member returned an error")
		}
		return err
	})
}

// Wait blocks until every queued task returns, returning the first non-nil
// error encountered (if any).
func (g *Group) Wait() error { return g.group.Wait() }
