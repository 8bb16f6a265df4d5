package console

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

// TailSource fetches the cached log tail for a service target. Nodes
// have no cached-tail source.
type TailSource interface {
	TailLines(ctx context.Context, serviceID string) ([]string, error)
}

// CommandSender delivers one-shot operator commands to a target via a
// side request, never through the push stream.
type CommandSender interface {
	Execute(ctx context.Context, serviceID, command string) error
}

// Controller is the console composition root. It owns the seed-then-
// stream sequencing and the dispose-exactly-once guarantee; every policy
// decision lives in the components it wires.
type Controller struct {
	buf    *Buffer
	mgr    *Manager
	tail   TailSource
	cmds   CommandSender
	scope  TicketScope
	target string
	log    logr.Logger

	disposeOnce sync.Once
}

// NewController wires a console session for one target.
func NewController(buf *Buffer, mgr *Manager, tail TailSource, cmds CommandSender, scope TicketScope, target string, log logr.Logger) *Controller {
	return &Controller{
		buf:    buf,
		mgr:    mgr,
		tail:   tail,
		cmds:   cmds,
		scope:  scope,
		target: target,
		log:    log.WithName("console"),
	}
}

// Buffer returns the session's log buffer for viewing and export.
func (c *Controller) Buffer() *Buffer { return c.buf }

// Manager returns the session's connection manager.
func (c *Controller) Manager() *Manager { return c.mgr }

// Open seeds the buffer from the cached tail, then connects the live
// stream. Seeding always completes before the connect starts so history
// and live lines never interleave out of order. A failed tail fetch is
// non-fatal: the buffer seeds empty and streaming proceeds.
//
// Seeding happens only when a fresh attempt will actually start: calling
// Open while an attempt is in flight or streaming is a no-op end to end,
// and must not replace live lines with stale history.
func (c *Controller) Open(ctx context.Context) error {
	switch c.mgr.State() {
	case StateIdle, StateGuardBlocked, StateErrored:
		c.seed(ctx)
	}
	return c.mgr.Connect(ctx)
}

func (c *Controller) seed(ctx context.Context) {
	if c.scope != ScopeService || c.tail == nil {
		return
	}
	lines, err := c.tail.TailLines(ctx, c.target)
	if err != nil {
		c.log.Info("cached tail unavailable, seeding empty", "target", c.target, "reason", err.Error())
		c.buf.Seed(nil)
		return
	}
	c.buf.Seed(lines)
}

// Send submits an operator command to the target. Empty or whitespace-
// only input is rejected locally without a remote call. Failures are
// surfaced to the operator and never change the connection state; any
// output the command produces arrives later via the independent stream.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty command", ErrCommandFailure)
	}
	if c.cmds == nil {
		return fmt.Errorf("%w: no command channel for %s targets", ErrCommandFailure, c.scope)
	}
	return c.cmds.Execute(ctx, c.target, text)
}

// Dispose tears the session down: it runs exactly once no matter how many
// exit paths reach it, and guarantees the socket is closed.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		c.mgr.Dispose()
	})
}
