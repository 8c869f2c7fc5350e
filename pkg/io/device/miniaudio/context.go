package miniaudio

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

// Context owns the miniaudio backend shared by capture and output devices.
type Context struct {
	ctx    *malgo.AllocatedContext
	logger *Logger.Logger
}

func NewContext(logger *Logger.Logger) (*Context, error) {
	if logger == nil {
		logger = Logger.Nop()
	}
	logger = logger.Named("audio")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debugf("miniaudio: %s", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	return &Context{ctx: ctx, logger: logger}, nil
}

func (c *Context) Close() error {
	if c == nil || c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	return err
}
