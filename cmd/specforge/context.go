package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"specforge/internal/api"
	"specforge/internal/config"
	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/textgen"
)

type commandContext struct {
	configFlag string
	jsonFlag   bool
	actorFlag  string

	// backend replaces the configured text generation backend when set.
	backend textgen.Backend

	configOnce sync.Once
	config     *config.Config
	configErr  error

	svc *api.Service
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// service opens the operator service on first use.
func (c *commandContext) service() (*api.Service, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	svc, err := api.New(api.Options{Config: cfg, Backend: c.backend, Logger: logger})
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return svc, nil
}

// withService runs fn with an actor-stamped context.
func (c *commandContext) withService(cmd *cobra.Command, fn func(context.Context, *api.Service) error) error {
	svc, err := c.service()
	if err != nil {
		return err
	}
	return fn(services.WithActor(cmd.Context(), c.actor()), svc)
}

// requireLLM fails early for commands that call the text backend.
func (c *commandContext) requireLLM() error {
	if c.backend != nil {
		return nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return cfg.RequireLLM()
}

func (c *commandContext) actor() string {
	name := strings.TrimSpace(c.actorFlag)
	if name == "" {
		name = strings.TrimSpace(os.Getenv("USER"))
	}
	if name == "" {
		return "cli"
	}
	return "cli:" + name
}

func (c *commandContext) close() error {
	if c.svc == nil {
		return nil
	}
	err := c.svc.Close()
	c.svc = nil
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
