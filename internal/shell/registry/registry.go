// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     registry
// Description: Named command handlers, single-hop aliases and help listing
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

// Package registry holds the commands a shell server dispatches to.
//
// Command names are unique and keep their registration order, which is
// also the order help lists them in. An alias points at a command name and
// is resolved exactly once: an alias naming another alias resolves to
// nothing.
package registry

import (
	"strings"
	"sync"

	"github.com/msto63/telshell/internal/shell/transport"
	tserror "github.com/msto63/telshell/pkg/core/error"
	"github.com/msto63/telshell/pkg/core/logging"
)

const (
	// HelpCommand is registered by New
	HelpCommand = "help"

	// HelpText describes the help command
	HelpText = "Shows a list of available commands."

	helpHeader = "Available commands:"
)

// Handler executes a command for the connection that issued it. Arguments
// are not parsed; args is always the empty string.
type Handler interface {
	Handle(conn transport.Connection, args string)
}

// HandlerFunc adapts a plain function to Handler
type HandlerFunc func(conn transport.Connection, args string)

// Handle calls f
func (f HandlerFunc) Handle(conn transport.Connection, args string) {
	f(conn, args)
}

// Command is a registered command
type Command struct {
	Name    string
	Handler Handler
	Help    string
}

// HelpEntry is one line of the help listing
type HelpEntry struct {
	Name string
	Help string
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used for registration events
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry maps command names and aliases to handlers
type Registry struct {
	mu       sync.RWMutex
	commands []Command
	index    map[string]int
	aliases  map[string]string
	logger   *logging.Logger
}

// New creates a registry that already contains the help command
func New(opts ...Option) *Registry {
	r := &Registry{
		index:   make(map[string]int),
		aliases: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.New("registry")
	}

	r.commands = append(r.commands, Command{
		Name:    HelpCommand,
		Handler: HandlerFunc(r.writeHelp),
		Help:    HelpText,
	})
	r.index[HelpCommand] = 0
	return r
}

// Register adds a command. Names are matched exactly against the trimmed
// input line, so a name containing surrounding whitespace is rejected.
func (r *Registry) Register(name string, handler Handler, help string) error {
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return tserror.Newf("invalid command name %q", name).
			WithCode(tserror.CodeInvalidInput).
			WithOperation("registry.Register")
	}
	if handler == nil {
		return tserror.New("command handler is nil").
			WithCode(tserror.CodeInvalidInput).
			WithOperation("registry.Register").
			WithDetail("command", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[name]; exists {
		return tserror.Newf("command %q already registered", name).
			WithCode(tserror.CodeDuplicateRegistration).
			WithOperation("registry.Register").
			WithDetail("command", name)
	}

	r.index[name] = len(r.commands)
	r.commands = append(r.commands, Command{Name: name, Handler: handler, Help: help})
	r.logger.Debug("command registered", "command", name)
	return nil
}

// RegisterFunc registers a plain function as a command
func (r *Registry) RegisterFunc(name string, fn func(conn transport.Connection, args string), help string) error {
	if fn == nil {
		return r.Register(name, nil, help)
	}
	return r.Register(name, HandlerFunc(fn), help)
}

// Alias makes alias resolve to target. The target need not exist yet;
// registering the same alias again replaces its target.
func (r *Registry) Alias(alias, target string) error {
	if strings.TrimSpace(alias) == "" || strings.TrimSpace(target) == "" {
		return tserror.New("alias and target must not be empty").
			WithCode(tserror.CodeInvalidInput).
			WithOperation("registry.Alias").
			WithDetail("alias", alias).
			WithDetail("target", target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.aliases[alias]; ok && prev != target {
		r.logger.Info("alias replaced", "alias", alias, "previous", prev, "target", target)
	}
	r.aliases[alias] = target
	return nil
}

// Resolve finds the command for a token: a command name first, then one
// alias hop.
func (r *Registry) Resolve(token string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i, ok := r.index[token]; ok {
		return r.commands[i], true
	}
	if target, ok := r.aliases[token]; ok {
		if i, ok := r.index[target]; ok {
			return r.commands[i], true
		}
	}
	return Command{}, false
}

// Help lists commands in registration order
func (r *Registry) Help() []HelpEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]HelpEntry, len(r.commands))
	for i, cmd := range r.commands {
		entries[i] = HelpEntry{Name: cmd.Name, Help: cmd.Help}
	}
	return entries
}

// Names returns the command names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		names[i] = cmd.Name
	}
	return names
}

// Aliases returns a copy of the alias table
func (r *Registry) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}

// Len returns the number of registered commands, help included
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

func (r *Registry) writeHelp(conn transport.Connection, _ string) {
	if err := transport.WriteLine(conn, helpHeader); err != nil {
		return
	}
	for _, entry := range r.Help() {
		if err := transport.WriteLine(conn, entry.Name+" - "+entry.Help); err != nil {
			return
		}
	}
}
