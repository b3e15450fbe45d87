// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package webserver

// Option is a function that will set up option.
type Option func(opts *Options)

// Options are set when the server starts.
type Options struct {
	// NumLoops is the worker reactor count. 0 runs everything on the main
	// reactor.
	NumLoops int

	// Port to listen on.
	Port int

	// Backlog passed to listen(2).
	Backlog int

	// MaxFDs caps accepted descriptors; anything at or above is closed
	// immediately.
	MaxFDs int

	// FileSource supplies response bodies. Defaults to the mmap source.
	FileSource FileSource

	// HandleSignals installs the SIGINT/SIGTERM shutdown handler.
	HandleSignals bool
}

func initOptions(options ...Option) *Options {
	opts := &Options{
		NumLoops: 4,
		Port:     80,
		Backlog:  2048,
		MaxFDs:   100000,
	}
	for _, option := range options {
		option(opts)
	}
	if opts.NumLoops < 0 {
		opts.NumLoops = 0
	}
	return opts
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithNumLoops sets the worker reactor count.
func WithNumLoops(n int) Option {
	return func(opts *Options) {
		opts.NumLoops = n
	}
}

// WithPort sets the listen port.
func WithPort(port int) Option {
	return func(opts *Options) {
		opts.Port = port
	}
}

// WithBacklog sets the listen backlog.
func WithBacklog(n int) Option {
	return func(opts *Options) {
		opts.Backlog = n
	}
}

// WithMaxFDs sets the accepted-descriptor cap.
func WithMaxFDs(n int) Option {
	return func(opts *Options) {
		opts.MaxFDs = n
	}
}

// WithFileSource swaps the response-body source.
func WithFileSource(fs FileSource) Option {
	return func(opts *Options) {
		opts.FileSource = fs
	}
}

// WithSignalHandling enables the SIGINT/SIGTERM shutdown handler.
func WithSignalHandling(b bool) Option {
	return func(opts *Options) {
		opts.HandleSignals = b
	}
}
