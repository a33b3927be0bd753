package multibuf

import "log/slog"

// options holds configuration shared by Registry and Buffer
type options struct {
	logger          *slog.Logger
	handler         EventHandler
	checkInvariants bool
}

// Option is a function that configures a Registry or Buffer
type Option func(*options)

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler registers a handler receiving every diagnostic event
func WithEventHandler(h EventHandler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// WithInvariantChecks enables or disables validation of the chunk list after each insertion
func WithInvariantChecks(enabled bool) Option {
	return func(o *options) {
		o.checkInvariants = enabled
	}
}

func defaultOptions() options {
	return options{
		logger:          slog.Default(),
		checkInvariants: true,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
