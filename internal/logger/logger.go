package logger

import (
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	*slog.Logger
}

func New(logLevel string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(logLevel),
		AddSource: logLevel == "debug",
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &Logger{
		Logger: slog.New(handler),
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
	}
}

// RouteLearned logs the engine accepting a new or improved route.
func (l *Logger) RouteLearned(dest, firstHop, cost int, learnedFrom int) {
	l.Info("route learned",
		slog.Int("destination", dest),
		slog.Int("first_hop", firstHop),
		slog.Int("cost", cost),
		slog.Int("learned_from", learnedFrom))
}

// RouteHolddown logs a route entering holddown (cost saturating to 16).
func (l *Logger) RouteHolddown(dest int, reason string) {
	l.Info("route entered holddown",
		slog.Int("destination", dest),
		slog.String("reason", reason))
}

// RouteRemoved logs a route's garbage collection.
func (l *Logger) RouteRemoved(dest int) {
	l.Info("route removed", slog.Int("destination", dest))
}

// PacketDropped logs a malformed or unexpected inbound datagram.
func (l *Logger) PacketDropped(reason string, from string) {
	l.Debug("packet dropped",
		slog.String("reason", reason),
		slog.String("from", from))
}

// UpdateSent logs one outbound response packet.
func (l *Logger) UpdateSent(neighbourID, port, entries int, triggered bool) {
	l.Debug("update sent",
		slog.Int("neighbour", neighbourID),
		slog.Int("port", port),
		slog.Int("entries", entries),
		slog.Bool("triggered", triggered))
}

// ServiceStart logs daemon startup.
func (l *Logger) ServiceStart(version, pid string) {
	l.Info("service starting",
		slog.String("version", version),
		slog.String("pid", pid))
}

// ServiceStop logs daemon shutdown.
func (l *Logger) ServiceStop() {
	l.Info("service stopping")
}

// ConfigLoaded logs a successfully validated configuration.
func (l *Logger) ConfigLoaded(file string, routerID int, neighbours, inputPorts int) {
	l.Info("configuration loaded",
		slog.String("config_file", file),
		slog.Int("router_id", routerID),
		slog.Int("neighbours", neighbours),
		slog.Int("input_ports", inputPorts))
}

// TransientIO logs a send/recv failure that the engine swallows and
// continues past, per the protocol's error-handling policy.
func (l *Logger) TransientIO(op string, err error) {
	l.Warn("transient I/O error",
		slog.String("op", op),
		slog.String("error", err.Error()))
}

// ConvergenceCheck logs the outcome of a periodic background convergence
// self-check against a configured expected table.
func (l *Logger) ConvergenceCheck(converged bool, diff string) {
	if converged {
		l.Debug("convergence check passed")
		return
	}
	l.Warn("convergence check failed", slog.String("diff", diff))
}
