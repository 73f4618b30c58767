package server

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboat's logger.ILogger)
// --------------------------------------------------------------------------

// pkwLogger implements the ILogger interface with custom formatting
type pkwLogger struct {
	name   string
	level  logger.LogLevel
	logger *stdlog.Logger
}

func (l *pkwLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *pkwLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *pkwLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *pkwLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *pkwLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *pkwLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *pkwLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements the dragonboat logger factory interface
func CreateLogger(pkgName string) logger.ILogger {
	stdLogger := stdlog.New(os.Stdout, "", stdlog.Ldate|stdlog.Ltime)

	return &pkwLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseLogLevel converts a string level to logger.LogLevel
func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		panic(fmt.Sprintf("invalid log level: %s. must be one of debug, info, warn, error", level))
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// factoryOnce guards the factory installation: dragonboat panics if the
// global factory is set twice, and a process may start several servers
// (tests do).
var factoryOnce sync.Once

// InitLoggers installs the custom factory and configures per-package levels
func InitLoggers(config Config) {
	// Set as the global logger factory for Dragonboat
	factoryOnce.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	level := parseLogLevel(config.LogLevel)

	// Configure Dragonboat loggers
	logger.GetLogger("raft").SetLevel(level)
	logger.GetLogger("raftdb").SetLevel(level)
	logger.GetLogger("rsm").SetLevel(level)
	logger.GetLogger("transport").SetLevel(level)
	logger.GetLogger("dragonboat").SetLevel(level)
	logger.GetLogger("grpc").SetLevel(level)
	logger.GetLogger("util").SetLevel(level)
	logger.GetLogger("logdb").SetLevel(level)

	// configure custom loggers
	logger.GetLogger("server").SetLevel(level)
	logger.GetLogger("store").SetLevel(level)
	logger.GetLogger("sched").SetLevel(level)
	logger.GetLogger("cmds").SetLevel(level)
	logger.GetLogger("session").SetLevel(level)
}
