package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// LogCategory defines the different categories of log events
type LogCategory string

const (
	CHAIN     LogCategory = "CHAIN"
	AGREEMENT LogCategory = "AGREEMENT"
	PROTECT   LogCategory = "PROTECT"
	RECONCILE LogCategory = "RECONCILE"
	DIRECTORY LogCategory = "DIRECTORY"
	ERROR     LogCategory = "ERROR"
	SYSTEM    LogCategory = "SYSTEM"
)

// Logger provides structured logging for agents with different log categories
type Logger struct {
	AgentName     string
	PublicKey     string
	LogFile       *os.File
	ConsoleLogger *log.Logger
	FileLogger    *log.Logger
}

// NewLogger creates a new logger for an agent
func NewLogger(name, publicKey, logDir string) *Logger {
	consoleLogger := log.New(os.Stdout, "", log.LstdFlags)

	var fileLogger *log.Logger
	var logFile *os.File

	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err == nil {
		logFileName := fmt.Sprintf("%s_%s.log", name, time.Now().Format("20060102_150405"))
		logFilePath := filepath.Join(logDir, logFileName)

		if f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			logFile = f
			fileLogger = log.New(f, "", log.LstdFlags)
		} else {
			log.Printf("Warning: Could not create log file: %v", err)
		}
	}

	return &Logger{
		AgentName:     name,
		PublicKey:     publicKey,
		LogFile:       logFile,
		ConsoleLogger: consoleLogger,
		FileLogger:    fileLogger,
	}
}

// Close closes the log file if it's open
func (l *Logger) Close() {
	if l.LogFile != nil {
		l.LogFile.Close()
	}
}

func (l *Logger) logEntry(category LogCategory, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	entry := fmt.Sprintf("[%s] [%s] %s", l.AgentName, string(category), message)

	l.ConsoleLogger.Println(entry)
	if l.FileLogger != nil {
		l.FileLogger.Println(entry)
	}
}

// Chain logs appends and chain-state changes
func (l *Logger) Chain(format string, args ...interface{}) {
	l.logEntry(CHAIN, format, args...)
}

// Agreement logs the ordinary pairwise handshake
func (l *Logger) Agreement(format string, args ...interface{}) {
	l.logEntry(AGREEMENT, format, args...)
}

// Protect logs the protected-namespace workflow
func (l *Logger) Protect(format string, args ...interface{}) {
	l.logEntry(PROTECT, format, args...)
}

// Reconcile logs index exchange and block transfer
func (l *Logger) Reconcile(format string, args ...interface{}) {
	l.logEntry(RECONCILE, format, args...)
}

// Directory logs registration and peer lookups
func (l *Logger) Directory(format string, args ...interface{}) {
	l.logEntry(DIRECTORY, format, args...)
}

// Error logs error conditions
func (l *Logger) Error(format string, args ...interface{}) {
	l.logEntry(ERROR, format, args...)
}

// System logs lifecycle events
func (l *Logger) System(format string, args ...interface{}) {
	l.logEntry(SYSTEM, format, args...)
}
