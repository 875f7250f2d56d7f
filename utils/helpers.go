package utils

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"
)

// FileExists checks if a file exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

// FindAvailableAPIPort finds an available port for the API server
func FindAvailableAPIPort() int {
	port := 8080
	for {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			listener.Close()
			return port
		}
		port++
	}
}

// LogOutcome appends a terminal session outcome to the outcome log, in the
// line format the outcome watcher parses.
func LogOutcome(filename, sessionID, state, partner, detail string) {
	logEntry := fmt.Sprintf("[%s] [Session %s] (%s) |@%s|: %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		sessionID,
		state,
		partner,
		detail)

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		log.Printf("Failed to create outcome log directory: %v", err)
		return
	}

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("Failed to open outcome log: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(logEntry); err != nil {
		log.Printf("Failed to write to outcome log: %v", err)
	}
}
