package communication

import (
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/trustmesh/trustmesh/utils"
)

// SessionOutcome is one terminal result of an agreement or protect session,
// as appended to the outcome log by the agents in this process.
type SessionOutcome struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	Partner   string `json:"partner"`
	Detail    string `json:"detail"`
	Timestamp int64  `json:"timestamp"`
}

var outcomeRegex = regexp.MustCompile(`\[Session ([^\]]+)\] \((\w+)\) \|@([^|]+)\|: (.+)$`)

// WatchOutcomeFile tails the session-outcome log and invokes broadcast for
// every recorded outcome, existing lines first, then appends as they arrive.
func WatchOutcomeFile(filename string, broadcast func(SessionOutcome)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Error creating file watcher: %v", err)
		return
	}
	defer watcher.Close()

	if !utils.FileExists(filename) {
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			log.Printf("Error creating outcome log directory: %v", err)
			return
		}
		file, err := os.Create(filename)
		if err != nil {
			log.Printf("Error creating outcome log: %v", err)
			return
		}
		file.Close()
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		log.Printf("Error reading outcome log: %v", err)
		return
	}

	for _, line := range strings.Split(string(content), "\n") {
		if line == "" {
			continue
		}
		processOutcomeLine(line, broadcast)
	}

	if err := watcher.Add(filename); err != nil {
		log.Printf("Error adding outcome log to watcher: %v", err)
		return
	}

	log.Printf("Started watching outcome log: %s", filename)

	lastSize := len(content)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				content, err := os.ReadFile(filename)
				if err != nil {
					log.Printf("Error reading outcome log after change: %v", err)
					continue
				}

				// Only the appended portion is new.
				if len(content) > lastSize {
					for _, line := range strings.Split(string(content[lastSize:]), "\n") {
						if line == "" {
							continue
						}
						processOutcomeLine(line, broadcast)
					}
					lastSize = len(content)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

func processOutcomeLine(line string, broadcast func(SessionOutcome)) {
	matches := outcomeRegex.FindStringSubmatch(line)
	if len(matches) != 5 {
		return
	}

	broadcast(SessionOutcome{
		SessionID: matches[1],
		State:     matches[2],
		Partner:   matches[3],
		Detail:    strings.TrimSpace(matches[4]),
		Timestamp: time.Now().Unix(),
	})
}
