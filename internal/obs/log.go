package obs

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
)

var (
	loggerMu sync.Mutex
	logger   *log.Logger
)

// Logger returns the shared line-oriented logger. Every line it emits is a
// single JSON object.
func Logger() *log.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = log.New(os.Stdout, "", 0)
	}
	return logger
}

// SetOutput redirects the shared logger, used by tests to capture output.
func SetOutput(w io.Writer) {
	Logger().SetOutput(w)
}

// LogRequest emits one JSON log line built from the given fields.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// LogEvent emits one JSON log line for a named service event.
func LogEvent(event string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+1)
	entry["event"] = event
	for k, v := range fields {
		entry[k] = v
	}
	LogRequest(entry)
}
