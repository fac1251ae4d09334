// Package obs is the warranty service's operational toolkit: the shared JSON
// line logger every package reports through and the Prometheus metric set for
// the HTTP surface, lifecycle transitions and token resolutions.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line logger.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Emit writes one structured JSON line of the given kind. The timestamp and
// type are stamped here so callers only supply their own fields.
func Emit(kind string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["type"] = kind

	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"type":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
