package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type LogKind string

const (
	// steps of kind `data` are lines of output from an action
	LogKindData LogKind = "data"
	// steps of kind `control` mark the start and end of a step
	LogKindControl LogKind = "control"
)

type LogLine struct {
	Kind       LogKind    `json:"kind"`
	Content    string     `json:"content"`
	Time       time.Time  `json:"time"`
	StepId     string     `json:"step_id"`
	Stream     string     `json:"stream,omitempty"`
	StepStatus StatusKind `json:"step_status,omitempty"`
}

func NewDataLogLine(stepId, content, stream string) LogLine {
	return LogLine{
		Kind:    LogKindData,
		Content: content,
		Time:    time.Now(),
		StepId:  stepId,
		Stream:  stream,
	}
}

func NewControlLogLine(stepId, name string, status StatusKind) LogLine {
	return LogLine{
		Kind:       LogKindControl,
		Content:    name,
		Time:       time.Now(),
		StepId:     stepId,
		StepStatus: status,
	}
}

// JobLogger writes one JSON log line per output line of a job's steps.
type JobLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

func NewJobLogger(baseDir string, jid JobId) (*JobLogger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	path := LogFilePath(baseDir, jid)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	return &JobLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func LogFilePath(baseDir string, jid JobId) string {
	logFilePath := filepath.Join(baseDir, fmt.Sprintf("%s.log", jid.String()))
	return logFilePath
}

func (l *JobLogger) Close() error {
	return l.file.Close()
}

func (l *JobLogger) encode(line LogLine) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(line)
}

// Control records a step status transition.
func (l *JobLogger) Control(stepId, name string, status StatusKind) error {
	return l.encode(NewControlLogLine(stepId, name, status))
}

func (l *JobLogger) DataWriter(stepId, stream string) io.Writer {
	return &dataWriter{
		logger: l,
		stepId: stepId,
		stream: stream,
	}
}

type dataWriter struct {
	logger *JobLogger
	stepId string
	stream string
}

func (w *dataWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\n") {
		entry := NewDataLogLine(w.stepId, strings.TrimRight(line, "\r"), w.stream)
		if err := w.logger.encode(entry); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
