package infra

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// LogClassifier implements domain.ConnectionClassifier over an append-only log.
// Every call re-reads the whole file, so truncation and rotation need no
// special handling.
type LogClassifier struct {
	path         string
	connected    *regexp.Regexp
	disconnected *regexp.Regexp
	logger       *zap.Logger
}

// NewLogClassifier compiles the pattern pair for path.
func NewLogClassifier(path, connected, disconnected string, logger *zap.Logger) (*LogClassifier, error) {
	c, err := regexp.Compile(connected)
	if err != nil {
		return nil, fmt.Errorf("invalid connected pattern %q: %w", connected, err)
	}
	d, err := regexp.Compile(disconnected)
	if err != nil {
		return nil, fmt.Errorf("invalid disconnected pattern %q: %w", disconnected, err)
	}
	return &LogClassifier{
		path:         path,
		connected:    c,
		disconnected: d,
		logger:       logger,
	}, nil
}

// Classify returns the status implied by the last matching line.
func (l *LogClassifier) Classify() domain.Classification {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Debug("cannot read daemon log",
				zap.String("path", l.path),
				zap.Error(err))
		}
		return domain.ClassUnknown
	}
	return l.ClassifyBytes(data)
}

// ClassifyBytes runs the classifier over log content already in memory.
// Lines have no length limit; a blob dumped into the log is just another line.
func (l *LogClassifier) ClassifyBytes(data []byte) domain.Classification {
	result := domain.ClassUnknown

	for len(data) > 0 {
		var line []byte
		line, data, _ = bytes.Cut(data, []byte{'\n'})
		// Deskflow's connected pattern also matches its disconnect lines
		if l.disconnected.Match(line) {
			result = domain.ClassDisconnected
		} else if l.connected.Match(line) {
			result = domain.ClassConnected
		}
	}

	return result
}

// Path returns the log file being classified.
func (l *LogClassifier) Path() string {
	return l.path
}

// Ensure LogClassifier implements domain.ConnectionClassifier.
var _ domain.ConnectionClassifier = (*LogClassifier)(nil)
