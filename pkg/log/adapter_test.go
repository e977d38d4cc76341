package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newBufferEntry(level logrus.Level) (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logrus.NewEntry(logger), &buf
}

func TestBadgerLogrusAdapter_Levels(t *testing.T) {
	entry, buf := newBufferEntry(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(entry)

	adapter.Errorf("error %s\n", "disk")
	adapter.Warningf("warning %d", 42)
	adapter.Infof("replaying value log")
	adapter.Debugf("debug detail")

	out := buf.String()
	assert.Contains(t, out, "level=error")
	assert.Contains(t, out, `msg="error disk"`)
	assert.Contains(t, out, "level=warning")
	assert.NotContains(t, out, "replaying value log", "badger info is demoted below info")
	assert.NotContains(t, out, "debug detail")
}

func TestBadgerLogrusAdapter_InfoVisibleAtDebug(t *testing.T) {
	entry, buf := newBufferEntry(logrus.DebugLevel)
	NewBadgerLogrusAdapter(entry).Infof("compaction %d done", 3)
	assert.Contains(t, buf.String(), "compaction 3 done")
}
