// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatEntry(t *testing.T, entry *log.Entry) string {
	t.Helper()
	out, err := (&LogFormatter{}).Format(entry)
	require.NoError(t, err)
	return string(out)
}

func TestLogFormatter_Basic(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 28, 20, 14, 4, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "server started",
		Data:    log.Fields{},
	}
	line := formatEntry(t, entry)
	assert.Equal(t, "[2026-08-28 20:14:04] [--------] [info ] server started\n", line)
}

func TestLogFormatter_RequestIDTruncated(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 28, 20, 14, 4, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "dispatch failed",
		Data:    log.Fields{"request_id": "a1b2c3d4e5f6"},
	}
	line := formatEntry(t, entry)
	assert.Contains(t, line, "[a1b2c3d4]")
	assert.NotContains(t, line, "a1b2c3d4e5f6")
	assert.Contains(t, line, "[warn ]")
}

func TestLogFormatter_Fields(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 28, 20, 14, 4, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "loaded",
		Data:    log.Fields{"count": 3},
	}
	line := formatEntry(t, entry)
	assert.Contains(t, line, "| count=3")
}

func TestLogFormatter_TrailingNewlineTrimmed(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 28, 20, 14, 4, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "message with newline\n",
		Data:    log.Fields{},
	}
	line := formatEntry(t, entry)
	assert.Equal(t, "[2026-08-28 20:14:04] [--------] [info ] message with newline\n", line)
}

func TestSetLevel(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	SetLevel("debug")
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	SetLevel("not-a-level")
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
