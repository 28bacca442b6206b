package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/navmetrics-backend/internal/domain"
)

func TestPrintLog(t *testing.T) {
	started := time.Date(2026, time.February, 10, 6, 0, 0, 0, time.UTC)
	ok := domain.NewIngestionLog("01J0RUN", "119551", started)
	ok.Succeed(4, 3, started.Add(time.Second))
	failed := domain.NewIngestionLog("01J0RUN", "119551", started)
	failed.Fail(errors.New("failed to fetch data: "+strings.Repeat("x", 200)), started.Add(time.Second))

	var buf bytes.Buffer
	require.NoError(t, printLog(&buf, []*domain.IngestionLog{ok, failed}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "success")
	assert.Contains(t, lines[2], "failed")
	assert.True(t, strings.HasSuffix(lines[2], "..."))
}

func TestExitFor(t *testing.T) {
	assert.NoError(t, exitFor(3, 3))
	assert.ErrorContains(t, exitFor(1, 3), "2 of 3 failed")
}

func TestCommandNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range commands {
		assert.False(t, seen[c.Name()], c.Name())
		seen[c.Name()] = true
		assert.NotEmpty(t, c.Synopsis())
	}
}
