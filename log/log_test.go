/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package log

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type testLogWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (tw *testLogWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.buf.Write(p)
}

func (tw *testLogWriter) Sync() error { return nil }

func (tw *testLogWriter) String() string {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.buf.String()
}

func TestDebugLog(t *testing.T) {
	w := &testLogWriter{}
	Set(New(&Config{Level: DebugLevel}, w))
	defer Unset()

	Debugf("test debug log!")
	require.True(t, strings.Contains(w.String(), "DEBUG"))
	require.True(t, strings.Contains(w.String(), "test debug log!"))
}

func TestInfoLog(t *testing.T) {
	w := &testLogWriter{}
	Set(New(&Config{Level: InfoLevel}, w))
	defer Unset()

	Debugf("filtered out")
	Infof("test info log!")
	require.False(t, strings.Contains(w.String(), "filtered out"))
	require.True(t, strings.Contains(w.String(), "INFO"))
	require.True(t, strings.Contains(w.String(), "test info log!"))
}

func TestWarningAndErrorLog(t *testing.T) {
	w := &testLogWriter{}
	Set(New(&Config{Level: WarningLevel, Encoding: "json"}, w))
	defer Unset()

	Infof("filtered out")
	Warnf("test warning log!")
	Error(errors.New("test error log!"))

	out := w.String()
	require.False(t, strings.Contains(out, "filtered out"))
	require.True(t, strings.Contains(out, `"level":"WARN"`))
	require.True(t, strings.Contains(out, "test warning log!"))
	require.True(t, strings.Contains(out, `"level":"ERROR"`))
	require.True(t, strings.Contains(out, "test error log!"))
}

func TestFatalLog(t *testing.T) {
	w := &testLogWriter{}
	Set(New(&Config{Level: InfoLevel}, w))
	defer Unset()

	var exited bool
	exitHandler = func() { exited = true }

	Fatalf("test fatal log!")
	require.True(t, exited)
	require.True(t, strings.Contains(w.String(), "test fatal log!"))
}

func TestDisabledLogger(t *testing.T) {
	Unset()
	// must not panic
	Infof("nobody listens")
	require.Equal(t, OffLevel, inst.Level())
}
