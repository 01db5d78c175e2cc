package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExec_CapturesStdout(t *testing.T) {
	result, err := Exec(context.Background(), 5*time.Second, "", "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestExec_NonZeroExitIsClassifiedUnrecoverable(t *testing.T) {
	_, err := Exec(context.Background(), 5*time.Second, "", "false")
	require.Error(t, err)
	assert.Equal(t, KindUnrecoverable, KindOf(err))
}

func TestExec_TimeoutKillsProcess(t *testing.T) {
	_, err := Exec(context.Background(), 20*time.Millisecond, "", "sleep", "5")
	require.Error(t, err)

	var classified *Classified
	require.ErrorAs(t, err, &classified)

	var timeoutErr *ErrExecTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}
