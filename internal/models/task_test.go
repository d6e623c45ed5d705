package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition_FromCreated(t *testing.T) {
	for _, to := range []TaskStatus{TaskCompleted, TaskCompletedNoPayment, TaskFailed} {
		assert.NoError(t, Transition(TaskCreated, to))
	}
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	terminals := []TaskStatus{TaskCompleted, TaskCompletedNoPayment, TaskFailed}
	for _, from := range terminals {
		for _, to := range []TaskStatus{TaskCreated, TaskCompleted, TaskCompletedNoPayment, TaskFailed} {
			assert.Error(t, Transition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, TaskCreated.Terminal())
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskCompletedNoPayment.Terminal())
	assert.True(t, TaskFailed.Terminal())
}
