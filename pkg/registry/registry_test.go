package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	assert.Len(t, reg.Events, 7)

	ev, ok := reg.ByKind("submission-graded")
	require.True(t, ok)
	assert.Equal(t, "GRADE_POSTED", ev.EventType)

	byTask, ok := reg.ByTaskType("notify-submission-graded")
	require.True(t, ok)
	assert.Equal(t, ev.Kind, byTask.Kind)

	bySubject, ok := reg.BySubject("notify.submission.graded")
	require.True(t, ok)
	assert.Equal(t, ev.Kind, bySubject.Kind)

	_, ok = reg.ByKind("unknown")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `{`},
		{"empty", `{"events":[]}`},
		{"missing subject", `{"events":[{"kind":"a","eventType":"X","taskType":"t"}]}`},
		{"duplicate kind", `{"events":[
			{"kind":"a","eventType":"X","taskType":"t1","subject":"s1"},
			{"kind":"a","eventType":"X","taskType":"t2","subject":"s2"}]}`},
		{"duplicate subject", `{"events":[
			{"kind":"a","eventType":"X","taskType":"t1","subject":"s"},
			{"kind":"b","eventType":"X","taskType":"t2","subject":"s"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
