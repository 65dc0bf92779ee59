package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryPickerSelects(t *testing.T) {
	entries := sampleHistory()
	hp := NewHistoryPicker(entries)

	hp.Update(key("j"))
	hp.Update(key("j"))
	assert.Contains(t, hp.View(), "Older")

	_, cmd := hp.Update(key("enter"))
	assert.NotNil(t, cmd)

	res := hp.Result()
	assert.False(t, res.Canceled)
	assert.Equal(t, entries[1].Timestamp, res.Entry.Timestamp)
}

func TestHistoryPickerCancel(t *testing.T) {
	hp := NewHistoryPicker(sampleHistory())
	hp.Update(key("q"))
	assert.True(t, hp.Result().Canceled)
}

func TestHistoryPickerEmpty(t *testing.T) {
	hp := NewHistoryPicker(nil)
	assert.Contains(t, hp.View(), "history is empty")
	hp.Update(key("enter"))
	assert.True(t, hp.Result().Canceled)
}
