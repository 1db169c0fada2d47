package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rahul/trilha/internal/store"
)

type memorySink struct {
	events []store.Event
	err    error
}

func (m *memorySink) AppendEvent(_ context.Context, evt store.Event) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.events = append(m.events, evt)
	return int64(len(m.events)), nil
}

func TestTimelineRecordsAndMirrors(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := &memorySink{}
	tl := NewTimeline(sink, zap.New(core))

	tl.Record(context.Background(), "j-1", "chat-1", EventTypeStageAdvanced, map[string]string{"to": "modelagem"})

	require.Len(t, sink.events, 1)
	evt := sink.events[0]
	assert.Equal(t, "stage_advanced", evt.Type)
	assert.Equal(t, "j-1", evt.JourneyID)
	var data map[string]string
	require.NoError(t, json.Unmarshal(evt.Data, &data))
	assert.Equal(t, "modelagem", data["to"])

	require.Equal(t, 1, logs.FilterMessage("stage_advanced").Len())
}

func TestTimelineSinkFailureIsOnlyLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tl := NewTimeline(&memorySink{err: errors.New("locked")}, zap.New(core))

	tl.Record(context.Background(), "", "chat-1", EventTypeProgress, nil)
	assert.Equal(t, 1, logs.FilterMessage("failed to append timeline event").Len())

	var nilTimeline *Timeline
	nilTimeline.Record(context.Background(), "", "chat-1", EventTypeProgress, nil)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", FormatJSON)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	_, err = NewLogger("loud", FormatJSON)
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)

	log, err = NewLogger("warn", "")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
}

func TestPrintBannerWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "version dev", "db trilha.db")
	out := buf.String()
	assert.Contains(t, out, "version dev")
	assert.Contains(t, out, "db trilha.db")
	if !IsTerminal() {
		assert.False(t, strings.Contains(out, "\033["), "no escape codes outside a terminal")
	}
}
