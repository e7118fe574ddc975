package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/famotime/siyuan-scripts/internal/progress"
)

func runEvents(runID string, final progress.Stage) []progress.Event {
	now := time.Now()
	return []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, URL: "https://example.com/a"},
		{RunID: runID, TS: now, Stage: progress.StageFetched, Site: "example.com", Bytes: 2048,
			StatusClass: progress.Status2xx, Dur: 300 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageConverted, Dur: 20 * time.Millisecond, Note: "html-to-markdown-v2"},
		{RunID: runID, TS: now, Stage: final, Dur: 2 * time.Second},
	}
}

func TestPrometheusSinkRecordsRuns(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), runEvents("run-1", progress.StageRunDone)))
	require.NoError(t, sink.Consume(context.Background(), runEvents("run-2", progress.StageRunError)[:1]))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("done")))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("2xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.stageDuration, "clipper_progress_stage_duration_seconds"))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "clipper_progress_run_duration_seconds"))
}

func TestPrometheusSinkIgnoresDuplicateStarts(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	start := progress.Event{RunID: "run-1", TS: time.Now(), Stage: progress.StageRunStart}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, start}))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))

	done := progress.Event{RunID: "run-1", TS: time.Now(), Stage: progress.StageRunError}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{done, done}))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}

func TestPrometheusSinkReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	second, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, second.Consume(context.Background(), runEvents("run-1", progress.StageRunDone)[:1]))
	assert.Equal(t, 1.0, testutil.ToFloat64(first.runsStarted))
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), runEvents("run-1", progress.StageRunDone)))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("clip stage").All()
	require.Len(t, entries, 4)
	fetched := entries[1].ContextMap()
	assert.Equal(t, "FETCHED", fetched["stage"])
	assert.Equal(t, "example.com", fetched["site"])
	assert.Equal(t, int64(2048), fetched["bytes"])
	assert.Equal(t, "html-to-markdown-v2", entries[2].ContextMap()["note"])
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.InfoLevel, entries[3].Level)
}
