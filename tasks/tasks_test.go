package tasks

import (
	"testing"

	"github.com/meridian-gfx/viewport/contracts"
)

func TestDefaultOrderStormMatchesCanonicalSequence(t *testing.T) {
	want := []string{
		"simpleLight", "shadow", "renderTask:defaultMaterial", "renderTask:masked",
		"renderTask:additive", "renderTask:translucent", "aovInput", "boundingBox",
		"renderTask:volume", "oitResolve", "selection", "colorizeSelection",
		"colorCorrection", "visualizeAov", "present", "pick",
	}
	if len(DefaultOrderStorm) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(DefaultOrderStorm))
	}
	for i := range want {
		if DefaultOrderStorm[i] != want[i] {
			t.Fatalf("at %d: got %q, want %q", i, DefaultOrderStorm[i], want[i])
		}
	}
}

func TestDefaultOrderPathTracerMatchesCanonicalSequence(t *testing.T) {
	want := []string{
		"renderTask", "aovInput", "boundingBox", "colorizeSelection",
		"colorCorrection", "visualizeAov", "present", "pickFromRenderBuffer",
	}
	if len(DefaultOrderPathTracer) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(DefaultOrderPathTracer))
	}
	for i := range want {
		if DefaultOrderPathTracer[i] != want[i] {
			t.Fatalf("at %d: got %q, want %q", i, DefaultOrderPathTracer[i], want[i])
		}
	}
}

func TestSpiralTurnsInRangeAndFallback(t *testing.T) {
	if SpiralTurns(0) != 1 {
		t.Fatalf("expected spiral turns table entry 0 == 1, got %d", SpiralTurns(0))
	}
	if SpiralTurns(64) != ssaoSpiralTurns[64] {
		t.Fatalf("expected boundary value from table")
	}
	if SpiralTurns(65) != 257 {
		t.Fatalf("expected fallback 257 beyond table range, got %d", SpiralTurns(65))
	}
	if SpiralTurns(-1) != 257 {
		t.Fatalf("expected fallback 257 for negative sampleCount, got %d", SpiralTurns(-1))
	}
}

func TestThinTaskRunsCommitFnAndRecordsExecution(t *testing.T) {
	var committed bool
	task := NewThinTask("shadow", func(ctx *contracts.TaskContext) { committed = true })

	ctx := &contracts.TaskContext{}
	if err := task.Sync(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !committed {
		t.Fatalf("expected commit function to run during Sync")
	}

	if err := task.Execute(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := ctx.Get("lastExecuted"); !ok || v != "shadow" {
		t.Fatalf("expected lastExecuted to be recorded, got %v", v)
	}
}

func TestColorCorrectionDisabledSkipsExecution(t *testing.T) {
	task := NewColorCorrectionTask(nil, ColorCorrectionDisabled, OCIOParams{})
	ctx := &contracts.TaskContext{}

	if err := task.Prepare(ctx); err != nil {
		t.Fatalf("unexpected error preparing disabled task: %v", err)
	}
	if err := task.Execute(ctx); err != nil {
		t.Fatalf("unexpected error executing disabled task: %v", err)
	}
	if _, ok := ctx.Get("colorIntermediate"); ok {
		t.Fatalf("expected disabled color-correction task to skip execution")
	}
}
