//go:build !integration

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithJobID(ctx, "job-1")
	ctx = WithContextID(ctx, "conv-1")
	ctx = WithSubject(ctx, "agent-1")

	With(ctx, &base).Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{
		`"trace_id":"trace-1"`,
		`"job_id":"job-1"`,
		`"context_id":"conv-1"`,
		`"subject":"agent-1"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log line %s", want, out)
		}
	}
}

func TestWithEmptyContextAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	With(context.Background(), &base).Info().Msg("hello")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("expected no trace fields, got %s", buf.String())
	}
}

func TestTraceDurationLogsStartAndFinish(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	done := TraceDuration(&base, "Lifecycle.Raise")
	done()

	out := buf.String()
	if !strings.Contains(out, `"message":"start"`) {
		t.Errorf("expected start entry, got %s", out)
	}
	if !strings.Contains(out, `"message":"finish"`) || !strings.Contains(out, `"duration"`) {
		t.Errorf("expected finish entry with duration, got %s", out)
	}
	if !strings.Contains(out, `"method":"Lifecycle.Raise"`) {
		t.Errorf("expected method field, got %s", out)
	}
}
