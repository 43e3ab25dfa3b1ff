package host

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   string
		def  bool
		want bool
	}{
		{"1", false, true},
		{" TRUE ", false, true},
		{"on", false, true},
		{"no", true, false},
		{"Off", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBool(tt.in, tt.def))
		})
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("AGENT_TEST_FLAG", "")
	assert.True(t, ParseBoolEnv("AGENT_TEST_FLAG", true))
	t.Setenv("AGENT_TEST_FLAG", "yes")
	assert.True(t, ParseBoolEnv("AGENT_TEST_FLAG", false))
}

// Drives a real headless Chromium; opt in with AGENT_INTEGRATION=1.
func TestPageHostIntegration(t *testing.T) {
	if os.Getenv("AGENT_INTEGRATION") != "1" {
		t.Skip("set AGENT_INTEGRATION=1 to run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	headless := true
	l, err := NewLauncher(ctx, &headless, zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()

	h, err := l.NewPage(ctx, "")
	require.NoError(t, err)

	require.NoError(t, h.Update(ctx, h.Target(), "data:text/html,<button id=b>Go</button>"))
	raw, err := h.Evaluate(ctx, h.Target(), `(arg) => document.querySelector(arg.sel).textContent`, map[string]string{"sel": "#b"})
	require.NoError(t, err)
	assert.JSONEq(t, `"Go"`, string(raw))

	lease, err := h.Attach(ctx, h.Target())
	require.NoError(t, err)
	png, err := lease.CaptureScreenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
	require.NoError(t, lease.Detach(ctx))
	assert.ErrorIs(t, lease.DispatchMouseEvent(ctx, MouseEvent{Type: MouseMoved}), ErrNotAttached)

	require.NoError(t, h.Close(ctx))
	<-h.Removed(h.Target())
	_, err = h.Get(ctx, h.Target())
	assert.ErrorIs(t, err, ErrTargetClosed)
}
