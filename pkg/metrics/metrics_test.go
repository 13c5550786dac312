package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := New()
	m.MessagesAppended.WithLabelValues("inbox").Inc()
	m.Wakes.WithLabelValues(WakeStarted).Inc()
	m.ToolCalls.WithLabelValues("send_message").Add(2)
	m.ResponsesDrained.WithLabelValues("channel").Inc()
	m.ResponsesDrained.WithLabelValues("http").Add(3)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(recorder.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		`skyclaw_messages_appended_total{direction="inbox"} 1`,
		`skyclaw_wakes_total{outcome="started"} 1`,
		`skyclaw_tool_calls_total{tool="send_message"} 2`,
		`skyclaw_responses_drained_total{path="channel"} 1`,
		`skyclaw_responses_drained_total{path="http"} 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetricsIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.ResponsesDrained.WithLabelValues("channel").Inc()

	recorder := httptest.NewRecorder()
	b.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(recorder.Result().Body)

	if strings.Contains(string(body), `skyclaw_responses_drained_total{path="channel"} 1`) {
		t.Fatal("counter leaked between registries")
	}
}
