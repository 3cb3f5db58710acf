package monitor

import (
	"testing"
	"time"
)

func TestRecordAndGetMetrics(t *testing.T) {
	c := NewCore(nil)
	c.RecordMetric("room.tick_ms", 16.5, map[string]string{"room": "r1"})
	c.RecordMetric("room.tick_ms", 17.2, map[string]string{"room": "r2"})

	got := c.GetMetrics(TimeRange{}, "room.tick_ms", map[string]string{"room": "r1"})
	if len(got) != 1 || got[0].Value != 16.5 {
		t.Fatalf("GetMetrics = %+v, want one sample with value 16.5", got)
	}
}

func TestMetricsRingBufferWraps(t *testing.T) {
	c := NewCore(nil)
	for i := 0; i < metricsCap+10; i++ {
		c.RecordMetric("x", float64(i), nil)
	}
	got := c.GetMetrics(TimeRange{}, "x", nil)
	if len(got) != metricsCap {
		t.Fatalf("ring buffer size = %d, want %d", len(got), metricsCap)
	}
	if got[0].Value != 10 {
		t.Fatalf("oldest surviving sample = %v, want 10 (first 10 overwritten)", got[0].Value)
	}
}

func TestAggregateErrorsGroupsByMessage(t *testing.T) {
	c := NewCore(nil)
	c.Log(LevelError, "db timeout", "acct-1", nil)
	c.Log(LevelError, "db timeout", "acct-2", nil)
	c.Log(LevelError, "other", "acct-1", nil)
	c.Log(LevelInfo, "noise", "", nil)

	aggs := c.AggregateErrors(TimeRange{})
	if len(aggs) != 2 {
		t.Fatalf("len(aggs) = %d, want 2", len(aggs))
	}
	for _, a := range aggs {
		if a.Message == "db timeout" {
			if a.Count != 2 {
				t.Errorf("db timeout count = %d, want 2", a.Count)
			}
			if len(a.Accounts) != 2 {
				t.Errorf("db timeout distinct accounts = %d, want 2", len(a.Accounts))
			}
		}
	}
}

func TestAlertTriggersAndEscalates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCore(func() time.Time { return now })
	c.RegisterAlert(AlertRule{Metric: "room.tick_ms", Threshold: 20, Op: OpGT})

	var notes []int
	ch := WebhookChannel{Send: func(rule AlertRule, level int, mean float64) {
		notes = append(notes, level)
	}}

	c.RecordMetric("room.tick_ms", 25, nil)
	c.EvaluateAlerts(ch)
	if len(notes) != 1 || notes[0] != 1 {
		t.Fatalf("first trigger level = %v, want [1]", notes)
	}

	now = now.Add(6 * time.Minute)
	c.RecordMetric("room.tick_ms", 25, nil)
	c.EvaluateAlerts(ch)
	if len(notes) != 2 || notes[1] != 2 {
		t.Fatalf("escalated level = %v, want second entry 2", notes)
	}
}

func TestAcknowledgeResetsLevelNotTriggerCount(t *testing.T) {
	now := time.Now()
	c := NewCore(func() time.Time { return now })
	c.RegisterAlert(AlertRule{Metric: "x", Threshold: 1, Op: OpGT})
	c.RecordMetric("x", 5, nil)
	c.EvaluateAlerts()

	c.Acknowledge("x")
	if c.TriggerCount("x") != 1 {
		t.Fatalf("TriggerCount after ack = %d, want 1", c.TriggerCount("x"))
	}
}
