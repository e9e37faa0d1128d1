package monitoring

import "testing"

func TestCheckHealthAggregation(t *testing.T) {
	hc := NewHealthChecker("test", "v0")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })

	if got := hc.CheckHealth().Status; got != StatusHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}

	hc.AddCheck("slow", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	if got := hc.CheckHealth().Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}

	hc.AddCheck("down", func() CheckResult { return CheckResult{Status: StatusUnhealthy} })
	if got := hc.CheckHealth().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", got)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	check := ConfigurationHealthCheck(map[string]string{"REDIS_URL": ""})
	if got := check().Status; got != StatusDegraded {
		t.Fatalf("expected degraded for missing config, got %s", got)
	}

	check = ConfigurationHealthCheck(map[string]string{"REDIS_URL": "redis://localhost"})
	if got := check().Status; got != StatusHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}
}
