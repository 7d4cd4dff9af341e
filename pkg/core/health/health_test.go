package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestStatus_Constants(t *testing.T) {
	if StatusHealthy != "healthy" {
		t.Errorf("StatusHealthy = %v, want healthy", StatusHealthy)
	}
	if StatusUnhealthy != "unhealthy" {
		t.Errorf("StatusUnhealthy = %v, want unhealthy", StatusUnhealthy)
	}
	if StatusDegraded != "degraded" {
		t.Errorf("StatusDegraded = %v, want degraded", StatusDegraded)
	}
	if StatusUnknown != "unknown" {
		t.Errorf("StatusUnknown = %v, want unknown", StatusUnknown)
	}
}

func TestNewChecker(t *testing.T) {
	checker := NewChecker("test-checker", func(ctx context.Context) CheckResult {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "test passed",
		}
	})

	if checker.Name() != "test-checker" {
		t.Errorf("Name() = %v, want test-checker", checker.Name())
	}

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", result.Status)
	}
	if result.Message != "test passed" {
		t.Errorf("Message = %v, want 'test passed'", result.Message)
	}
}

func TestRegistry_RegisterAndCheck(t *testing.T) {
	registry := NewRegistry("telshell", "1.0.0")

	checker1 := NewChecker("listener", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy, Message: "listening"}
	})
	checker2 := NewChecker("slots", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy, Message: "0/5 slots in use"}
	})

	registry.Register(checker1)
	registry.Register(checker2)

	report := registry.Check(context.Background())

	if report.Service != "telshell" {
		t.Errorf("Service = %v, want telshell", report.Service)
	}
	if report.Version != "1.0.0" {
		t.Errorf("Version = %v, want 1.0.0", report.Version)
	}
	if report.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Errorf("Checks count = %v, want 2", len(report.Checks))
	}
}

func TestRegistry_RegisterNamedChecker(t *testing.T) {
	registry := NewRegistry("telshell", "1.0.0")

	registry.Register(NewChecker("audit", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy, Message: "ok"}
	}))

	report := registry.Check(context.Background())

	if len(report.Checks) != 1 {
		t.Errorf("Checks count = %v, want 1", len(report.Checks))
	}
	if report.Checks[0].Name != "audit" {
		t.Errorf("Check name = %v, want audit", report.Checks[0].Name)
	}
}

func TestRegistry_OverallStatus_Unhealthy(t *testing.T) {
	registry := NewRegistry("telshell", "1.0.0")

	registry.Register(NewChecker("healthy-check", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	}))
	registry.Register(NewChecker("unhealthy-check", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	}))

	report := registry.Check(context.Background())

	if report.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", report.Status)
	}
}

func TestRegistry_OverallStatus_Degraded(t *testing.T) {
	registry := NewRegistry("telshell", "1.0.0")

	registry.Register(NewChecker("healthy-check", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	}))
	registry.Register(NewChecker("degraded-check", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusDegraded}
	}))

	report := registry.Check(context.Background())

	if report.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", report.Status)
	}
}

func TestRegistry_ConcurrentChecks(t *testing.T) {
	registry := NewRegistry("telshell", "1.0.0")

	var counter int32

	for i := 0; i < 5; i++ {
		registry.Register(NewChecker("check"+string(rune('A'+i)), func(ctx context.Context) CheckResult {
			atomic.AddInt32(&counter, 1)
			time.Sleep(10 * time.Millisecond) // Simulate work
			return CheckResult{Status: StatusHealthy}
		}))
	}

	start := time.Now()
	report := registry.Check(context.Background())
	duration := time.Since(start)

	if atomic.LoadInt32(&counter) != 5 {
		t.Errorf("Counter = %v, want 5", counter)
	}

	// Checks should run concurrently, so total time should be close to 10ms, not 50ms
	if duration > 100*time.Millisecond {
		t.Errorf("Duration = %v, expected concurrent execution", duration)
	}

	if len(report.Checks) != 5 {
		t.Errorf("Checks count = %v, want 5", len(report.Checks))
	}
}

func TestRegistry_Uptime(t *testing.T) {
	registry := NewRegistry("telshell", "1.0.0")

	time.Sleep(10 * time.Millisecond)

	report := registry.Check(context.Background())

	if report.Uptime < 10*time.Millisecond {
		t.Errorf("Uptime = %v, expected >= 10ms", report.Uptime)
	}
}

func TestReport_String(t *testing.T) {
	report := &Report{
		Service: "telshell",
		Status:  StatusHealthy,
		Uptime:  1 * time.Hour,
		Checks:  []CheckResult{{}, {}},
	}

	str := report.String()

	if str == "" {
		t.Error("String() returned empty")
	}
	if len(str) < 10 {
		t.Errorf("String() too short: %v", str)
	}
}

func TestListenerCheck(t *testing.T) {
	running := false
	checker := ListenerCheck("listener", func() bool { return running }, func() string { return "127.0.0.1:2323" })

	if got := checker.Check(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("stopped listener Status = %v, want unhealthy", got.Status)
	}

	running = true
	got := checker.Check(context.Background())
	if got.Status != StatusHealthy {
		t.Errorf("running listener Status = %v, want healthy", got.Status)
	}
	if got.Details["address"] != "127.0.0.1:2323" {
		t.Errorf("Details[address] = %v", got.Details["address"])
	}
}

func TestSlotsCheck(t *testing.T) {
	tests := []struct {
		name string
		used int
		want Status
	}{
		{"empty", 0, StatusHealthy},
		{"partial", 3, StatusHealthy},
		{"full", 5, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := SlotsCheck("slots", func() int { return tt.used }, 5)
			got := checker.Check(context.Background())
			if got.Status != tt.want {
				t.Errorf("Status = %v, want %v", got.Status, tt.want)
			}
			if got.Message != fmt.Sprintf("%d/5 slots in use", tt.used) {
				t.Errorf("Message = %q", got.Message)
			}
		})
	}
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck("db", func(context.Context) error { return nil })
	if got := ok.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", got.Status)
	}

	failing := PingCheck("db", func(context.Context) error { return errors.New("database is locked") })
	got := failing.Check(context.Background())
	if got.Status != StatusUnhealthy || got.Message != "database is locked" {
		t.Errorf("result = %+v", got)
	}
}

func TestTCPCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ln.Addr().String()

	checker := TCPCheck("tcp-test", addr, time.Second)
	if checker.Name() != "tcp-test" {
		t.Errorf("Name() = %v, want tcp-test", checker.Name())
	}

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy (%s)", result.Status, result.Message)
	}
	if result.Details["address"] != addr {
		t.Errorf("Details[address] = %v, want %v", result.Details["address"], addr)
	}

	ln.Close()
	if result := checker.Check(context.Background()); result.Status != StatusUnhealthy {
		t.Errorf("closed port Status = %v, want unhealthy", result.Status)
	}
}

func TestReport_SortedAndHealthy(t *testing.T) {
	registry := NewRegistry("telshell", "1.0.0")
	registry.Register(healthyChecker("slots"))
	registry.Register(healthyChecker("audit"))
	registry.Register(healthyChecker("listener"))

	report := registry.Check(context.Background())
	names := []string{report.Checks[0].Name, report.Checks[1].Name, report.Checks[2].Name}
	if names[0] != "audit" || names[1] != "listener" || names[2] != "slots" {
		t.Errorf("check order = %v, want sorted by name", names)
	}

	tests := []struct {
		status Status
		want   bool
	}{
		{StatusHealthy, true},
		{StatusDegraded, true},
		{StatusUnhealthy, false},
		{StatusUnknown, false},
	}
	for _, tt := range tests {
		if got := (&Report{Status: tt.status}).Healthy(); got != tt.want {
			t.Errorf("Healthy() for %s = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func healthyChecker(name string) Checker {
	return NewChecker(name, func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: StatusHealthy}
	})
}
