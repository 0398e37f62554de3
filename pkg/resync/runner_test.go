package resync

import (
	"context"
	"testing"

	"converse/pkg/config"
	"converse/pkg/session"
)

func TestDisabledReturnsNoopCancel(t *testing.T) {
	cancel, err := Start(context.Background(), config.ResyncConfig{Enabled: false}, session.NewRegistry())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
}

func TestInvalidCronRejected(t *testing.T) {
	_, err := Start(context.Background(), config.ResyncConfig{Enabled: true, Cron: "not a cron"}, session.NewRegistry())
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestValidCronStartsAndStops(t *testing.T) {
	cancel, err := Start(context.Background(), config.ResyncConfig{Enabled: true, Cron: "0 2 * * *"}, session.NewRegistry())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
}

func TestRunOnceEmptyRegistry(t *testing.T) {
	RunOnce(context.Background(), session.NewRegistry())
}
