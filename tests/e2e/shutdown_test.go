package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/ledgerflow/internal/control"
)

func TestGracefulShutdown(t *testing.T) {
	remote := fakeRemote(100, 200)
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())

	app, err := control.NewApp(ctx, testConfig(remote.URL), nil)
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start app: %v", err)
	}

	// Let ingestion run a few cycles before pulling the plug.
	time.Sleep(200 * time.Millisecond)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	done := make(chan error, 1)
	go func() { done <- app.Stop(stopCtx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-stopCtx.Done():
		t.Fatal("shutdown did not complete in time")
	}
}
