package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"tgfilestream/internal/transfer"
	"tgfilestream/internal/upstream"
)

type idleClient struct{}

func (idleClient) DC(_ context.Context, dcID int) (upstream.DCOption, error) {
	return upstream.DCOption{ID: dcID}, nil
}

func (idleClient) ExportAuth(context.Context, int) (upstream.ExportedAuth, error) {
	return upstream.ExportedAuth{}, upstream.ErrDCIDInvalid
}

func (idleClient) HomeDC() int                   { return 1 }
func (idleClient) HomeAuthKey() upstream.AuthKey { return upstream.AuthKey("key") }

func (idleClient) Message(context.Context, upstream.Peer, int) (*upstream.Message, error) {
	return nil, upstream.ErrNotFound
}

type idleDialer struct{}

func (idleDialer) Dial(context.Context, upstream.DCOption, upstream.AuthKey) (upstream.Sender, error) {
	return nil, context.Canceled
}

func TestRunMetricsStopsOnCancel(t *testing.T) {
	t.Parallel()

	tr := transfer.New(idleClient{}, idleDialer{}, 20, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runMetrics(ctx, tr, zap.NewNop(), time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runMetrics did not stop on cancel")
	}
}
