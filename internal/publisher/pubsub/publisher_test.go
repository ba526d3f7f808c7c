package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/pagespeed-auditor/internal/orchestrator"
	"github.com/JakeFAU/pagespeed-auditor/internal/publisher/pubsub"
)

func fakeServer(t *testing.T) (*pstest.Server, option.ClientOption) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, option.WithGRPCConn(conn)
}

func TestPublishRunSummary(t *testing.T) {
	ctx := context.Background()
	srv, connOpt := fakeServer(t)

	admin, err := gpubsub.NewClient(ctx, "project-id", connOpt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	_, err = admin.CreateTopic(ctx, "runs")
	require.NoError(t, err)

	pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: "project-id", TopicName: "runs"}, connOpt)
	require.NoError(t, err)

	summary := orchestrator.Summary{
		RunID:      "run-1",
		Sitemap:    "https://example.com/sitemap.xml",
		ReportPath: "example.com_pagespeed_20240101_120000.csv",
		Discovered: 3,
		Measured:   2,
		Failed:     1,
		StartedAt:  time.Unix(1700000000, 0).UTC(),
		FinishedAt: time.Unix(1700000100, 0).UTC(),
	}
	require.NoError(t, pub.Publish(ctx, summary))
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run-1", msgs[0].Attributes["run_id"])
	assert.Equal(t, "false", msgs[0].Attributes["aborted"])

	var got orchestrator.Summary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, summary, got)
}

func TestPublishMissingTopic(t *testing.T) {
	ctx := context.Background()
	_, connOpt := fakeServer(t)

	pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: "project-id", TopicName: "absent"}, connOpt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.Error(t, pub.Publish(ctx, orchestrator.Summary{RunID: "run-1"}))
}

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := pubsub.New(context.Background(), pubsub.Config{ProjectID: "p"})
	require.Error(t, err)

	var nilPub *pubsub.Publisher
	require.Error(t, nilPub.Publish(context.Background(), orchestrator.Summary{}))
	require.NoError(t, nilPub.Close())
}
