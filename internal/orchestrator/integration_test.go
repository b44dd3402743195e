//go:build integration

package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aiox-platform/recall/internal/audit"
	"github.com/aiox-platform/recall/internal/config"
	"github.com/aiox-platform/recall/internal/conversation"
	"github.com/aiox-platform/recall/internal/embedding"
	"github.com/aiox-platform/recall/internal/generator"
	"github.com/aiox-platform/recall/internal/memory"
	inats "github.com/aiox-platform/recall/internal/nats"
	"github.com/aiox-platform/recall/internal/orchestrator"
)

func setupNATSContainer(t *testing.T) *inats.Client {
	t.Helper()
	ctx := context.Background()

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"--jetstream", "--store_dir", "/data"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { natsContainer.Terminate(ctx) })

	host, _ := natsContainer.Host(ctx)
	port, _ := natsContainer.MappedPort(ctx, "4222")

	client, err := inats.NewClient(ctx, config.NATSConfig{
		URL:           fmt.Sprintf("nats://%s:%s", host, port.Port()),
		MessageMaxAge: time.Hour,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestOrchestratorFlow(t *testing.T) {
	natsClient := setupNATSContainer(t)
	ctx := context.Background()

	publisher := inats.NewPublisher(natsClient.JetStream())
	consumerMgr := inats.NewConsumerManager(natsClient.JetStream())

	embedder, err := embedding.NewService(embedding.Config{}, nil, nil)
	require.NoError(t, err)
	memories := memory.NewManager(memory.NewInMemoryStore(embedder.Dimensions()), embedder, memory.Config{})
	conv := conversation.NewManager(memories, generator.Echo{Name: "N"}, conversation.NewInMemoryContextStore(),
		conversation.DefaultProfile("N", "Nischal"), conversation.DefaultConfig(), nil)

	orch := orchestrator.NewOrchestrator(publisher, consumerMgr, orchestrator.NewValidator(nil, nil),
		conv, nil, orchestrator.Config{AckWait: time.Minute}, nil)
	turnLogs := audit.NewMemoryRepository(0)
	auditConsumer := audit.NewConsumer(turnLogs, consumerMgr)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	orchDone := make(chan error, 1)
	go func() { orchDone <- orch.Start(runCtx) }()
	go func() { _ = auditConsumer.Start(runCtx) }()

	// Wait for consumers to start
	time.Sleep(500 * time.Millisecond)

	inbound := inats.InboundMessage{
		ID:         "orch-test-1",
		UserID:     "alice@example.com",
		FromJID:    "alice@example.com/phone",
		ToJID:      "recall.example.com",
		Body:       "Hello there!",
		StanzaType: "chat",
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, publisher.PublishInboundMessage(ctx, inbound))

	outConsumer, err := consumerMgr.EnsureConsumer(ctx, inats.StreamMessages, "test-outbound", inats.SubjectOutboundMessage, 0)
	require.NoError(t, err)

	var outbound inats.OutboundMessage
	deadline := time.After(10 * time.Second)
	for outbound.ID == "" {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for outbound message")
		default:
		}

		msgs, err := outConsumer.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			continue
		}
		for m := range msgs.Messages() {
			require.NoError(t, json.Unmarshal(m.Data(), &outbound))
			_ = m.Ack()
		}
	}

	assert.Equal(t, "alice@example.com/phone", outbound.ToJID)
	assert.Equal(t, "recall.example.com", outbound.FromJID)
	assert.Equal(t, "orch-test-1", outbound.InReplyTo)
	assert.Contains(t, outbound.Body, "N heard: Hello there!")

	// The exchange is remembered for the bare JID.
	records, err := memories.RetrieveMemories(ctx, "alice@example.com", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Hello there!", records[0].Context[0])

	// The turn outcome reaches the audit log.
	require.Eventually(t, func() bool {
		logs, _, err := turnLogs.ListByUser(ctx, "alice@example.com", audit.DefaultListParams())
		return err == nil && len(logs) == 1 && logs[0].Outcome == inats.OutcomeReplied
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-orchDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop in time")
	}
}

func TestNATSClientHealthy(t *testing.T) {
	client := setupNATSContainer(t)
	assert.True(t, client.Healthy())
}
