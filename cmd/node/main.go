package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/trustmesh/trustmesh/agent"
	"github.com/trustmesh/trustmesh/api"
	"github.com/trustmesh/trustmesh/api/handlers"
	"github.com/trustmesh/trustmesh/core"
	"github.com/trustmesh/trustmesh/registry"
	"github.com/trustmesh/trustmesh/utils"
)

func main() {
	cfg := core.LoadConfig()

	var ns *natsserver.Server
	if cfg.EmbeddedNats {
		var err error
		ns, err = natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: 4222})
		if err != nil {
			log.Fatalf("Failed to create embedded NATS server: %v", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			log.Fatal("Embedded NATS server did not become ready")
		}
		cfg.NatsURL = ns.ClientURL()
		log.Printf("Embedded NATS server listening on %s", cfg.NatsURL)
	}

	if err := core.SetupNatsBroker(cfg.NatsURL); err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	broker := core.NatsBrokerInstance

	directory, err := registry.StartDirectory(broker)
	if err != nil {
		log.Fatalf("Failed to start directory service: %v", err)
	}

	agents := make([]*agent.Agent, 0, cfg.AgentCount)
	for i := 0; i < cfg.AgentCount; i++ {
		a := agent.NewAgent(fmt.Sprintf("agent-%d", i), broker, cfg)
		if err := a.Start(); err != nil {
			log.Fatalf("Failed to start agent %s: %v", a.Name, err)
		}
		go a.Run()
		handlers.RegisterLocalAgent(a)
		agents = append(agents, a)
		log.Printf("Agent %s running at %s", a.Name, a.Address)
	}

	apiPort := cfg.APIPort
	if apiPort == 0 {
		apiPort = utils.FindAvailableAPIPort()
	}
	if len(agents) > 0 {
		registry.RegisterNode(agents[0].PublicKey, registry.NodeInfo{
			Name:    "node",
			Address: agents[0].Address,
			APIPort: apiPort,
		})
	}
	handlers.SetOutcomeLog(cfg.OutcomeLog)

	go api.Start(apiPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down")
	for _, a := range agents {
		a.Stop()
	}
	directory.Stop()
	broker.Close()
	if ns != nil {
		ns.Shutdown()
	}
}
