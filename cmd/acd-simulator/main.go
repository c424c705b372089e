// Command acd-simulator drives a running ACD server with synthetic load,
// the Go counterpart of original_source/src/simulator.py's __main__: it
// opens the ACD with a pool of agents, then fires a batch of contacts at a
// staggered interval and closes the ACD once they've had time to settle.
package main

import (
	"flag"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aidenlippert/acd-dispatch/internal/config"
	"github.com/aidenlippert/acd-dispatch/internal/simulator"
)

func main() {
	numAgents := flag.Int("agents", 40, "number of agents to create")
	numContacts := flag.Int("contacts", 100, "number of contacts to generate")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	client := simulator.New(cfg.RestURL, logger)

	if err := client.OpenACD(*numAgents); err != nil {
		logger.Fatal("failed to open acd", zap.Error(err))
	}

	var wg sync.WaitGroup
	for i := 0; i < *numContacts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := client.GenerateContact(); err != nil {
				logger.Error("contact generation failed", zap.Int("n", n), zap.Error(err))
			}
		}(i)
		time.Sleep(500 * time.Millisecond)
	}

	wg.Wait()
	time.Sleep(3 * time.Second)

	if err := client.CloseACD(); err != nil {
		logger.Fatal("failed to close acd", zap.Error(err))
	}
	logger.Info("simulation complete", zap.Int("agents", *numAgents), zap.Int("contacts", *numContacts))
}
