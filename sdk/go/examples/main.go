package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"AgentEscrow/sdk/go/escrowd"
)

// Prints inbox stats and the failed deliveries of an escrowd instance.
// ESCROWD_URL defaults to http://localhost:8080; ESCROWD_TOKEN comes from
// `sessionctl admin-token`.
func main() {
	base := os.Getenv("ESCROWD_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client, err := escrowd.NewClient(base, nil)
	if err != nil {
		panic(err)
	}
	client.SetAccessToken(os.Getenv("ESCROWD_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := client.DeliveryStats(ctx, escrowd.DeliveryFilter{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("deliveries: total=%d pending=%d succeeded=%d failed=%d\n",
		stats.Total, stats.Pending, stats.Succeeded, stats.Failed)

	failed, err := client.ListDeliveries(ctx, escrowd.DeliveryFilter{Statuses: []string{"failed"}, Limit: 10})
	if err != nil {
		panic(err)
	}
	for _, d := range failed {
		fmt.Printf("  %s tx=%s attempts=%d/%d error=%s\n", d.ID, d.TransactionID, d.Attempts, d.MaxRetries, d.LastError)
	}
}
