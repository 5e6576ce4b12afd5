package main

import (
	"context"

	"adharvest/cmd/harvest-cli/commands"
	"adharvest/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "harvest-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
