package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/inspect"
)

func devicesCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "devices",
		Usage: "List the accelerator devices of the configured driver",
		Flags: append(deviceFlags(),
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := loaded
			applyDeviceFlags(cmd, &cfg)

			drv, err := accel.Open(cfg.Driver, accel.Options{
				Devices:       cfg.Sim.Devices,
				CapacityBytes: cfg.Sim.CapacityBytes,
			})
			if err != nil {
				return err
			}
			if drv != nil {
				defer drv.Close()
			}

			devices, err := inspect.Devices(drv)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"driver":    cfg.Driver,
					"available": accel.Available(),
					"devices":   devices,
				})
			}

			fmt.Printf("driver:    %s\n", cfg.Driver)
			fmt.Printf("available: %s\n", accel.Available())
			if len(devices) == 0 {
				fmt.Println("no accelerator devices (host only)")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("  [%d] %s\n", d.Ordinal, d.Name)
			}
			return nil
		},
	}
}
