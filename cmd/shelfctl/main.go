// shelfctl talks to the shelf sensor fleet directly over MQTT, without
// going through the monitor daemon. Useful on a laptop next to the rack.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/YSLin901019/ntu-iot/internal/config"
	"github.com/YSLin901019/ntu-iot/internal/mqtt"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file")
	broker     = flag.String("broker", "", "MQTT broker URL (overrides config)")
	window     = flag.Duration("window", 0, "Response collection window (overrides config)")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] <command>

Commands:
  discover              broadcast a discovery request and list responders
  heartbeat [device]    ping one device, or every listening device
  enable <shelf>        turn sampling on for a shelf
  disable <shelf>       turn sampling off for a shelf
  calibrate <shelf>     measure the empty-shelf distance
  status                ask every device to republish its status
  data [shelf]          request an immediate reading
  send <command...>     publish a raw command string

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
	}
	if *broker != "" {
		cfg.Broker = broker
	}

	client := mqtt.NewClient(cfg, nil)
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	if err := run(ctx, client, cfg, flag.Args()); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, client *mqtt.Client, cfg *config.Config, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "discover":
		return runDiscover(ctx, client, pickWindow(cfg.GetDiscoveryTimeout()))

	case "heartbeat":
		deviceID := ""
		if len(rest) > 0 {
			deviceID = rest[0]
		}
		return runHeartbeat(ctx, client, deviceID, pickWindow(cfg.GetHeartbeatTimeout()))

	case "enable", "disable", "calibrate":
		if len(rest) != 1 {
			return fmt.Errorf("%s takes exactly one shelf ID", cmd)
		}
		if err := client.SendCommand(cmd + " " + rest[0]); err != nil {
			return err
		}
		fmt.Printf("sent: %s %s\n", cmd, rest[0])
		return nil

	case "status":
		if err := client.RequestStatus(); err != nil {
			return err
		}
		fmt.Println("status request sent")
		return nil

	case "data":
		var err error
		if len(rest) > 0 {
			err = client.RequestShelfData(rest[0])
		} else {
			err = client.RequestAllData()
		}
		if err != nil {
			return err
		}
		fmt.Println("data request sent")
		return nil

	case "send":
		if len(rest) == 0 {
			return fmt.Errorf("send needs a command string")
		}
		raw := strings.Join(rest, " ")
		if err := client.SendCommand(raw); err != nil {
			return err
		}
		fmt.Printf("sent: %s\n", raw)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// pickWindow prefers the -window flag over the configured timeout.
func pickWindow(configured time.Duration) time.Duration {
	if *window > 0 {
		return *window
	}
	return configured
}

func runDiscover(ctx context.Context, client *mqtt.Client, window time.Duration) error {
	fmt.Printf("discovering (%s window)...\n", window)
	devices, err := client.Discover(ctx, window)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no devices responded")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%-12s %-20s shelves=%s wifi=%ddBm\n",
			d.DeviceID, d.DeviceName, strings.Join(d.Shelves, ","), d.WiFiSignal)
	}
	return nil
}

func runHeartbeat(ctx context.Context, client *mqtt.Client, deviceID string, window time.Duration) error {
	if deviceID != "" {
		alive, err := client.CheckHeartbeat(ctx, deviceID, window)
		if err != nil {
			return err
		}
		if !alive {
			fmt.Printf("%s: no response\n", deviceID)
			os.Exit(1)
		}
		fmt.Printf("%s: alive\n", deviceID)
		return nil
	}

	// Broadcast ping: we do not know the fleet here, so report whoever
	// answered inside the window.
	ids, err := client.PingAll(ctx, window)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no devices responded")
		return nil
	}
	for _, id := range ids {
		fmt.Printf("%s: alive\n", id)
	}
	return nil
}
