package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/redmond-ble/internal/ble/crypto"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
	"github.com/chaz8081/redmond-ble/internal/config"
	"github.com/chaz8081/redmond-ble/internal/device"
)

// Command flags
var (
	pairTimeout time.Duration
	modeName    string
	targetTemp  uint8
	lightType   string
	keygenMAC   string
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
	rootCmd.AddCommand(lightsCmd)
	rootCmd.AddCommand(backlightCmd)
	rootCmd.AddCommand(soundCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(modelsCmd)

	pairCmd.Flags().DurationVar(&pairTimeout, "timeout", 30*time.Second, "How long to keep trying while the pairing button is held")
	onCmd.Flags().StringVar(&modeName, "mode", "boil", "Program: boil, heat or light")
	onCmd.Flags().Uint8Var(&targetTemp, "temp", 0, "Target temperature for the heat program (35-90)")
	lightsCmd.Flags().StringVar(&lightType, "type", "boil", "Light to read: boil or backlight")
	keygenCmd.Flags().StringVar(&keygenMAC, "mac", "", "Derive the key of this appliance from the configured secret")
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// kettleFor connects to the kettle named by the first argument.
func kettleFor(ctx context.Context, target string) (*device.Kettle, error) {
	m, err := manager()
	if err != nil {
		return nil, err
	}
	return m.Kettle(ctx, cfg.ResolveMAC(target))
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return nil
		}
		fmt.Printf("Wrote %s\n", path)
		fmt.Println("Run 'r4sctl keygen' and put the key into the config before pairing.")
		return nil
	},
}

// scanCmd discovers appliances in range
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Ready for Sky appliances",
	Long: `Scan for peripherals advertising the Ready for Sky service.

The scan runs for connect_timeout from the config or until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		d, err := discoverer()
		if err != nil {
			return err
		}
		fmt.Printf("Scanning for Ready for Sky appliances (timeout: %s)...\n\n", cfg.ConnectTimeout)
		devices, err := d.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		if len(devices) == 0 {
			fmt.Println("No devices found.")
			fmt.Println("\nTroubleshooting:")
			fmt.Println("  - Ensure the appliance is plugged in and not connected to a phone")
			fmt.Println("  - Check that the Bluetooth adapter is powered on")
			return nil
		}

		fmt.Printf("Found %d device(s):\n\n", len(devices))
		for i, dev := range devices {
			support := "unknown model"
			if m, err := device.LookupModel(dev.Name); err == nil {
				support = m.Kind.String()
				if err := m.Supported(); err != nil {
					support += ", not supported yet"
				}
			}
			fmt.Printf("%d. %s (%s)\n", i+1, dev.Name, support)
			fmt.Printf("   MAC:   %s\n", dev.MAC)
			fmt.Printf("   RSSI:  %d dBm\n\n", dev.RSSI)
		}
		fmt.Println("Use 'r4sctl pair <mac>' while holding the appliance's pairing button")
		return nil
	},
}

var pairCmd = &cobra.Command{
	Use:   "pair <device>",
	Short: "Pair the configured key with an appliance",
	Long: `Pair the configured key with an appliance.

Hold the appliance's pairing button until its light blinks, then run this
command. It keeps trying until the key is accepted or --timeout elapses.`,
	Example: `  r4sctl pair AA:BB:CC:DD:EE:FF
  r4sctl pair kitchen --timeout 1m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, pairTimeout)
		defer cancelTimeout()

		m, err := manager()
		if err != nil {
			return err
		}
		mac := cfg.ResolveMAC(args[0])
		fmt.Printf("Pairing with %s, hold the pairing button...\n", mac)
		if _, err := m.Pair(ctx, mac); err != nil {
			return fmt.Errorf("pairing failed: %w", err)
		}
		fmt.Println("Paired.")
		return nil
	},
}

// statusReport is the status command output.
type statusReport struct {
	MAC        string              `json:"mac"`
	Firmware   string              `json:"firmware,omitempty"`
	Mode       string              `json:"mode"`
	State      string              `json:"state"`
	Current    uint8               `json:"current_temp"`
	Target     uint8               `json:"target_temp"`
	BoilTime   int8                `json:"boil_time"`
	Sound      bool                `json:"sound"`
	Locked     bool                `json:"locked"`
	Statistics protocol.Statistics `json:"statistics"`
}

var statusCmd = &cobra.Command{
	Use:   "status <device>",
	Short: "Show appliance status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		k, err := kettleFor(ctx, args[0])
		if err != nil {
			return err
		}
		if err := k.FirstConnect(ctx); err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}

		st, _ := k.Status()
		r := statusReport{
			MAC:        cfg.ResolveMAC(args[0]),
			Mode:       st.Mode.String(),
			State:      st.State.String(),
			Current:    st.CurrentTemp,
			Target:     st.TargetTemp,
			BoilTime:   st.BoilTime,
			Sound:      st.Sound,
			Locked:     st.Blocked,
			Statistics: k.Statistics(),
		}
		if fw, ok := k.Firmware(); ok {
			r.Firmware = fw.String()
		}
		if outputFormat == "json" {
			return printJSON(r)
		}

		fmt.Printf("Kettle %s (firmware %s)\n", r.MAC, r.Firmware)
		fmt.Printf("  State:     %s\n", r.State)
		fmt.Printf("  Program:   %s\n", r.Mode)
		fmt.Printf("  Water:     %d°C\n", r.Current)
		if st.Mode == protocol.ModeHeat {
			fmt.Printf("  Target:    %d°C\n", r.Target)
		}
		fmt.Printf("  Boil time: %+d\n", r.BoilTime)
		fmt.Printf("  Sound:     %s\n", onOff(r.Sound))
		fmt.Printf("  Lock:      %s\n", onOff(r.Locked))
		printStatistics(r.Statistics)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <device>",
	Short: "Show usage statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		k, err := kettleFor(ctx, args[0])
		if err != nil {
			return err
		}
		stats, err := k.UpdateStatistics(ctx)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(stats)
		}
		printStatistics(stats)
		return nil
	},
}

var onCmd = &cobra.Command{
	Use:   "on <device>",
	Short: "Start a program",
	Example: `  r4sctl on kitchen
  r4sctl on kitchen --mode heat --temp 80
  r4sctl on kitchen --mode light`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := protocol.ParseMode(strings.ToLower(modeName))
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		k, err := kettleFor(ctx, args[0])
		if err != nil {
			return err
		}
		if err := k.SetMode(ctx, true, mode, targetTemp); err != nil {
			return err
		}
		st, _ := k.Status()
		fmt.Printf("Kettle %s: %s program, water at %d°C\n", st.State, st.Mode, st.CurrentTemp)
		return nil
	},
}

var offCmd = &cobra.Command{
	Use:   "off <device>",
	Short: "Stop the running program",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		k, err := kettleFor(ctx, args[0])
		if err != nil {
			return err
		}
		if err := k.SetMode(ctx, false, protocol.ModeBoil, 0); err != nil {
			return err
		}
		fmt.Println("Kettle off")
		return nil
	},
}

var lightsCmd = &cobra.Command{
	Use:   "lights <device>",
	Short: "Show a light color scheme",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lt := protocol.LightBoil
		switch lightType {
		case "boil":
		case "backlight":
			lt = protocol.LightBacklight
		default:
			return fmt.Errorf("unknown light type %q", lightType)
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		k, err := kettleFor(ctx, args[0])
		if err != nil {
			return err
		}
		resp, err := k.DoCommand(ctx, k.Catalogue().GetLights(lt))
		if err != nil {
			return err
		}
		cs := resp.(protocol.ColorScheme)
		if outputFormat == "json" {
			return printJSON(cs)
		}
		fmt.Printf("Scheme %d:\n", cs.ID)
		for _, c := range cs.Colors {
			fmt.Printf("  %3d%%  #%02x%02x%02x  brightness %d\n", c.Percent, c.R, c.G, c.B, c.Brightness)
		}
		return nil
	},
}

var backlightCmd = toggleCommand("backlight", "Switch the night light", func(ctx context.Context, k *device.Kettle, on bool) error {
	return k.UseBacklight(ctx, on)
})

var soundCmd = toggleCommand("sound", "Enable or disable the beeper", func(ctx context.Context, k *device.Kettle, on bool) error {
	return k.SetSound(ctx, on)
})

var lockCmd = toggleCommand("lock", "Enable or disable the child lock", func(ctx context.Context, k *device.Kettle, on bool) error {
	return k.SetLock(ctx, on)
})

// toggleCommand builds a "<name> <device> on|off" command.
func toggleCommand(name, short string, apply func(context.Context, *device.Kettle, bool) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <device> on|off",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			k, err := kettleFor(ctx, args[0])
			if err != nil {
				return err
			}
			if err := apply(ctx, k, on); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", name, onOff(on))
			return nil
		},
	}
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an authentication key",
	Long: `Generate a random authentication key, or with --mac derive the key of
one appliance from the secret in the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenMAC == "" {
			k, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(k)
			return nil
		}
		k, err := cfg.KeyFor(cfg.ResolveMAC(keygenMAC))
		if err != nil {
			return err
		}
		fmt.Println(k)
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known appliance models",
	RunE: func(cmd *cobra.Command, args []string) error {
		models := device.Models()
		if outputFormat == "json" {
			return printJSON(models)
		}
		for _, m := range models {
			status := "not supported yet"
			if m.Supported() == nil {
				status = "supported"
			}
			fmt.Printf("%-14s %-13s %-8s %s\n", m.Name, m.Kind, m.Era, status)
		}
		return nil
	},
}

func printStatistics(s protocol.Statistics) {
	fmt.Println("Statistics:")
	printCounter("Work time", s.WorkTime, func(v uint32) string { return (time.Duration(v) * time.Second).String() })
	printCounter("Energy", s.SpentPower, func(v uint32) string { return strconv.FormatFloat(float64(v)/1000, 'f', 1, 64) + " kWh" })
	printCounter("Relay", s.RelayCount, func(v uint32) string { return strconv.FormatUint(uint64(v), 10) })
	printCounter("Starts", s.OnTimes, func(v uint32) string { return strconv.FormatUint(uint64(v), 10) })
}

func printCounter(label string, v *uint32, format func(uint32) string) {
	if v == nil {
		return
	}
	fmt.Printf("  %-10s %s\n", label+":", format(*v))
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
