package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bigbag/xbit-flasher/internal/detect"
	"github.com/bigbag/xbit-flasher/internal/flasher"
	"github.com/bigbag/xbit-flasher/internal/hid"
	"github.com/bigbag/xbit-flasher/internal/image"
	"github.com/bigbag/xbit-flasher/internal/layout"
	"github.com/bigbag/xbit-flasher/internal/protocol"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// openDevice opens the modchip for bank and info commands.
var openDevice flasher.Opener = openXbit

var (
	maxAttemptsFlag int
	timeoutFlag     time.Duration
	noProgressFlag  bool
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode(err) == exitUsage {
			fmt.Fprintln(os.Stderr)
			fmt.Fprint(os.Stderr, rootCmd.UsageString())
		}
	}
	return exitCode(err)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "xbit-flasher <mode> <layout> [bank] [file]",
		Short: "Read, write, verify and format X-Bit modchip flash banks",
		Long:  longUsage(),
		Example: `  xbit-flasher f 5
  xbit-flasher w 5 2 bios.bin
  xbit-flasher v 5 2 bios.bin
  xbit-flasher r 5 1 backup.bin`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog reads its flags from the go flag set, which pflag already filled
			return flag.CommandLine.Parse(nil)
		},
		RunE: runBank,
	}

	flag.Set("logtostderr", "true")
	glogFlags := pflag.NewFlagSet("glog", pflag.ContinueOnError)
	glogFlags.AddGoFlagSet(flag.CommandLine)
	rootCmd.PersistentFlags().AddFlagSet(glogFlags)

	rootCmd.Flags().IntVar(&maxAttemptsFlag, "max-write-attempts", 0, "Give up a chunk after this many write attempts (0 retries forever)")
	rootCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Abort the operation after this long (0 disables)")
	rootCmd.Flags().BoolVar(&noProgressFlag, "no-progress", false, "Do not draw progress bars")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show modchip info",
		Long:  "Open the X-Bit and show its identity, memory layout and bus state.",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}

	layoutsCmd := &cobra.Command{
		Use:   "layouts",
		Short: "List memory layouts and bank DIP switch positions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printLayouts(os.Stdout, layout.Default())
			fmt.Println()
			printBankSelection(os.Stdout, layout.Default())
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("xbit-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(infoCmd, layoutsCmd, versionCmd)
	return rootCmd
}

func longUsage() string {
	var b strings.Builder
	b.WriteString(`X-Bit Flasher reads, writes, verifies and formats the flash banks of an
X-Bit modchip over its USB HID programming interface.

Modes:
  r  read a bank into file
  w  write file into a bank
  v  verify a bank against file
  f  format the chip for a layout (only the layout argument is required)

`)
	printLayouts(&b, layout.Default())
	b.WriteString("\n")
	printBankSelection(&b, layout.Default())
	return b.String()
}

// openXbit opens the X-Bit USB HID interface.
func openXbit() (flasher.Transport, error) {
	dev, err := hid.Open(protocol.VendorID, protocol.ProductID)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func flasherOptions(progress *progressDisplay) []flasher.Option {
	return []flasher.Option{
		flasher.WithLogger(glogLogger{}),
		flasher.WithProgressCallback(progress.Callback()),
		flasher.WithMaxWriteAttempts(maxAttemptsFlag),
	}
}

func runBank(cmd *cobra.Command, args []string) error {
	req, err := parseRequest(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if timeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeoutFlag)
		defer cancel()
	}

	fmt.Printf("Chosen layout: %d\n", req.layout)
	if req.mode != modeFormat {
		fmt.Printf("Chosen bank: %d\n", req.bank)
		fmt.Printf("Image file: %s\n", req.file)
	}

	// images are checked before touching the device
	var data []byte
	if req.mode == modeWrite || req.mode == modeVerify {
		data, err = image.Load(req.file)
		if err != nil {
			return withExit(exitFailed, fmt.Errorf("loading file %s failed: %w", req.file, err))
		}
	}

	progress := newProgressDisplay(noProgressFlag)
	f := flasher.New(openDevice, flasherOptions(progress)...)

	if err := f.Open(ctx); err != nil {
		return withExit(exitOpen, fmt.Errorf("failed to open HID USB connection to X-Bit: %w", err))
	}
	defer func() {
		if err := f.Close(); err != nil {
			glog.Warningf("Failed to close device: %v", err)
		}
	}()

	if req.mode != modeFormat && f.Layout() != req.layout {
		return withExit(exitLayoutMismatch, fmt.Errorf(
			"layout %d does not match modchip layout %d: format the chip with the intended layout first, or replug USB if this is an error",
			req.layout, f.Layout()))
	}

	err = execute(ctx, f, req, data)
	progress.Finish()
	if err != nil {
		return withExit(exitFailed, err)
	}

	fmt.Println("Done!")
	return nil
}

func execute(ctx context.Context, f *flasher.Flasher, req request, data []byte) error {
	switch req.mode {
	case modeRead:
		fmt.Printf("Reading bank %d to %s...\n", req.bank, req.file)
		result, err := f.ReadBank(ctx, req.bank)
		if err != nil {
			return fmt.Errorf("reading flash failed: %w", err)
		}
		fmt.Printf("Read %d bytes\n", len(result))
		if err := image.Save(req.file, result); err != nil {
			return fmt.Errorf("saving file %s failed: %w", req.file, err)
		}

	case modeWrite:
		fmt.Printf("Writing %s (%d bytes) to bank %d...\n", req.file, len(data), req.bank)
		if err := f.FlashBank(ctx, req.bank, data); err != nil {
			return fmt.Errorf("writing flash failed: %w", err)
		}

	case modeVerify:
		fmt.Printf("Verifying bank %d with %s...\n", req.bank, req.file)
		if err := f.VerifyBank(ctx, req.bank, data); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Println("Bank matches image")

	case modeFormat:
		fmt.Printf("Formatting chip for layout %d...\n", req.layout)
		if err := f.Format(ctx, req.layout); err != nil {
			return fmt.Errorf("formatting chip failed: %w", err)
		}
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	result, err := detect.Probe(cmd.Context(), openDevice, flasher.WithLogger(glogLogger{}))
	if err != nil {
		return withExit(exitOpen, fmt.Errorf("failed to open HID USB connection to X-Bit: %w", err))
	}
	printDeviceInfo(os.Stdout, result)
	return nil
}

func printDeviceInfo(w io.Writer, d *detect.Result) {
	fmt.Fprintf(w, "  Manufacturer:  %s\n", d.Manufacturer)
	fmt.Fprintf(w, "  Product:       %s\n", d.Product)
	fmt.Fprintf(w, "  Status:        %s\n", d.Status)
	fmt.Fprintf(w, "  Write protect: %s\n", onOff(d.Status.WriteProtected()))

	if len(d.Banks) == 0 {
		fmt.Fprintf(w, "  Layout:        %d (not formatted)\n", d.Layout)
		return
	}

	fmt.Fprintf(w, "  Layout:        %d\n", d.Layout)
	for _, r := range d.Banks {
		fmt.Fprintf(w, "    Bank %d: %4dKB at block %2d\n", r.Bank, r.Size/1024, r.StartBlock)
	}
}

func printLayouts(w io.Writer, t *layout.Table) {
	fmt.Fprintln(w, "Memory bank layouts:")
	for id := 1; id <= layout.Count; id++ {
		sizes, err := t.Banks(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  Layout %d:", id)
		for i, size := range sizes {
			if size == 0 {
				continue
			}
			fmt.Fprintf(w, " Bank %d [%dKB]", i+1, size/1024)
		}
		fmt.Fprintln(w)
	}
}

func printBankSelection(w io.Writer, t *layout.Table) {
	fmt.Fprintln(w, "DIP switch positions:")
	fmt.Fprintln(w, "            1     2     3")
	for bank := 1; bank <= layout.MaxBanks; bank++ {
		mask, err := t.BankSelect(bank)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  Bank %d:   %s - %s - %s\n", bank,
			onOff(mask&1 != 0), onOff(mask&2 != 0), onOff(mask&4 != 0))
	}
}

func onOff(on bool) string {
	if on {
		return "ON "
	}
	return "OFF"
}
