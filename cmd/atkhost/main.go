// imxatk: host-side bootstrap and flash-programming toolkit for i.MX
// application processors.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"imxatk/internal/atklog"
	"imxatk/internal/bootstrap"
	"imxatk/internal/bsp"
	"imxatk/internal/progress"
	"imxatk/internal/transport"
)

var log = atklog.New("atkhost")

type globalFlags struct {
	bspName       string
	bspConfigPath string
	serialPort    string
	usbVID        uint16
	usbPID        uint16
	usbPIDSet     bool
	initFile      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:          "atkhost",
		Short:        "Bootstrap and flash-program i.MX application processors",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.bspName, "bsp", "", "board name in the BSP table")
	root.PersistentFlags().StringVar(&g.bspConfigPath, "bsp-config", "", "path to the BSP table file")
	root.PersistentFlags().StringVar(&g.serialPort, "serialport", "", "serial device path (e.g. /dev/ttyUSB0)")
	root.PersistentFlags().StringVar(&g.initFile, "initialization-file", "", "register init script path")

	var usbFlag string
	root.PersistentFlags().StringVar(&usbFlag, "usb", "", "USB vid[:pid] to locate the device")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if usbFlag == "" {
			return nil
		}
		vid, pid, pidSet, err := parseUSBFlag(usbFlag)
		if err != nil {
			return err
		}
		g.usbVID, g.usbPID, g.usbPIDSet = vid, pid, pidSet
		return nil
	}

	root.AddCommand(
		newListBSPCmd(g),
		newFlashCmd(g),
		newRunCmd(g),
	)
	return root
}

func newListBSPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listbsp",
		Short: "List the boards defined in the BSP table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.bspConfigPath == "" {
				return fmt.Errorf("--bsp-config is required")
			}
			names, err := bsp.ListNames(g.bspConfigPath)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var appFile string
	var loadAddress uint32
	var echo bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download and run an application image (no RAM kernel, no flash session)",
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := loadBoard(g)
			if err != nil {
				return err
			}
			opts := bootstrap.Options{
				Board:           board,
				NewChannel:      channelFactory(g, board),
				InitScriptPath:  g.initFile,
				ApplicationFile: appFile,
				LoadAddress:     loadAddress,
				RunApplication:  echo,
			}
			orch, err := bootstrap.New(opts)
			if err != nil {
				return err
			}
			return orch.Run(signalContext())
		},
	}
	cmd.Flags().StringVar(&appFile, "application-file", "", "application image to download")
	cmd.Flags().Uint32Var(&loadAddress, "load-address", 0, "load address for the application image")
	cmd.Flags().BoolVar(&echo, "echo", false, "echo channel bytes to stdout until interrupted")
	cmd.MarkFlagRequired("application-file")
	return cmd
}

func newFlashCmd(g *globalFlags) *cobra.Command {
	var kernelFile string
	var bbt string

	flash := &cobra.Command{
		Use:   "flash",
		Short: "Download the RAM kernel and run a flash sub-command",
	}
	flash.PersistentFlags().StringVar(&kernelFile, "ram-kernel-file", "", "RAM kernel image to download")
	flash.PersistentFlags().StringVar(&bbt, "bbt", "", "enable|disable the bad-block table (leave unset for device default)")

	flash.AddCommand(
		newFlashProgramCmd(g, &kernelFile, &bbt),
		newFlashDumpCmd(g, &kernelFile, &bbt),
		newFlashEraseCmd(g, &kernelFile, &bbt),
	)
	return flash
}

func enableBBT(bbt string) (*bool, error) {
	switch bbt {
	case "":
		return nil, nil
	case "enable":
		v := true
		return &v, nil
	case "disable":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("--bbt must be enable or disable, got %q", bbt)
	}
}

func newFlashProgramCmd(g *globalFlags, kernelFile, bbt *string) *cobra.Command {
	var address uint32
	var blockSize uint32
	var inputFile string

	cmd := &cobra.Command{
		Use:   "program",
		Short: "Program a file to flash",
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := loadBoard(g)
			if err != nil {
				return err
			}
			f, err := os.Open(inputFile)
			if err != nil {
				return err
			}
			defer f.Close()

			en, err := enableBBT(*bbt)
			if err != nil {
				return err
			}

			orch, err := bootstrap.New(bootstrap.Options{
				Board:          board,
				NewChannel:     channelFactory(g, board),
				InitScriptPath: g.initFile,
				RAMKernelFile:  *kernelFile,
				EnableBBT:      en,
				FlashSubCommand: bootstrap.FlashSubCommand{
					Kind:            bootstrap.FlashProgramFile,
					Address:         address,
					Input:           f,
					BlockSize:       blockSize,
					ProgramObserver: stderrProgramObserver{},
					VerifyObserver:  stderrVerifyObserver{},
				},
			})
			if err != nil {
				return err
			}
			return orch.Run(signalContext())
		},
	}
	cmd.Flags().Uint32Var(&address, "address", 0, "flash start address")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 0, "program block size (default 128 KiB)")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "file to program")
	cmd.MarkFlagRequired("input-file")
	return cmd
}

func newFlashDumpCmd(g *globalFlags, kernelFile, bbt *string) *cobra.Command {
	var address, size, pageSize uint32
	var outputFile string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump a range of flash to a file and to stdout as a hex-dump",
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := loadBoard(g)
			if err != nil {
				return err
			}
			out, err := os.Create(outputFile)
			if err != nil {
				return err
			}
			defer out.Close()

			en, err := enableBBT(*bbt)
			if err != nil {
				return err
			}

			orch, err := bootstrap.New(bootstrap.Options{
				Board:          board,
				NewChannel:     channelFactory(g, board),
				InitScriptPath: g.initFile,
				RAMKernelFile:  *kernelFile,
				EnableBBT:      en,
				FlashSubCommand: bootstrap.FlashSubCommand{
					Kind:     bootstrap.FlashDump,
					Address:  address,
					Size:     size,
					Output:   out,
					HexOut:   os.Stdout,
					PageSize: pageSize,
				},
			})
			if err != nil {
				return err
			}
			return orch.Run(signalContext())
		},
	}
	cmd.Flags().Uint32Var(&address, "address", 0, "flash start address")
	cmd.Flags().Uint32Var(&size, "size", 0, "bytes to dump")
	cmd.Flags().Uint32Var(&pageSize, "page-size", 0, "dump step size (default 2048)")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "file to write the raw dump to")
	cmd.MarkFlagRequired("size")
	cmd.MarkFlagRequired("output-file")
	return cmd
}

func newFlashEraseCmd(g *globalFlags, kernelFile, bbt *string) *cobra.Command {
	var address, size uint32

	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase a range of flash",
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := loadBoard(g)
			if err != nil {
				return err
			}

			en, err := enableBBT(*bbt)
			if err != nil {
				return err
			}

			orch, err := bootstrap.New(bootstrap.Options{
				Board:          board,
				NewChannel:     channelFactory(g, board),
				InitScriptPath: g.initFile,
				RAMKernelFile:  *kernelFile,
				EnableBBT:      en,
				FlashSubCommand: bootstrap.FlashSubCommand{
					Kind:          bootstrap.FlashErase,
					Address:       address,
					Size:          size,
					EraseObserver: stderrEraseObserver{},
				},
			})
			if err != nil {
				return err
			}
			return orch.Run(signalContext())
		},
	}
	cmd.Flags().Uint32Var(&address, "address", 0, "flash start address")
	cmd.Flags().Uint32Var(&size, "size", 0, "bytes to erase")
	cmd.MarkFlagRequired("size")
	return cmd
}

func loadBoard(g *globalFlags) (*bsp.BoardSupportInfo, error) {
	if g.bspName == "" || g.bspConfigPath == "" {
		return nil, fmt.Errorf("--bsp and --bsp-config are required")
	}
	return bsp.LoadFile(g.bspConfigPath, g.bspName)
}

func channelFactory(g *globalFlags, board *bsp.BoardSupportInfo) func() transport.ByteChannel {
	return func() transport.ByteChannel {
		if g.serialPort != "" {
			return transport.NewSerialChannel(g.serialPort)
		}
		vid, pid, pidSet := board.USBVendorID, board.USBProductID, true
		if g.usbVID != 0 {
			vid, pid, pidSet = g.usbVID, g.usbPID, g.usbPIDSet
		}
		return transport.NewUSBChannel(vid, pid, pidSet)
	}
}

func parseUSBFlag(s string) (vid, pid uint16, pidSet bool, err error) {
	var v, p uint32
	n, scanErr := fmt.Sscanf(s, "%x:%x", &v, &p)
	if scanErr == nil && n == 2 {
		return uint16(v), uint16(p), true, nil
	}
	n, scanErr = fmt.Sscanf(s, "%x", &v)
	if scanErr == nil && n == 1 {
		return uint16(v), 0, false, nil
	}
	return 0, 0, false, fmt.Errorf("invalid --usb value %q, expected vid[:pid] in hex", s)
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt)
	return ctx
}

type stderrProgramObserver struct{}

func (stderrProgramObserver) OnPageProgrammed(blockIndex, bytesWritten uint32) {
	log.Infof("program: block %d, %d bytes", blockIndex, bytesWritten)
}

type stderrVerifyObserver struct{}

func (stderrVerifyObserver) OnPageVerified(blockIndex, bytesVerified uint32) {
	log.Infof("verify: block %d, %d bytes", blockIndex, bytesVerified)
}

type stderrEraseObserver struct{}

func (stderrEraseObserver) OnBlockErased(blockIndex, blockSize uint32) {
	log.Infof("erase: block %d, size %d", blockIndex, blockSize)
}

var _ progress.EraseObserver = stderrEraseObserver{}
