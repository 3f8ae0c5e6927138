// Package bootstrap composes the sbp and rkl engines into the fixed
// probe/init/hand-off/flash/reset sequence a full bring-up run follows.
// No protocol logic lives here; it only sequences calls into the two
// engines and passes them the progress package's observers.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"imxatk/internal/atklog"
	"imxatk/internal/bsp"
	"imxatk/internal/initscript"
	"imxatk/internal/progress"
	"imxatk/internal/rkl"
	"imxatk/internal/sbp"
	"imxatk/internal/transport"
)

// Error reports a failure in the orchestration sequence itself (as opposed
// to a protocol-level failure from sbp/rkl, which is returned wrapped with
// %w context).
type Error struct {
	Detail string
}

func (e *Error) Error() string { return "bootstrap: " + e.Detail }

const (
	sramTestWordA    uint32 = 0xBEEFDEAD
	sramTestWordB    uint32 = 0xBEEFCAFE
	sramTestOffsetB  uint32 = 0x1000
	usbReopenAttempts       = 3
	defaultBlockSize uint32 = 128 * 1024
	defaultPageSize  uint32 = 2048
)

// usbReopenSettle and postResetSettle are vars, not consts, so tests can
// shrink them; production code never overrides them.
var (
	usbReopenSettle = 3 * time.Second
	postResetSettle = 2 * time.Second
)

// Options configures a single orchestrator run, mirroring the parameters a
// CLI invocation gathers from flags plus the loaded board record.
type Options struct {
	Board      *bsp.BoardSupportInfo
	NewChannel func() transport.ByteChannel

	InitScriptPath string

	// Application mode.
	ApplicationFile string
	LoadAddress     uint32
	RunApplication  bool

	// RAM-kernel mode.
	RAMKernelFile string
	EnableBBT     *bool // nil = leave device default

	FlashSubCommand FlashSubCommand
}

// FlashSubCommand selects what to do once the RAM kernel has taken over.
type FlashSubCommand struct {
	Kind FlashSubCommandKind

	// Address: dump, program and erase. Size: dump and erase.
	Address uint32
	Size    uint32

	// Program.
	Input io.Reader

	// Dump.
	Output io.Writer
	HexOut io.Writer

	BlockSize uint32 // defaults to 128 KiB
	PageSize  uint32 // defaults to 2048 bytes

	ProgramObserver progress.ProgramObserver
	VerifyObserver  progress.VerifyObserver
	EraseObserver   progress.EraseObserver
}

// FlashSubCommandKind names which RAM-kernel-mode action to dispatch to.
type FlashSubCommandKind int

const (
	FlashNone FlashSubCommandKind = iota
	FlashDump
	FlashProgramFile
	FlashErase
)

// Orchestrator runs the fixed bring-up sequence.
type Orchestrator struct {
	opts Options
	log  *atklog.Logger
}

// New validates opts and returns an Orchestrator ready to Run.
func New(opts Options) (*Orchestrator, error) {
	if opts.Board == nil {
		return nil, &Error{Detail: "board record is required"}
	}
	if opts.NewChannel == nil {
		return nil, &Error{Detail: "channel factory is required"}
	}
	wantsRAMKernel := opts.RAMKernelFile != ""
	if wantsRAMKernel && opts.InitScriptPath == "" {
		return nil, &Error{Detail: "RAM-kernel mode requires an init script"}
	}
	return &Orchestrator{opts: opts, log: atklog.New("bootstrap")}, nil
}

// Run executes the full sequence: probe, SRAM sanity test, init script,
// mode hand-off, and, in RAM-kernel mode, the flash sub-command followed
// by an unconditional reset and reprobe.
func (o *Orchestrator) Run(ctx context.Context) error {
	ch := o.opts.NewChannel()
	if err := ch.Open(); err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	eng := sbp.New(ch)
	status, err := eng.GetStatus()
	if err != nil {
		return fmt.Errorf("initial probe: %w", err)
	}
	o.log.Infof("initial status %#08x", uint32(status))

	o.sramSanityTest(eng)

	if o.opts.InitScriptPath != "" {
		if err := o.playInitScript(eng); err != nil {
			return err
		}
	}

	if o.opts.RAMKernelFile != "" {
		return o.runRAMKernelMode(ctx, eng, ch)
	}
	return o.runApplicationMode(ctx, eng, ch)
}

// sramSanityTest pokes two word-width scratch locations and reads them
// back; a mismatch is logged as a warning, never fatal.
func (o *Orchestrator) sramSanityTest(eng *sbp.Engine) {
	base := o.opts.Board.BaseMemoryAddress
	o.pokeAndVerify(eng, base, sramTestWordA)
	o.pokeAndVerify(eng, base+sramTestOffsetB, sramTestWordB)
}

func (o *Orchestrator) pokeAndVerify(eng *sbp.Engine, address, value uint32) {
	if err := eng.WriteMemory(address, sbp.WidthWord, value); err != nil {
		o.log.Warnf("sram sanity write at %#08x failed: %v", address, err)
		return
	}
	got, err := eng.ReadMemorySingle(address, sbp.WidthWord)
	if err != nil {
		o.log.Warnf("sram sanity read at %#08x failed: %v", address, err)
		return
	}
	if got != value {
		o.log.Warnf("sram sanity mismatch at %#08x: wrote %#08x, read %#08x", address, value, got)
	}
}

// playInitScript applies every register write in source order.
func (o *Orchestrator) playInitScript(eng *sbp.Engine) error {
	entries, err := initscript.LoadFile(o.opts.InitScriptPath)
	if err != nil {
		return fmt.Errorf("load init script: %w", err)
	}
	for _, e := range entries {
		if err := eng.WriteMemory(e.Address, e.Width, e.Value); err != nil {
			return fmt.Errorf("init script write at %#08x: %w", e.Address, err)
		}
	}
	o.log.Infof("init script: %d writes applied", len(entries))
	return nil
}

func (o *Orchestrator) runApplicationMode(ctx context.Context, eng *sbp.Engine, ch transport.ByteChannel) error {
	f, err := os.Open(o.opts.ApplicationFile)
	if err != nil {
		return fmt.Errorf("open application file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat application file: %w", err)
	}

	if err := eng.WriteFile(sbp.FileTypeApplication, o.opts.LoadAddress, uint32(st.Size()), f, progress.Default); err != nil {
		return fmt.Errorf("write application: %w", err)
	}
	if err := eng.CompleteBoot(); err != nil {
		return fmt.Errorf("complete boot: %w", err)
	}
	o.log.Infof("application mode: handed off %d bytes at %#08x", st.Size(), o.opts.LoadAddress)

	if o.opts.RunApplication {
		return RunApplication(ctx, ch, os.Stdout)
	}
	return nil
}

func (o *Orchestrator) runRAMKernelMode(ctx context.Context, eng *sbp.Engine, ch transport.ByteChannel) error {
	f, err := os.Open(o.opts.RAMKernelFile)
	if err != nil {
		return fmt.Errorf("open ram kernel file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat ram kernel file: %w", err)
	}
	origin := o.opts.Board.RAMKernelOrigin
	writeErr := eng.WriteFile(sbp.FileTypeApplication, origin, uint32(st.Size()), f, progress.Default)
	f.Close()
	if writeErr != nil {
		return fmt.Errorf("write ram kernel: %w", writeErr)
	}
	if err := eng.CompleteBoot(); err != nil {
		return fmt.Errorf("complete boot: %w", err)
	}
	o.log.Infof("ram-kernel mode: handed off %d bytes at %#08x", st.Size(), origin)

	if err := channelReinit(ch); err != nil {
		return fmt.Errorf("channel reinit after kernel hand-off: %w", err)
	}

	rk := rkl.New(ch)
	rk.MarkKernelInit()

	subErr := o.runFlashSession(rk)

	if err := rk.Reset(); err != nil {
		o.log.Warnf("reset failed: %v", err)
	}
	if err := channelReinit(ch); err != nil {
		o.log.Warnf("channel reinit after reset failed: %v", err)
	} else {
		time.Sleep(postResetSettle)
		probe := sbp.New(ch)
		finalStatus, err := probe.GetStatus()
		if err != nil {
			o.log.Warnf("reprobe get_status failed: %v", err)
		} else {
			o.log.Infof("final status %#08x", uint32(finalStatus))
		}
	}

	return subErr
}

func (o *Orchestrator) runFlashSession(rk *rkl.Engine) error {
	if err := rk.FlashInitial(); err != nil {
		return fmt.Errorf("flash_initial: %w", err)
	}
	part, model, err := rk.GetVersion()
	if err != nil {
		return fmt.Errorf("getver: %w", err)
	}
	o.log.Infof("flash agent version: part %#04x model %q", part, model)

	if o.opts.EnableBBT != nil {
		if err := rk.FlashSetBBT(*o.opts.EnableBBT); err != nil {
			return fmt.Errorf("flash_set_bbt: %w", err)
		}
	}

	switch o.opts.FlashSubCommand.Kind {
	case FlashDump:
		return runDump(rk, o.opts.FlashSubCommand)
	case FlashProgramFile:
		return runProgram(rk, o.opts.FlashSubCommand)
	case FlashErase:
		return runErase(rk, o.opts.FlashSubCommand)
	default:
		return nil
	}
}

// channelReinit is the close/sleep/reopen-with-retry sequence following a
// device-initiated reset. It is applied to every channel kind: a serial
// channel is also closed, waits the same settle delay and is reopened.
func channelReinit(ch transport.ByteChannel) error {
	_ = ch.Close()
	time.Sleep(usbReopenSettle)

	var lastErr error
	for attempt := 0; attempt < usbReopenAttempts; attempt++ {
		if err := ch.Open(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("reopen channel after %d attempts: %w", usbReopenAttempts, lastErr)
}

// RunApplication loops reading from ch and echoing bytes to out until ctx
// is cancelled. A read timeout just means the application had nothing to
// say during that window; the loop keeps polling.
func RunApplication(ctx context.Context, ch transport.ByteChannel, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		b, err := ch.ReadExact(1)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return fmt.Errorf("application echo read: %w", err)
		}
		if _, err := out.Write(b); err != nil {
			return fmt.Errorf("application echo write: %w", err)
		}
	}
}
