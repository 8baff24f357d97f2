package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/tracing"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted scenario and print the resulting page tables",
	Long: `Creates a process with two code pages, two read-only data pages, ` +
		`three read/write data pages and six stack pages, prints its page ` +
		`table, forks it, writes into both copies and finally makes the ` +
		`child fault by writing into its code.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.SilenceUsage = true

		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}

		c := cfg.builder().Build("MMU")

		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			c.AcceptHook(mmu.NewLogHook(log.New(os.Stderr, "", 0)))
		}

		record, _ := cmd.Flags().GetString("record")
		if record != "" {
			recorder := datarecording.New(record)
			tracer := tracing.NewDBTracer(recorder)
			tracing.CollectTrace(c, tracer)

			defer func() {
				tracer.Flush()
				if err := recorder.Close(); err != nil {
					log.Printf("Error closing %s: %v", record, err)
				}
			}()
		}

		if err := runDemo(cmd.OutOrStdout(), c); err != nil {
			log.Printf("Error: %v", err)
		}
	},
}

func init() {
	demoCmd.Flags().Bool("verbose", false, "Log every operation to stderr.")
	demoCmd.Flags().String("record", "",
		"Record every operation into the given SQLite database "+
			"(.sqlite3 is appended).")
	rootCmd.AddCommand(demoCmd)
}

// The layout of the demo process, in pages.
const (
	demoCodePages  = 2
	demoROPages    = 2
	demoRWPages    = 3
	demoStackPages = 6
)

func runDemo(w io.Writer, c *mmu.Comp) error {
	ps := c.PageSize()

	src := make([]byte, (demoCodePages+demoROPages)*ps)
	copy(src, "This is the source string")

	pid, err := c.CreateProcess(
		demoCodePages*ps, demoROPages*ps, demoRWPages*ps, demoStackPages*ps,
		src)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "pid: %d\n", pid)
	if err := c.PrintPageTable(w, pid); err != nil {
		return err
	}

	child, err := c.ForkProcess(pid)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "forked pid %d into pid %d\n", pid, child)

	rwAddr := uint64(demoCodePages+demoROPages) * ps
	if err := c.WriteMem(pid, rwAddr, 'P'); err != nil {
		return err
	}

	if err := c.WriteMem(child, rwAddr, 'C'); err != nil {
		return err
	}

	for _, p := range []vm.PID{pid, child} {
		first, err := c.ReadMem(p, 0)
		if err != nil {
			return err
		}

		data, err := c.ReadMem(p, rwAddr)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "pid %d: code[0] = %q, data[0] = %q\n", p, first, data)
	}

	usage := c.FrameUsage()
	fmt.Fprintf(w, "frames: %d of %d allocated\n", usage.Allocated, usage.Total)

	err = c.WriteMem(child, 0, 'X')
	fmt.Fprintf(w, "writing to the code of pid %d: %v\n", child, err)
	fmt.Fprintf(w, "fault: %v\n", c.Fault())
	c.ClearFault()

	usage = c.FrameUsage()
	fmt.Fprintf(w, "frames: %d of %d allocated\n", usage.Allocated, usage.Total)

	fmt.Fprintf(w, "live processes: %d\n", len(c.Processes()))

	return nil
}
