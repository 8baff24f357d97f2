package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vmsim/mem/vm/mmu"
)

// Environment variables that configure the simulated system when the
// matching flag is not given.
const (
	envRAMSize        = "VMSIM_RAM_SIZE"
	envOSMemSize      = "VMSIM_OS_MEM_SIZE"
	envLog2PageSize   = "VMSIM_LOG2_PAGE_SIZE"
	envVirtualMemSize = "VMSIM_VIRTUAL_MEM_SIZE"
	envMaxProcesses   = "VMSIM_MAX_PROCESSES"
)

type config struct {
	RAMSize         uint64
	OSMemSize       uint64
	Log2PageSize    uint64
	VirtualMemSize  uint64
	MaxNumProcesses int
}

func defaultConfig() config {
	return config{
		RAMSize:         200 * 1024 * 1024,
		OSMemSize:       72 * 1024 * 1024,
		Log2PageSize:    12,
		VirtualMemSize:  4 * 1024 * 1024,
		MaxNumProcesses: 100,
	}
}

func addConfigFlags(c *cobra.Command) {
	d := defaultConfig()
	f := c.PersistentFlags()

	f.String("env-file", ".env", "File to load VMSIM_* variables from.")
	f.Uint64("ram-size", d.RAMSize,
		"Size of the physical memory in bytes. Env: "+envRAMSize+".")
	f.Uint64("os-mem-size", d.OSMemSize,
		"Bytes of physical memory reserved for the OS. Env: "+envOSMemSize+".")
	f.Uint64("log2-page-size", d.Log2PageSize,
		"Base-2 logarithm of the page size. Env: "+envLog2PageSize+".")
	f.Uint64("virtual-mem-size", d.VirtualMemSize,
		"Size of each virtual address space in bytes. Env: "+
			envVirtualMemSize+".")
	f.Int("max-processes", d.MaxNumProcesses,
		"Number of process slots. Env: "+envMaxProcesses+".")
}

// loadConfig resolves every setting from its flag if given, otherwise from
// the environment, otherwise from the default.
func loadConfig(c *cobra.Command) (config, error) {
	envFile, err := c.Flags().GetString("env-file")
	if err != nil {
		return config{}, err
	}

	err = godotenv.Load(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg := config{}

	for _, s := range []struct {
		flag string
		env  string
		dst  *uint64
	}{
		{"ram-size", envRAMSize, &cfg.RAMSize},
		{"os-mem-size", envOSMemSize, &cfg.OSMemSize},
		{"log2-page-size", envLog2PageSize, &cfg.Log2PageSize},
		{"virtual-mem-size", envVirtualMemSize, &cfg.VirtualMemSize},
	} {
		*s.dst, err = resolveUint(c, s.flag, s.env)
		if err != nil {
			return config{}, err
		}
	}

	n, err := resolveUint(c, "max-processes", envMaxProcesses)
	if err != nil {
		return config{}, err
	}

	cfg.MaxNumProcesses = int(n)

	return cfg, nil
}

func resolveUint(c *cobra.Command, flag, env string) (uint64, error) {
	f := c.Flags().Lookup(flag)
	if f == nil {
		return 0, fmt.Errorf("flag %s not defined", flag)
	}

	value := f.Value.String()
	if !c.Flags().Changed(flag) {
		if v, ok := os.LookupEnv(env); ok {
			value = v
			flag = env
		}
	}

	n, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", flag, err)
	}

	return n, nil
}

func (cfg config) builder() mmu.Builder {
	return mmu.MakeBuilder().
		WithRAMSize(cfg.RAMSize).
		WithOSMemSize(cfg.OSMemSize).
		WithLog2PageSize(cfg.Log2PageSize).
		WithVirtualMemSize(cfg.VirtualMemSize).
		WithMaxNumProcesses(cfg.MaxNumProcesses)
}
