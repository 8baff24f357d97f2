package cmd

import (
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vmsim/mem/physical"
	"github.com/sarchlab/vmsim/mem/vm"
)

var pteCmd = &cobra.Command{
	Use:   "pte",
	Short: "Encode and decode page table entries",
}

var pteEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Pack a frame number, a present flag and permissions into an entry",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.SilenceUsage = true

		frame, _ := cmd.Flags().GetUint32("frame")
		present, _ := cmd.Flags().GetBool("present")
		permStr, _ := cmd.Flags().GetString("perm")

		perm, err := parsePerm(permStr)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}

		if physical.Frame(frame) > vm.MaxFrame {
			log.Fatalf("Error: frame %d does not fit in %d bits",
				frame, vm.FrameBits)
		}

		pte := vm.MakePTE(physical.Frame(frame), present, perm)
		printPTE(cmd.OutOrStdout(), pte)
	},
}

var pteDecodeCmd = &cobra.Command{
	Use:   "decode [value]",
	Short: "Unpack an entry given in decimal or 0x-prefixed hex",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		v, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}

		printPTE(cmd.OutOrStdout(), vm.PTE(v))
	},
}

func init() {
	pteEncodeCmd.Flags().Uint32("frame", 0, "Frame number.")
	pteEncodeCmd.Flags().Bool("present", false, "Mark the page present.")
	pteEncodeCmd.Flags().String("perm", "---",
		"Permissions in rwx form, for example r-x.")

	pteCmd.AddCommand(pteEncodeCmd)
	pteCmd.AddCommand(pteDecodeCmd)
	rootCmd.AddCommand(pteCmd)
}

// parsePerm reads permissions written as by vm.Perm.String.
func parsePerm(s string) (vm.Perm, error) {
	if len(s) != 3 {
		return 0, fmt.Errorf("permission %q is not of the form rwx", s)
	}

	var perm vm.Perm
	for i, bit := range []struct {
		c    byte
		perm vm.Perm
	}{
		{'r', vm.PermRead},
		{'w', vm.PermWrite},
		{'x', vm.PermExec},
	} {
		switch s[i] {
		case bit.c:
			perm |= bit.perm
		case '-':
		default:
			return 0, fmt.Errorf("permission %q is not of the form rwx", s)
		}
	}

	return perm, nil
}

func printPTE(w io.Writer, pte vm.PTE) {
	present := 0
	if pte.Present() {
		present = 1
	}

	fmt.Fprintf(w, "entry: %d (0x%08x)\n", uint32(pte), uint32(pte))
	fmt.Fprintf(w, "frame: %d, present: %d, perm: %s\n",
		pte.Frame(), present, pte.Perm())
}
