/*
Copyright © 2023 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"os"
	"runtime"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/blacktop/crashkit/pkg/fault"
	"github.com/blacktop/crashkit/pkg/memory"
	"github.com/blacktop/crashkit/pkg/report"
)

func init() {
	rootCmd.AddCommand(selftestCmd)

	selftestCmd.Flags().StringP("output", "o", "crashkit-selftest.json", "Report output path")
	selftestCmd.Flags().Bool("introspect", false, "Introspect notable memory addresses")
}

// selftestCmd raises a synthetic user-reported fault against the current
// process and writes a full report for it, which exercises the whole
// pipeline end to end.
var selftestCmd = &cobra.Command{
	Use:           "selftest",
	Short:         "Write a report for a synthetic fault in this process",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		introspect, _ := cmd.Flags().GetBool("introspect")

		pcs := make([]uint64, 0, 32)
		var callers [32]uintptr
		for _, pc := range callers[:runtime.Callers(1, callers[:])] {
			pcs = append(pcs, uint64(pc))
		}

		exe, _ := os.Executable()
		ctx := &fault.Context{
			Kind:   fault.KindUserReported,
			Reason: "crashkit selftest",
			User: &fault.UserException{
				Name:     "SelfTest",
				Language: "go",
			},
			Offending: &fault.ExecutionContext{
				ThreadName:  "main",
				Crashed:     true,
				Reporting:   true,
				CustomTrace: pcs,
			},
		}

		rep := report.New(report.Config{
			ReportID:          uuid.New().String(),
			ProcessName:       exe,
			Introspect:        introspect,
			SearchThreadNames: true,
		}, memory.Current(), nil)

		log.WithField("path", output).Info("writing selftest report")
		if err := rep.WriteStandard(output, ctx, nil); err != nil {
			return err
		}
		rep.LogFault(ctx)
		return nil
	},
}
