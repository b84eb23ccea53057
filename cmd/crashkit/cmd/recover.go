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
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/blacktop/crashkit/pkg/fault"
	"github.com/blacktop/crashkit/pkg/memory"
	"github.com/blacktop/crashkit/pkg/report"
)

func init() {
	rootCmd.AddCommand(recoverCmd)
}

// recoverCmd wraps an existing (possibly truncated) report file into a fresh
// minimal document, the same flow the engine runs when report generation
// itself crashed.
var recoverCmd = &cobra.Command{
	Use:           "recover <REPORT>",
	Short:         "Rewrap a partial report file as a recrash report",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("no prior report at %s: %w", path, err)
		}

		ctx := &fault.Context{
			Kind:   fault.KindUserReported,
			Reason: "report generation did not complete",
			User:   &fault.UserException{Name: "RecrashRecovery", Language: "go"},
		}

		rep := report.New(report.Config{
			ReportID:    uuid.New().String(),
			ProcessName: path,
		}, memory.Current(), nil)

		log.WithField("path", path).Info("rewriting as recrash report")
		return rep.WriteRecrash(path, ctx)
	},
}
