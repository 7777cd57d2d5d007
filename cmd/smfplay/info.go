package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/pkg/errors"
	"github.com/remeh/sizedwaitgroup"
	"github.com/spf13/cobra"

	"github.com/cbegin/smfplay-go"
	"github.com/cbegin/smfplay-go/internal/smf"
)

const shortUnitsSpec = "y:yrs,wk:wks,d:d,h:h,m:m,s:s,ms:ms,us:us"

var shortUnits durafmt.Units

var infoFlags struct {
	events bool
}

var infoCmd = &cobra.Command{
	Use:   "info FILE...",
	Short: "Describe MIDI files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInfo,
}

func init() {
	var err error
	if shortUnits, err = durafmt.DefaultUnitsCoder.Decode(shortUnitsSpec); err != nil {
		panic(fmt.Sprintf("duration units %q: %v", shortUnitsSpec, err))
	}
	infoCmd.Flags().BoolVar(&infoFlags.events, "events", false, "Also list every track event")
}

// describe renders the report for one file.
func describe(path string, events bool) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	f, err := smf.ReadFile(path, smf.WithLogger(logger))
	if err != nil {
		return "", err
	}
	sum, err := smfplay.Info(f)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s)\n", path, humanize.Bytes(uint64(st.Size())),
		durafmt.Parse(sum.Duration).LimitFirstN(2).Format(shortUnits))
	b.WriteString(sum.String())
	fmt.Fprintf(&b, "division: %s, tempo changes: %d\n", sum.Header.Division, sum.TempoChanges)
	if sum.Unterminated > 0 {
		fmt.Fprintf(&b, "unterminated notes: %d\n", sum.Unterminated)
	}
	for _, w := range sum.Warnings {
		fmt.Fprintf(&b, "warning: track %d offset %d: %s\n", w.Track, w.Offset, w.Msg)
	}
	if events {
		for i, tr := range f.Tracks {
			fmt.Fprintf(&b, "track[%d] events:\n", i)
			for _, te := range tr.Events {
				fmt.Fprintf(&b, "  %s\n", te)
			}
		}
	}
	return b.String(), nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	reports := make([]string, len(args))
	errs := make([]error, len(args))

	wg := sizedwaitgroup.New(runtime.NumCPU())
	for i, path := range args {
		wg.Add()
		go func(i int, path string) {
			defer wg.Done()
			reports[i], errs[i] = describe(path, infoFlags.events)
		}(i, path)
	}
	wg.Wait()

	failed := 0
	for i, path := range args {
		if errs[i] != nil {
			logger.Error("cannot read file", "file", path, "err", errs[i])
			failed++
			continue
		}
		fmt.Print(reports[i])
	}
	if failed > 0 {
		return errors.Errorf("%d of %d files could not be read", failed, len(args))
	}
	return nil
}
