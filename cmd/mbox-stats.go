package cmd

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-csv/convert"
	"github.com/dhcgn/mbox-to-csv/filter"
	"github.com/dhcgn/mbox-to-csv/mailparse"
	"github.com/dhcgn/mbox-to-csv/mbox"
	"github.com/dhcgn/mbox-to-csv/stats"
)

var statsFlags struct {
	reportDir string
	top       int
	framing   string
	filter    filter.Options
}

var reportedHeaders = []string{"Delivered-To", "Subject", "From", "To"}

// reportLimit caps the rows of each CSV report.
const reportLimit = 1000

var mboxStatsCmd = &cobra.Command{
	Use:   "mbox-stats [mbox file]",
	Short: "Show the most frequent senders, recipients and subjects of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := filter.New(statsFlags.filter)
		if err != nil {
			return fmt.Errorf("create filter: %w", err)
		}
		report := newHeaderReport(reportedHeaders, f)
		if err := report.scan(args[0], mbox.Framing(statsFlags.framing)); err != nil {
			return err
		}

		report.render(statsFlags.top)
		if err := report.save(statsFlags.reportDir, reportLimit); err != nil {
			return fmt.Errorf("save reports: %w", err)
		}
		pterm.Success.Printf("Reports saved to %s\n", statsFlags.reportDir)
		return nil
	},
}

func init() {
	flags := mboxStatsCmd.Flags()
	flags.StringVarP(&statsFlags.reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&statsFlags.top, "top", "t", 10, "Number of top values shown per header")
	flags.StringVar(&statsFlags.framing, "framing", string(mbox.FramingLenient), "Message framing: lenient or strict")
	flags.StringArrayVar(&statsFlags.filter.IncludeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&statsFlags.filter.IncludeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&statsFlags.filter.ExcludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&statsFlags.filter.ExcludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	rootCmd.AddCommand(mboxStatsCmd)
}

// headerReport counts decoded header values across an archive.
type headerReport struct {
	headers []string
	counts  map[string]stats.Counter
	filter  *filter.Filter

	messages   int
	filtered   int
	unreadable int
}

func newHeaderReport(headers []string, f *filter.Filter) *headerReport {
	r := &headerReport{
		headers: headers,
		counts:  make(map[string]stats.Counter, len(headers)),
		filter:  f,
	}
	for _, h := range headers {
		r.counts[h] = stats.Counter{}
	}
	return r
}

func (r *headerReport) scan(path string, framing mbox.Framing) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	in, err := convert.OpenInput(file)
	if err != nil {
		return err
	}
	defer in.Close()

	spinner, _ := pterm.DefaultSpinner.Start("Analyzing " + path)
	err = mbox.Read(in, framing, func(_ int, raw []byte) error {
		r.observe(raw)
		if spinner != nil && (r.messages+r.filtered)%250 == 0 {
			spinner.UpdateText(fmt.Sprintf("Analyzing %s: %d messages", path, r.messages))
		}
		return nil
	})
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return fmt.Errorf("read mbox: %w", err)
	}
	return nil
}

func (r *headerReport) observe(raw []byte) {
	if !r.filter.AllowsRaw(raw) {
		r.filtered++
		return
	}
	r.messages++

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil && h.Len() == 0 {
		r.unreadable++
		return
	}
	for _, name := range r.headers {
		r.counts[name].Add(mailparse.DecodeHeader(h.Get(name)))
	}
}

func (r *headerReport) render(top int) {
	total := r.messages + r.filtered
	var share float64
	if total > 0 {
		share = float64(r.filtered) / float64(total) * 100
	}
	pterm.DefaultSection.Println("Archive")
	pterm.Info.Printf("Messages: %d (filtered %d, %.2f%%, unreadable headers %d)\n", r.messages, r.filtered, share, r.unreadable)

	if hits := r.filter.Hits(); len(hits) > 0 {
		pterm.DefaultSection.Println("Filters")
		data := pterm.TableData{{"List", "Pattern", "Hits"}}
		for _, h := range hits {
			data = append(data, []string{string(h.List), h.Pattern, strconv.Itoa(h.Count)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	for _, name := range r.headers {
		pterm.DefaultSection.Printf("Top %d %s\n", top, name)
		data := pterm.TableData{{"#", "Value", "Count"}}
		for i, c := range r.counts[name].Top(top) {
			data = append(data, []string{strconv.Itoa(i + 1), c.Key, strconv.Itoa(c.Value)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}
}

// save writes report_<header>.csv per header into dir.
func (r *headerReport) save(dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range r.headers {
		path := filepath.Join(dir, "report_"+reportFileName(name)+".csv")
		if err := writeReport(path, r.counts[name].Top(limit)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func writeReport(path string, counts []stats.Count) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	rows := [][]string{{"Value", "Count"}}
	for _, c := range counts {
		rows = append(rows, []string{c.Key, strconv.Itoa(c.Value)})
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return file.Close()
}

func reportFileName(header string) string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(header))
}
