package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fx-insight/internal/service"
	"github.com/fx-insight/internal/types"
)

const (
	outputJSON = "json"
	outputText = "text"
)

// render writes v as JSON, or through text when --output=text and the
// command has a text form
func (rc *rootConfig) render(w io.Writer, v interface{}, text func(io.Writer) error) error {
	if rc.output == outputText && text != nil {
		return text(w)
	}
	return printJSON(w, v)
}

func printExposureText(w io.Writer, r *service.ExposureReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CURRENCY\tBALANCE\tVALUE\tSHARE")
	for _, e := range r.Exposures {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s%%\n",
			e.Currency,
			types.FormatAmount(e.TotalBalance, e.Currency),
			types.FormatAmount(e.ValueInBase, r.BaseCurrency),
			e.Percentage.StringFixed(1),
		)
	}
	fmt.Fprintf(tw, "TOTAL\t\t%s\t\n", types.FormatAmount(r.TotalValueInBase, r.BaseCurrency))
	printFailuresText(tw, r.Failures)
	return tw.Flush()
}

func printPLText(w io.Writer, r *service.PLReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tAMOUNT\tCOST\tVALUE\tP&L")
	for _, a := range r.Accounts {
		name := a.AccountName
		if name == "" {
			name = a.AccountID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s (%s%%)\n",
			name,
			types.FormatAmount(a.Amount, a.Currency),
			types.FormatAmount(a.AcquisitionValue, r.BaseCurrency),
			types.FormatAmount(a.CurrentValue, r.BaseCurrency),
			types.FormatAmount(a.UnrealizedPL.UnrealizedPL, r.BaseCurrency),
			a.UnrealizedPLPercent.StringFixed(2),
		)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\n", types.FormatAmount(r.TotalUnrealizedPL, r.BaseCurrency))
	printFailuresText(tw, r.Failures)
	return tw.Flush()
}

func printConversionText(w io.Writer, c *service.Conversion) error {
	_, err := fmt.Fprintf(w, "%s = %s (rate %s, as of %s)\n",
		types.FormatAmount(c.Amount, c.From),
		types.FormatAmount(c.ConvertedAmount, c.To),
		c.Rate.String(),
		c.AsOf.Format("2006-01-02 15:04 MST"),
	)
	return err
}

func printFailuresText(w io.Writer, failures []service.LookupFailure) {
	for _, f := range failures {
		subject := f.AccountID
		if subject == "" {
			subject = f.Currency
		}
		fmt.Fprintf(w, "skipped %s: %s\n", subject, f.Reason)
	}
}
