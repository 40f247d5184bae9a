package report

import (
	"fmt"
	"io"
	"os"

	"github.com/astrogo/fitsio"

	"github.com/rno-g/radiantbench/trigresp"
)

// curveRow is one row of a channel table
type curveRow struct {
	Amplitude float64 `fits:"AMPLITUDE"`
	Hits      int64   `fits:"HITS"`
	Trials    int64   `fits:"TRIALS"`
	Eff       float64 `fits:"TRIG_EFF"`
	EffErr    float64 `fits:"TRIG_EFF_ERR"`
}

var curveColumns = []fitsio.Column{
	{Name: "AMPLITUDE", Format: "D", Unit: "mVpp"},
	{Name: "HITS", Format: "K"},
	{Name: "TRIALS", Format: "K"},
	{Name: "TRIG_EFF", Format: "D"},
	{Name: "TRIG_EFF_ERR", Format: "D"},
}

// recordCards is the header of a channel table.  HALFWAY and STEEP are left
// out when the fit produced no value, keeping every card numeric.
func recordCards(rec trigresp.Record) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "CHANNEL", Value: rec.Channel, Comment: "RADIANT channel"},
		{Name: "STOP", Value: string(rec.StopReason), Comment: "why sampling ended"},
		{Name: "NITER", Value: rec.Iterations, Comment: "sampler decisions"},
		{Name: "CONVERGE", Value: rec.Fit.Converged},
	}
	if rec.Fit.Halfway != nil {
		cards = append(cards, fitsio.Card{Name: "HALFWAY", Value: *rec.Fit.Halfway, Comment: "mVpp at 50% efficiency"})
	}
	if rec.Fit.Steepness != nil {
		cards = append(cards, fitsio.Card{Name: "STEEP", Value: *rec.Fit.Steepness, Comment: "mVpp"})
	}
	cards = append(cards,
		fitsio.Card{Name: "CHI2", Value: rec.Fit.ChiSquare},
		fitsio.Card{Name: "PASSED", Value: rec.Verdict.Passed},
	)
	if rec.HalfwayVppCh != nil {
		cards = append(cards, fitsio.Card{Name: "HALFVPP", Value: *rec.HalfwayVppCh, Comment: "halfway at the channel input"})
	}
	return cards
}

// WriteFITS streams every record as a binary table extension to w.
// metadata is appended to the primary header.  Records without points
// get no table.
func WriteFITS(w io.Writer, metadata []fitsio.Card, recs []trigresp.Record) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	hdr := fitsio.NewDefaultHeader()
	if err := hdr.Append(metadata...); err != nil {
		return err
	}
	phdu, err := fitsio.NewPrimaryHDU(hdr)
	if err != nil {
		return err
	}
	if err := fits.Write(phdu); err != nil {
		return err
	}

	for _, rec := range recs {
		if len(rec.Points) == 0 {
			continue
		}
		tbl, err := fitsio.NewTable(fmt.Sprintf("CH%02d", rec.Channel), curveColumns, fitsio.BINARY_TBL)
		if err != nil {
			return err
		}
		if err := tbl.Header().Append(recordCards(rec)...); err != nil {
			tbl.Close()
			return err
		}
		for _, p := range rec.Points {
			row := curveRow{
				Amplitude: p.Amplitude,
				Hits:      int64(p.Hits),
				Trials:    int64(p.Trials),
				Eff:       p.Efficiency,
				EffErr:    p.EfficiencyError,
			}
			if err := tbl.Write(&row); err != nil {
				tbl.Close()
				return err
			}
		}
		err = fits.Write(tbl)
		tbl.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// SaveFITS writes the records to path
func SaveFITS(path string, metadata []fitsio.Card, recs []trigresp.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := WriteFITS(f, metadata, recs); err != nil {
		return err
	}
	return f.Close()
}
