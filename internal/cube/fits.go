package cube

import (
	"io"

	"github.com/astrogo/fitsio"

	"github.com/hsiscan/hsiscan/internal/frame"
)

// WriteFITS writes c as a 16-bit FITS primary image with axes
// (cols, rows, positions). Samples are stored offset by BZERO = 32768.
func WriteFITS(w io.Writer, c *frame.Cube, m Meta) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	dims := []int{c.Cols, c.Rows, c.Depth}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	if err := im.Header().Append(headerCards(m)...); err != nil {
		return err
	}

	ints := make([]int16, len(c.Pix))
	for i, v := range c.Pix {
		ints[i] = int16(v - 32768)
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}

func headerCards(m Meta) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
		{Name: "SCANID", Value: m.ScanID, Comment: "acquisition identifier"},
		{Name: "INTEGUS", Value: m.IntegrationUs, Comment: "integration time [us]"},
		{Name: "PIXFMT", Value: m.PixelFormat, Comment: "camera pixel format"},
		{Name: "REPEATS", Value: m.ImagesPerStep, Comment: "exposures averaged per position"},
		{Name: "STEPS", Value: m.RawStepsPerImage, Comment: "microsteps between positions"},
		{Name: "FORMIN", Value: m.MinFOR, Comment: "FOR start [deg]"},
		{Name: "FORMAX", Value: m.MaxFOR, Comment: "FOR end [deg]"},
		{Name: "DARK", Value: m.Dark, Comment: "dark frame"},
	}
	if !m.Started.IsZero() {
		cards = append(cards, fitsio.Card{Name: "DATE-OBS", Value: m.Started.UTC().Format("2006-01-02T15:04:05.000")})
	}
	return cards
}
