package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// encodePDF embeds img as a PNG on a single PDF page.
func encodePDF(w io.Writer, img image.Image) error {
	var raw bytes.Buffer
	if err := png.Encode(&raw, img); err != nil {
		return fmt.Errorf("pdf: encode page image: %w", err)
	}

	imp := pdfcpu.DefaultImportConfig()
	conf := model.NewDefaultConfiguration()
	if err := api.ImportImages(nil, w, []io.Reader{&raw}, imp, conf); err != nil {
		return fmt.Errorf("pdfcpu import: %w", err)
	}
	return nil
}
