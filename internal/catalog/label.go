package catalog

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/jung-kurt/gofpdf"
)

// Label renders a printable shelf label for the item. It returns the PDF and
// a suggested filename.
func (s *Service) Label(ctx context.Context, id int64) ([]byte, string, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, "", err
	}
	pdf, err := renderShelfLabelPDF(item, s.now())
	if err != nil {
		return nil, "", fmt.Errorf("catalog: render label: %w", err)
	}
	return pdf, fmt.Sprintf("label_%s.pdf", item.Code), nil
}

func renderShelfLabelPDF(item Item, printedAt time.Time) ([]byte, error) {
	barcodePNG, err := renderCode128PNG(item.Code, 1000, 220)
	if err != nil {
		return nil, err
	}

	// 100 x 60 mm label stock
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: 100, Ht: 60},
	})
	pdf.SetTitle("ATK Shelf Label "+item.Code, false)
	pdf.SetMargins(4, 4, 4)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	name := strings.TrimSpace(item.Name)
	if name == "" {
		name = "-"
	}
	location := strings.TrimSpace(item.Location)
	if location == "" {
		location = "-"
	}
	category := strings.TrimSpace(item.CategoryName)
	if category == "" {
		category = "-"
	}

	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 7, name, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(0, 4, fmt.Sprintf("Kategori: %s   Satuan: %s", category, item.Unit), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 4, fmt.Sprintf("Lokasi: %s   Min/Max: %d/%d", location, item.MinStock, item.MaxStock), "", 1, "C", false, 0, "")

	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	imageName := "item-barcode-" + item.Code
	pdf.RegisterImageOptionsReader(imageName, opt, bytes.NewReader(barcodePNG))
	pageW, _ := pdf.GetPageSize()
	imgW, imgH := 80.0, 18.0
	y := 24.0
	pdf.ImageOptions(imageName, (pageW-imgW)/2, y, imgW, imgH, false, opt, 0, "")

	pdf.SetY(y + imgH + 1)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 7, item.Code, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 6)
	pdf.CellFormat(0, 3, "Dicetak "+printedAt.Format("02/01/2006"), "", 1, "R", false, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func renderCode128PNG(value string, width, height int) ([]byte, error) {
	code, err := code128.Encode(value)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(code, width, height)
	if err != nil {
		return nil, err
	}
	bounds := scaled.Bounds()
	normalized := image.NewNRGBA(bounds)
	draw.Draw(normalized, bounds, scaled, bounds.Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
