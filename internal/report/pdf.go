// Package report renders daily closings to PDF and the cart summary to PNG.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/money"
)

const fileNameLayout = "02/01/2006, 15:04:05"

var fileNameReplacer = strings.NewReplacer("/", "-", ":", ".", " ", "_")

// FileName derives the download name of a closing report from its timestamp,
// e.g. "Cierre_05-03-2026,_18.30.00.pdf".
func FileName(createdAt time.Time) string {
	return "Cierre_" + fileNameReplacer.Replace(createdAt.Format(fileNameLayout)) + ".pdf"
}

type PDFRenderer struct {
	// BusinessName is printed in the page header.
	BusinessName string
	Location     *time.Location
}

func NewPDFRenderer(businessName string) *PDFRenderer {
	return &PDFRenderer{BusinessName: businessName, Location: time.Local}
}

type column struct {
	title string
	width float64
	align string
}

var salesColumns = []column{
	{"Hora", 18, "L"},
	{"Productos", 72, "L"},
	{"Pago", 30, "L"},
	{"Total Bs", 25, "R"},
	{"Total USD", 20, "R"},
	{"Ganancia Bs", 25, "R"},
}

var summaryColumns = []column{
	{"Método de pago", 70, "L"},
	{"Ventas", 20, "R"},
	{"Total Bs", 35, "R"},
	{"Total USD", 30, "R"},
	{"Ganancia Bs", 35, "R"},
}

const (
	rowHeight    = 6
	bottomMargin = 15
)

// RenderClosing produces an A4 report with one row per archived sale and one
// row per payment method.
func (r *PDFRenderer) RenderClosing(closing domain.DailyClosing, summary []domain.PaymentSummary) ([]byte, error) {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, bottomMargin)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("Página %d/{nb}", pdf.PageNo())), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	title := "Cierre de caja"
	if r.BusinessName != "" {
		title = r.BusinessName + " - " + title
	}
	pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, tr("Fecha: "+closing.CreatedAt.In(loc).Format(fileNameLayout)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Ventas: %d", closing.SalesCount)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr("Total: "+money.FormatLocal(closing.TotalLocal)+" / "+money.FormatUSD(closing.TotalUSD)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr("Ganancia: "+money.FormatLocal(closing.TotalProfitLocal)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, tr("Detalle de ventas"), "", 1, "L", false, 0, "")
	tableHeader(pdf, tr, salesColumns)
	pdf.SetFont("Helvetica", "", 8)
	for _, sale := range closing.Sales {
		ensureRoom(pdf, tr, salesColumns)
		cells := []string{
			sale.CreatedAt.In(loc).Format("15:04"),
			truncate(itemsLabel(sale.Lines), 48),
			string(sale.PaymentMethod),
			group(sale.TotalLocal),
			money.FormatUSD(sale.TotalUSD),
			group(sale.TotalProfitLocal),
		}
		tableRow(pdf, tr, salesColumns, cells)
	}
	pdf.SetFont("Helvetica", "B", 8)
	ensureRoom(pdf, tr, salesColumns)
	tableRow(pdf, tr, salesColumns, []string{"", "Total", "", group(closing.TotalLocal), money.FormatUSD(closing.TotalUSD), group(closing.TotalProfitLocal)})
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, tr("Resumen por método de pago"), "", 1, "L", false, 0, "")
	tableHeader(pdf, tr, summaryColumns)
	pdf.SetFont("Helvetica", "", 9)
	for _, row := range summary {
		ensureRoom(pdf, tr, summaryColumns)
		tableRow(pdf, tr, summaryColumns, []string{
			string(row.PaymentMethod),
			fmt.Sprintf("%d", row.SalesCount),
			group(row.TotalLocal),
			money.FormatUSD(row.TotalUSD),
			group(row.ProfitLocal),
		})
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render closing pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func tableHeader(pdf *fpdf.Fpdf, tr func(string) string, cols []column) {
	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for _, c := range cols {
		pdf.CellFormat(c.width, rowHeight, tr(c.title), "1", 0, c.align, true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 8)
}

func tableRow(pdf *fpdf.Fpdf, tr func(string) string, cols []column, cells []string) {
	for i, c := range cols {
		pdf.CellFormat(c.width, rowHeight, tr(cells[i]), "1", 0, c.align, false, 0, "")
	}
	pdf.Ln(-1)
}

// ensureRoom starts a new page with a repeated header when the next row would
// not fit.
func ensureRoom(pdf *fpdf.Fpdf, tr func(string) string, cols []column) {
	_, pageHeight := pdf.GetPageSize()
	if pdf.GetY()+rowHeight <= pageHeight-bottomMargin {
		return
	}
	pdf.AddPage()
	tableHeader(pdf, tr, cols)
}

func itemsLabel(lines []domain.SaleLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.WeightBased() {
			parts = append(parts, fmt.Sprintf("%s (%g g)", l.Name, l.Quantity))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s x%g", l.Name, l.Quantity))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func group(v float64) string {
	return strings.TrimPrefix(money.FormatLocal(v), "Bs. ")
}
