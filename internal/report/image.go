package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/money"
)

const (
	cartImageWidth = 360
	cartPadding    = 12
	cartLineHeight = 16
	cartScale      = 2
)

var cartAccent = color.RGBA{R: 0x1d, G: 0x4e, B: 0x89, A: 0xff}

// CartImager rasterizes the cart summary so it can be shared as a picture.
type CartImager struct{}

func NewCartImager() *CartImager {
	return &CartImager{}
}

// RenderCart draws the cart lines and totals and returns a PNG at twice the
// base resolution.
func (CartImager) RenderCart(view domain.CartView) ([]byte, error) {
	rows := len(view.Lines) + 6
	height := cartPadding*2 + rows*cartLineHeight
	canvas := image.NewRGBA(image.Rect(0, 0, cartImageWidth, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: canvas, Src: image.NewUniform(cartAccent), Face: basicfont.Face7x13}
	y := cartPadding + cartLineHeight
	text := func(x int, s string) {
		d.Dot = fixed.P(x, y)
		d.DrawString(s)
	}
	right := func(s string) {
		w := d.MeasureString(s).Round()
		text(cartImageWidth-cartPadding-w, s)
	}

	text(cartPadding, "Carrito")
	right(fmt.Sprintf("Tasa: %s", money.FormatLocal(view.DailyRate)))
	y += cartLineHeight

	d.Src = image.Black
	for _, line := range view.Lines {
		label := fmt.Sprintf("%s x%g", line.Name, line.Quantity)
		if line.WeightBased {
			label = fmt.Sprintf("%s %gg", line.Name, line.WeightGrams)
		}
		text(cartPadding, clip(label, 28))
		right(money.FormatLocal(line.LineTotalLocal))
		y += cartLineHeight
	}

	y += cartLineHeight / 2
	draw.Draw(canvas, image.Rect(cartPadding, y-cartLineHeight+4, cartImageWidth-cartPadding, y-cartLineHeight+5), image.Black, image.Point{}, draw.Src)
	text(cartPadding, "Total Bs")
	right(money.FormatLocal(view.TotalLocal))
	y += cartLineHeight
	text(cartPadding, "Total USD")
	right(money.FormatUSD(view.TotalUSD))
	if view.PaymentMethod != "" {
		y += cartLineHeight
		text(cartPadding, "Pago")
		right(string(view.PaymentMethod))
	}

	scaled := imaging.Resize(canvas, cartImageWidth*cartScale, 0, imaging.NearestNeighbor)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, scaled, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode cart image: %w", err)
	}
	return buf.Bytes(), nil
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "~"
}
