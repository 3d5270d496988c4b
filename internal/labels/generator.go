package labels

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/shopflow/printbridge/internal/models"
)

// slipItem is the subset of a stored order line the documents need
type slipItem struct {
	ProductName string `json:"product_name"`
	SkuID       string `json:"sku_id"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"platform_total_price"`
}

// slipAddress mirrors the shipping address snapshot stored on the order
type slipAddress struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zipcode      string `json:"zipcode"`
	CountryCode  string `json:"country_code"`
}

// GeneratePackingSlip renders an A4 packing slip for one order. The QR code
// carries the platform order id so the agent can match paper to parcel.
func GeneratePackingSlip(order *models.Order, shopName string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	// Header
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(130, 10, "Packing Slip", "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(50, 10, shopName, "", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(130, 6, fmt.Sprintf("Order %s", order.OrderNumber), "", 0, "L", false, 0, "")
	pdf.CellFormat(50, 6, order.CreatedAt.Format("2006-01-02"), "", 1, "R", false, 0, "")
	pdf.Ln(4)

	// Order QR, top right corner
	qrPng, err := qrcode.Encode(order.PlatformOrderID, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("labels: encode qr: %w", err)
	}
	imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	_ = pdf.RegisterImageOptionsReader("order_qr", imgOptions, bytes.NewReader(qrPng))
	pdf.ImageOptions("order_qr", 165, 35, 30, 30, false, imgOptions, 0, "")

	// Ship-to block
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, "Ship To", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	for _, line := range addressLines(order) {
		pdf.CellFormat(140, 5, line, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	// Items table
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(95, 7, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 7, "SKU", "1", 0, "L", true, 0, "")
	pdf.CellFormat(15, 7, "Qty", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 7, "Price", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, item := range orderItems(order) {
		pdf.CellFormat(95, 6, truncate(item.ProductName, 52), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, item.SkuID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(15, 6, fmt.Sprintf("%d", item.Quantity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, item.Price, "1", 1, "R", false, 0, "")
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(150, 7, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 7, fmt.Sprintf("%s %s", order.OrderTotal.StringFixed(2), order.Currency), "1", 1, "R", false, 0, "")

	if order.Notes != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 6, "Notes", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, order.Notes, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("labels: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateShippingLabel renders a 100x150mm thermal label for one order
func GenerateShippingLabel(order *models.Order, shopName string) ([]byte, error) {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "mm",
		Size:    gofpdf.SizeType{Wd: 100, Ht: 150},
	})
	pdf.SetMargins(6, 6, 6)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 7, shopName, "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Order %s", order.OrderNumber), "", 1, "L", false, 0, "")
	pdf.Line(6, 20, 94, 20)

	pdf.SetXY(6, 24)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 6, "SHIP TO", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	for _, line := range addressLines(order) {
		pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
	}

	qrPng, err := qrcode.Encode(order.PlatformOrderID, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("labels: encode qr: %w", err)
	}
	imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	_ = pdf.RegisterImageOptionsReader("label_qr", imgOptions, bytes.NewReader(qrPng))
	pdf.ImageOptions("label_qr", 30, 100, 40, 40, false, imgOptions, 0, "")

	pdf.SetXY(6, 142)
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(0, 4, order.PlatformOrderID, "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("labels: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func addressLines(order *models.Order) []string {
	var addr slipAddress
	if len(order.ShippingAddress) > 0 {
		if err := json.Unmarshal(order.ShippingAddress, &addr); err != nil {
			addr = slipAddress{}
		}
	}
	if addr.Name == "" {
		addr.Name = order.CustomerName
	}

	lines := []string{addr.Name}
	if addr.AddressLine1 != "" {
		lines = append(lines, addr.AddressLine1)
	}
	if addr.AddressLine2 != "" {
		lines = append(lines, addr.AddressLine2)
	}
	cityLine := addr.City
	if addr.State != "" {
		cityLine += ", " + addr.State
	}
	if addr.Zipcode != "" {
		cityLine += " " + addr.Zipcode
	}
	if cityLine != "" {
		lines = append(lines, cityLine)
	}
	if addr.CountryCode != "" {
		lines = append(lines, addr.CountryCode)
	}
	if addr.PhoneNumber != "" {
		lines = append(lines, addr.PhoneNumber)
	}
	return lines
}

func orderItems(order *models.Order) []slipItem {
	var items []slipItem
	if len(order.Items) > 0 {
		if err := json.Unmarshal(order.Items, &items); err != nil {
			return nil
		}
	}
	return items
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
