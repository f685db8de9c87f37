package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"qms/branch-queue/internal/locale"
	"qms/branch-queue/internal/models"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/go-pdf/fpdf"
)

const qrPixels = 256

type Options struct {
	// Locale selects the language of the printed labels, e.g. "id-ID".
	Locale   string
	Location *time.Location
}

type TicketRenderer struct {
	locale   string
	location *time.Location
}

func NewTicketRenderer(options Options) *TicketRenderer {
	loc := options.Location
	if loc == nil {
		loc = time.Local
	}
	return &TicketRenderer{locale: options.Locale, location: loc}
}

// QRCode encodes content as a PNG image.
func QRCode(content string) ([]byte, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, qrPixels, qrPixels)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// WritePDF writes a one page ticket: the number, the service, the print
// time and a QR code linking to the ticket's status page.
func (r *TicketRenderer) WritePDF(w io.Writer, artifact models.TicketArtifact) error {
	image, err := QRCode(artifact.StatusURL)
	if err != nil {
		return err
	}
	p := locale.NewPrinter(r.locale)
	printedAt := artifact.IssuedAt
	if printedAt.IsZero() {
		printedAt = time.Now()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(artifact.TicketNumber, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "", 20)
	pdf.Text(20, 20, p.Sprintf(locale.YourNumber))
	pdf.SetFont("Helvetica", "B", 50)
	pdf.Text(20, 60, artifact.TicketNumber)
	pdf.SetFont("Helvetica", "", 16)
	pdf.Text(20, 75, p.Sprintf(locale.ServiceLine, artifact.CounterLabel))
	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(20, 90, p.Sprintf(locale.PrintedAt, printedAt.In(r.location).Format("02/01/2006 15:04:05")))
	pdf.Text(20, 100, p.Sprintf(locale.ScanForStatus))

	imageOptions := fpdf.ImageOptions{ImageType: "PNG"}
	name := "qr-" + artifact.TicketID
	pdf.RegisterImageOptionsReader(name, imageOptions, bytes.NewReader(image))
	pdf.ImageOptions(name, 20, 110, 70, 70, false, imageOptions, 0, "")

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}

func (r *TicketRenderer) PDF(artifact models.TicketArtifact) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.WritePDF(&buf, artifact); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func FileName(ticketNumber string) string {
	return "Ticket-" + ticketNumber + ".pdf"
}

// Spool writes each issued ticket as a PDF file into a directory watched
// by the kiosk printer.
type Spool struct {
	dir      string
	renderer *TicketRenderer
}

func NewSpool(dir string, renderer *TicketRenderer) *Spool {
	return &Spool{dir: dir, renderer: renderer}
}

func (s *Spool) RenderTicket(ctx context.Context, artifact models.TicketArtifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.renderer.PDF(artifact)
	if err != nil {
		return err
	}
	return s.write(artifact.TicketNumber, data)
}

func (s *Spool) write(ticketNumber string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.dir, FileName(ticketNumber))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
