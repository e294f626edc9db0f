package report

import (
	"io"

	"github.com/gocarina/gocsv"
)

type csvRow struct {
	Time       string `csv:"time"`
	Event      string `csv:"event"`
	Name       string `csv:"name"`
	Size       uint64 `csv:"size"`
	Attributes string `csv:"attributes"`
	Detail     string `csv:"detail"`
}

// CSVSink writes events as CSV rows. The header is written with the first
// row.
type CSVSink struct {
	writer      io.Writer
	wroteHeader bool
}

func NewCSVSink(writer io.Writer) *CSVSink {
	return &CSVSink{writer: writer}
}

func (s *CSVSink) Emit(event Event) error {
	rows := []csvRow{
		{
			Time:       event.Time.String(),
			Event:      event.Kind.String(),
			Name:       event.Name,
			Size:       event.Size,
			Attributes: event.Attributes,
			Detail:     event.Detail,
		},
	}

	if s.wroteHeader {
		return gocsv.MarshalWithoutHeaders(&rows, s.writer)
	}
	s.wroteHeader = true
	return gocsv.Marshal(&rows, s.writer)
}

// Flush writes the header if no events were written, so the output is always
// valid CSV.
func (s *CSVSink) Flush() error {
	if s.wroteHeader {
		return nil
	}
	s.wroteHeader = true
	return gocsv.Marshal(&[]csvRow{}, s.writer)
}
